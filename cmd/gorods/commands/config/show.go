package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/gorods/internal/cli/output"
	"github.com/marmos91/gorods/pkg/config"
)

const masked = "********"

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults and environment overrides are
applied. Secrets are masked.

Examples:
  gorods config show
  GORODS_TRANSFER_MAX_PARALLEL_THREADS=2 gorods config show -o json`,
	RunE: runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	maskSecrets(cfg)

	format, _ := cmd.Flags().GetString("output")
	if format == "json" {
		return output.PrintJSON(cmd.OutOrStdout(), cfg)
	}
	return output.PrintYAML(cmd.OutOrStdout(), cfg)
}

func maskSecrets(cfg *config.Config) {
	if cfg.Account.Password != "" {
		cfg.Account.Password = masked
	}
	if cfg.Transport.S3.SecretAccessKey != "" {
		cfg.Transport.S3.SecretAccessKey = masked
	}
}
