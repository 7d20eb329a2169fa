package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/gorods/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Validate the gorods configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  gorods config validate
  gorods config validate --config /etc/gorods/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if cfg.Account.IsZero() || cfg.Account.Host == "" {
		warnings = append(warnings, "account not configured - commands need --uri or --host/--zone/--user")
	}
	if cfg.Transport.Type == config.TransportMemory {
		warnings = append(warnings, "memory transport selected - data does not outlive the process")
	}
	if cfg.Transfer.UseTransferThreadsPool && !cfg.Transfer.UseParallelTransfer {
		warnings = append(warnings, "transfer pool enabled but parallel transfer disabled - the pool is never used")
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	_, _ = fmt.Fprintf(out, "\nConfiguration summary:\n")
	_, _ = fmt.Fprintf(out, "  Transport:        %s\n", cfg.Transport.Type)
	_, _ = fmt.Fprintf(out, "  Parallel threads: %d\n", cfg.Transfer.MaxParallelThreads)
	_, _ = fmt.Fprintf(out, "  Transfer pool:    %t\n", cfg.Transfer.UseTransferThreadsPool)
	_, _ = fmt.Fprintf(out, "  Log level:        %s\n", cfg.Logging.Level)
	return nil
}
