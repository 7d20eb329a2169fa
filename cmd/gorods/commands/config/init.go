package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/gorods/internal/cli/prompt"
	"github.com/marmos91/gorods/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a default configuration file",
	Long: `Write a configuration file holding every default value.

By default, the file is created at $XDG_CONFIG_HOME/gorods/config.yaml.
Use --config to choose another path. With --interactive the transport and
the account are asked for first.

Examples:
  gorods config init
  gorods config init --config ./gorods.yaml --force
  gorods config init -i`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing config file")
}

var transportOptions = []prompt.Option{
	{Label: "memory", Value: config.TransportMemory, Description: "In-process zone, lost on exit"},
	{Label: "fs", Value: config.TransportFS, Description: "Zone stored as a directory tree"},
	{Label: "s3", Value: config.TransportS3, Description: "Zone stored in an S3-compatible bucket"},
	{Label: "badger", Value: config.TransportBadger, Description: "Zone stored in an embedded badger database"},
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	cfg := config.GetDefaultConfig()
	if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
		if err := askSettings(cfg); err != nil {
			if prompt.IsAborted(err) {
				return fmt.Errorf("aborted")
			}
			return err
		}
	}

	if err := config.WriteConfig(cfg, configPath, initForce); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Set the account section (host, zone, user)")
	_, _ = fmt.Fprintln(out, "  2. Choose a transport (memory, fs, s3 or badger)")
	_, _ = fmt.Fprintf(out, "  3. Check it with: gorods config validate --config %s\n", configPath)
	return nil
}

func askSettings(cfg *config.Config) error {
	transport, err := prompt.Select("Transport", transportOptions)
	if err != nil {
		return err
	}
	cfg.Transport.Type = transport

	switch transport {
	case config.TransportFS:
		cfg.Transport.FS.Root, err = prompt.Input("Zone root directory", "")
	case config.TransportS3:
		cfg.Transport.S3.Bucket, err = prompt.Input("Bucket", "")
	case config.TransportBadger:
		cfg.Transport.Badger.Dir, err = prompt.Input("Database directory", "")
	}
	if err != nil {
		return err
	}

	acct, err := prompt.Account(cfg.Account, false)
	if err != nil {
		return err
	}
	cfg.Account = acct
	return nil
}
