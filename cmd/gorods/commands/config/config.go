// Package config implements the "gorods config" subcommands.
package config

import "github.com/spf13/cobra"

// Cmd is the parent of the configuration subcommands.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
	Long: `Create, inspect, validate and edit the gorods configuration file.

The file lives at $XDG_CONFIG_HOME/gorods/config.yaml unless --config is given.`,
}

func init() {
	Cmd.AddCommand(initCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(validateCmd)
	Cmd.AddCommand(schemaCmd)
	Cmd.AddCommand(editCmd)
}
