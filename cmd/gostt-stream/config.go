package main

import (
	"fmt"

	"github.com/chaz8081/gostt-stream/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file",
	Long:  `Write the default config to ~/.config/gostt-stream/config.yaml unless one already exists.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, err := config.WriteDefault()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if path == "" {
			fmt.Fprintf(out, "Config already exists at %s\n", config.DefaultConfigPath())
			return nil
		}
		fmt.Fprintf(out, "Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		printBanner(cmd.OutOrStdout(), string(cfg.Trigger.Mode))
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd)
}
