package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader, cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config: %s\n", loader.Path())
			fmt.Fprintf(out, "local name: %s\n", cfg.LocalName)
			fmt.Fprintf(out, "router: %s:%d (%s)\n", cfg.ServerAddr, cfg.ServerPort, cfg.Transport)
			fmt.Fprintf(out, "sha256: %t, auto connect: %t\n", cfg.SHA256, cfg.AutoConnect)
			fmt.Fprintf(out, "channels: %d, bans: %d\n", len(cfg.Channels), len(cfg.Bans))
			return nil
		},
	})
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "imclink "+version)
		},
	}
}
