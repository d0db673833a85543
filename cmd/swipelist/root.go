package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set via ldflags at build time.
var (
	Version   = "dev"
	GitCommit = ""
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "swipelist",
		Short:         "Session backend for the swipelist playlist app",
		Long:          `Holds the music service client registration and user tokens, and serves the PKCE login handshake and session-guarded API.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("swipelist version {{.Version}}\n")
	root.PersistentFlags().String("config", "", "path to a TOML config file")
	root.PersistentFlags().String("env-file", ".env", "path to a .env file")
	root.AddCommand(newServeCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			v := Version
			if GitCommit != "" {
				v += " (" + GitCommit + ")"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "swipelist version %s\n", v)
		},
	}
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
