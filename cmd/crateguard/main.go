// Package main provides the entry point for the crateguard CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crateguard/crateguard/cmd/crateguard/commands"
	"github.com/crateguard/crateguard/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "crateguard",
		Short: "Crateguard - extern crate dependency checker for Cargo projects",
		Long: `Crateguard flags extern crate declarations that reference crates
missing from Cargo.toml, and can add them via cargo add.

Commands:
  check     Scan a crate directory and report unsatisfied references
  add       Add a dependency to the workspace manifest
  lsp       Serve diagnostics over the Language Server Protocol`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "path to config file (default: .crateguard.yaml in CWD or $HOME)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(commands.NewCheckCommand())
	rootCmd.AddCommand(commands.NewAddCommand())
	rootCmd.AddCommand(commands.NewLSPCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "crateguard %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
