package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/crateguard/crateguard/internal/config"
	"github.com/crateguard/crateguard/internal/lsp"
)

// NewLSPCommand creates the language server command.
func NewLSPCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lsp",
		Short: "Serve extern crate diagnostics over LSP (stdio mode)",
		Long: `Start a language server that publishes a diagnostic for every
extern crate declaration missing from Cargo.toml, with cargo add quick
fixes. Diagnostics refresh on document open and save, on manifest save,
and when Cargo.toml changes on disk.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			verbose, _ := cmd.Flags().GetBool("verbose")

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			return lsp.NewServer(cfg, logger).Run()
		},
	}
}
