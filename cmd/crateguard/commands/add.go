package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crateguard/crateguard/internal/cargo"
	"github.com/crateguard/crateguard/internal/config"
)

// NewAddCommand creates the dependency-add command.
func NewAddCommand() *cobra.Command {
	var (
		dev  bool
		path string
	)

	cmd := &cobra.Command{
		Use:   "add <crate>",
		Short: "Add a dependency to Cargo.toml via cargo add",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			runner := cargo.NewRunner(cfg.Cargo.Command, path)

			err = runner.Add(cmd.Context(), args[0], dev)
			switch {
			case errors.Is(err, cargo.ErrNotInstalled):
				return fmt.Errorf("%w (is it in PATH?)", err)
			case errors.Is(err, cargo.ErrAddUnsupported):
				return fmt.Errorf("%w: install cargo-edit or upgrade cargo", err)
			case err != nil:
				return err
			}

			table := "dependencies"
			if dev {
				table = "dev-dependencies"
			}

			fmt.Fprintf(cmd.OutOrStdout(), "added %s to [%s]\n", args[0], table)

			return nil
		},
	}

	cmd.Flags().BoolVar(&dev, "dev", false, "add as a dev-dependency")
	cmd.Flags().StringVar(&path, "path", ".", "workspace directory containing Cargo.toml")

	return cmd
}
