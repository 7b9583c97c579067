// Package config loads crateguard settings from file, environment, and
// defaults.
package config

import "errors"

// Config is the root configuration.
type Config struct {
	Cargo    CargoConfig    `mapstructure:"cargo"`
	Builtins BuiltinsConfig `mapstructure:"builtins"`
	Scan     ScanConfig     `mapstructure:"scan"`
	LSP      LSPConfig      `mapstructure:"lsp"`
}

// CargoConfig controls how the external cargo binary is invoked.
type CargoConfig struct {
	// Command is the cargo binary name or path.
	Command string `mapstructure:"command"`
}

// BuiltinsConfig extends the set of crate names treated as always satisfied.
type BuiltinsConfig struct {
	Extra []string `mapstructure:"extra"`
}

// ScanConfig controls the batch check walk.
type ScanConfig struct {
	// Exclude lists directory names skipped during the walk.
	Exclude []string `mapstructure:"exclude"`
}

// LSPConfig controls server-mode behavior.
type LSPConfig struct {
	// WatchManifest enables re-checking open documents when Cargo.toml
	// changes outside the editor.
	WatchManifest bool `mapstructure:"watch_manifest"`
}

// ErrEmptyCargoCommand is returned when cargo.command is set to an empty
// string.
var ErrEmptyCargoCommand = errors.New("cargo.command must not be empty")

// Validate checks the loaded configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Cargo.Command == "" {
		return ErrEmptyCargoCommand
	}

	return nil
}
