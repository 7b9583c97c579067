// Package cargo shells out to the cargo binary to add dependencies to the
// workspace manifest.
package cargo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
)

var (
	// ErrNotInstalled means the cargo binary was not found in PATH.
	ErrNotInstalled = errors.New("cargo is not installed")

	// ErrAddUnsupported means cargo is present but does not know the add
	// subcommand (cargo-edit not installed on older toolchains).
	ErrAddUnsupported = errors.New("cargo add is not available")
)

// Runner invokes `cargo add` in a fixed workspace directory.
type Runner struct {
	// Command is the cargo binary name or path. Defaults to "cargo".
	Command string

	// Dir is the working directory for invocations, normally the
	// workspace root holding Cargo.toml.
	Dir string
}

// NewRunner returns a Runner for the given workspace directory.
func NewRunner(command, dir string) *Runner {
	if command == "" {
		command = "cargo"
	}

	return &Runner{Command: command, Dir: dir}
}

// Add runs `cargo add <crate>`, with --dev for a dev-dependency. On success
// the manifest has been rewritten by cargo and callers should invalidate
// any cached parse and re-check affected documents.
func (r *Runner) Add(ctx context.Context, crate string, dev bool) error {
	args := []string{"add", crate}
	if dev {
		args = append(args, "--dev")
	}

	cmd := exec.CommandContext(ctx, r.Command, args...)
	cmd.Dir = r.Dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return ErrNotInstalled
	}

	return classifyFailure(stderr.String(), err)
}

// classifyFailure distinguishes a missing add subcommand from an ordinary
// cargo failure. Anything unrecognized is surfaced verbatim.
func classifyFailure(stderr string, runErr error) error {
	lowered := strings.ToLower(stderr)
	if strings.Contains(lowered, "no such subcommand") || strings.Contains(lowered, "no such command") {
		return ErrAddUnsupported
	}

	msg := strings.TrimSpace(stderr)
	if msg == "" {
		return fmt.Errorf("cargo add: %w", runErr)
	}

	return fmt.Errorf("cargo add: %s", msg)
}
