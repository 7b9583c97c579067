// Package commands implements CLI command handlers for crateguard.
package commands

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/crateguard/crateguard/internal/checker"
	"github.com/crateguard/crateguard/internal/config"
	"github.com/crateguard/crateguard/internal/manifest"
	"github.com/crateguard/crateguard/internal/rustsrc"
)

// binarySniffLength caps how many bytes are inspected for null bytes when
// deciding whether a file is binary. Same heuristic as git.
const binarySniffLength = 8000

// ErrUnsatisfiedReferences signals a non-zero check result to main.
var ErrUnsatisfiedReferences = errors.New("unsatisfied extern crate references found")

// finding is one reported reference with its location resolved for display.
type finding struct {
	File  string
	Line  int
	Crate string
	Msg   string
}

// checkSummary aggregates walk statistics for the closing line.
type checkSummary struct {
	Files int
	Bytes uint64
}

// NewCheckCommand creates the batch check command.
func NewCheckCommand() *cobra.Command {
	var noColor bool

	cmd := &cobra.Command{
		Use:   "check [path]",
		Short: "Scan a crate directory for extern crate references missing from Cargo.toml",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			configPath, _ := cmd.Flags().GetString("config")
			verbose, _ := cmd.Flags().GetBool("verbose")

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if noColor {
				color.NoColor = true //nolint:reassign // intentional override of library global
			}

			return runCheck(path, cfg, verbose, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")

	return cmd
}

// runCheck walks the crate at path, checks every Rust source file, and
// renders the findings. Verbose mode prints each file as it is scanned.
// Returns ErrUnsatisfiedReferences when anything is missing so the process
// exits non-zero.
func runCheck(path string, cfg *config.Config, verbose bool, out io.Writer) error {
	root, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	manifestPath, err := manifest.Locate(root, root)
	if err != nil {
		return fmt.Errorf("%s: %w", root, err)
	}

	cache := manifest.NewCache()
	opts := checker.Options{ExtraBuiltins: cfg.Builtins.Extra}

	var (
		findings []finding
		summary  checkSummary
	)

	walkErr := filepath.WalkDir(root, func(filePath string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if entry.IsDir() {
			if filePath != root && slices.Contains(cfg.Scan.Exclude, entry.Name()) {
				return filepath.SkipDir
			}

			return nil
		}

		if !strings.EqualFold(filepath.Ext(filePath), ".rs") {
			return nil
		}

		fileFindings, size, scanned, err := checkFile(filePath, manifestPath, cache, opts)
		if err != nil {
			return err
		}

		if scanned {
			if verbose {
				rel, relErr := filepath.Rel(root, filePath)
				if relErr != nil {
					rel = filePath
				}

				fmt.Fprintf(out, "scanning %s (%s)\n", rel, humanize.Bytes(size))
			}

			summary.Files++
			summary.Bytes += size
			findings = append(findings, fileFindings...)
		}

		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("walk %s: %w", root, walkErr)
	}

	render(out, root, findings, summary)

	if len(findings) > 0 {
		return ErrUnsatisfiedReferences
	}

	return nil
}

// checkFile runs the mask-scan-check pipeline over one source file.
// The scanned result is false when the file was skipped as binary.
func checkFile(filePath, manifestPath string, cache *manifest.Cache, opts checker.Options) ([]finding, uint64, bool, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, 0, false, fmt.Errorf("read %s: %w", filePath, err)
	}

	if looksBinary(data) {
		return nil, 0, false, nil
	}

	parsed, err := cache.Resolve(manifestPath)
	if err != nil {
		return nil, 0, false, err
	}

	src := string(data)
	refs := rustsrc.ScanExternCrates(rustsrc.MaskComments(src))
	diags := checker.Check(src, refs, parsed, opts)

	findings := make([]finding, 0, len(diags))
	for _, diag := range diags {
		findings = append(findings, finding{
			File:  filePath,
			Line:  lineAt(src, diag.Start),
			Crate: diag.Crate,
			Msg:   diag.Message,
		})
	}

	return findings, uint64(len(data)), true, nil
}

// render prints the findings table and a summary line.
func render(out io.Writer, root string, findings []finding, summary checkSummary) {
	if len(findings) > 0 {
		tbl := table.NewWriter()
		tbl.SetStyle(table.StyleLight)
		tbl.AppendHeader(table.Row{"File", "Line", "Crate", "Problem"})

		for _, f := range findings {
			rel, err := filepath.Rel(root, f.File)
			if err != nil {
				rel = f.File
			}

			tbl.AppendRow(table.Row{rel, f.Line, f.Crate, f.Msg})
		}

		tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d", len(findings))})
		fmt.Fprintln(out, tbl.Render())
	}

	status := color.New(color.FgGreen).Sprint("ok")
	if len(findings) > 0 {
		status = color.New(color.FgRed).Sprintf("%d missing", len(findings))
	}

	fmt.Fprintf(out, "checked %d files (%s): %s\n", summary.Files, humanize.Bytes(summary.Bytes), status)
}

// lineAt returns the one-based line number of a byte offset.
func lineAt(src string, offset int) int {
	if offset > len(src) {
		offset = len(src)
	}

	return 1 + strings.Count(src[:offset], "\n")
}

// looksBinary reports whether data contains a null byte within the sniff
// window. Binary blobs with an .rs extension are skipped, not scanned.
func looksBinary(data []byte) bool {
	sniff := data
	if len(sniff) > binarySniffLength {
		sniff = sniff[:binarySniffLength]
	}

	return bytes.IndexByte(sniff, 0) >= 0
}
