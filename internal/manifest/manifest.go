// Package manifest reads Cargo.toml files and answers which crate names a
// package declares as dependencies.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the conventional manifest file name.
const FileName = "Cargo.toml"

// ErrNotFound is returned when no Cargo.toml exists between a starting
// directory and the workspace root.
var ErrNotFound = errors.New("no Cargo.toml found")

// Manifest is the subset of Cargo.toml this tool cares about. Unknown keys
// are ignored by the TOML decoder.
type Manifest struct {
	Package         PackageSection `toml:"package"`
	Lib             LibSection     `toml:"lib"`
	Dependencies    map[string]any `toml:"dependencies"`
	DevDependencies map[string]any `toml:"dev-dependencies"`
}

// PackageSection is the [package] table.
type PackageSection struct {
	Name string `toml:"name"`
}

// LibSection is the [lib] table. A lib.name overrides the package name as
// the crate's own linkable name.
type LibSection struct {
	Name string `toml:"name"`
}

// Parse decodes Cargo.toml content.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest

	err := toml.Unmarshal(data, &m)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", FileName, err)
	}

	return &m, nil
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", FileName, err)
	}

	return Parse(data)
}

// CrateName returns the crate's own canonical name, normalized: lib.name if
// present, else package.name, with hyphens folded to underscores.
func (m *Manifest) CrateName() string {
	name := m.Lib.Name
	if name == "" {
		name = m.Package.Name
	}

	return NormalizeName(name)
}

// DependencyNames returns the normalized, de-duplicated union of the
// dependencies and dev-dependencies tables. Dev dependencies satisfy an
// extern crate reference exactly like normal ones.
func (m *Manifest) DependencyNames() map[string]bool {
	names := make(map[string]bool, len(m.Dependencies)+len(m.DevDependencies))

	for name := range m.Dependencies {
		names[NormalizeName(name)] = true
	}

	for name := range m.DevDependencies {
		names[NormalizeName(name)] = true
	}

	return names
}

// NormalizeName folds hyphens to underscores, matching how rustc exposes
// hyphenated Cargo package names as crate identifiers.
func NormalizeName(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

// Locate walks upward from dir looking for a Cargo.toml, stopping at root
// inclusive. A manifest above root is out of scope; ErrNotFound is returned
// and the caller should skip the check for that document.
func Locate(dir, root string) (string, error) {
	dir = filepath.Clean(dir)
	root = filepath.Clean(root)

	for {
		candidate := filepath.Join(dir, FileName)

		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}

		if err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}

		if dir == root {
			return "", ErrNotFound
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Hit the filesystem root without passing through the
			// workspace root; the document is outside the workspace.
			return "", ErrNotFound
		}
		dir = parent
	}
}
