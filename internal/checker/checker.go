// Package checker decides which extern crate references are unsatisfied by
// the crate's manifest and turns them into diagnostics.
package checker

import (
	"fmt"
	"strings"

	"github.com/crateguard/crateguard/internal/manifest"
	"github.com/crateguard/crateguard/internal/rustsrc"
)

// Severity of a diagnostic. Unsatisfied references are always errors.
type Severity int

// SeverityError is the only severity produced today.
const SeverityError Severity = 1

// Diagnostic flags one unsatisfied extern crate reference. Start and End are
// byte offsets into the original source; End is just past the terminating
// semicolon, or the end of the source when no terminator follows.
type Diagnostic struct {
	Start    int
	End      int
	Crate    string
	Message  string
	Severity Severity
}

// Options tunes a check pass.
type Options struct {
	// ExtraBuiltins are additional crate names treated as always
	// satisfied, on top of the fixed sysroot set.
	ExtraBuiltins []string
}

// Check reports a diagnostic for every reference whose normalized name is
// neither a builtin, nor the crate's own name, nor declared under
// [dependencies] or [dev-dependencies].
//
// If any reference names the crate itself the whole document is considered
// clean and no diagnostics are returned. That reproduces long-standing
// behavior; suppressing only the matching reference would arguably be more
// correct (see DESIGN.md).
func Check(src string, refs []rustsrc.CrateRef, m *manifest.Manifest, opts Options) []Diagnostic {
	if len(refs) == 0 {
		return nil
	}

	ownName := m.CrateName()
	for _, ref := range refs {
		if ownName != "" && manifest.NormalizeName(ref.Name) == ownName {
			return nil
		}
	}

	// Configured names may be hyphenated like manifest entries; fold them
	// so they match the identifiers the scanner produces.
	extra := make(map[string]bool, len(opts.ExtraBuiltins))
	for _, name := range opts.ExtraBuiltins {
		extra[manifest.NormalizeName(name)] = true
	}

	declared := m.DependencyNames()

	var diags []Diagnostic

	for _, ref := range refs {
		if rustsrc.IsBuiltin(ref.Name) || extra[manifest.NormalizeName(ref.Name)] {
			continue
		}

		if declared[manifest.NormalizeName(ref.Name)] {
			continue
		}

		diags = append(diags, Diagnostic{
			Start:    ref.Offset,
			End:      terminatorEnd(src, ref.Offset),
			Crate:    ref.Name,
			Message:  fmt.Sprintf("%q is not listed in %s", ref.Name, manifest.FileName),
			Severity: SeverityError,
		})
	}

	return diags
}

// terminatorEnd returns the offset just past the first semicolon at or after
// start in the original source, falling back to the end of the source.
func terminatorEnd(src string, start int) int {
	if start >= len(src) {
		return len(src)
	}

	idx := strings.IndexByte(src[start:], ';')
	if idx < 0 {
		return len(src)
	}

	return start + idx + 1
}
