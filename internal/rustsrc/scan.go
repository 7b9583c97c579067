package rustsrc

import "regexp"

// CrateRef is a single extern crate reference found in source text.
// Offset is the byte position of the start of the declaration in the
// original (unmasked) source. Name is the referenced crate, never the alias.
type CrateRef struct {
	Offset int
	Name   string
}

// externCratePattern matches `extern crate name;` with an optional
// `as alias` clause. Only the real crate name is captured.
var externCratePattern = regexp.MustCompile(
	`\bextern\s+crate\s+([A-Za-z_][A-Za-z0-9_]*)(?:\s+as\s+[A-Za-z_][A-Za-z0-9_]*)?\s*;`)

// ScanExternCrates returns every extern crate reference in masked, in order
// of appearance. Run the input through MaskComments first so declarations
// inside comments are not reported. Pure function; no state between calls.
func ScanExternCrates(masked string) []CrateRef {
	matches := externCratePattern.FindAllStringSubmatchIndex(masked, -1)
	if len(matches) == 0 {
		return nil
	}

	refs := make([]CrateRef, 0, len(matches))

	for _, m := range matches {
		refs = append(refs, CrateRef{
			Offset: m[0],
			Name:   masked[m[2]:m[3]],
		})
	}

	return refs
}
