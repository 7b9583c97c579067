// Package rustsrc extracts extern crate references from Rust source text.
//
// Matching is deliberately shallow: comments are blanked out and a single
// declaration shape is recognized. Full grammar parsing is out of scope.
package rustsrc

// MaskComments returns src with line and block comments overwritten with
// spaces. The result has exactly the same length as the input, so byte
// offsets computed against the masked text are valid against the original.
// Newlines inside block comments are preserved to keep line numbers stable.
//
// Nested block comments are not tracked: the first closing delimiter wins.
// An unterminated block comment masks through to the end of the input.
func MaskComments(src string) string {
	out := []byte(src)

	i := 0
	for i < len(out)-1 {
		switch {
		case out[i] == '/' && out[i+1] == '/':
			for i < len(out) && out[i] != '\n' {
				out[i] = ' '
				i++
			}
		case out[i] == '/' && out[i+1] == '*':
			out[i] = ' '
			out[i+1] = ' '
			i += 2

			for i < len(out) {
				if i < len(out)-1 && out[i] == '*' && out[i+1] == '/' {
					out[i] = ' '
					out[i+1] = ' '
					i += 2

					break
				}

				if out[i] != '\n' {
					out[i] = ' '
				}
				i++
			}
		default:
			i++
		}
	}

	return string(out)
}
