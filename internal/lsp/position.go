package lsp

import (
	"net/url"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// positionAt converts a byte offset in text to a zero-based LSP position.
// Characters are counted as UTF-16 code units, per the protocol's default
// position encoding.
func positionAt(text string, offset int) protocol.Position {
	if offset > len(text) {
		offset = len(text)
	}
	if offset < 0 {
		offset = 0
	}

	prefix := text[:offset]
	line := strings.Count(prefix, "\n")

	lineStart := strings.LastIndexByte(prefix, '\n') + 1

	character := 0
	for _, r := range prefix[lineStart:] {
		character += utf16RuneLen(r)
	}

	return protocol.Position{
		Line:      protocol.UInteger(line),      //nolint:gosec // line count fits uint32.
		Character: protocol.UInteger(character), //nolint:gosec // column fits uint32.
	}
}

// offsetAt converts a zero-based LSP position to a byte offset in text, the
// inverse of positionAt. Positions past the end of a line or of the text
// clamp to the nearest valid offset.
func offsetAt(text string, pos protocol.Position) int {
	offset := 0

	for line := protocol.UInteger(0); line < pos.Line; line++ {
		idx := strings.IndexByte(text[offset:], '\n')
		if idx < 0 {
			return len(text)
		}

		offset += idx + 1
	}

	units := protocol.UInteger(0)
	for units < pos.Character {
		r, size := utf8.DecodeRuneInString(text[offset:])
		if size == 0 || r == '\n' {
			break
		}

		units += protocol.UInteger(utf16RuneLen(r)) //nolint:gosec // rune length is 1 or 2.
		offset += size
	}

	return offset
}

// utf16RuneLen returns the number of UTF-16 code units encoding r.
func utf16RuneLen(r rune) int {
	length := utf16.RuneLen(r)
	if length < 0 {
		return 1
	}

	return length
}

// applyChange applies one incremental content change to text. A change
// without a range replaces the whole text.
func applyChange(text string, change protocol.TextDocumentContentChangeEvent) string {
	if change.Range == nil {
		return change.Text
	}

	start := offsetAt(text, change.Range.Start)
	end := offsetAt(text, change.Range.End)

	if end < start {
		end = start
	}

	return text[:start] + change.Text + text[end:]
}

// rangeFor converts a [start, end) byte span to an LSP range.
func rangeFor(text string, start, end int) protocol.Range {
	return protocol.Range{
		Start: positionAt(text, start),
		End:   positionAt(text, end),
	}
}

// uriToPath converts a file:// URI to a filesystem path. Inputs that are
// already plain paths are returned unchanged.
func uriToPath(uri string) string {
	if !strings.HasPrefix(uri, "file://") {
		return uri
	}

	parsed, err := url.Parse(uri)
	if err != nil {
		return strings.TrimPrefix(uri, "file://")
	}

	return parsed.Path
}
