// Package sanitize cleans user-supplied text before it is stored with a
// controller or rendered into markdown served to MCP clients.
package sanitize

import (
	"regexp"
	"strings"
)

// MaxNameLength is the maximum allowed length for controller names.
const MaxNameLength = 80

// MaxInlineLength is the maximum length of text rendered inline in
// markdown.
const MaxInlineLength = 200

var (
	// reXMLTag matches XML/HTML tags including those with attributes and self-closing tags.
	// It also matches XML processing instructions like <?xml ...?>.
	reXMLTag = regexp.MustCompile(`<[/?!]?[a-zA-Z][a-zA-Z0-9]*(?:\s+[^>]*)?/?>|<\?[^?]*\?>`)

	reBackticks = regexp.MustCompile("`+")

	reRepeatedHyphens     = regexp.MustCompile(`-{2,}`)
	reRepeatedUnderscores = regexp.MustCompile(`_{2,}`)
	reRepeatedDots        = regexp.MustCompile(`\.{2,}`)
)

// Name keeps only [a-zA-Z0-9-_/.] and enforces MaxNameLength. Repeated
// hyphens, underscores and dots are collapsed, so a name never contains
// "..".
func Name(input string) string {
	if input == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '/' || r == '.' {
			b.WriteRune(r)
		}
	}
	s := b.String()

	s = reRepeatedHyphens.ReplaceAllString(s, "-")
	s = reRepeatedUnderscores.ReplaceAllString(s, "_")
	s = reRepeatedDots.ReplaceAllString(s, ".")

	if len(s) > MaxNameLength {
		s = s[:MaxNameLength]
	}
	return s
}

// Inline prepares text for a single markdown line: control characters
// and line breaks become spaces, tags are stripped, backtick runs are
// removed so the text cannot open a code span, and the result is
// truncated to MaxInlineLength.
func Inline(input string) string {
	if input == "" {
		return ""
	}

	s := stripControlChars(input)
	s = reXMLTag.ReplaceAllString(s, "")
	s = reBackticks.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")

	if len(s) > MaxInlineLength {
		s = s[:MaxInlineLength] + "..."
	}
	return s
}

// stripControlChars replaces ASCII control characters, newline and tab
// included, with spaces.
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
