// Package textx cleans user- and analyzer-supplied text before it is
// embedded into reasoner prompts.
package textx

import "strings"

// SanitizeText strips control characters that could corrupt a prompt,
// keeping tab, newline and carriage return, and trims surrounding space.
func SanitizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			b.WriteRune(r)
		case r < 32 || r == 127:
			// drop
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// CollapseSpace folds runs of whitespace into single spaces. Transcript
// and OCR text arrives with arbitrary spacing; collapsing keeps token
// counts predictable.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
