package advance

import "strings"

// Citation markers the reasoning engine embeds in completed content.
const (
	citationOpen  = "【"
	citationClose = "】"
)

// stripCitations removes every matched 【…】 span, markers included.
// Text without a matched pair passes through unchanged, which also makes
// the function idempotent.
func stripCitations(s string) string {
	var b strings.Builder
	for {
		open := strings.Index(s, citationOpen)
		if open < 0 {
			break
		}
		rest := s[open+len(citationOpen):]
		closeIdx := strings.Index(rest, citationClose)
		if closeIdx < 0 {
			// Unmatched opener, keep the remainder as-is.
			break
		}
		b.WriteString(s[:open])
		s = rest[closeIdx+len(citationClose):]
	}
	b.WriteString(s)
	return b.String()
}
