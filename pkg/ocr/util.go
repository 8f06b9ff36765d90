package ocr

import (
	"regexp"
	"strings"
)

// snippet returns a shortened version of text for logging.
func snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

var (
	// letters and digits of any script, so µ and Ω survive
	reNonPart = regexp.MustCompile(`[^\p{L}\p{N}_\s\p{Z}\x{85}-]`)
	reSpaces  = regexp.MustCompile(`[\s\p{Z}\x{85}]+`)
)

// Clean turns raw recognizer text into a part-number candidate. Everything
// except Unicode letters and digits, '_', whitespace and '-' is dropped,
// whitespace runs collapse to one space and the ends are trimmed.
// Clean(Clean(s)) == Clean(s).
func Clean(raw string) string {
	s := reNonPart.ReplaceAllString(raw, "")
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// normalizeOCRText flattens newlines and tabs into single spaces.
func normalizeOCRText(t string) string {
	return strings.Join(strings.Fields(t), " ")
}
