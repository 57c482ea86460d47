// Package textnorm cleans document text before chunking and before it is
// placed into a model prompt.
package textnorm

import (
	"regexp"
	"strings"
)

var (
	spaceRuns   = regexp.MustCompile(`[ \t]+`)
	newlineRuns = regexp.MustCompile(`\n{3,}`)
)

// Normalize collapses horizontal whitespace runs, caps blank lines at one,
// and trims the result.
func Normalize(text string) string {
	t := strings.TrimSpace(text)
	if t == "" {
		return ""
	}
	t = spaceRuns.ReplaceAllString(t, " ")
	t = newlineRuns.ReplaceAllString(t, "\n\n")
	return strings.TrimSpace(t)
}

// TruncatePreview normalizes text and cuts it to maxChars for search result
// previews.
func TruncatePreview(text string, maxChars int) string {
	if text == "" {
		return ""
	}
	normalized := Normalize(text)
	runes := []rune(normalized)
	if len(runes) <= maxChars {
		return normalized
	}
	return strings.TrimRight(string(runes[:maxChars-3]), " ") + "..."
}
