package rag

import (
	"strings"
	"unicode"

	"github.com/avolkov/groundkb/internal/vectorstore"
)

// QuoteCheck reports whether one cited quote was found in its chunk.
type QuoteCheck struct {
	ChunkID string `json:"chunk_id"`
	Quote   string `json:"quote"`
	Found   bool   `json:"found"`
	Reason  string `json:"reason,omitempty"`
}

// VerifyQuotes checks each source's quote against the retrieved chunk it
// cites. Comparison is whitespace-insensitive and case-insensitive so
// harmless reformatting by the model does not count as a fabrication.
// Chunks not present in hits are reported as unknown citations.
func VerifyQuotes(ans *Answer, hits []vectorstore.Hit) []QuoteCheck {
	byID := make(map[string]string, len(hits))
	for _, h := range hits {
		byID[h.ChunkID] = h.Meta.Text
	}

	checks := make([]QuoteCheck, 0, len(ans.Sources))
	for _, src := range ans.Sources {
		check := QuoteCheck{ChunkID: src.ChunkID, Quote: src.Quote}

		text, ok := byID[src.ChunkID]
		switch {
		case !ok:
			check.Reason = "cited chunk was not retrieved"
		case strings.TrimSpace(src.Quote) == "":
			check.Reason = "empty quote"
		case strings.Contains(foldSpace(text), foldSpace(src.Quote)):
			check.Found = true
		default:
			check.Reason = "quote not found in chunk"
		}
		checks = append(checks, check)
	}
	return checks
}

// UnverifiedCount returns how many checks failed.
func UnverifiedCount(checks []QuoteCheck) int {
	n := 0
	for _, c := range checks {
		if !c.Found {
			n++
		}
	}
	return n
}

// foldSpace lowercases and collapses all whitespace runs to single spaces.
func foldSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
