package tokenizer

import (
	"strings"
)

// CountTokens provides a rough token count estimate, used to log prompt
// sizes before a model call. For exact counts use tiktoken-go.
func CountTokens(text string) int {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}
	return max(len(words)*4/3, 1)
}

// CountMessageTokens estimates the token footprint of a whole transcript.
func CountMessageTokens(contents []string) int {
	total := 0
	for _, c := range contents {
		total += CountTokens(c)
	}
	return total
}
