// Package utils provides shared utilities for text, math, and logging.
package utils

import (
	"html"
	"strings"
	"unicode"
)

// Truncate returns s truncated to maxLen runes, with "..." appended if truncated.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// NormalizeText prepares a question for embedding. Seeded questions and live queries both
// pass through it so the same text lands on the same vector: HTML entities left by scraped
// Q&A dumps are decoded, control characters dropped and whitespace collapsed.
func NormalizeText(text string) string {
	text = html.UnescapeString(text)
	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
	return strings.Join(strings.Fields(text), " ")
}
