// Package normalizers provides field normalization functions for account matching
package normalizers

import (
	"strings"
	"unicode"
)

// NormalizeEmail normalizes an email address (lowercase, trim)
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeName normalizes a person's name for matching
// - Lowercase
// - Strip emoji and symbols common in display names
// - Remove punctuation
// - Collapse whitespace
func NormalizeName(s string) string {
	s = strings.ToLower(s)

	var result strings.Builder
	prevSpace := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
			prevSpace = false
		} else if unicode.IsSpace(r) {
			if !prevSpace {
				result.WriteRune(' ')
				prevSpace = true
			}
		}
	}

	return strings.TrimSpace(result.String())
}

// NormalizeHandle normalizes a social media handle for matching.
// Strips a leading @, lowercases, and keeps alphanumerics and underscores.
func NormalizeHandle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "@")
	s = strings.ToLower(s)

	var result strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// NormalizeLocation normalizes a free-form location string for comparison.
// Lowercases, drops punctuation, and collapses whitespace so "Portland, OR"
// and "portland or" compare equal.
func NormalizeLocation(s string) string {
	return NormalizeName(s)
}
