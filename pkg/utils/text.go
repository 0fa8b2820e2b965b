package utils

import "strings"

// NormalizeName trims a display name and collapses inner whitespace runs.
func NormalizeName(input string) string {
	return strings.Join(strings.Fields(input), " ")
}

// SameName compares two village, clan or role names the way chat platforms
// match them: case-insensitively, ignoring surrounding whitespace.
func SameName(a, b string) bool {
	return strings.EqualFold(NormalizeName(a), NormalizeName(b))
}
