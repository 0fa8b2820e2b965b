package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/mroshb/clan_portal/pkg/utils"
)

var htmlPolicy = bluemonday.StrictPolicy()

// Length limits, in runes.
const (
	MaxNameLength      = 100
	MaxBiographyLength = 4000
	MaxCommentLength   = 2000
)

// SanitizeString trims, removes null bytes, and truncates to maxRunes.
func SanitizeString(input string, maxRunes int) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")

	if maxRunes > 0 && utf8.RuneCountInString(input) > maxRunes {
		input = string([]rune(input)[:maxRunes])
	}
	return strings.TrimSpace(input)
}

// SanitizeHTML removes all HTML tags
func SanitizeHTML(input string) string {
	return htmlPolicy.Sanitize(input)
}

// SanitizeText strips markup from free text and returns plain text. The
// strict policy escapes entities, so they are decoded back before trimming.
func SanitizeText(input string, maxRunes int) string {
	return SanitizeString(html.UnescapeString(SanitizeHTML(input)), maxRunes)
}

// SanitizeName cleans a display name and collapses inner whitespace.
func SanitizeName(input string) string {
	return utils.NormalizeName(SanitizeText(input, MaxNameLength))
}

// NormalizeGameUUID validates a game account identifier and returns it in
// canonical hyphenated lowercase form. Undashed 32-digit forms are accepted.
func NormalizeGameUUID(input string) (string, bool) {
	id, err := uuid.Parse(strings.TrimSpace(input))
	if err != nil || id == uuid.Nil {
		return "", false
	}
	return id.String(), true
}
