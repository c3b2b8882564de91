// Package subtitlelang normalizes the language codes reported by the
// inference engine and resolves human-readable names for status output.
package subtitlelang

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

var englishNames = display.English.Languages()

// Normalize lowercases and validates a language code, returning the
// canonical base form ("en", "pt"). Unparseable or empty input returns "".
func Normalize(code string) string {
	trimmed := strings.ToLower(strings.TrimSpace(code))
	if trimmed == "" || trimmed == "auto" {
		return ""
	}
	tag, err := language.Parse(trimmed)
	if err != nil {
		return ""
	}
	base, _ := tag.Base()
	return base.String()
}

// DisplayName returns the English name of a language code, title-cased.
// Unknown codes are returned title-cased as-is so status output stays
// readable.
func DisplayName(code string) string {
	normalized := Normalize(code)
	if normalized == "" {
		return ""
	}
	tag, err := language.Parse(normalized)
	if err != nil {
		return cases.Title(language.English).String(normalized)
	}
	name := englishNames.Name(tag)
	if name == "" {
		return cases.Title(language.English).String(normalized)
	}
	return name
}
