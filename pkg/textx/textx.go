// Package textx provides small text utilities used across the project.
package textx

import (
	"strings"
	"unicode"
)

// SanitizeText removes control characters except tab/newline/CR and trims spaces.
func SanitizeText(s string) string {
	// strip control chars outside tab/newline/carriage return
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// NormalizeKey trims and lower-cases a header or payload key and collapses
// each run of whitespace into a single underscore.
func NormalizeKey(k string) string {
	fields := strings.FieldsFunc(strings.ToLower(strings.TrimSpace(k)), unicode.IsSpace)
	return strings.Join(fields, "_")
}
