package utils

import (
	"strings"
	"unicode/utf8"
)

// TruncateUTF8 cuts s to at most maxBytes bytes without splitting a rune.
// Invalid sequences are replaced with U+FFFD first, so the result is always
// valid UTF-8 and safe for Postgres text columns.
func TruncateUTF8(s string, maxBytes int) string {
	s = strings.ToValidUTF8(s, "�")
	if len(s) <= maxBytes {
		return s
	}
	if maxBytes <= 0 {
		return ""
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
