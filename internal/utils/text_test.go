package utils

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateUTF8(t *testing.T) {
	cases := []struct {
		name string
		s    string
		max  int
		want string
	}{
		{"short", "abc", 10, "abc"},
		{"exact", "abcd", 4, "abcd"},
		{"ascii cut", "abcdef", 3, "abc"},
		// "é" is two bytes; a cut at byte 2 would split it
		{"rune boundary", "aé", 2, "a"},
		{"three byte rune", "ab€", 4, "ab"},
		{"zero", "abc", 0, ""},
		{"invalid input", "a\xffb", 10, "a�b"},
	}
	for _, tc := range cases {
		got := TruncateUTF8(tc.s, tc.max)
		if got != tc.want {
			t.Fatalf("%s: TruncateUTF8(%q, %d) = %q; want %q", tc.name, tc.s, tc.max, got, tc.want)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("%s: result is not valid UTF-8: %q", tc.name, got)
		}
	}
}

func TestTruncateUTF8_LongMultibyte(t *testing.T) {
	s := strings.Repeat("ж", 400) // 800 bytes
	got := TruncateUTF8(s, 501)
	if len(got) != 500 || !utf8.ValidString(got) {
		t.Fatalf("len=%d valid=%v", len(got), utf8.ValidString(got))
	}
}
