// Package errfmt bounds and cleans agent-supplied text before it reaches
// logs, errors, or the caller.
package errfmt

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxLen caps error and chunk content.
const MaxLen = 4096

// MaxLineLen caps a single stderr line from the agent.
const MaxLineLen = 1024

// TruncateTo caps s at limit bytes without splitting a rune.
func TruncateTo(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	end := limit
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end]
}

// Truncate is TruncateTo(s, MaxLen).
func Truncate(s string) string {
	return TruncateTo(s, MaxLen)
}

// HasControl reports whether s contains any control character.
func HasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}

// Line prepares one line of agent stderr for logging: trailing CR removed,
// control characters other than tab replaced by U+FFFD, length capped.
func Line(s string) string {
	s = strings.TrimRight(s, "\r")
	if HasControl(s) {
		s = strings.Map(func(r rune) rune {
			if r != '\t' && unicode.IsControl(r) {
				return utf8.RuneError
			}
			return r
		}, s)
	}
	return TruncateTo(s, MaxLineLen)
}
