package utils

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeString reduces s to a single printable line: control characters
// are dropped, whitespace runs collapse to one space and the ends are
// trimmed.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return ' '
		case unicode.IsControl(r), r == utf8.RuneError:
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// TruncateString cuts s to at most maxLen runes, ending in "..." when cut.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// ShortOrigin makes a source origin fit for logs. data: URLs are replaced
// by their media type and size.
func ShortOrigin(origin string) string {
	if rest, ok := strings.CutPrefix(origin, "data:"); ok {
		meta, payload, _ := strings.Cut(rest, ",")
		return fmt.Sprintf("data:%s (%d bytes)", meta, len(payload))
	}
	return TruncateString(origin, 256)
}
