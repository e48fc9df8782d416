package config

import (
	"strings"
	"unicode"
)

// SplitQuotedFields splits in around spaces, like strings.Fields, but
// keeps runs surrounded by the quote character together. Inside a quoted
// run a backslash escapes the next character.
func SplitQuotedFields(in string, quote rune) []string {
	var (
		fields  []string
		buf     strings.Builder
		quoted  bool // inside a quoted run
		escaped bool // last character was a backslash inside quotes
		open    bool // current field saw content or a quote pair
	)

	for _, ch := range in {
		switch {
		case escaped:
			buf.WriteRune(ch)
			escaped = false
		case ch == quote:
			quoted = !quoted
			open = true
		case quoted && ch == '\\':
			escaped = true
		case !quoted && unicode.IsSpace(ch):
			if open {
				fields = append(fields, buf.String())
				buf.Reset()
				open = false
			}
		default:
			buf.WriteRune(ch)
			open = true
		}
	}

	if buf.Len() != 0 {
		fields = append(fields, buf.String())
	}

	return fields
}
