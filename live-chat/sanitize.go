package main

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

const (
	maxAuthorLen  = 24
	maxMessageLen = 2000
	anonAuthor    = "anon"
)

// Authors are plain text; every tag is stripped.
var authorPolicy = bluemonday.StrictPolicy()

// sanitizeAuthor strips markup and control characters from a display name.
// An empty result falls back to "anon".
func sanitizeAuthor(author string) string {
	// The strict policy entity-encodes what it keeps. The widget renders
	// with textContent, so decode back to plain text.
	plain := html.UnescapeString(authorPolicy.Sanitize(author))
	plain = stripControl(plain, false)
	plain = strings.Join(strings.Fields(plain), " ")
	plain = truncateRunes(plain, maxAuthorLen)
	if plain == "" {
		return anonAuthor
	}
	return plain
}

// sanitizeMessage removes control characters (except tab and newline) and
// limits the length. Markup is left alone: it is displayed as text.
func sanitizeMessage(message string) string {
	return strings.TrimSpace(truncateRunes(stripControl(message, true), maxMessageLen))
}

func stripControl(s string, keepWhitespace bool) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == unicode.ReplacementChar {
			continue
		}
		if unicode.IsControl(r) {
			if keepWhitespace && (r == '\t' || r == '\n') {
				b.WriteRune(r)
			}
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return strings.TrimSpace(s[:i])
		}
		count++
	}
	return strings.TrimSpace(s)
}
