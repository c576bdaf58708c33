// Package textnorm provides canonical text normalization for search.
// Every text field that participates in lexical matching must be routed
// through Normalize so that queries and indexed content agree on casing,
// whitespace, and diacritics.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks decomposes to NFD and removes combining marks, so "datová"
// becomes "datova".
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize strips diacritics, optionally lowercases, collapses runs of
// Unicode whitespace to a single ASCII space, and trims. It is idempotent:
// Normalize(Normalize(s)) == Normalize(s). Pathological input yields "".
func Normalize(text string, lowercase bool) string {
	if text == "" {
		return ""
	}

	stripped, _, err := transform.String(stripMarks, text)
	if err != nil {
		// Malformed UTF-8; fall back to the raw input so the field is
		// still searchable byte-for-byte.
		stripped = text
	}

	if lowercase {
		stripped = strings.ToLower(stripped)
	}

	return collapseWhitespace(stripped)
}

// NormalizeQuery normalizes a user query for lexical matching.
func NormalizeQuery(q string) string {
	return Normalize(q, true)
}

// CreateSearchableText normalizes each non-empty part and joins them with
// single spaces. The result is recomputable from the original parts alone.
func CreateSearchableText(parts ...string) string {
	normalized := make([]string, 0, len(parts))
	for _, p := range parts {
		n := Normalize(p, true)
		if n != "" {
			normalized = append(normalized, n)
		}
	}
	return strings.Join(normalized, " ")
}

// Tokenize splits the normalized form of text on non-alphanumeric runs and
// drops tokens shorter than 2 characters. Order is preserved.
func Tokenize(text string) []string {
	normalized := Normalize(text, true)
	if normalized == "" {
		return nil
	}

	fields := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// collapseWhitespace replaces runs of Unicode whitespace with one ASCII
// space and trims leading/trailing space.
func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inSpace = false
		b.WriteRune(r)
	}

	return b.String()
}
