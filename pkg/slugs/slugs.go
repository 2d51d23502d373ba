// Package slugs builds URL-safe identifiers from names and titles.
package slugs

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	// Letters that don't decompose into an ASCII base letter.
	ligatures = strings.NewReplacer(
		"ß", "ss", "æ", "ae", "Æ", "ae", "œ", "oe", "Œ", "oe",
		"ø", "o", "Ø", "o", "ł", "l", "Ł", "l", "đ", "d", "Đ", "d", "þ", "th",
	)
	disallowed      = regexp.MustCompile(`[^a-z0-9\s-]`)
	whitespace      = regexp.MustCompile(`\s+`)
	multipleHyphens = regexp.MustCompile(`-+`)
)

// Make converts s to a lowercase, hyphenated slug.
// "J.K. Rowling" -> "jk-rowling".
// "Harry Potter & the Philosopher's Stone" -> "harry-potter-the-philosophers-stone".
// "Émile Zola" -> "emile-zola".
func Make(s string) string {
	s = ligatures.Replace(s)

	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(t, s); err == nil {
		s = out
	}

	s = strings.ToLower(s)
	s = disallowed.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(strings.TrimSpace(s), "-")
	s = multipleHyphens.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// MakeOr is Make, falling back to fallback when s has nothing sluggable.
func MakeOr(s, fallback string) string {
	if slug := Make(s); slug != "" {
		return slug
	}
	return fallback
}

// Unique returns base, or base with the smallest numeric suffix ("-1", "-2",
// ...) for which taken reports false.
func Unique(base string, taken func(slug string) bool) string {
	if !taken(base) {
		return base
	}
	for i := 1; ; i++ {
		candidate := base + "-" + strconv.Itoa(i)
		if !taken(candidate) {
			return candidate
		}
	}
}
