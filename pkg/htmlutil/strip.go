// Package htmlutil turns model-written prose into plain text before it is
// stored on authors, books and series.
package htmlutil

import (
	"html"
	"regexp"
	"strings"
)

var (
	tagPattern       = regexp.MustCompile(`<[^>]*>`)
	blockTagPattern  = regexp.MustCompile(`(?i)<\s*(br\s*/?|/p|/div|/li|/h[1-6])\s*>`)
	emphasisPattern  = regexp.MustCompile(`(\*\*|__)(.+?)(\*\*|__)`)
	spacesPattern    = regexp.MustCompile(`[ \t\f\v]{2,}`)
	codeFencePattern = regexp.MustCompile("^```[a-zA-Z]*$")
)

// Clean strips HTML tags, markdown bold markers and code fences, decodes
// entities and normalizes whitespace. Paragraph breaks survive as single
// newlines.
func Clean(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}

	result := blockTagPattern.ReplaceAllString(s, "\n")
	result = tagPattern.ReplaceAllString(result, "")
	result = html.UnescapeString(result)
	result = emphasisPattern.ReplaceAllString(result, "$2")
	result = strings.ReplaceAll(result, "\u00a0", " ")

	lines := strings.Split(result, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(spacesPattern.ReplaceAllString(line, " "))
		if line == "" || codeFencePattern.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// CleanPtr cleans *s and returns "" for nil.
func CleanPtr(s *string) string {
	if s == nil {
		return ""
	}
	return Clean(*s)
}
