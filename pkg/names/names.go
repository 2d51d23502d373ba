// Package names normalizes author names and titles: display capitalization,
// library sort keys, and the loose keys used to match AI output back to
// inputs.
package names

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// UnknownAuthor is used when no author could be determined.
const UnknownAuthor = "Unknown Author"

var (
	titleArticles = []string{"The", "A", "An"}

	generationalSuffixes = []string{"Jr.", "Jr", "Sr.", "Sr", "Junior", "Senior", "I", "II", "III", "IV", "V"}

	academicSuffixes = []string{
		"PhD", "Ph.D", "Ph.D.", "MD", "M.D", "M.D.", "JD", "J.D", "J.D.",
		"EdD", "Ed.D", "Ed.D.", "MBA", "M.B.A.", "MA", "M.A.", "MS", "M.S.", "Esq", "Esq.",
	}

	prefixes = []string{"Dr.", "Dr", "Mr.", "Mr", "Mrs.", "Mrs", "Ms.", "Ms", "Prof.", "Prof", "Rev.", "Rev", "Sir", "Dame", "Lord", "Lady"}

	// "Ludwig van Beethoven" keeps its lowercase "van".
	particles = []string{"van", "von", "der", "den", "de", "da", "di", "du", "del", "della", "la", "le", "bin", "ibn"}

	initialsRE   = regexp.MustCompile(`^(\p{L}\.)+\p{L}?\.?$`)
	nameNoiseRE  = regexp.MustCompile(`[.']`)
	titleNoiseRE = regexp.MustCompile(`[^a-z0-9\s]`)
	whitespaceRE = regexp.MustCompile(`\s+`)
)

// NormalizeAuthor fixes the capitalization of an author name returned by the
// AI service. Words that are entirely upper or lower case are title-cased,
// mixed case words ("McCarthy", "Le Guin") are kept, initials are
// upper-cased and lowercase particles inside the name are left alone.
// An empty name becomes UnknownAuthor.
func NormalizeAuthor(name string) string {
	words := strings.Fields(name)
	if len(words) == 0 {
		return UnknownAuthor
	}

	for i, word := range words {
		switch {
		case initialsRE.MatchString(word):
			words[i] = strings.ToUpper(word)
		case i > 0 && i < len(words)-1 && isOneOf(word, particles) && strings.ToLower(word) == word:
			// keep lowercase particles as given
		case isOneOf(word, generationalSuffixes) && i > 0:
			words[i] = canonical(word, generationalSuffixes)
		default:
			words[i] = capitalizeWord(word)
		}
	}
	return strings.Join(words, " ")
}

func capitalizeWord(word string) string {
	if strings.ToLower(word) != word && strings.ToUpper(word) != word {
		return word
	}
	parts := strings.Split(strings.ToLower(word), "-")
	for i, p := range parts {
		r, size := utf8.DecodeRuneInString(p)
		if r == utf8.RuneError {
			continue
		}
		parts[i] = string(unicode.ToUpper(r)) + p[size:]
	}
	return strings.Join(parts, "-")
}

// NameKey is the key used to match author names case and punctuation
// insensitively: lowercase, without dots or apostrophes, single spaced.
func NameKey(name string) string {
	s := strings.ToLower(name)
	s = nameNoiseRE.ReplaceAllString(s, "")
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))
}

// TitleKey is the key used to match book and series titles: lowercase,
// letters, digits and single spaces only.
func TitleKey(title string) string {
	s := strings.ToLower(title)
	s = titleNoiseRE.ReplaceAllString(s, "")
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))
}

// SortTitle moves a leading article to the end.
// "The Hobbit" -> "Hobbit, The".
func SortTitle(title string) string {
	title = strings.TrimSpace(title)
	for _, article := range titleArticles {
		prefix := article + " "
		if len(title) > len(prefix) && strings.EqualFold(title[:len(prefix)], prefix) {
			if rest := strings.TrimSpace(title[len(prefix):]); rest != "" {
				return rest + ", " + title[:len(article)]
			}
		}
	}
	return title
}

// SortName converts a display name to "Last, First" order. Honorifics and
// academic suffixes are dropped, generational suffixes are kept at the end.
// "Martin Luther King Jr." -> "King, Martin Luther, Jr.".
func SortName(name string) string {
	parts := strings.Fields(name)
	if len(parts) < 2 {
		return strings.TrimSpace(name)
	}

	for len(parts) > 1 && isOneOf(parts[0], prefixes) {
		parts = parts[1:]
	}

	var suffixes []string
	for len(parts) > 1 {
		last := strings.TrimSuffix(parts[len(parts)-1], ",")
		if isOneOf(last, generationalSuffixes) {
			suffixes = append([]string{last}, suffixes...)
		} else if !isOneOf(last, academicSuffixes) {
			break
		}
		parts = parts[:len(parts)-1]
	}

	if len(parts) == 1 {
		return strings.Join(append(parts, suffixes...), ", ")
	}

	// Particles directly before the surname already sit at the end of the
	// given names, which is where library style files them.
	surname := parts[len(parts)-1]
	out := surname + ", " + strings.Join(parts[:len(parts)-1], " ")
	if len(suffixes) > 0 {
		out += ", " + strings.Join(suffixes, ", ")
	}
	return out
}

func isOneOf(word string, list []string) bool {
	for _, candidate := range list {
		if strings.EqualFold(word, candidate) {
			return true
		}
	}
	return false
}

func canonical(word string, list []string) string {
	for _, candidate := range list {
		if strings.EqualFold(word, candidate) {
			return candidate
		}
	}
	return word
}
