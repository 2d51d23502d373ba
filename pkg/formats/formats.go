// Package formats maps file extensions to the ebook formats the indexer
// understands.
package formats

import (
	"path/filepath"
	"strings"
)

type Format string

const (
	EPUB Format = "epub"
	MOBI Format = "mobi"
	TXT  Format = "txt"
	PDF  Format = "pdf"
	AZW  Format = "azw"
	AZW3 Format = "azw3"
	PDB  Format = "pdb"
)

// Supported lists every format the crawler picks up.
var Supported = []Format{EPUB, MOBI, TXT, PDF, AZW, AZW3, PDB}

// ConversionPriority orders the formats that make good conversion sources,
// best first.
var ConversionPriority = []Format{EPUB, MOBI, AZW3, TXT, PDF}

// ConversionTargets are the formats every book should end up having.
var ConversionTargets = []Format{EPUB, MOBI, TXT}

// Detect returns the format for the extension of path.
func Detect(path string) (Format, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return Parse(ext)
}

// Parse returns the format named by s.
func Parse(s string) (Format, bool) {
	f := Format(strings.ToLower(s))
	for _, supported := range Supported {
		if f == supported {
			return f, true
		}
	}
	return "", false
}

// Extension returns the file extension for f, including the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// BestSource picks the highest priority format from available. It returns
// false when none of them can be converted from.
func BestSource(available []Format) (Format, bool) {
	for _, candidate := range ConversionPriority {
		for _, f := range available {
			if f == candidate {
				return f, true
			}
		}
	}
	return "", false
}

// MissingTargets returns the conversion targets not present in available.
func MissingTargets(available []Format) []Format {
	have := make(map[Format]bool, len(available))
	for _, f := range available {
		have[f] = true
	}
	var missing []Format
	for _, target := range ConversionTargets {
		if !have[target] {
			missing = append(missing, target)
		}
	}
	return missing
}
