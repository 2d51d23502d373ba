package models

import (
	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
)

// AgentResultsVersion is the current layout of BatchItem.AgentResults.
const AgentResultsVersion = 1

// AgentResults is what each pipeline phase recorded for an item. Every phase
// owns one field and leaves the others untouched.
type AgentResults struct {
	Version     int                 `json:"version"`
	Names       *NameResults        `json:"names,omitempty"`
	Images      *ImageResults       `json:"images,omitempty"`
	Persistence *PersistenceResults `json:"persistence,omitempty"`
	Conversion  *ConversionResults  `json:"conversion,omitempty"`
	Metadata    *MetadataResults    `json:"metadata,omitempty"`
}

type ResolvedAuthor struct {
	OriginalName   string  `json:"original_name"`
	NormalizedName string  `json:"normalized_name"`
	Slug           string  `json:"slug"`
	Confidence     float64 `json:"confidence"`
}

type ResolvedTitle struct {
	OriginalTitle string  `json:"original_title"`
	EnglishTitle  string  `json:"english_title"`
	Slug          string  `json:"slug"`
	Confidence    float64 `json:"confidence"`
}

// ResolvedSeries has either all of Name, EnglishName and Slug set or none.
type ResolvedSeries struct {
	Name        *string `json:"name"`
	EnglishName *string `json:"english_name"`
	Slug        *string `json:"slug"`
	Confidence  float64 `json:"confidence"`
}

// Present reports whether a series was detected.
func (s ResolvedSeries) Present() bool {
	return s.Slug != nil
}

type NameResults struct {
	Author     ResolvedAuthor `json:"author"`
	Title      ResolvedTitle  `json:"title"`
	Series     ResolvedSeries `json:"series"`
	Confidence float64        `json:"confidence"`
}

// Image sources.
const (
	ImageSourceSearch   = "search"
	ImageSourceDefault  = "default"
	ImageSourceExisting = "existing"
	ImageSourceBook     = "book"
)

type ImageResults struct {
	AuthorImagePath   string `json:"author_image_path,omitempty"`
	AuthorImageSource string `json:"author_image_source,omitempty"`
	BookCoverPath     string `json:"book_cover_path,omitempty"`
	BookCoverSource   string `json:"book_cover_source,omitempty"`
	SeriesImagePath   string `json:"series_image_path,omitempty"`
	SeriesImageSource string `json:"series_image_source,omitempty"`
}

type PersistenceResults struct {
	AuthorID    int    `json:"author_id"`
	BookID      int    `json:"book_id"`
	SeriesID    *int   `json:"series_id,omitempty"`
	FileID      int    `json:"file_id"`
	LibraryPath string `json:"library_path"`
}

type ConversionResults struct {
	Converted []string          `json:"converted,omitempty"`
	Failed    map[string]string `json:"failed,omitempty"`
}

type MetadataResults struct {
	AuthorEnriched bool `json:"author_enriched"`
	BookEnriched   bool `json:"book_enriched"`
	SeriesEnriched bool `json:"series_enriched"`
}

// NewAgentResults returns an empty envelope at the current version.
func NewAgentResults() *AgentResults {
	return &AgentResults{Version: AgentResultsVersion}
}

// DecodeAgentResults parses a stored envelope. Empty input yields an empty
// envelope. Garbled input or an unknown version also yields an empty envelope,
// together with an error describing what was discarded.
func DecodeAgentResults(raw string) (*AgentResults, error) {
	if raw == "" {
		return NewAgentResults(), nil
	}

	results := &AgentResults{}
	if err := json.Unmarshal([]byte(raw), results); err != nil {
		return NewAgentResults(), errors.Wrap(err, "discarding unreadable agent results")
	}
	if results.Version != AgentResultsVersion {
		return NewAgentResults(), errors.Errorf("discarding agent results with unsupported version %d", results.Version)
	}
	return results, nil
}

// Encode serializes the envelope for storage.
func (r *AgentResults) Encode() (string, error) {
	if r.Version == 0 {
		r.Version = AgentResultsVersion
	}
	data, err := json.Marshal(r)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return string(data), nil
}

// UnmarshalAgentResults fills AgentResultsParsed from AgentResults.
func (item *BatchItem) UnmarshalAgentResults() error {
	parsed, err := DecodeAgentResults(item.AgentResults)
	item.AgentResultsParsed = parsed
	return err
}
