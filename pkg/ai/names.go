package ai

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/booknest/booknest/pkg/names"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
)

type NameRequest struct {
	FilePath string `json:"filePath"`
}

type AuthorGuess struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

type TitleGuess struct {
	Original   string  `json:"original"`
	English    string  `json:"english"`
	Confidence float64 `json:"confidence"`
}

type SeriesGuess struct {
	Name        *string `json:"name"`
	EnglishName *string `json:"englishName"`
	Confidence  float64 `json:"confidence"`
}

type NameResult struct {
	FilePath   string      `json:"filePath"`
	Confidence float64     `json:"confidence"`
	Author     AuthorGuess `json:"author"`
	Title      TitleGuess  `json:"title"`
	Series     SeriesGuess `json:"series"`
}

type nameResponse struct {
	Results []NameResult `json:"results"`
}

const nameResolverRole = "a highly specialized book name resolver service. You analyze file paths and names to extract author names, book titles, and the book series name information if applicable. You handle multilingual content (German, French, Spanish and others) and normalize names to English where possible. You always provide confidence scores between 0.0 and 1.0."

const namePromptTemplate = `Analyze these ebook file paths and extract book information.

INPUT FILES:
%INPUT%

RESPONSE FORMAT (JSON):
{
  "results": [
    {
      "filePath": "original file path",
      "confidence": 0.95,
      "author": {
        "name": "Corrected Author Name",
        "confidence": 0.98
      },
      "title": {
        "original": "Original Title (might be in different language)",
        "english": "English Title",
        "confidence": 0.95
      },
      "series": {
        "name": "Series Name in Original Language or null",
        "englishName": "Series Name in English or null",
        "confidence": 0.8
      }
    }
  ]
}

RULES:
1. Extract author name from path or filename, correct spelling if needed
2. Extract original title (may be in Czech, German, etc.)
3. Provide English translation of title if original is non-English
4. Detect series information if applicable
5. Provide confidence score (0.0-1.0) for each field
6. If uncertain, use confidence < 0.5
7. Fallback: "Unknown Author" for author, use filename for title if unclear
8. Always return valid JSON matching the exact schema`

// ResolveNames asks the model for the author, title and series of every file
// path. Results come back in the model's order and may not cover every
// request; callers match them by FilePath. Missing fields are filled with the
// documented fallbacks.
func (c *Client) ResolveNames(ctx context.Context, requests []NameRequest) ([]NameResult, error) {
	if len(requests) == 0 {
		return nil, nil
	}

	input, err := json.MarshalIndent(requests, "", "  ")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	prompt := strings.Replace(namePromptTemplate, "%INPUT%", string(input), 1)

	var resp nameResponse
	if err := c.generateJSON(ctx, "resolve_names", systemPrompt(nameResolverRole), prompt, &resp); err != nil {
		return nil, err
	}

	results := make([]NameResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, withFallbacks(r))
	}

	logger.FromContext(ctx).Info("name resolution response", logger.Data{
		"input_count":  len(requests),
		"output_count": len(results),
	})
	return results, nil
}

func withFallbacks(r NameResult) NameResult {
	r.Author.Name = strings.TrimSpace(r.Author.Name)
	if r.Author.Name == "" {
		r.Author.Name = names.UnknownAuthor
	}

	r.Title.Original = strings.TrimSpace(r.Title.Original)
	if r.Title.Original == "" {
		base := filepath.Base(r.FilePath)
		r.Title.Original = strings.TrimSuffix(base, filepath.Ext(base))
	}
	r.Title.English = strings.TrimSpace(r.Title.English)
	if r.Title.English == "" {
		r.Title.English = r.Title.Original
	}

	name := trimmed(r.Series.Name)
	english := trimmed(r.Series.EnglishName)
	if name == nil {
		name = english
	}
	if english == nil {
		english = name
	}
	r.Series.Name = name
	r.Series.EnglishName = english
	if name == nil {
		r.Series.Confidence = 0
	}

	return r
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" || strings.EqualFold(v, "null") {
		return nil
	}
	return &v
}
