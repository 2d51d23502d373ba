package ai

import (
	"bytes"
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
)

// Maximum lengths of the text fields returned by ResolveMetadata.
const (
	MaxAuthorBioLength         = 300
	MaxBookDescriptionLength   = 500
	MaxSeriesDescriptionLength = 200
)

type BookRef struct {
	Author string `json:"author"`
	Title  string `json:"title"`
}

type SeriesRef struct {
	Author string `json:"author"`
	Name   string `json:"name"`
}

type MetadataRequest struct {
	Authors []string    `json:"authors"`
	Books   []BookRef   `json:"books"`
	Series  []SeriesRef `json:"series"`
}

type AuthorMetadata struct {
	Name        string  `json:"name"`
	Bio         *string `json:"bio"`
	Nationality *string `json:"nationality"`
	DateOfBirth *string `json:"dateOfBirth"`
}

type BookMetadata struct {
	Author           string  `json:"author"`
	Title            string  `json:"title"`
	Description      *string `json:"description"`
	FirstPublishYear *Year   `json:"firstPublishYear"`
}

type SeriesMetadata struct {
	Author      string  `json:"author"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
}

type MetadataResponse struct {
	Authors []AuthorMetadata `json:"authors"`
	Books   []BookMetadata   `json:"books"`
	Series  []SeriesMetadata `json:"series"`
}

// Year accepts both 1986 and "1986" in model output.
type Year int

func (y *Year) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	s := strings.Trim(string(data), `"`)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return errors.Errorf("invalid year %s", data)
	}
	*y = Year(n)
	return nil
}

// Int returns the year as an *int, treating non-positive values as unknown.
func (y *Year) Int() *int {
	if y == nil || *y <= 0 {
		return nil
	}
	v := int(*y)
	return &v
}

const metadataResolverRole = "a highly specialized book metadata service. You provide detailed metadata for authors, books, and series including biographical information, book descriptions, publication years, and series descriptions. All descriptions must be in English."

const metadataPromptTemplate = `Find metadata for these authors, books, and series.

INPUT:
%INPUT%

RESPONSE FORMAT (JSON):
{
  "authors": [
    {
      "name": "Author Name",
      "bio": "Short bio (MAX 300 characters)",
      "nationality": "Country",
      "dateOfBirth": "YYYY-MM-DD or null"
    }
  ],
  "books": [
    {
      "author": "Author Name",
      "title": "Book Title",
      "description": "Short description (MAX 500 characters)",
      "firstPublishYear": 1986
    }
  ],
  "series": [
    {
      "author": "Author Name",
      "name": "Series Name",
      "description": "Short description (MAX 200 characters)"
    }
  ]
}

RULES:
1. Author bio: MAX 300 characters
2. Book description: MAX 500 characters
3. Series description: MAX 200 characters
4. Use null for unknown fields
5. Always return valid JSON matching the schema`

// ResolveMetadata asks the model for biographies, descriptions and
// publication years. Text fields are cut to their maximum lengths.
func (c *Client) ResolveMetadata(ctx context.Context, req MetadataRequest) (*MetadataResponse, error) {
	if req.Authors == nil {
		req.Authors = []string{}
	}
	if req.Books == nil {
		req.Books = []BookRef{}
	}
	if req.Series == nil {
		req.Series = []SeriesRef{}
	}

	input, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	prompt := strings.Replace(metadataPromptTemplate, "%INPUT%", string(input), 1)

	resp := &MetadataResponse{}
	if err := c.generateJSON(ctx, "resolve_metadata", systemPrompt(metadataResolverRole), prompt, resp); err != nil {
		return nil, err
	}

	for i := range resp.Authors {
		resp.Authors[i].Bio = truncatePtr(resp.Authors[i].Bio, MaxAuthorBioLength)
	}
	for i := range resp.Books {
		resp.Books[i].Description = truncatePtr(resp.Books[i].Description, MaxBookDescriptionLength)
	}
	for i := range resp.Series {
		resp.Series[i].Description = truncatePtr(resp.Series[i].Description, MaxSeriesDescriptionLength)
	}

	logger.FromContext(ctx).Info("metadata response", logger.Data{
		"input_authors":  len(req.Authors),
		"input_books":    len(req.Books),
		"input_series":   len(req.Series),
		"output_authors": len(resp.Authors),
		"output_books":   len(resp.Books),
		"output_series":  len(resp.Series),
	})
	return resp, nil
}

func truncatePtr(s *string, max int) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := truncate(*s, max)
	return &v
}
