package ai

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/booknest/booknest/pkg/config"
	"github.com/booknest/booknest/pkg/retry"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type fakeModel struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	calls    int
	messages [][]llms.MessageContent
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.calls
	f.calls++
	f.messages = append(f.messages, messages)

	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	reply := f.replies[len(f.replies)-1]
	if i < len(f.replies) {
		reply = f.replies[i]
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: reply}}}, nil
}

func newTestClient(model Generator) *Client {
	return NewWithModel(model, Options{
		Retry: retry.Options{MaxRetries: 3, BaseDelay: time.Millisecond},
	})
}

func TestResolveNames(t *testing.T) {
	model := &fakeModel{replies: []string{`{
		"results": [
			{
				"filePath": "/src/Cixin Liu/San Ti.epub",
				"confidence": 0.9,
				"author": {"name": "Liu Cixin", "confidence": 0.95},
				"title": {"original": "三体", "english": "The Three-Body Problem", "confidence": 0.9},
				"series": {"name": "地球往事", "englishName": "Remembrance of Earth's Past", "confidence": 0.8}
			}
		]
	}`}}

	results, err := newTestClient(model).ResolveNames(context.Background(), []NameRequest{{FilePath: "/src/Cixin Liu/San Ti.epub"}})
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, "Liu Cixin", r.Author.Name)
	assert.Equal(t, "The Three-Body Problem", r.Title.English)
	require.NotNil(t, r.Series.EnglishName)
	assert.Equal(t, "Remembrance of Earth's Past", *r.Series.EnglishName)

	require.Len(t, model.messages, 1)
	require.Len(t, model.messages[0], 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0][0].Role)
	human := model.messages[0][1].Parts[0].(llms.TextContent).Text
	assert.Contains(t, human, `"filePath": "/src/Cixin Liu/San Ti.epub"`)
}

func TestResolveNames_Fallbacks(t *testing.T) {
	model := &fakeModel{replies: []string{`{"results": [
		{"filePath": "/src/misc/Some Book.epub", "confidence": 0.2,
		 "author": {"name": "", "confidence": 0.1},
		 "title": {"original": "", "english": "", "confidence": 0.1},
		 "series": {"name": "Saga", "englishName": null, "confidence": 0.4}},
		{"filePath": "/src/misc/Other.epub", "confidence": 0.5,
		 "author": {"name": "A. Writer", "confidence": 0.5},
		 "title": {"original": "Другая", "english": "", "confidence": 0.5},
		 "series": {"name": null, "englishName": null, "confidence": 0.7}}
	]}`}}

	results, err := newTestClient(model).ResolveNames(context.Background(), []NameRequest{{FilePath: "/src/misc/Some Book.epub"}, {FilePath: "/src/misc/Other.epub"}})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "Unknown Author", results[0].Author.Name)
	assert.Equal(t, "Some Book", results[0].Title.Original)
	assert.Equal(t, "Some Book", results[0].Title.English)
	require.NotNil(t, results[0].Series.EnglishName)
	assert.Equal(t, "Saga", *results[0].Series.EnglishName)

	assert.Equal(t, "Другая", results[1].Title.English)
	assert.Nil(t, results[1].Series.Name)
	assert.Nil(t, results[1].Series.EnglishName)
	assert.Zero(t, results[1].Series.Confidence)
}

func TestResolveNames_RetriesInvalidJSON(t *testing.T) {
	model := &fakeModel{replies: []string{
		"Sure! Here are the results:",
		"```json\n{\"results\": []}\n```",
	}}

	results, err := newTestClient(model).ResolveNames(context.Background(), []NameRequest{{FilePath: "/src/a.epub"}})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 2, model.calls)
}

func TestResolveNames_GivesUpAfterMaxRetries(t *testing.T) {
	model := &fakeModel{replies: []string{"not json"}}

	_, err := newTestClient(model).ResolveNames(context.Background(), []NameRequest{{FilePath: "/src/a.epub"}})
	require.Error(t, err)
	assert.True(t, retry.IsRetryableError(err))
	assert.Equal(t, 3, model.calls)
}

func TestResolveNames_DoesNotRetryPermanentErrors(t *testing.T) {
	model := &fakeModel{
		errs:    []error{errors.New("invalid api key")},
		replies: []string{`{"results": []}`},
	}

	_, err := newTestClient(model).ResolveNames(context.Background(), []NameRequest{{FilePath: "/src/a.epub"}})
	require.Error(t, err)
	assert.Equal(t, 1, model.calls)
}

func TestResolveNames_RetriesRateLimits(t *testing.T) {
	model := &fakeModel{
		errs:    []error{errors.New("429 Too Many Requests"), errors.New("rate limit exceeded")},
		replies: []string{"", "", `{"results": []}`},
	}

	_, err := newTestClient(model).ResolveNames(context.Background(), []NameRequest{{FilePath: "/src/a.epub"}})
	require.NoError(t, err)
	assert.Equal(t, 3, model.calls)
}

func TestResolveNames_EmptyInput(t *testing.T) {
	model := &fakeModel{replies: []string{`{}`}}

	results, err := newTestClient(model).ResolveNames(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, results)
	assert.Zero(t, model.calls)
}

func TestResolveMetadata_Truncates(t *testing.T) {
	longBio := strings.Repeat("b", 400)
	longDesc := strings.Repeat("d", 600)
	longSeries := strings.Repeat("s", 250)
	model := &fakeModel{replies: []string{`{
		"authors": [{"name": "Frank Herbert", "bio": "` + longBio + `", "nationality": "American", "dateOfBirth": "1920-10-08"}],
		"books": [{"author": "Frank Herbert", "title": "Dune", "description": "` + longDesc + `", "firstPublishYear": "1965"}],
		"series": [{"author": "Frank Herbert", "name": "Dune", "description": "` + longSeries + `"}]
	}`}}

	resp, err := newTestClient(model).ResolveMetadata(context.Background(), MetadataRequest{
		Authors: []string{"Frank Herbert"},
		Books:   []BookRef{{Author: "Frank Herbert", Title: "Dune"}},
		Series:  []SeriesRef{{Author: "Frank Herbert", Name: "Dune"}},
	})
	require.NoError(t, err)

	require.Len(t, resp.Authors, 1)
	require.NotNil(t, resp.Authors[0].Bio)
	assert.Len(t, *resp.Authors[0].Bio, MaxAuthorBioLength)
	assert.True(t, strings.HasSuffix(*resp.Authors[0].Bio, "..."))

	require.Len(t, resp.Books, 1)
	assert.Len(t, *resp.Books[0].Description, MaxBookDescriptionLength)
	require.NotNil(t, resp.Books[0].FirstPublishYear.Int())
	assert.Equal(t, 1965, *resp.Books[0].FirstPublishYear.Int())

	require.Len(t, resp.Series, 1)
	assert.Len(t, *resp.Series[0].Description, MaxSeriesDescriptionLength)
}

func TestResolveMetadata_NullFields(t *testing.T) {
	model := &fakeModel{replies: []string{`{
		"authors": [{"name": "Anon", "bio": null, "nationality": null, "dateOfBirth": null}],
		"books": [{"author": "Anon", "title": "X", "description": "", "firstPublishYear": null}]
	}`}}

	resp, err := newTestClient(model).ResolveMetadata(context.Background(), MetadataRequest{Authors: []string{"Anon"}})
	require.NoError(t, err)
	assert.Nil(t, resp.Authors[0].Bio)
	assert.Nil(t, resp.Books[0].Description)
	assert.Nil(t, resp.Books[0].FirstPublishYear.Int())
	assert.Empty(t, resp.Series)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd...", truncate("abcdefghij", 7))
	assert.Equal(t, "ééé...", truncate("éééééééé", 6))
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFence("  {\"a\":1}  "))
}

func TestNew_UnsupportedProvider(t *testing.T) {
	cfg := config.NewForTest()
	cfg.AIProvider = "gemini"

	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported AI provider")
}

func TestNew_OpenAIRequiresKey(t *testing.T) {
	cfg := config.NewForTest()
	cfg.AIProvider = config.ProviderOpenAI
	cfg.AIAPIKey = ""

	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AI_API_KEY")
}
