package agents

import (
	"context"
	"testing"

	"github.com/booknest/booknest/pkg/ai"
	"github.com/booknest/booknest/pkg/batches"
	"github.com/booknest/booknest/pkg/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNameClient struct {
	results  []ai.NameResult
	err      error
	requests []ai.NameRequest
}

func (f *fakeNameClient) ResolveNames(_ context.Context, files []ai.NameRequest) ([]ai.NameResult, error) {
	f.requests = files
	return f.results, f.err
}

func strPtr(s string) *string {
	return &s
}

func nameResult(path, author, title string) ai.NameResult {
	return ai.NameResult{
		FilePath:   path,
		Confidence: 0.9,
		Author:     ai.AuthorGuess{Name: author, Confidence: 0.9},
		Title:      ai.TitleGuess{Original: title, English: title, Confidence: 0.9},
	}
}

func TestMatchNames(t *testing.T) {
	t.Run("slug collision within an author", func(t *testing.T) {
		items := []*models.BatchItem{{FilePath: "/s/a.epub"}, {FilePath: "/s/b.epub"}}
		resolved, unmatched := MatchNames(items, []ai.NameResult{
			nameResult("/s/b.epub", "Jane Doe", "Origins"),
			nameResult("/s/a.epub", "Jane Doe", "Origins"),
		})
		require.Empty(t, unmatched)
		assert.Equal(t, "origins", resolved[items[0]].Title.Slug)
		assert.Equal(t, "origins-1", resolved[items[1]].Title.Slug)
	})

	t.Run("same title by different authors keeps plain slugs", func(t *testing.T) {
		items := []*models.BatchItem{{FilePath: "/s/a.epub"}, {FilePath: "/s/b.epub"}}
		resolved, _ := MatchNames(items, []ai.NameResult{
			nameResult("/s/a.epub", "Jane Doe", "Origins"),
			nameResult("/s/b.epub", "John Roe", "Origins"),
		})
		assert.Equal(t, "origins", resolved[items[0]].Title.Slug)
		assert.Equal(t, "origins", resolved[items[1]].Title.Slug)
	})

	t.Run("author normalized and shared", func(t *testing.T) {
		items := []*models.BatchItem{{FilePath: "/s/a.epub"}, {FilePath: "/s/b.epub"}}
		first := nameResult("/s/a.epub", "STEPHEN KING", "It")
		second := nameResult("/s/b.epub", "stephen king", "Carrie")
		second.Author.Confidence = 0.1
		resolved, _ := MatchNames(items, []ai.NameResult{first, second})

		assert.Equal(t, "Stephen King", resolved[items[0]].Author.NormalizedName)
		assert.Equal(t, "stephen-king", resolved[items[0]].Author.Slug)
		assert.Equal(t, resolved[items[0]].Author, resolved[items[1]].Author)
	})

	t.Run("confidences are clamped", func(t *testing.T) {
		items := []*models.BatchItem{{FilePath: "/s/a.epub"}}
		res := nameResult("/s/a.epub", "Jane Doe", "Book")
		res.Confidence = 1.4
		res.Author.Confidence = -2
		res.Title.Confidence = 7
		res.Series = ai.SeriesGuess{Name: strPtr("Saga"), Confidence: -0.1}
		resolved, _ := MatchNames(items, []ai.NameResult{res})

		nr := resolved[items[0]]
		assert.Equal(t, 1.0, nr.Confidence)
		assert.Equal(t, 0.0, nr.Author.Confidence)
		assert.Equal(t, 1.0, nr.Title.Confidence)
		assert.Equal(t, 0.0, nr.Series.Confidence)
	})

	t.Run("series", func(t *testing.T) {
		items := []*models.BatchItem{{FilePath: "/s/a.epub"}, {FilePath: "/s/b.epub"}}
		withSeries := nameResult("/s/a.epub", "Liu Cixin", "Three Body")
		withSeries.Series = ai.SeriesGuess{Name: strPtr("地球往事"), EnglishName: strPtr("Remembrance of Earth's Past"), Confidence: 0.8}
		resolved, _ := MatchNames(items, []ai.NameResult{withSeries, nameResult("/s/b.epub", "Liu Cixin", "Ball Lightning")})

		s := resolved[items[0]].Series
		require.True(t, s.Present())
		assert.Equal(t, "地球往事", *s.Name)
		assert.Equal(t, "Remembrance of Earth's Past", *s.EnglishName)
		assert.Equal(t, "remembrance-of-earths-past", *s.Slug)

		none := resolved[items[1]].Series
		assert.False(t, none.Present())
		assert.Nil(t, none.Name)
		assert.Nil(t, none.EnglishName)
		assert.Equal(t, 0.0, none.Confidence)
	})

	t.Run("unmatched items", func(t *testing.T) {
		items := []*models.BatchItem{{FilePath: "/s/a.epub"}, {FilePath: "/s/b.epub"}}
		resolved, unmatched := MatchNames(items, []ai.NameResult{nameResult("/s/other.epub", "X", "Y")})
		assert.Empty(t, resolved)
		assert.Equal(t, items, unmatched)
	})
}

func TestNameResolverResolve(t *testing.T) {
	ctx := context.Background()
	svc := batches.NewService(newTestDB(t))
	items := newBatchItems(t, svc, "/s/a.epub", "/s/b.epub")

	client := &fakeNameClient{results: []ai.NameResult{nameResult("/s/a.epub", "Jane Doe", "Origins")}}
	resolver := NewNameResolver(client, svc)

	resolved, err := resolver.Resolve(ctx, items)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, []ai.NameRequest{{FilePath: "/s/a.epub"}, {FilePath: "/s/b.epub"}}, client.requests)

	stored, err := svc.ListItems(ctx, batches.ListItemsOptions{BatchID: &items[0].BatchID})
	require.NoError(t, err)
	require.Len(t, stored, 2)

	assert.Equal(t, models.ItemStatusNameResolved, stored[0].Status)
	require.NotNil(t, stored[0].AgentResultsParsed.Names)
	assert.Equal(t, "jane-doe", stored[0].AgentResultsParsed.Names.Author.Slug)
	assert.Equal(t, "origins", stored[0].AgentResultsParsed.Names.Title.Slug)

	assert.Equal(t, models.ItemStatusFailed, stored[1].Status)
	require.NotNil(t, stored[1].ErrorMessage)
	assert.Equal(t, "no name resolution result", *stored[1].ErrorMessage)
}

func TestNameResolverClientError(t *testing.T) {
	ctx := context.Background()
	svc := batches.NewService(newTestDB(t))
	items := newBatchItems(t, svc, "/s/a.epub")

	resolver := NewNameResolver(&fakeNameClient{err: errors.New("rate limit")}, svc)
	_, err := resolver.Resolve(ctx, items)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name resolution failed")

	stored, err := svc.ListIncompleteItems(ctx, items[0].BatchID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusPending, stored[0].Status)
}

func TestNameResolverReusesEarlierNames(t *testing.T) {
	ctx := context.Background()
	svc := batches.NewService(newTestDB(t))
	items := newBatchItems(t, svc, "/s/a.epub", "/s/b.epub")

	earlier, _ := MatchNames(items[:1], []ai.NameResult{nameResult("/s/a.epub", "Jane Doe", "Origins")})
	results(items[0]).Names = earlier[items[0]]

	client := &fakeNameClient{results: []ai.NameResult{nameResult("/s/b.epub", "Jane Doe", "Origins")}}
	resolved, err := NewNameResolver(client, svc).Resolve(ctx, items)
	require.NoError(t, err)
	require.Len(t, resolved, 2)

	assert.Equal(t, []ai.NameRequest{{FilePath: "/s/b.epub"}}, client.requests)
	assert.Equal(t, "origins", resolved[0].AgentResultsParsed.Names.Title.Slug)
	assert.Equal(t, "origins-1", resolved[1].AgentResultsParsed.Names.Title.Slug)
	assert.Equal(t, models.ItemStatusNameResolved, resolved[1].Status)
}
