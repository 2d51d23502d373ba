package agents

import (
	"context"

	"github.com/booknest/booknest/pkg/ai"
	"github.com/booknest/booknest/pkg/authors"
	"github.com/booknest/booknest/pkg/books"
	"github.com/booknest/booknest/pkg/htmlutil"
	"github.com/booknest/booknest/pkg/models"
	"github.com/booknest/booknest/pkg/names"
	"github.com/booknest/booknest/pkg/series"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

type MetadataClient interface {
	ResolveMetadata(ctx context.Context, req ai.MetadataRequest) (*ai.MetadataResponse, error)
}

type AuthorStore interface {
	RetrieveAuthorByID(ctx context.Context, id int) (*models.Author, error)
	EnrichAuthor(ctx context.Context, author *models.Author, e authors.Enrichment) (bool, error)
}

type BookStore interface {
	RetrieveBookByID(ctx context.Context, id int) (*models.Book, error)
	EnrichBook(ctx context.Context, book *models.Book, e books.Enrichment) (bool, error)
}

type SeriesStore interface {
	RetrieveSeriesByID(ctx context.Context, id int) (*models.Series, error)
	EnrichSeries(ctx context.Context, s *models.Series, e series.Enrichment) (bool, error)
}

type MetadataSummary struct {
	Authors        int
	Books          int
	Series         int
	AuthorsUpdated int
	BooksUpdated   int
	SeriesUpdated  int
}

type MetadataResolver struct {
	client  MetadataClient
	authors AuthorStore
	books   BookStore
	series  SeriesStore
	items   ItemStore
}

func NewMetadataResolver(client MetadataClient, authorStore AuthorStore, bookStore BookStore, seriesStore SeriesStore, items ItemStore) *MetadataResolver {
	return &MetadataResolver{
		client:  client,
		authors: authorStore,
		books:   bookStore,
		series:  seriesStore,
		items:   items,
	}
}

type authorInput struct {
	id   int
	name string
}

type bookInput struct {
	id     int
	author string
	title  string
}

type seriesInput struct {
	id     int
	author string
	name   string
}

// Resolve fetches descriptive metadata for the distinct authors, books and
// series of the persisted items and writes whatever came back non-empty.
// Results are matched back by normalized name, so the order of the AI
// response doesn't matter; inputs without a match are logged and skipped.
// Items move to metadata_fetched. An error is returned only when the AI call
// fails or an item can't be recorded; nothing is written in the first case.
func (r *MetadataResolver) Resolve(ctx context.Context, items []*models.BatchItem) (*MetadataSummary, error) {
	log := logger.FromContext(ctx)

	var authorsIn []authorInput
	var booksIn []bookInput
	var seriesIn []seriesInput
	seenAuthors := map[int]bool{}
	seenBooks := map[int]bool{}
	seenSeries := map[int]bool{}

	var eligible []*models.BatchItem
	for _, item := range items {
		res := results(item)
		if res.Names == nil || res.Persistence == nil {
			continue
		}
		eligible = append(eligible, item)
		authorName := res.Names.Author.NormalizedName
		p := res.Persistence

		if !seenAuthors[p.AuthorID] {
			seenAuthors[p.AuthorID] = true
			authorsIn = append(authorsIn, authorInput{id: p.AuthorID, name: authorName})
		}
		if !seenBooks[p.BookID] {
			seenBooks[p.BookID] = true
			booksIn = append(booksIn, bookInput{id: p.BookID, author: authorName, title: res.Names.Title.EnglishTitle})
		}
		if p.SeriesID != nil && res.Names.Series.Present() && !seenSeries[*p.SeriesID] {
			seenSeries[*p.SeriesID] = true
			seriesIn = append(seriesIn, seriesInput{id: *p.SeriesID, author: authorName, name: *res.Names.Series.EnglishName})
		}
	}

	summary := &MetadataSummary{Authors: len(authorsIn), Books: len(booksIn), Series: len(seriesIn)}
	if len(eligible) == 0 {
		return summary, nil
	}

	req := ai.MetadataRequest{}
	for _, a := range authorsIn {
		req.Authors = append(req.Authors, a.name)
	}
	for _, b := range booksIn {
		req.Books = append(req.Books, ai.BookRef{Author: b.author, Title: b.title})
	}
	for _, s := range seriesIn {
		req.Series = append(req.Series, ai.SeriesRef{Author: s.author, Name: s.name})
	}

	resp, err := r.client.ResolveMetadata(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "metadata resolution failed")
	}

	enrichedAuthors := map[int]bool{}
	for _, a := range authorsIn {
		match := matchAuthor(resp.Authors, a.name)
		if match == nil {
			log.Warn("author metadata match failed", logger.Data{"author": a.name})
			continue
		}
		ok, err := r.enrichAuthor(ctx, a.id, match)
		if err != nil {
			log.Err(err).Warn("failed to store author metadata", logger.Data{"author": a.name})
			continue
		}
		enrichedAuthors[a.id] = ok
		if ok {
			summary.AuthorsUpdated++
		}
	}

	enrichedBooks := map[int]bool{}
	for _, b := range booksIn {
		match := matchBook(resp.Books, b.author, b.title)
		if match == nil {
			log.Debug("book metadata match failed", logger.Data{"author": b.author, "title": b.title})
			continue
		}
		ok, err := r.enrichBook(ctx, b.id, match)
		if err != nil {
			log.Err(err).Warn("failed to store book metadata", logger.Data{"title": b.title})
			continue
		}
		enrichedBooks[b.id] = ok
		if ok {
			summary.BooksUpdated++
		}
	}

	enrichedSeries := map[int]bool{}
	for _, s := range seriesIn {
		match := matchSeries(resp.Series, s.author, s.name)
		if match == nil {
			log.Debug("series metadata match failed", logger.Data{"author": s.author, "series": s.name})
			continue
		}
		ok, err := r.enrichSeries(ctx, s.id, match)
		if err != nil {
			log.Err(err).Warn("failed to store series metadata", logger.Data{"series": s.name})
			continue
		}
		enrichedSeries[s.id] = ok
		if ok {
			summary.SeriesUpdated++
		}
	}

	for _, item := range eligible {
		res := results(item)
		p := res.Persistence
		res.Metadata = &models.MetadataResults{
			AuthorEnriched: enrichedAuthors[p.AuthorID],
			BookEnriched:   enrichedBooks[p.BookID],
		}
		if p.SeriesID != nil {
			res.Metadata.SeriesEnriched = enrichedSeries[*p.SeriesID]
		}
		if err := r.items.TransitionItem(ctx, item, models.ItemStatusMetadataFetched); err != nil {
			return nil, err
		}
	}

	log.Info("metadata saved", logger.Data{
		"authors_updated": summary.AuthorsUpdated,
		"books_updated":   summary.BooksUpdated,
		"series_updated":  summary.SeriesUpdated,
	})
	return summary, nil
}

// An author is only updated when a bio came back; nationality and date of
// birth are stored alongside it.
func (r *MetadataResolver) enrichAuthor(ctx context.Context, id int, m *ai.AuthorMetadata) (bool, error) {
	bio := htmlutil.CleanPtr(m.Bio)
	if bio == "" {
		return false, nil
	}
	author, err := r.authors.RetrieveAuthorByID(ctx, id)
	if err != nil {
		return false, err
	}
	return r.authors.EnrichAuthor(ctx, author, authors.Enrichment{
		Bio:         bio,
		Nationality: deref(m.Nationality),
		DateOfBirth: deref(m.DateOfBirth),
	})
}

// A book is only updated when a description came back.
func (r *MetadataResolver) enrichBook(ctx context.Context, id int, m *ai.BookMetadata) (bool, error) {
	description := htmlutil.CleanPtr(m.Description)
	if description == "" {
		return false, nil
	}
	book, err := r.books.RetrieveBookByID(ctx, id)
	if err != nil {
		return false, err
	}
	return r.books.EnrichBook(ctx, book, books.Enrichment{
		Description:      description,
		FirstPublishYear: m.FirstPublishYear.Int(),
	})
}

func (r *MetadataResolver) enrichSeries(ctx context.Context, id int, m *ai.SeriesMetadata) (bool, error) {
	description := htmlutil.CleanPtr(m.Description)
	if description == "" {
		return false, nil
	}
	s, err := r.series.RetrieveSeriesByID(ctx, id)
	if err != nil {
		return false, err
	}
	return r.series.EnrichSeries(ctx, s, series.Enrichment{Description: description})
}

func matchAuthor(candidates []ai.AuthorMetadata, name string) *ai.AuthorMetadata {
	key := names.NameKey(name)
	for i := range candidates {
		if names.NameKey(candidates[i].Name) == key {
			return &candidates[i]
		}
	}
	return nil
}

func matchBook(candidates []ai.BookMetadata, author, title string) *ai.BookMetadata {
	authorKey, titleKey := names.NameKey(author), names.TitleKey(title)
	for i := range candidates {
		if names.NameKey(candidates[i].Author) == authorKey && names.TitleKey(candidates[i].Title) == titleKey {
			return &candidates[i]
		}
	}
	return nil
}

func matchSeries(candidates []ai.SeriesMetadata, author, name string) *ai.SeriesMetadata {
	authorKey, nameKey := names.NameKey(author), names.TitleKey(name)
	for i := range candidates {
		if names.NameKey(candidates[i].Author) == authorKey && names.TitleKey(candidates[i].Name) == nameKey {
			return &candidates[i]
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
