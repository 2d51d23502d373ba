package agents

import (
	"context"
	"strings"

	"github.com/booknest/booknest/pkg/ai"
	"github.com/booknest/booknest/pkg/models"
	"github.com/booknest/booknest/pkg/names"
	"github.com/booknest/booknest/pkg/slugs"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

// ErrNoNameResult is recorded on items the AI service returned nothing for.
var ErrNoNameResult = errors.New("no name resolution result")

const (
	fallbackAuthorSlug = "unknown-author"
	fallbackBookSlug   = "untitled"
)

type NameClient interface {
	ResolveNames(ctx context.Context, files []ai.NameRequest) ([]ai.NameResult, error)
}

type NameResolver struct {
	client NameClient
	items  ItemStore
}

func NewNameResolver(client NameClient, items ItemStore) *NameResolver {
	return &NameResolver{client: client, items: items}
}

// Resolve asks the AI service for the author, title and series of every item
// and stores the outcome on the items, moving them to name_resolved. Items
// that already carry resolved names from an earlier run keep them and aren't
// sent again. Items without a result are marked failed. It returns the
// resolved items in input order. A failing AI call fails the whole chunk.
func (r *NameResolver) Resolve(ctx context.Context, items []*models.BatchItem) ([]*models.BatchItem, error) {
	log := logger.FromContext(ctx)
	if len(items) == 0 {
		return nil, nil
	}

	m := newNameMatcher()
	resolved := make(map[*models.BatchItem]*models.NameResults, len(items))
	var fresh []*models.BatchItem
	for _, item := range items {
		if nr := results(item).Names; nr != nil {
			m.seed(nr)
			resolved[item] = nr
			continue
		}
		fresh = append(fresh, item)
	}

	var unmatched []*models.BatchItem
	if len(fresh) > 0 {
		requests := make([]ai.NameRequest, 0, len(fresh))
		for _, item := range fresh {
			requests = append(requests, ai.NameRequest{FilePath: item.FilePath})
		}

		aiResults, err := r.client.ResolveNames(ctx, requests)
		if err != nil {
			return nil, errors.Wrap(err, "name resolution failed")
		}

		var matched map[*models.BatchItem]*models.NameResults
		matched, unmatched = m.match(fresh, aiResults)
		for item, nr := range matched {
			resolved[item] = nr
		}
	}

	for _, item := range unmatched {
		log.Warn("no AI result for file", logger.Data{"file_path": item.FilePath})
		if err := r.items.FailItem(ctx, item, ErrNoNameResult); err != nil {
			return nil, err
		}
	}

	out := make([]*models.BatchItem, 0, len(resolved))
	var confidence float64
	for _, item := range items {
		nr, ok := resolved[item]
		if !ok {
			continue
		}
		results(item).Names = nr
		if err := r.items.TransitionItem(ctx, item, models.ItemStatusNameResolved); err != nil {
			return nil, err
		}
		confidence += nr.Confidence
		out = append(out, item)
	}

	data := logger.Data{"resolved": len(out), "reused": len(items) - len(fresh), "unmatched": len(unmatched)}
	if len(out) > 0 {
		data["avg_confidence"] = confidence / float64(len(out))
	}
	log.Info("name resolution finished", data)
	return out, nil
}

// MatchNames pairs AI results with items by exact file path and turns them
// into resolved names. Authors are shared by normalized name, book slugs are
// made unique per author and every confidence is clamped into [0, 1]. Items
// are visited in order, so the first of two colliding titles keeps the plain
// slug.
func MatchNames(items []*models.BatchItem, aiResults []ai.NameResult) (map[*models.BatchItem]*models.NameResults, []*models.BatchItem) {
	return newNameMatcher().match(items, aiResults)
}

// nameMatcher carries the authors and book slugs seen so far in a chunk.
type nameMatcher struct {
	authors   map[string]models.ResolvedAuthor
	bookSlugs map[string]map[string]bool
}

func newNameMatcher() *nameMatcher {
	return &nameMatcher{
		authors:   map[string]models.ResolvedAuthor{},
		bookSlugs: map[string]map[string]bool{},
	}
}

// seed registers names resolved earlier so new titles don't reuse their
// slugs.
func (m *nameMatcher) seed(nr *models.NameResults) {
	if _, ok := m.authors[nr.Author.NormalizedName]; !ok {
		m.authors[nr.Author.NormalizedName] = nr.Author
	}
	m.taken(nr.Author.Slug)[nr.Title.Slug] = true
}

func (m *nameMatcher) taken(authorSlug string) map[string]bool {
	used := m.bookSlugs[authorSlug]
	if used == nil {
		used = map[string]bool{}
		m.bookSlugs[authorSlug] = used
	}
	return used
}

func (m *nameMatcher) match(items []*models.BatchItem, aiResults []ai.NameResult) (map[*models.BatchItem]*models.NameResults, []*models.BatchItem) {
	byPath := make(map[string]ai.NameResult, len(aiResults))
	for _, res := range aiResults {
		if _, ok := byPath[res.FilePath]; !ok {
			byPath[res.FilePath] = res
		}
	}

	resolved := make(map[*models.BatchItem]*models.NameResults, len(items))
	var unmatched []*models.BatchItem
	for _, item := range items {
		res, ok := byPath[item.FilePath]
		if !ok {
			unmatched = append(unmatched, item)
			continue
		}

		author := m.author(res.Author)
		resolved[item] = &models.NameResults{
			Author:     author,
			Title:      m.title(res.Title, author.Slug),
			Series:     resolveSeries(res.Series),
			Confidence: ClampConfidence(res.Confidence),
		}
	}
	return resolved, unmatched
}

func (m *nameMatcher) author(guess ai.AuthorGuess) models.ResolvedAuthor {
	normalized := names.NormalizeAuthor(guess.Name)
	if cached, ok := m.authors[normalized]; ok {
		return cached
	}

	author := models.ResolvedAuthor{
		OriginalName:   guess.Name,
		NormalizedName: normalized,
		Slug:           slugs.MakeOr(normalized, fallbackAuthorSlug),
		Confidence:     ClampConfidence(guess.Confidence),
	}
	m.authors[normalized] = author
	return author
}

func (m *nameMatcher) title(guess ai.TitleGuess, authorSlug string) models.ResolvedTitle {
	original := strings.TrimSpace(guess.Original)
	english := strings.TrimSpace(guess.English)
	if english == "" {
		english = original
	}
	if original == "" {
		original = english
	}

	used := m.taken(authorSlug)
	slug := slugs.Unique(slugs.MakeOr(english, fallbackBookSlug), func(s string) bool { return used[s] })
	used[slug] = true

	return models.ResolvedTitle{
		OriginalTitle: original,
		EnglishTitle:  english,
		Slug:          slug,
		Confidence:    ClampConfidence(guess.Confidence),
	}
}

func resolveSeries(guess ai.SeriesGuess) models.ResolvedSeries {
	if guess.Name == nil || strings.TrimSpace(*guess.Name) == "" {
		return models.ResolvedSeries{}
	}

	original := strings.TrimSpace(*guess.Name)
	english := original
	if guess.EnglishName != nil && strings.TrimSpace(*guess.EnglishName) != "" {
		english = strings.TrimSpace(*guess.EnglishName)
	}
	slug := slugs.Make(english)
	if slug == "" {
		return models.ResolvedSeries{}
	}

	return models.ResolvedSeries{
		Name:        &original,
		EnglishName: &english,
		Slug:        &slug,
		Confidence:  ClampConfidence(guess.Confidence),
	}
}
