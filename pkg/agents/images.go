package agents

import (
	"context"

	"github.com/booknest/booknest/pkg/fileutils"
	"github.com/booknest/booknest/pkg/imagesearch"
	"github.com/booknest/booknest/pkg/models"
	"github.com/robinjoseph08/golib/logger"
)

type ImageSearcher interface {
	SearchAuthor(ctx context.Context, name string) (*imagesearch.Hit, error)
	SearchBookCover(ctx context.Context, title, author string) (*imagesearch.Hit, error)
}

type ImageDownloader interface {
	Download(ctx context.Context, rawURL, target string) error
}

// DefaultImages writes placeholder images when nothing could be downloaded.
type DefaultImages interface {
	WriteAuthor(target string) error
	WriteBook(target string) error
}

// ImagePaths names where images live in the library.
type ImagePaths interface {
	AuthorImagePath(authorSlug string) string
	BookImagePath(authorSlug, bookSlug string) string
	SeriesImagePath(authorSlug, seriesSlug string) string
}

// Image is where an image was written and how it was obtained. Path is empty
// when not even a placeholder could be written.
type Image struct {
	Path   string
	Source string
}

// ImageSet holds the images of a chunk, keyed by author slug, BookKey and
// SeriesKey.
type ImageSet struct {
	Authors map[string]Image
	Books   map[string]Image
	Series  map[string]Image
}

func BookKey(authorSlug, bookSlug string) string {
	return authorSlug + "/" + bookSlug
}

func SeriesKey(authorSlug, seriesSlug string) string {
	return authorSlug + "/" + seriesSlug
}

type ImageResolver struct {
	searcher   ImageSearcher
	downloader ImageDownloader
	defaults   DefaultImages
	paths      ImagePaths
	items      ItemStore
}

func NewImageResolver(searcher ImageSearcher, downloader ImageDownloader, defaults DefaultImages, paths ImagePaths, items ItemStore) *ImageResolver {
	return &ImageResolver{
		searcher:   searcher,
		downloader: downloader,
		defaults:   defaults,
		paths:      paths,
		items:      items,
	}
}

// Resolve makes sure every author, book and series of the name resolved
// items has an image in the library, searching and downloading one where
// possible and falling back to a placeholder otherwise. Images that are
// already in place are kept. Lookup and download problems never fail the
// chunk; only failing to record the results does.
func (r *ImageResolver) Resolve(ctx context.Context, items []*models.BatchItem) (*ImageSet, error) {
	log := logger.FromContext(ctx)
	set := &ImageSet{
		Authors: map[string]Image{},
		Books:   map[string]Image{},
		Series:  map[string]Image{},
	}

	for _, item := range items {
		nr := results(item).Names
		if nr == nil {
			continue
		}

		author := nr.Author
		if _, ok := set.Authors[author.Slug]; !ok {
			set.Authors[author.Slug] = r.authorImage(ctx, author)
		}

		bookKey := BookKey(author.Slug, nr.Title.Slug)
		if _, ok := set.Books[bookKey]; !ok {
			set.Books[bookKey] = r.bookImage(ctx, author, nr.Title)
		}
	}

	// Series take the cover of their first book, so they go last.
	for _, item := range items {
		nr := results(item).Names
		if nr == nil || !nr.Series.Present() {
			continue
		}
		key := SeriesKey(nr.Author.Slug, *nr.Series.Slug)
		if _, ok := set.Series[key]; !ok {
			cover := set.Books[BookKey(nr.Author.Slug, nr.Title.Slug)]
			set.Series[key] = r.seriesImage(ctx, nr.Author.Slug, *nr.Series.Slug, cover)
		}
	}

	for _, item := range items {
		nr := results(item).Names
		if nr == nil {
			continue
		}
		summary := &models.ImageResults{}
		if img := set.Authors[nr.Author.Slug]; img.Path != "" {
			summary.AuthorImagePath = img.Path
			summary.AuthorImageSource = img.Source
		}
		if img := set.Books[BookKey(nr.Author.Slug, nr.Title.Slug)]; img.Path != "" {
			summary.BookCoverPath = img.Path
			summary.BookCoverSource = img.Source
		}
		if nr.Series.Present() {
			if img := set.Series[SeriesKey(nr.Author.Slug, *nr.Series.Slug)]; img.Path != "" {
				summary.SeriesImagePath = img.Path
				summary.SeriesImageSource = img.Source
			}
		}
		results(item).Images = summary
		if err := r.items.SaveItemResults(ctx, item); err != nil {
			return nil, err
		}
	}

	log.Info("image resolution finished", logger.Data{
		"authors": len(set.Authors),
		"books":   len(set.Books),
		"series":  len(set.Series),
	})
	return set, nil
}

func (r *ImageResolver) authorImage(ctx context.Context, author models.ResolvedAuthor) Image {
	log := logger.FromContext(ctx)
	target := r.paths.AuthorImagePath(author.Slug)
	if fileutils.Exists(target) {
		return Image{Path: target, Source: models.ImageSourceExisting}
	}

	hit, err := r.searcher.SearchAuthor(ctx, author.NormalizedName)
	if err != nil {
		log.Warn("author image search failed", logger.Data{"author": author.NormalizedName, "error": err.Error()})
	}
	if r.download(ctx, hit, target) {
		return Image{Path: target, Source: models.ImageSourceSearch}
	}

	log.Info("using default author image", logger.Data{"author": author.NormalizedName})
	if err := r.defaults.WriteAuthor(target); err != nil {
		log.Err(err).Error("failed to write default author image", logger.Data{"target": target})
		return Image{}
	}
	return Image{Path: target, Source: models.ImageSourceDefault}
}

func (r *ImageResolver) bookImage(ctx context.Context, author models.ResolvedAuthor, title models.ResolvedTitle) Image {
	log := logger.FromContext(ctx)
	target := r.paths.BookImagePath(author.Slug, title.Slug)
	if fileutils.Exists(target) {
		return Image{Path: target, Source: models.ImageSourceExisting}
	}

	hit, err := r.searcher.SearchBookCover(ctx, title.EnglishTitle, author.NormalizedName)
	if err != nil {
		log.Warn("book cover search failed", logger.Data{"title": title.EnglishTitle, "error": err.Error()})
	}
	if r.download(ctx, hit, target) {
		return Image{Path: target, Source: models.ImageSourceSearch}
	}

	log.Info("using default book cover", logger.Data{"title": title.EnglishTitle})
	if err := r.defaults.WriteBook(target); err != nil {
		log.Err(err).Error("failed to write default book cover", logger.Data{"target": target})
		return Image{}
	}
	return Image{Path: target, Source: models.ImageSourceDefault}
}

func (r *ImageResolver) seriesImage(ctx context.Context, authorSlug, seriesSlug string, cover Image) Image {
	log := logger.FromContext(ctx)
	target := r.paths.SeriesImagePath(authorSlug, seriesSlug)
	if fileutils.Exists(target) {
		return Image{Path: target, Source: models.ImageSourceExisting}
	}

	if cover.Path != "" {
		err := fileutils.CopyFile(cover.Path, target)
		if err == nil {
			return Image{Path: target, Source: models.ImageSourceBook}
		}
		log.Warn("failed to copy book cover for series", logger.Data{"series": seriesSlug, "error": err.Error()})
	}

	if err := r.defaults.WriteBook(target); err != nil {
		log.Err(err).Error("failed to write default series image", logger.Data{"target": target})
		return Image{}
	}
	return Image{Path: target, Source: models.ImageSourceDefault}
}

func (r *ImageResolver) download(ctx context.Context, hit *imagesearch.Hit, target string) bool {
	if hit == nil || hit.URL == "" {
		return false
	}
	if err := r.downloader.Download(ctx, hit.URL, target); err != nil {
		logger.FromContext(ctx).Info("image download rejected", logger.Data{"url": hit.URL, "error": err.Error()})
		return false
	}
	return true
}
