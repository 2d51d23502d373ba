package indexer

import (
	"context"
	"os"
	"sort"

	"github.com/booknest/booknest/pkg/agents"
	"github.com/booknest/booknest/pkg/authors"
	"github.com/booknest/booknest/pkg/books"
	"github.com/booknest/booknest/pkg/formats"
	"github.com/booknest/booknest/pkg/models"
	"github.com/booknest/booknest/pkg/series"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

// Stage names, in the order they run.
const (
	StageNameResolution  = "name_resolution"
	StageImageResolution = "image_resolution"
	StagePersistence     = "persistence"
	StageAttachImages    = "attach_images"
	StageOrganize        = "organize"
	StageConversion      = "conversion"
	StageMetadata        = "metadata"
	StageCompletion      = "completion"
)

var errNamesMissing = errors.New("item has no resolved names")

func (o *Orchestrator) newPipeline(names *agents.NameResolver, images *agents.ImageResolver, metadata *agents.MetadataResolver) *Pipeline {
	return NewPipeline(o.batchService,
		Stage{
			Name:   StageNameResolution,
			Policy: AbortBatch,
			Run: func(ctx context.Context, c *Chunk) error {
				resolved, err := names.Resolve(ctx, c.Items)
				if err != nil {
					return err
				}
				c.Items = resolved
				return nil
			},
		},
		Stage{
			Name:   StageImageResolution,
			Policy: AbortBatch,
			Run: func(ctx context.Context, c *Chunk) error {
				set, err := images.Resolve(ctx, c.Items)
				if err != nil {
					return err
				}
				c.Images = set
				return nil
			},
		},
		Stage{
			Name:    StagePersistence,
			Policy:  IsolateItem,
			RunItem: o.persistItem,
			After: func(ctx context.Context, item *models.BatchItem) error {
				return o.batchService.TransitionItem(ctx, item, models.ItemStatusPersisted)
			},
		},
		Stage{
			Name:   StageAttachImages,
			Policy: BestEffort,
			Run:    o.attachImages,
		},
		Stage{
			Name:   StageOrganize,
			Policy: BestEffort,
			Run:    o.organize,
		},
		Stage{
			Name:   StageConversion,
			Policy: BestEffort,
			Run:    o.convert,
		},
		Stage{
			Name:   StageMetadata,
			Policy: BestEffort,
			Run: func(ctx context.Context, c *Chunk) error {
				_, err := metadata.Resolve(ctx, c.Items)
				return err
			},
		},
		Stage{
			Name:   StageCompletion,
			Policy: AbortBatch,
			Run: func(ctx context.Context, c *Chunk) error {
				for _, item := range c.Items {
					if err := o.batchService.TransitionItem(ctx, item, models.ItemStatusCompleted); err != nil {
						return err
					}
				}
				return nil
			},
		},
	)
}

// persistItem stores the item's author, series, book and file, copying the
// source file into the library. Every step finds existing rows first, so a
// resumed item doesn't create duplicates.
func (o *Orchestrator) persistItem(ctx context.Context, _ *Chunk, item *models.BatchItem) error {
	res := item.AgentResultsParsed
	if res == nil || res.Names == nil {
		return errNamesMissing
	}
	nr := res.Names

	format, ok := formats.Detect(item.FilePath)
	if !ok {
		return errors.Errorf("unsupported file format: %s", item.FilePath)
	}

	author, err := o.authorService.FindOrCreateAuthor(ctx, nr.Author.NormalizedName, nr.Author.Slug)
	if err != nil {
		return errors.Wrap(err, "author")
	}

	var seriesID *int
	if nr.Series.Present() {
		s, err := o.seriesService.FindOrCreateSeries(ctx, author.ID, *nr.Series.EnglishName, *nr.Series.Name, *nr.Series.Slug)
		if err != nil {
			return errors.Wrap(err, "series")
		}
		seriesID = &s.ID
	}

	book := &models.Book{
		Title:    nr.Title.EnglishTitle,
		Slug:     nr.Title.Slug,
		AuthorID: author.ID,
		SeriesID: seriesID,
	}
	if nr.Title.OriginalTitle != "" && nr.Title.OriginalTitle != nr.Title.EnglishTitle {
		original := nr.Title.OriginalTitle
		book.OriginalTitle = &original
	}
	book, _, err = o.bookService.FindOrCreateBook(ctx, book)
	if err != nil {
		return errors.Wrap(err, "book")
	}

	libraryPath, err := o.organizer.CopyFile(ctx, item.FilePath, author.Slug, book.Slug, item.SourceSha256, format)
	if err != nil {
		return errors.Wrap(err, "copy to library")
	}

	file, err := o.registerFile(ctx, book.ID, libraryPath, item.SourceSha256, format)
	if err != nil {
		return err
	}

	res.Persistence = &models.PersistenceResults{
		AuthorID:    author.ID,
		BookID:      book.ID,
		SeriesID:    seriesID,
		FileID:      file.ID,
		LibraryPath: libraryPath,
	}
	logger.FromContext(ctx).Debug("item persisted", logger.Data{
		"item_id":   item.ID,
		"author_id": author.ID,
		"book_id":   book.ID,
		"file_id":   file.ID,
	})
	return nil
}

func (o *Orchestrator) registerFile(ctx context.Context, bookID int, path, sha256 string, format formats.Format) (*models.File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	digest := sha256
	file, err := o.bookService.FindOrCreateFile(ctx, &models.File{
		BookID: bookID,
		Format: string(format),
		Path:   path,
		Sha256: &digest,
		Size:   info.Size(),
	})
	return file, errors.Wrap(err, "file record")
}

// attachImages points the persisted rows at the images resolved for the
// chunk and moves the items to images_fetched.
func (o *Orchestrator) attachImages(ctx context.Context, c *Chunk) error {
	if c.Images == nil {
		return nil
	}

	seenAuthors := map[int]bool{}
	seenBooks := map[int]bool{}
	seenSeries := map[int]bool{}

	for _, item := range c.Items {
		res := item.AgentResultsParsed
		if res == nil || res.Names == nil || res.Persistence == nil {
			continue
		}
		nr, p := res.Names, res.Persistence

		if !seenAuthors[p.AuthorID] {
			seenAuthors[p.AuthorID] = true
			if img := c.Images.Authors[nr.Author.Slug]; img.Path != "" {
				if err := o.attachAuthorImage(ctx, p.AuthorID, img.Path); err != nil {
					return err
				}
			}
		}
		if !seenBooks[p.BookID] {
			seenBooks[p.BookID] = true
			if img := c.Images.Books[agents.BookKey(nr.Author.Slug, nr.Title.Slug)]; img.Path != "" {
				if err := o.attachBookImage(ctx, p.BookID, img.Path); err != nil {
					return err
				}
			}
		}
		if p.SeriesID != nil && nr.Series.Present() && !seenSeries[*p.SeriesID] {
			seenSeries[*p.SeriesID] = true
			if img := c.Images.Series[agents.SeriesKey(nr.Author.Slug, *nr.Series.Slug)]; img.Path != "" {
				if err := o.attachSeriesImage(ctx, *p.SeriesID, img.Path); err != nil {
					return err
				}
			}
		}

		if err := o.batchService.TransitionItem(ctx, item, models.ItemStatusImagesFetched); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) attachAuthorImage(ctx context.Context, id int, path string) error {
	author, err := o.authorService.RetrieveAuthorByID(ctx, id)
	if err != nil {
		return err
	}
	if author.ImagePath != nil && *author.ImagePath == path {
		return nil
	}
	author.ImagePath = &path
	return o.authorService.UpdateAuthor(ctx, author, authors.UpdateAuthorOptions{Columns: []string{"image_path"}})
}

func (o *Orchestrator) attachBookImage(ctx context.Context, id int, path string) error {
	book, err := o.bookService.RetrieveBookByID(ctx, id)
	if err != nil {
		return err
	}
	if book.CoverImagePath != nil && *book.CoverImagePath == path {
		return nil
	}
	book.CoverImagePath = &path
	return o.bookService.UpdateBook(ctx, book, books.UpdateBookOptions{Columns: []string{"cover_image_path"}})
}

func (o *Orchestrator) attachSeriesImage(ctx context.Context, id int, path string) error {
	s, err := o.seriesService.RetrieveSeriesByID(ctx, id)
	if err != nil {
		return err
	}
	if s.ImagePath != nil && *s.ImagePath == path {
		return nil
	}
	s.ImagePath = &path
	return o.seriesService.UpdateSeries(ctx, s, series.UpdateSeriesOptions{Columns: []string{"image_path"}})
}

// organize moves the persisted source files into the processed directory
// and removes the source folders that were left empty.
func (o *Orchestrator) organize(ctx context.Context, c *Chunk) error {
	log := logger.FromContext(ctx)

	var paths []string
	for _, item := range c.Items {
		if res := item.AgentResultsParsed; res != nil && res.Persistence != nil {
			paths = append(paths, item.FilePath)
		}
	}
	if len(paths) == 0 {
		return nil
	}

	var folders []string
	moved := 0
	for _, r := range o.organizer.MoveProcessedFiles(ctx, paths) {
		if r.Err != nil {
			log.Warn("failed to move processed file", logger.Data{"file_path": r.OriginalPath, "error": r.Err.Error()})
			continue
		}
		moved++
		if folder := o.organizer.SourceFolder(r.OriginalPath); folder != "" {
			folders = append(folders, folder)
		}
	}

	cleaned, failed := o.organizer.CleanEmptyFolders(ctx, folders)
	log.Info("source files organized", logger.Data{
		"moved":          moved,
		"failed":         len(paths) - moved,
		"folders":        len(cleaned),
		"folders_failed": len(failed),
	})
	return nil
}

// convert fills in the missing target formats of every book in the chunk
// and registers the converted files.
func (o *Orchestrator) convert(ctx context.Context, c *Chunk) error {
	log := logger.FromContext(ctx)

	byBook := map[int][]*models.BatchItem{}
	var bookIDs []int
	for _, item := range c.Items {
		res := item.AgentResultsParsed
		if res == nil || res.Names == nil || res.Persistence == nil {
			continue
		}
		id := res.Persistence.BookID
		if _, ok := byBook[id]; !ok {
			bookIDs = append(bookIDs, id)
		}
		byBook[id] = append(byBook[id], item)
	}
	sort.Ints(bookIDs)

	for _, bookID := range bookIDs {
		items := byBook[bookID]
		first := items[0]
		nr := first.AgentResultsParsed.Names

		bookID := bookID
		files, err := o.bookService.ListFiles(ctx, books.ListFilesOptions{BookID: &bookID})
		if err != nil {
			return err
		}
		var existing []formats.Format
		for _, f := range files {
			if f.Sha256 == nil || *f.Sha256 != first.SourceSha256 {
				continue
			}
			if format, ok := formats.Parse(f.Format); ok {
				existing = append(existing, format)
			}
		}

		report := o.organizer.ConvertBook(ctx, nr.Author.Slug, nr.Title.Slug, first.SourceSha256, existing)

		summary := &models.ConversionResults{}
		for format, path := range report.Converted {
			if _, err := o.registerFile(ctx, bookID, path, first.SourceSha256, format); err != nil {
				return err
			}
			summary.Converted = append(summary.Converted, string(format))
		}
		sort.Strings(summary.Converted)
		if len(report.Failed) > 0 {
			summary.Failed = make(map[string]string, len(report.Failed))
			for format, msg := range report.Failed {
				summary.Failed[string(format)] = msg
			}
		}

		for _, item := range items {
			item.AgentResultsParsed.Conversion = summary
			if err := o.batchService.SaveItemResults(ctx, item); err != nil {
				return err
			}
		}

		log.Info("book converted", logger.Data{
			"book_id":   bookID,
			"converted": len(summary.Converted),
			"failed":    len(summary.Failed),
		})
	}
	return nil
}
