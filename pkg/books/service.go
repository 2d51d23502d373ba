package books

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/booknest/booknest/pkg/errcodes"
	"github.com/booknest/booknest/pkg/models"
	"github.com/booknest/booknest/pkg/names"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type RetrieveBookOptions struct {
	ID       *int
	AuthorID *int
	Slug     *string
}

type ListBooksOptions struct {
	IDs      []int
	AuthorID *int
	SeriesID *int
}

type UpdateBookOptions struct {
	Columns []string
}

// Enrichment holds descriptive fields returned by metadata lookups. Empty
// values are ignored.
type Enrichment struct {
	Description      string
	FirstPublishYear *int
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateBook(ctx context.Context, book *models.Book) error {
	now := time.Now()
	if book.CreatedAt.IsZero() {
		book.CreatedAt = now
	}
	book.UpdatedAt = book.CreatedAt

	if book.SortTitle == "" {
		book.SortTitle = names.SortTitle(book.Title)
	}

	_, err := svc.db.
		NewInsert().
		Model(book).
		Returning("*").
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) RetrieveBook(ctx context.Context, opts RetrieveBookOptions) (*models.Book, error) {
	book := &models.Book{}

	q := svc.db.
		NewSelect().
		Model(book).
		Relation("Author").
		Relation("Series").
		Relation("Files", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.Order("f.id ASC")
		})

	if opts.ID != nil {
		q = q.Where("b.id = ?", *opts.ID)
	}
	if opts.AuthorID != nil {
		q = q.Where("b.author_id = ?", *opts.AuthorID)
	}
	if opts.Slug != nil {
		q = q.Where("b.slug = ?", *opts.Slug)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Book")
		}
		return nil, errors.WithStack(err)
	}

	return book, nil
}

func (svc *Service) RetrieveBookByID(ctx context.Context, id int) (*models.Book, error) {
	return svc.RetrieveBook(ctx, RetrieveBookOptions{ID: &id})
}

// FindOrCreateBook looks the book up by (author, slug) and inserts it when it
// doesn't exist yet. An existing book that isn't linked to a series picks up
// book's series. The returned flag reports whether a row was inserted.
func (svc *Service) FindOrCreateBook(ctx context.Context, book *models.Book) (*models.Book, bool, error) {
	book.Title = strings.TrimSpace(book.Title)
	if book.Title == "" || book.Slug == "" || book.AuthorID == 0 {
		return nil, false, errors.New("book title, slug and author cannot be empty")
	}

	existing, err := svc.RetrieveBook(ctx, RetrieveBookOptions{AuthorID: &book.AuthorID, Slug: &book.Slug})
	if err == nil {
		if existing.SeriesID == nil && book.SeriesID != nil {
			existing.SeriesID = book.SeriesID
			existing.SeriesOrder = book.SeriesOrder
			err = svc.UpdateBook(ctx, existing, UpdateBookOptions{Columns: []string{"series_id", "series_order"}})
			if err != nil {
				return nil, false, err
			}
		}
		return existing, false, nil
	}
	if !errors.Is(err, errcodes.NotFound("Book")) {
		return nil, false, err
	}

	err = svc.CreateBook(ctx, book)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			existing, err = svc.RetrieveBook(ctx, RetrieveBookOptions{AuthorID: &book.AuthorID, Slug: &book.Slug})
			return existing, false, err
		}
		return nil, false, err
	}
	return book, true, nil
}

func (svc *Service) ListBooks(ctx context.Context, opts ListBooksOptions) ([]*models.Book, error) {
	books := []*models.Book{}

	q := svc.db.
		NewSelect().
		Model(&books).
		Relation("Author").
		Order("b.sort_title ASC")

	if len(opts.IDs) > 0 {
		q = q.Where("b.id IN (?)", bun.In(opts.IDs))
	}
	if opts.AuthorID != nil {
		q = q.Where("b.author_id = ?", *opts.AuthorID)
	}
	if opts.SeriesID != nil {
		q = q.Where("b.series_id = ?", *opts.SeriesID)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return books, nil
}

func (svc *Service) UpdateBook(ctx context.Context, book *models.Book, opts UpdateBookOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	now := time.Now()
	book.UpdatedAt = now
	columns := append(opts.Columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(book).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errcodes.NotFound("Book")
		}
		return errors.WithStack(err)
	}

	return nil
}

// UnlinkSeries detaches the book from its series. The book itself is kept.
func (svc *Service) UnlinkSeries(ctx context.Context, book *models.Book) error {
	book.SeriesID = nil
	book.SeriesOrder = nil
	return svc.UpdateBook(ctx, book, UpdateBookOptions{Columns: []string{"series_id", "series_order"}})
}

// EnrichBook copies the non-empty enrichment fields onto the book and stores
// them. It reports whether anything was written.
func (svc *Service) EnrichBook(ctx context.Context, book *models.Book, e Enrichment) (bool, error) {
	var columns []string
	if v := strings.TrimSpace(e.Description); v != "" {
		book.Description = &v
		columns = append(columns, "description")
	}
	if e.FirstPublishYear != nil && *e.FirstPublishYear > 0 {
		year := *e.FirstPublishYear
		book.FirstPublishYear = &year
		columns = append(columns, "first_publish_year")
	}
	if len(columns) == 0 {
		return false, nil
	}
	return true, svc.UpdateBook(ctx, book, UpdateBookOptions{Columns: columns})
}
