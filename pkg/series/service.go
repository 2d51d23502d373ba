package series

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/booknest/booknest/pkg/errcodes"
	"github.com/booknest/booknest/pkg/models"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

type RetrieveSeriesOptions struct {
	ID       *int
	Name     *string
	Slug     *string
	AuthorID *int
}

type ListSeriesOptions struct {
	IDs      []int
	AuthorID *int
}

type UpdateSeriesOptions struct {
	Columns []string
}

// Enrichment holds descriptive fields returned by metadata lookups. Empty
// values are ignored.
type Enrichment struct {
	Description string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateSeries(ctx context.Context, series *models.Series) error {
	now := time.Now()
	if series.CreatedAt.IsZero() {
		series.CreatedAt = now
	}
	series.UpdatedAt = series.CreatedAt

	_, err := svc.db.
		NewInsert().
		Model(series).
		Returning("*").
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) RetrieveSeries(ctx context.Context, opts RetrieveSeriesOptions) (*models.Series, error) {
	series := &models.Series{}

	q := svc.db.
		NewSelect().
		Model(series)

	if opts.ID != nil {
		q = q.Where("s.id = ?", *opts.ID)
	}
	if opts.AuthorID != nil {
		q = q.Where("s.author_id = ?", *opts.AuthorID)
	}
	if opts.Name != nil {
		q = q.Where("s.name = ?", *opts.Name)
	}
	if opts.Slug != nil {
		q = q.Where("s.slug = ?", *opts.Slug)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Series")
		}
		return nil, errors.WithStack(err)
	}

	return series, nil
}

// RetrieveSeriesByID retrieves a series by its ID.
func (svc *Service) RetrieveSeriesByID(ctx context.Context, id int) (*models.Series, error) {
	return svc.RetrieveSeries(ctx, RetrieveSeriesOptions{ID: &id})
}

// FindOrCreateSeries finds the author's series by slug, then by name, and
// creates it when neither matches. name is the English name; originalName is
// kept alongside when it differs.
func (svc *Service) FindOrCreateSeries(ctx context.Context, authorID int, name, originalName, slug string) (*models.Series, error) {
	name = strings.TrimSpace(name)
	if name == "" || slug == "" {
		return nil, errors.New("series name and slug cannot be empty")
	}

	series, err := svc.findSeries(ctx, authorID, name, slug)
	if err == nil {
		return series, nil
	}
	if !errors.Is(err, errcodes.NotFound("Series")) {
		return nil, err
	}

	series = &models.Series{
		AuthorID: authorID,
		Name:     name,
		Slug:     slug,
	}
	if original := strings.TrimSpace(originalName); original != "" {
		series.OriginalName = &original
	}
	err = svc.CreateSeries(ctx, series)
	if err != nil {
		// Handle race condition: another writer created the same series
		// between our retrieve and create.
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return svc.findSeries(ctx, authorID, name, slug)
		}
		return nil, err
	}
	return series, nil
}

func (svc *Service) findSeries(ctx context.Context, authorID int, name, slug string) (*models.Series, error) {
	series, err := svc.RetrieveSeries(ctx, RetrieveSeriesOptions{AuthorID: &authorID, Slug: &slug})
	if err == nil || !errors.Is(err, errcodes.NotFound("Series")) {
		return series, err
	}
	return svc.RetrieveSeries(ctx, RetrieveSeriesOptions{AuthorID: &authorID, Name: &name})
}

func (svc *Service) ListSeries(ctx context.Context, opts ListSeriesOptions) ([]*models.Series, error) {
	series := []*models.Series{}

	q := svc.db.
		NewSelect().
		Model(&series).
		Order("s.name ASC")

	if len(opts.IDs) > 0 {
		q = q.Where("s.id IN (?)", bun.In(opts.IDs))
	}
	if opts.AuthorID != nil {
		q = q.Where("s.author_id = ?", *opts.AuthorID)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return series, nil
}

func (svc *Service) UpdateSeries(ctx context.Context, series *models.Series, opts UpdateSeriesOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	now := time.Now()
	series.UpdatedAt = now
	columns := append(opts.Columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(series).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errcodes.NotFound("Series")
		}
		return errors.WithStack(err)
	}

	return nil
}

// EnrichSeries stores a non-empty description. It reports whether anything
// was written.
func (svc *Service) EnrichSeries(ctx context.Context, series *models.Series, e Enrichment) (bool, error) {
	v := strings.TrimSpace(e.Description)
	if v == "" {
		return false, nil
	}
	series.Description = &v
	return true, svc.UpdateSeries(ctx, series, UpdateSeriesOptions{Columns: []string{"description"}})
}
