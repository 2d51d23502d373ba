package authors

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

type RetrieveAuthorOptions struct {
	ID   *int
	Name *string
	Slug *string
}

type ListAuthorsOptions struct {
	IDs []int
}

type UpdateAuthorOptions struct {
	Columns []string
}

// Enrichment holds descriptive fields returned by metadata lookups. Empty
// values are ignored.
type Enrichment struct {
	Bio         string
	Nationality string
	DateOfBirth string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateAuthor(ctx context.Context, author *models.Author) error {
	now := time.Now()
	if author.CreatedAt.IsZero() {
		author.CreatedAt = now
	}
	author.UpdatedAt = author.CreatedAt

	if author.SortName == "" {
		author.SortName = names.SortName(author.Name)
	}

	_, err := svc.db.
		NewInsert().
		Model(author).
		Returning("*").
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) RetrieveAuthor(ctx context.Context, opts RetrieveAuthorOptions) (*models.Author, error) {
	author := &models.Author{}

	q := svc.db.
		NewSelect().
		Model(author)

	if opts.ID != nil {
		q = q.Where("a.id = ?", *opts.ID)
	}
	if opts.Name != nil {
		q = q.Where("a.name = ?", *opts.Name)
	}
	if opts.Slug != nil {
		q = q.Where("a.slug = ?", *opts.Slug)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Author")
		}
		return nil, errors.WithStack(err)
	}

	return author, nil
}

func (svc *Service) RetrieveAuthorByID(ctx context.Context, id int) (*models.Author, error) {
	return svc.RetrieveAuthor(ctx, RetrieveAuthorOptions{ID: &id})
}

// FindOrCreateAuthor looks the author up by slug, then by name, and inserts
// it only when neither matches. A concurrent insert of the same author is
// resolved by looking it up again.
func (svc *Service) FindOrCreateAuthor(ctx context.Context, name, slug string) (*models.Author, error) {
	name = strings.TrimSpace(name)
	if name == "" || slug == "" {
		return nil, errors.New("author name and slug cannot be empty")
	}

	author, err := svc.findAuthor(ctx, name, slug)
	if err == nil {
		return author, nil
	}
	if !errors.Is(err, errcodes.NotFound("Author")) {
		return nil, err
	}

	author = &models.Author{
		Name: name,
		Slug: slug,
	}
	err = svc.CreateAuthor(ctx, author)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return svc.findAuthor(ctx, name, slug)
		}
		return nil, err
	}
	return author, nil
}

func (svc *Service) findAuthor(ctx context.Context, name, slug string) (*models.Author, error) {
	author, err := svc.RetrieveAuthor(ctx, RetrieveAuthorOptions{Slug: &slug})
	if err == nil || !errors.Is(err, errcodes.NotFound("Author")) {
		return author, err
	}
	return svc.RetrieveAuthor(ctx, RetrieveAuthorOptions{Name: &name})
}

func (svc *Service) ListAuthors(ctx context.Context, opts ListAuthorsOptions) ([]*models.Author, error) {
	authors := []*models.Author{}

	q := svc.db.
		NewSelect().
		Model(&authors).
		Order("a.sort_name ASC")

	if len(opts.IDs) > 0 {
		q = q.Where("a.id IN (?)", bun.In(opts.IDs))
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return authors, nil
}

func (svc *Service) UpdateAuthor(ctx context.Context, author *models.Author, opts UpdateAuthorOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	now := time.Now()
	author.UpdatedAt = now
	columns := append(opts.Columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(author).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errcodes.NotFound("Author")
		}
		return errors.WithStack(err)
	}

	return nil
}

// EnrichAuthor copies the non-empty enrichment fields onto the author and
// stores them. It reports whether anything was written.
func (svc *Service) EnrichAuthor(ctx context.Context, author *models.Author, e Enrichment) (bool, error) {
	var columns []string
	if v := strings.TrimSpace(e.Bio); v != "" {
		author.Bio = &v
		columns = append(columns, "bio")
	}
	if v := strings.TrimSpace(e.Nationality); v != "" {
		author.Nationality = &v
		columns = append(columns, "nationality")
	}
	if v := strings.TrimSpace(e.DateOfBirth); v != "" {
		author.DateOfBirth = &v
		columns = append(columns, "date_of_birth")
	}
	if len(columns) == 0 {
		return false, nil
	}
	return true, svc.UpdateAuthor(ctx, author, UpdateAuthorOptions{Columns: columns})
}
