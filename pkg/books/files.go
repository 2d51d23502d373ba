package books

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

// sha256LookupChunk bounds the number of bound parameters per query.
const sha256LookupChunk = 500

type RetrieveFileOptions struct {
	ID   *int
	Path *string
}

type ListFilesOptions struct {
	BookID *int
}

func (svc *Service) CreateFile(ctx context.Context, file *models.File) error {
	now := time.Now()
	if file.CreatedAt.IsZero() {
		file.CreatedAt = now
	}
	file.UpdatedAt = file.CreatedAt
	if file.Type == "" {
		file.Type = models.FileTypeBook
	}

	_, err := svc.db.
		NewInsert().
		Model(file).
		Returning("*").
		Exec(ctx)
	return errors.WithStack(err)
}

func (svc *Service) RetrieveFile(ctx context.Context, opts RetrieveFileOptions) (*models.File, error) {
	file := &models.File{}

	q := svc.db.
		NewSelect().
		Model(file)

	if opts.ID != nil {
		q = q.Where("f.id = ?", *opts.ID)
	}
	if opts.Path != nil {
		q = q.Where("f.path = ?", *opts.Path)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("File")
		}
		return nil, errors.WithStack(err)
	}
	return file, nil
}

// FindOrCreateFile returns the file record stored at file.Path, inserting
// file when there is none.
func (svc *Service) FindOrCreateFile(ctx context.Context, file *models.File) (*models.File, error) {
	if file.Path == "" || file.BookID == 0 {
		return nil, errors.New("file path and book cannot be empty")
	}

	existing, err := svc.RetrieveFile(ctx, RetrieveFileOptions{Path: &file.Path})
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, errcodes.NotFound("File")) {
		return nil, err
	}

	err = svc.CreateFile(ctx, file)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return svc.RetrieveFile(ctx, RetrieveFileOptions{Path: &file.Path})
		}
		return nil, err
	}
	return file, nil
}

func (svc *Service) ListFiles(ctx context.Context, opts ListFilesOptions) ([]*models.File, error) {
	files := []*models.File{}

	q := svc.db.
		NewSelect().
		Model(&files).
		Order("f.id ASC")

	if opts.BookID != nil {
		q = q.Where("f.book_id = ?", *opts.BookID)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return files, nil
}

// ExistingSha256s returns the subset of digests that already belong to a
// stored file.
func (svc *Service) ExistingSha256s(ctx context.Context, digests []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})

	for start := 0; start < len(digests); start += sha256LookupChunk {
		end := min(start+sha256LookupChunk, len(digests))

		var found []string
		err := svc.db.
			NewSelect().
			Model((*models.File)(nil)).
			Distinct().
			Column("sha256").
			Where("sha256 IN (?)", bun.In(digests[start:end])).
			Scan(ctx, &found)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		for _, d := range found {
			existing[d] = struct{}{}
		}
	}

	return existing, nil
}

// Sha256Exists reports whether a stored file has the given digest.
func (svc *Service) Sha256Exists(ctx context.Context, digest string) (bool, error) {
	exists, err := svc.db.
		NewSelect().
		Model((*models.File)(nil)).
		Where("sha256 = ?", digest).
		Exists(ctx)
	return exists, errors.WithStack(err)
}
