package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`
			CREATE TABLE authors (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				name TEXT NOT NULL UNIQUE,
				sort_name TEXT NOT NULL,
				slug TEXT NOT NULL UNIQUE,
				bio TEXT,
				nationality TEXT,
				date_of_birth TEXT,
				image_path TEXT
			)
		`)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = db.Exec(`
			CREATE TABLE series (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				name TEXT NOT NULL,
				original_name TEXT,
				slug TEXT NOT NULL,
				author_id INTEGER NOT NULL REFERENCES authors(id) ON DELETE CASCADE,
				description TEXT,
				image_path TEXT,
				UNIQUE (name, author_id)
			)
		`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_series_author_id_slug ON series(author_id, slug)`)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = db.Exec(`
			CREATE TABLE books (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				title TEXT NOT NULL,
				original_title TEXT,
				sort_title TEXT NOT NULL,
				slug TEXT NOT NULL,
				author_id INTEGER NOT NULL REFERENCES authors(id) ON DELETE CASCADE,
				series_id INTEGER REFERENCES series(id) ON DELETE SET NULL,
				series_order REAL,
				description TEXT,
				first_publish_year INTEGER,
				cover_image_path TEXT,
				UNIQUE (author_id, slug)
			)
		`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_books_series_id ON books(series_id)`)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = db.Exec(`
			CREATE TABLE files (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
				type TEXT NOT NULL DEFAULT 'book',
				format TEXT NOT NULL,
				path TEXT NOT NULL UNIQUE,
				sha256 TEXT,
				size INTEGER NOT NULL DEFAULT 0
			)
		`)
		if err != nil {
			return errors.WithStack(err)
		}
		// Cross-batch deduplication looks files up by digest.
		_, err = db.Exec(`CREATE INDEX ix_files_sha256 ON files(sha256)`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_files_book_id ON files(book_id)`)
		if err != nil {
			return errors.WithStack(err)
		}

		return nil
	}

	down := func(_ context.Context, db *bun.DB) error {
		for _, table := range []string{"files", "books", "series", "authors"} {
			_, err := db.Exec(`DROP TABLE IF EXISTS ` + table)
			if err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	}

	Migrations.MustRegister(up, down)
}
