package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`
			CREATE TABLE indexing_batches (
				id TEXT PRIMARY KEY,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				status TEXT NOT NULL CHECK (status IN ('pending', 'processing', 'completed', 'failed', 'rolled_back')),
				total_books INTEGER NOT NULL DEFAULT 0,
				processed_books INTEGER NOT NULL DEFAULT 0,
				failed_books INTEGER NOT NULL DEFAULT 0,
				started_at TIMESTAMPTZ,
				completed_at TIMESTAMPTZ
			)
		`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_indexing_batches_status_created_at ON indexing_batches(status, created_at)`)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = db.Exec(`
			CREATE TABLE indexing_batch_items (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				batch_id TEXT NOT NULL REFERENCES indexing_batches(id) ON DELETE CASCADE,
				file_path TEXT NOT NULL,
				source_sha256 TEXT NOT NULL,
				status TEXT NOT NULL CHECK (status IN ('pending', 'name_resolved', 'persisted', 'images_fetched', 'metadata_fetched', 'completed', 'failed')),
				agent_results TEXT,
				error_message TEXT
			)
		`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`CREATE INDEX ix_indexing_batch_items_batch_id_status ON indexing_batch_items(batch_id, status)`)
		if err != nil {
			return errors.WithStack(err)
		}

		return nil
	}

	down := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`DROP TABLE IF EXISTS indexing_batch_items`)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = db.Exec(`DROP TABLE IF EXISTS indexing_batches`)
		return errors.WithStack(err)
	}

	Migrations.MustRegister(up, down)
}
