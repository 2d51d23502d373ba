package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/booknest/booknest/pkg/batches"
	"github.com/booknest/booknest/pkg/config"
	"github.com/booknest/booknest/pkg/indexer"
	"github.com/booknest/booknest/pkg/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type idleIndexer struct{}

func (idleIndexer) IsRunning(context.Context) (bool, error) { return false, nil }

func (idleIndexer) StartIndexing(context.Context) (*indexer.Result, error) {
	return &indexer.Result{Status: models.BatchStatusCompleted, Message: indexer.MessageNoNewFiles}, nil
}

func (idleIndexer) CurrentStatus(context.Context) (*indexer.Status, error) {
	return &indexer.Status{}, nil
}

func (idleIndexer) History(context.Context, indexer.HistoryOptions) ([]*models.Batch, int, error) {
	return []*models.Batch{}, 0, nil
}

func (idleIndexer) GetStatus(context.Context, string) (*indexer.Progress, error) {
	return nil, nil
}

func (idleIndexer) Rollback(context.Context, string) (*models.Batch, error) {
	return nil, nil
}

// racingIndexer loses every cancel to a concurrent status change.
type racingIndexer struct{ idleIndexer }

func (racingIndexer) Rollback(_ context.Context, id string) (*models.Batch, error) {
	return nil, errors.Wrapf(batches.ErrInvalidTransition, "batch %s is no longer processing", id)
}

func TestNew(t *testing.T) {
	cfg := config.NewForTest()
	cfg.ServerPort = 4010

	srv, err := New(cfg, idleIndexer{})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4010", srv.Addr)

	t.Run("serves indexing routes", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/indexing/start", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), indexer.MessageNoNewFiles)
	})

	t.Run("unknown routes are json 404s", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), `"code":"not_found"`)
	})

	t.Run("lost status races are conflicts", func(t *testing.T) {
		srv, err := New(cfg, racingIndexer{})
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/indexing/batches/batch-2024-01-31-abcd1234/cancel", nil))
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), `"code":"conflict"`)
	})

	t.Run("reports the version", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"version":"dev"`)
	})
}
