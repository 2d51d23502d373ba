// Package indexing exposes indexing runs over HTTP.
package indexing

import (
	"context"
	"net/http"
	"time"

	"github.com/booknest/booknest/pkg/errcodes"
	"github.com/booknest/booknest/pkg/indexer"
	"github.com/booknest/booknest/pkg/models"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// Indexer is what the handlers need from *indexer.Orchestrator.
type Indexer interface {
	IsRunning(ctx context.Context) (bool, error)
	StartIndexing(ctx context.Context) (*indexer.Result, error)
	CurrentStatus(ctx context.Context) (*indexer.Status, error)
	History(ctx context.Context, opts indexer.HistoryOptions) ([]*models.Batch, int, error)
	GetStatus(ctx context.Context, batchID string) (*indexer.Progress, error)
	Rollback(ctx context.Context, batchID string) (*models.Batch, error)
}

const dateLayout = "2006-01-02"

type handler struct {
	indexer Indexer
}

// start runs indexing and answers with its summary once the run is over.
// The run isn't tied to the request, so a client that goes away doesn't
// abort it halfway through a chunk.
func (h *handler) start(c echo.Context) error {
	ctx := c.Request().Context()

	running, err := h.indexer.IsRunning(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	if running {
		return errcodes.IndexingInProgress()
	}

	result, err := h.indexer.StartIndexing(context.WithoutCancel(ctx))
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, result))
}

func (h *handler) status(c echo.Context) error {
	ctx := c.Request().Context()

	status, err := h.indexer.CurrentStatus(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, status))
}

func (h *handler) history(c echo.Context) error {
	ctx := c.Request().Context()

	params := HistoryQuery{}
	if err := c.Bind(&params); err != nil {
		return errors.WithStack(err)
	}

	opts := indexer.HistoryOptions{
		Limit:  params.Limit,
		Offset: params.Offset,
		Status: models.BatchStatus(params.Status),
	}
	if params.Since != "" {
		since, err := time.Parse(dateLayout, params.Since)
		if err != nil {
			return errcodes.ValidationError(`"since" is not a real date`)
		}
		opts.Since = &since
	}

	batches, total, err := h.indexer.History(ctx, opts)
	if err != nil {
		return errors.WithStack(err)
	}

	resp := struct {
		Batches []*models.Batch `json:"batches"`
		Total   int             `json:"total"`
		Limit   int             `json:"limit"`
		Offset  int             `json:"offset"`
	}{batches, total, params.Limit, params.Offset}

	return errors.WithStack(c.JSON(http.StatusOK, resp))
}

func (h *handler) retrieve(c echo.Context) error {
	ctx := c.Request().Context()

	params := BatchParams{}
	if err := c.Bind(&params); err != nil {
		return errcodes.NotFound("Batch")
	}

	progress, err := h.indexer.GetStatus(ctx, params.ID)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, progress))
}

func (h *handler) cancel(c echo.Context) error {
	ctx := c.Request().Context()

	params := BatchParams{}
	if err := c.Bind(&params); err != nil {
		return errcodes.NotFound("Batch")
	}

	batch, err := h.indexer.Rollback(ctx, params.ID)
	if err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(c.JSON(http.StatusOK, batch))
}
