package indexer

import (
	"context"
	"time"

	"github.com/booknest/booknest/pkg/batches"
	"github.com/booknest/booknest/pkg/errcodes"
	"github.com/booknest/booknest/pkg/models"
	"github.com/pkg/errors"
)

const recentBatchWindow = 5

// Progress is a batch with a coarse indication of where it is.
type Progress struct {
	*models.Batch
	CurrentPhase models.ItemStatus `json:"current_phase"`
	Remaining    int               `json:"remaining_books"`
}

type Status struct {
	IsRunning    bool          `json:"is_running"`
	CurrentBatch *Progress     `json:"current_batch"`
	LastBatch    *models.Batch `json:"last_batch"`
}

// GetStatus returns the batch's counters along with the status of its most
// recently touched item.
func (o *Orchestrator) GetStatus(ctx context.Context, batchID string) (*Progress, error) {
	batch, err := o.batchService.RetrieveBatchByID(ctx, batchID)
	if err != nil {
		return nil, err
	}

	progress := &Progress{Batch: batch, CurrentPhase: models.ItemStatusPending}
	item, err := o.batchService.MostRecentItem(ctx, batchID)
	switch {
	case err == nil:
		progress.CurrentPhase = item.Status
	case !errors.Is(err, errcodes.NotFound("Batch item")):
		return nil, err
	}

	progress.Remaining = batch.TotalBooks - batch.ProcessedBooks - batch.FailedBooks
	if progress.Remaining < 0 {
		progress.Remaining = 0
	}
	return progress, nil
}

// CurrentStatus reports whether a run is active, the processing batch if
// there is one, and the most recent batch that isn't processing.
func (o *Orchestrator) CurrentStatus(ctx context.Context) (*Status, error) {
	running, err := o.IsRunning(ctx)
	if err != nil {
		return nil, err
	}
	status := &Status{IsRunning: running}

	current, err := o.batchService.FindLatestBatch(ctx, models.BatchStatusProcessing)
	switch {
	case err == nil:
		if status.CurrentBatch, err = o.GetStatus(ctx, current.ID); err != nil {
			return nil, err
		}
	case !errors.Is(err, errcodes.NotFound("Batch")):
		return nil, err
	}

	limit := recentBatchWindow
	recent, err := o.batchService.ListBatches(ctx, batches.ListBatchesOptions{Limit: &limit})
	if err != nil {
		return nil, err
	}
	for _, b := range recent {
		if b.Status != models.BatchStatusProcessing {
			status.LastBatch = b
			break
		}
	}

	return status, nil
}

// HistoryOptions pages and filters History. A zero Status or nil Since
// doesn't filter.
type HistoryOptions struct {
	Limit  int
	Offset int
	Status models.BatchStatus
	Since  *time.Time
}

// History returns a page of batches, newest first, and the total number of
// batches matching the filters.
func (o *Orchestrator) History(ctx context.Context, opts HistoryOptions) ([]*models.Batch, int, error) {
	list := batches.ListBatchesOptions{
		Limit:        &opts.Limit,
		Offset:       &opts.Offset,
		CreatedSince: opts.Since,
	}
	if opts.Status != "" {
		list.Statuses = []models.BatchStatus{opts.Status}
	}
	return o.batchService.ListBatchesWithTotal(ctx, list)
}
