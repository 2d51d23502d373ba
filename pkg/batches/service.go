package batches

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/booknest/booknest/pkg/errcodes"
	"github.com/booknest/booknest/pkg/models"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
)

const batchIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// ErrInvalidTransition is returned when a status change isn't allowed from
// the record's current status.
var ErrInvalidTransition = errors.New("invalid status transition")

type RetrieveBatchOptions struct {
	ID     *string
	Status *models.BatchStatus
}

type ListBatchesOptions struct {
	Limit        *int
	Offset       *int
	Statuses     []models.BatchStatus
	CreatedSince *time.Time

	includeTotal bool
}

type UpdateBatchOptions struct {
	Columns []string
}

type ListItemsOptions struct {
	BatchID         *string
	Statuses        []models.ItemStatus
	ExcludeStatuses []models.ItemStatus
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

// NewBatchID returns an id of the form batch-YYYY-MM-DD-xxxxxxxx.
func NewBatchID(now time.Time) (string, error) {
	suffix, err := gonanoid.Generate(batchIDAlphabet, 8)
	if err != nil {
		return "", errors.WithStack(err)
	}
	return fmt.Sprintf("batch-%s-%s", now.UTC().Format("2006-01-02"), suffix), nil
}

// CreateBatch inserts a new pending batch.
func (svc *Service) CreateBatch(ctx context.Context) (*models.Batch, error) {
	now := time.Now()
	id, err := NewBatchID(now)
	if err != nil {
		return nil, err
	}

	batch := &models.Batch{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    models.BatchStatusPending,
	}

	_, err = svc.db.
		NewInsert().
		Model(batch).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return batch, nil
}

func (svc *Service) RetrieveBatch(ctx context.Context, opts RetrieveBatchOptions) (*models.Batch, error) {
	batch := &models.Batch{}

	q := svc.db.
		NewSelect().
		Model(batch).
		Order("ib.created_at DESC", "ib.id DESC").
		Limit(1)

	if opts.ID != nil {
		q = q.Where("ib.id = ?", *opts.ID)
	}
	if opts.Status != nil {
		q = q.Where("ib.status = ?", *opts.Status)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Batch")
		}
		return nil, errors.WithStack(err)
	}

	return batch, nil
}

func (svc *Service) RetrieveBatchByID(ctx context.Context, id string) (*models.Batch, error) {
	return svc.RetrieveBatch(ctx, RetrieveBatchOptions{ID: &id})
}

// FindLatestBatch returns the most recently created batch with the given
// status.
func (svc *Service) FindLatestBatch(ctx context.Context, status models.BatchStatus) (*models.Batch, error) {
	return svc.RetrieveBatch(ctx, RetrieveBatchOptions{Status: &status})
}

// HasProcessingBatch reports whether any batch is currently processing.
func (svc *Service) HasProcessingBatch(ctx context.Context) (bool, error) {
	count, err := svc.db.NewSelect().
		Model((*models.Batch)(nil)).
		Where("status = ?", models.BatchStatusProcessing).
		Count(ctx)
	if err != nil {
		return false, errors.WithStack(err)
	}
	return count > 0, nil
}

func (svc *Service) ListBatches(ctx context.Context, opts ListBatchesOptions) ([]*models.Batch, error) {
	b, _, err := svc.listBatchesWithTotal(ctx, opts)
	return b, errors.WithStack(err)
}

func (svc *Service) ListBatchesWithTotal(ctx context.Context, opts ListBatchesOptions) ([]*models.Batch, int, error) {
	opts.includeTotal = true
	return svc.listBatchesWithTotal(ctx, opts)
}

func (svc *Service) listBatchesWithTotal(ctx context.Context, opts ListBatchesOptions) ([]*models.Batch, int, error) {
	batches := []*models.Batch{}
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&batches).
		Order("ib.created_at DESC", "ib.id DESC")

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if len(opts.Statuses) > 0 {
		q = q.Where("ib.status IN (?)", bun.In(opts.Statuses))
	}
	if opts.CreatedSince != nil {
		q = q.Where("ib.created_at >= ?", *opts.CreatedSince)
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	return batches, total, nil
}

func (svc *Service) UpdateBatch(ctx context.Context, batch *models.Batch, opts UpdateBatchOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	now := time.Now()
	batch.UpdatedAt = now
	columns := append(opts.Columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(batch).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errcodes.NotFound("Batch")
		}
		return errors.WithStack(err)
	}

	return nil
}

// TransitionBatch moves the batch to the given status. The update only
// applies while the stored status still matches batch.Status, so a
// concurrent change also yields ErrInvalidTransition.
func (svc *Service) TransitionBatch(ctx context.Context, batch *models.Batch, to models.BatchStatus) error {
	from := batch.Status
	if !models.CanTransitionBatch(from, to) {
		return errors.Wrapf(ErrInvalidTransition, "batch %s: %s -> %s", batch.ID, from, to)
	}

	now := time.Now()
	columns := []string{"status", "updated_at"}

	updated := *batch
	updated.Status = to
	updated.UpdatedAt = now
	switch to {
	case models.BatchStatusProcessing:
		if updated.StartedAt == nil {
			updated.StartedAt = &now
			columns = append(columns, "started_at")
		}
		updated.CompletedAt = nil
		columns = append(columns, "completed_at")
	case models.BatchStatusCompleted, models.BatchStatusFailed, models.BatchStatusRolledBack:
		updated.CompletedAt = &now
		columns = append(columns, "completed_at")
	}

	res, err := svc.db.
		NewUpdate().
		Model(&updated).
		Column(columns...).
		WherePK().
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.WithStack(err)
	}
	if affected == 0 {
		return errors.Wrapf(ErrInvalidTransition, "batch %s is no longer %s", batch.ID, from)
	}

	*batch = updated
	return nil
}

// RefreshCounters recomputes processed_books and failed_books from the
// batch's items and stores them.
func (svc *Service) RefreshCounters(ctx context.Context, batch *models.Batch) error {
	counts, err := svc.CountItemsByStatus(ctx, batch.ID)
	if err != nil {
		return err
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	batch.TotalBooks = total
	batch.ProcessedBooks = counts[models.ItemStatusCompleted]
	batch.FailedBooks = counts[models.ItemStatusFailed]
	return svc.UpdateBatch(ctx, batch, UpdateBatchOptions{
		Columns: []string{"total_books", "processed_books", "failed_books"},
	})
}

// CreateItems inserts pending items for the batch.
func (svc *Service) CreateItems(ctx context.Context, batchID string, items []*models.BatchItem) error {
	if len(items) == 0 {
		return nil
	}

	now := time.Now()
	for _, item := range items {
		item.BatchID = batchID
		item.CreatedAt = now
		item.UpdatedAt = now
		item.Status = models.ItemStatusPending
		if item.AgentResultsParsed == nil {
			item.AgentResultsParsed = models.NewAgentResults()
		}
		encoded, err := item.AgentResultsParsed.Encode()
		if err != nil {
			return err
		}
		item.AgentResults = encoded
	}

	_, err := svc.db.
		NewInsert().
		Model(&items).
		Returning("*").
		Exec(ctx)
	return errors.WithStack(err)
}

// ListItems returns items in insertion order. Agent results that can't be
// decoded are replaced by an empty envelope and logged.
func (svc *Service) ListItems(ctx context.Context, opts ListItemsOptions) ([]*models.BatchItem, error) {
	log := logger.FromContext(ctx)
	items := []*models.BatchItem{}

	q := svc.db.
		NewSelect().
		Model(&items).
		Order("ibi.id ASC")

	if opts.BatchID != nil {
		q = q.Where("ibi.batch_id = ?", *opts.BatchID)
	}
	if len(opts.Statuses) > 0 {
		q = q.Where("ibi.status IN (?)", bun.In(opts.Statuses))
	}
	if len(opts.ExcludeStatuses) > 0 {
		q = q.Where("ibi.status NOT IN (?)", bun.In(opts.ExcludeStatuses))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, errors.WithStack(err)
	}

	for _, item := range items {
		if err := item.UnmarshalAgentResults(); err != nil {
			log.Warn("agent results discarded", logger.Data{"item_id": item.ID, "error": err.Error()})
		}
	}

	return items, nil
}

// ListIncompleteItems returns every item of the batch that hasn't completed.
func (svc *Service) ListIncompleteItems(ctx context.Context, batchID string) ([]*models.BatchItem, error) {
	return svc.ListItems(ctx, ListItemsOptions{
		BatchID:         &batchID,
		ExcludeStatuses: []models.ItemStatus{models.ItemStatusCompleted},
	})
}

// MostRecentItem returns the item of the batch that was updated last.
func (svc *Service) MostRecentItem(ctx context.Context, batchID string) (*models.BatchItem, error) {
	item := &models.BatchItem{}
	err := svc.db.
		NewSelect().
		Model(item).
		Where("ibi.batch_id = ?", batchID).
		Order("ibi.updated_at DESC", "ibi.id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Batch item")
		}
		return nil, errors.WithStack(err)
	}
	if err := item.UnmarshalAgentResults(); err != nil {
		logger.FromContext(ctx).Warn("agent results discarded", logger.Data{"item_id": item.ID, "error": err.Error()})
	}
	return item, nil
}

func (svc *Service) CountItemsByStatus(ctx context.Context, batchID string) (map[models.ItemStatus]int, error) {
	var rows []struct {
		Status models.ItemStatus `bun:"status"`
		Count  int               `bun:"count"`
	}
	err := svc.db.
		NewSelect().
		Model((*models.BatchItem)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS count").
		Where("batch_id = ?", batchID).
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	counts := make(map[models.ItemStatus]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// RequeueItems puts every item of the batch that isn't completed back to
// pending and clears its error. Agent results are kept so a resumed run can
// see what earlier phases recorded.
func (svc *Service) RequeueItems(ctx context.Context, batchID string) (int, error) {
	requeueable := []models.ItemStatus{}
	for _, s := range []models.ItemStatus{
		models.ItemStatusPending,
		models.ItemStatusNameResolved,
		models.ItemStatusPersisted,
		models.ItemStatusImagesFetched,
		models.ItemStatusMetadataFetched,
		models.ItemStatusFailed,
	} {
		if models.CanRequeueItem(s) {
			requeueable = append(requeueable, s)
		}
	}

	res, err := svc.db.
		NewUpdate().
		Model((*models.BatchItem)(nil)).
		Set("status = ?", models.ItemStatusPending).
		Set("error_message = NULL").
		Set("updated_at = ?", time.Now()).
		Where("batch_id = ?", batchID).
		Where("status IN (?)", bun.In(requeueable)).
		Exec(ctx)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return int(affected), nil
}

// TransitionItem moves the item to the given status and stores its agent
// results alongside.
func (svc *Service) TransitionItem(ctx context.Context, item *models.BatchItem, to models.ItemStatus) error {
	if !models.CanTransitionItem(item.Status, to) {
		return errors.Wrapf(ErrInvalidTransition, "item %d: %s -> %s", item.ID, item.Status, to)
	}
	item.Status = to
	return svc.saveItem(ctx, item, "status", "agent_results")
}

// FailItem marks the item failed with the error's message.
func (svc *Service) FailItem(ctx context.Context, item *models.BatchItem, cause error) error {
	if !models.CanTransitionItem(item.Status, models.ItemStatusFailed) {
		return errors.Wrapf(ErrInvalidTransition, "item %d: %s -> %s", item.ID, item.Status, models.ItemStatusFailed)
	}
	msg := cause.Error()
	item.Status = models.ItemStatusFailed
	item.ErrorMessage = &msg
	return svc.saveItem(ctx, item, "status", "error_message", "agent_results")
}

// SaveItemResults stores the item's agent results without touching its
// status.
func (svc *Service) SaveItemResults(ctx context.Context, item *models.BatchItem) error {
	return svc.saveItem(ctx, item, "agent_results")
}

func (svc *Service) saveItem(ctx context.Context, item *models.BatchItem, columns ...string) error {
	if item.AgentResultsParsed != nil {
		encoded, err := item.AgentResultsParsed.Encode()
		if err != nil {
			return err
		}
		item.AgentResults = encoded
	}

	item.UpdatedAt = time.Now()
	columns = append(columns, "updated_at")

	_, err := svc.db.
		NewUpdate().
		Model(item).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errcodes.NotFound("Batch item")
		}
		return errors.WithStack(err)
	}
	return nil
}
