// Package indexer runs indexing batches: it crawls the source directory,
// queues new files and drives them through the resolution and organizing
// stages chunk by chunk, resuming failed batches where they stopped.
package indexer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/booknest/booknest/pkg/agents"
	"github.com/booknest/booknest/pkg/ai"
	"github.com/booknest/booknest/pkg/authors"
	"github.com/booknest/booknest/pkg/batches"
	"github.com/booknest/booknest/pkg/books"
	"github.com/booknest/booknest/pkg/config"
	"github.com/booknest/booknest/pkg/converter"
	"github.com/booknest/booknest/pkg/crawler"
	"github.com/booknest/booknest/pkg/errcodes"
	"github.com/booknest/booknest/pkg/formats"
	"github.com/booknest/booknest/pkg/images"
	"github.com/booknest/booknest/pkg/imagesearch"
	"github.com/booknest/booknest/pkg/models"
	"github.com/booknest/booknest/pkg/organizer"
	"github.com/booknest/booknest/pkg/series"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
)

const defaultBatchSize = 25

// ErrIndexingInProgress is returned when a run is requested while another
// one is active.
var ErrIndexingInProgress = errcodes.IndexingInProgress()

// MessageNoNewFiles is reported when a crawl finds nothing to index.
const MessageNoNewFiles = "No new files to process"

// Clients are the external collaborators of a run.
type Clients struct {
	Names      agents.NameClient
	Metadata   agents.MetadataClient
	Search     agents.ImageSearcher
	Downloader agents.ImageDownloader
	Defaults   agents.DefaultImages
}

type Options struct {
	BatchSize int
}

type Orchestrator struct {
	batchSize int

	crawler   *crawler.Crawler
	organizer *organizer.Organizer
	pipeline  *Pipeline

	batchService  *batches.Service
	authorService *authors.Service
	bookService   *books.Service
	seriesService *series.Service

	mu      sync.Mutex
	running atomic.Bool
}

func New(db *bun.DB, c *crawler.Crawler, org *organizer.Organizer, clients Clients, opts Options) *Orchestrator {
	batchSize := opts.BatchSize
	if batchSize < 1 {
		batchSize = defaultBatchSize
	}

	o := &Orchestrator{
		batchSize:     batchSize,
		crawler:       c,
		organizer:     org,
		batchService:  batches.NewService(db),
		authorService: authors.NewService(db),
		bookService:   books.NewService(db),
		seriesService: series.NewService(db),
	}

	nameResolver := agents.NewNameResolver(clients.Names, o.batchService)
	imageResolver := agents.NewImageResolver(clients.Search, clients.Downloader, clients.Defaults, org, o.batchService)
	metadataResolver := agents.NewMetadataResolver(clients.Metadata, o.authorService, o.bookService, o.seriesService, o.batchService)
	o.pipeline = o.newPipeline(nameResolver, imageResolver, metadataResolver)

	return o
}

// NewFromConfig wires the orchestrator with the production collaborators.
func NewFromConfig(cfg *config.Config, db *bun.DB) (*Orchestrator, error) {
	aiClient, err := ai.New(cfg)
	if err != nil {
		return nil, err
	}

	conv := converter.NewFromConfig(cfg)
	org := organizer.NewFromConfig(cfg, conv)
	clients := Clients{
		Names:      aiClient,
		Metadata:   aiClient,
		Search:     imagesearch.NewFromConfig(cfg),
		Downloader: images.NewDownloaderFromConfig(cfg),
		Defaults:   images.NewDefaults(cfg.AssetsDir),
	}

	return New(db, crawler.New(cfg.SourceDir), org, clients, Options{BatchSize: cfg.IndexBatchSize}), nil
}

// Result summarizes one StartIndexing call.
type Result struct {
	BatchID        string             `json:"batch_id"`
	Status         models.BatchStatus `json:"status"`
	Resumed        bool               `json:"resumed"`
	TotalBooks     int                `json:"total_books"`
	ProcessedBooks int                `json:"processed_books"`
	FailedBooks    int                `json:"failed_books"`
	SkippedFiles   int                `json:"skipped_files"`
	Duration       time.Duration      `json:"duration"`
	Message        string             `json:"message,omitempty"`
	Errors         []string           `json:"errors"`
}

// IsRunning reports whether a run is active in this process or any batch is
// marked processing.
func (o *Orchestrator) IsRunning(ctx context.Context) (bool, error) {
	if o.running.Load() {
		return true, nil
	}
	return o.batchService.HasProcessingBatch(ctx)
}

// StartIndexing resumes the most recent failed batch or, when there is none,
// starts a new one. Failures inside the run are reported through the result
// and leave the batch failed; an error is returned only when no run could
// take place.
func (o *Orchestrator) StartIndexing(ctx context.Context) (*Result, error) {
	if !o.mu.TryLock() {
		return nil, ErrIndexingInProgress
	}
	defer o.mu.Unlock()
	o.running.Store(true)
	defer o.running.Store(false)

	start := time.Now()

	failed, err := o.batchService.FindLatestBatch(ctx, models.BatchStatusFailed)
	if err != nil && !errors.Is(err, errcodes.NotFound("Batch")) {
		return nil, err
	}

	var result *Result
	if failed != nil {
		result, err = o.resumeBatch(ctx, failed)
	} else {
		result, err = o.startNewBatch(ctx)
	}
	if err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (o *Orchestrator) startNewBatch(ctx context.Context) (*Result, error) {
	batch, err := o.batchService.CreateBatch(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx).Data(logger.Data{"batch_id": batch.ID})
	ctx = log.WithContext(ctx)
	log.Info("starting new indexing batch")

	if err := o.batchService.TransitionBatch(ctx, batch, models.BatchStatusProcessing); err != nil {
		return nil, err
	}

	result := &Result{BatchID: batch.ID, Errors: []string{}}

	crawl, err := o.crawler.Crawl(ctx)
	if err != nil {
		return o.fail(ctx, batch, result, errors.Wrap(err, "crawl failed"))
	}
	result.SkippedFiles = len(crawl.Errors)

	digests := make([]string, 0, len(crawl.Files))
	for _, f := range crawl.Files {
		digests = append(digests, f.Sha256)
	}
	existing, err := o.bookService.ExistingSha256s(ctx, digests)
	if err != nil {
		return o.fail(ctx, batch, result, err)
	}

	items := make([]*models.BatchItem, 0, len(crawl.Files))
	for _, f := range crawl.Files {
		if _, ok := existing[f.Sha256]; ok {
			continue
		}
		items = append(items, &models.BatchItem{FilePath: f.Path, SourceSha256: f.Sha256})
	}

	log.Info("crawl complete", logger.Data{
		"total_files": len(crawl.Files),
		"new_files":   len(items),
		"total_size":  crawl.TotalSize,
		"skipped":     len(crawl.Errors),
	})

	if len(items) == 0 {
		if err := o.batchService.TransitionBatch(ctx, batch, models.BatchStatusCompleted); err != nil {
			return nil, err
		}
		result.Status = batch.Status
		result.Message = MessageNoNewFiles
		log.Info("no new files to index")
		return result, nil
	}

	if err := o.batchService.CreateItems(ctx, batch.ID, items); err != nil {
		return o.fail(ctx, batch, result, err)
	}
	batch.TotalBooks = len(items)
	err = o.batchService.UpdateBatch(ctx, batch, batches.UpdateBatchOptions{Columns: []string{"total_books"}})
	if err != nil {
		return o.fail(ctx, batch, result, err)
	}

	return o.runChunks(ctx, batch, items, result)
}

func (o *Orchestrator) resumeBatch(ctx context.Context, batch *models.Batch) (*Result, error) {
	log := logger.FromContext(ctx).Data(logger.Data{"batch_id": batch.ID})
	ctx = log.WithContext(ctx)
	log.Info("resuming failed batch")

	if err := o.batchService.TransitionBatch(ctx, batch, models.BatchStatusProcessing); err != nil {
		return nil, err
	}

	result := &Result{BatchID: batch.ID, Resumed: true, Errors: []string{}}

	requeued, err := o.batchService.RequeueItems(ctx, batch.ID)
	if err != nil {
		return o.fail(ctx, batch, result, err)
	}
	items, err := o.batchService.ListIncompleteItems(ctx, batch.ID)
	if err != nil {
		return o.fail(ctx, batch, result, err)
	}
	log.Info("found incomplete items", logger.Data{"count": len(items), "requeued": requeued})

	runnable := make([]*models.BatchItem, 0, len(items))
	for _, item := range items {
		if _, ok := formats.Detect(item.FilePath); !ok {
			log.Warn("skipping item with unsupported format", logger.Data{"item_id": item.ID, "file_path": item.FilePath})
			if err := o.batchService.FailItem(ctx, item, errors.New("unsupported file format")); err != nil {
				return o.fail(ctx, batch, result, err)
			}
			continue
		}
		runnable = append(runnable, item)
	}

	if len(runnable) == 0 {
		log.Info("no incomplete items, completing batch")
		return o.complete(ctx, batch, result)
	}

	return o.runChunks(ctx, batch, runnable, result)
}

// runChunks pushes the items through the pipeline in chunks of batchSize,
// strictly one after the other. The first aborted chunk fails the batch.
func (o *Orchestrator) runChunks(ctx context.Context, batch *models.Batch, items []*models.BatchItem, result *Result) (*Result, error) {
	log := logger.FromContext(ctx)
	chunks := (len(items) + o.batchSize - 1) / o.batchSize

	for i := 0; i < len(items); i += o.batchSize {
		end := i + o.batchSize
		if end > len(items) {
			end = len(items)
		}
		chunk := &Chunk{Index: i / o.batchSize, Items: append([]*models.BatchItem(nil), items[i:end]...)}

		chunkLog := log.Data(logger.Data{"chunk": chunk.Index + 1, "chunks": chunks})
		chunkLog.Info("processing chunk", logger.Data{"start": i, "end": end, "count": end - i})

		if err := o.pipeline.Run(chunkLog.WithContext(ctx), chunk); err != nil {
			return o.fail(ctx, batch, result, err)
		}

		if err := o.batchService.RefreshCounters(ctx, batch); err != nil {
			return o.fail(ctx, batch, result, err)
		}

		current, err := o.batchService.RetrieveBatchByID(ctx, batch.ID)
		if err != nil {
			return o.fail(ctx, batch, result, err)
		}
		if current.Status != models.BatchStatusProcessing {
			log.Warn("batch left processing while running, stopping", logger.Data{"status": current.Status})
			fillResult(result, current)
			return result, nil
		}
	}

	return o.complete(ctx, batch, result)
}

func (o *Orchestrator) complete(ctx context.Context, batch *models.Batch, result *Result) (*Result, error) {
	if err := o.batchService.RefreshCounters(ctx, batch); err != nil {
		return o.fail(ctx, batch, result, err)
	}
	if err := o.batchService.TransitionBatch(ctx, batch, models.BatchStatusCompleted); err != nil {
		return nil, err
	}
	fillResult(result, batch)
	logger.FromContext(ctx).Info("indexing batch completed", logger.Data{
		"total":     batch.TotalBooks,
		"processed": batch.ProcessedBooks,
		"failed":    batch.FailedBooks,
	})
	return result, nil
}

// fail marks the batch failed so the next run resumes it, and reports cause
// through the result.
func (o *Orchestrator) fail(ctx context.Context, batch *models.Batch, result *Result, cause error) (*Result, error) {
	log := logger.FromContext(ctx)
	log.Err(cause).Error("indexing batch failed")

	if err := o.batchService.RefreshCounters(ctx, batch); err != nil {
		log.Err(err).Warn("failed to refresh batch counters")
	}
	if err := o.batchService.TransitionBatch(ctx, batch, models.BatchStatusFailed); err != nil {
		return nil, errors.Wrapf(err, "marking batch failed after: %s", cause)
	}

	fillResult(result, batch)
	result.Errors = append(result.Errors, cause.Error())
	return result, nil
}

func fillResult(result *Result, batch *models.Batch) {
	result.Status = batch.Status
	result.TotalBooks = batch.TotalBooks
	result.ProcessedBooks = batch.ProcessedBooks
	result.FailedBooks = batch.FailedBooks
}

// Rollback marks a pending or processing batch rolled back. Nothing that was
// already written is undone and a run in progress isn't interrupted; it stops
// at its next chunk boundary.
func (o *Orchestrator) Rollback(ctx context.Context, batchID string) (*models.Batch, error) {
	batch, err := o.batchService.RetrieveBatchByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransitionBatch(batch.Status, models.BatchStatusRolledBack) {
		return nil, errcodes.BatchNotCancellable(string(batch.Status))
	}
	if err := o.batchService.TransitionBatch(ctx, batch, models.BatchStatusRolledBack); err != nil {
		if errors.Is(err, batches.ErrInvalidTransition) {
			return nil, errcodes.Conflict("Batch changed status while being cancelled.")
		}
		return nil, err
	}
	logger.FromContext(ctx).Info("batch rolled back", logger.Data{"batch_id": batchID})
	return batch, nil
}

// RecoverInterrupted marks batches that are processing without a run in
// this process as failed, so that they get resumed. It's meant for startup,
// after a crash left a batch processing.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) (int, error) {
	if !o.mu.TryLock() {
		return 0, ErrIndexingInProgress
	}
	defer o.mu.Unlock()

	stuck, err := o.batchService.ListBatches(ctx, batches.ListBatchesOptions{
		Statuses: []models.BatchStatus{models.BatchStatusProcessing},
	})
	if err != nil {
		return 0, err
	}
	for _, batch := range stuck {
		if err := o.batchService.TransitionBatch(ctx, batch, models.BatchStatusFailed); err != nil {
			return 0, err
		}
		logger.FromContext(ctx).Warn("interrupted batch marked failed", logger.Data{"batch_id": batch.ID})
	}
	return len(stuck), nil
}
