// Package worker runs indexing on a schedule in the background.
package worker

import (
	"context"
	"math/rand"
	"time"

	"github.com/booknest/booknest/pkg/config"
	"github.com/booknest/booknest/pkg/indexer"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

var processID = randStringBytes(8)

// Indexer is the part of *indexer.Orchestrator the worker drives.
type Indexer interface {
	IsRunning(ctx context.Context) (bool, error)
	StartIndexing(ctx context.Context) (*indexer.Result, error)
	RecoverInterrupted(ctx context.Context) (int, error)
}

type Worker struct {
	interval time.Duration
	log      logger.Logger
	indexer  Indexer

	shutdown chan struct{}
	done     chan struct{}
}

// New returns a worker that indexes every cfg.IndexIntervalMinutes. An
// interval of zero disables scheduled runs.
func New(cfg *config.Config, idx Indexer) *Worker {
	return &Worker{
		interval: time.Duration(cfg.IndexIntervalMinutes) * time.Minute,
		log:      logger.New(),
		indexer:  idx,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start marks batches left processing by a previous process as failed so
// they get resumed, then starts the schedule.
func (w *Worker) Start() {
	ctx := w.log.WithContext(context.Background())
	n, err := w.indexer.RecoverInterrupted(ctx)
	if err != nil {
		w.log.Err(err).Error("recover interrupted batches error")
	} else if n > 0 {
		w.log.Warn("interrupted batches marked failed", logger.Data{"count": n})
	}

	if w.interval <= 0 {
		w.log.Info("scheduled indexing disabled")
		close(w.done)
		return
	}
	go w.schedule()
}

func (w *Worker) schedule() {
	defer close(w.done)

	timer := time.NewTimer(w.interval)
	defer timer.Stop()

	for {
		select {
		case <-w.shutdown:
			return
		case <-timer.C:
			if _, err := w.RunOnce(context.Background()); err != nil {
				w.log.Err(err).Error("scheduled indexing error")
			}
			timer.Reset(w.interval)
		}
	}
}

// RunOnce starts an indexing run unless one is already in progress, in which
// case it returns nil without doing anything.
func (w *Worker) RunOnce(ctx context.Context) (*indexer.Result, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	log := w.log.ID(id.String()).Root(logger.Data{"process_id": processID, "trigger": "schedule"})
	ctx = log.WithContext(ctx)

	running, err := w.indexer.IsRunning(ctx)
	if err != nil {
		return nil, err
	}
	if running {
		log.Info("indexing already in progress, skipping scheduled run")
		return nil, nil
	}

	result, err := w.indexer.StartIndexing(ctx)
	if errors.Is(err, indexer.ErrIndexingInProgress) {
		log.Info("indexing already in progress, skipping scheduled run")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	log.Info("scheduled indexing finished", logger.Data{
		"batch_id":  result.BatchID,
		"status":    result.Status,
		"resumed":   result.Resumed,
		"processed": result.ProcessedBooks,
		"failed":    result.FailedBooks,
		"duration":  result.Duration.String(),
	})
	return result, nil
}

// Shutdown stops the schedule. A run in progress is allowed to finish.
func (w *Worker) Shutdown() {
	close(w.shutdown)
	<-w.done
}

const letterBytes = "abcdef0123456789"

func randStringBytes(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = letterBytes[rand.Intn(len(letterBytes))]
	}
	return string(b)
}
