package indexer

import (
	"context"

	"github.com/booknest/booknest/pkg/agents"
	"github.com/booknest/booknest/pkg/models"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

// FailurePolicy decides what a stage error does to the rest of the batch.
type FailurePolicy int

const (
	// AbortBatch fails the chunk and stops the run; the batch becomes
	// failed and can be resumed.
	AbortBatch FailurePolicy = iota
	// IsolateItem fails only the item the error happened on. Its siblings
	// carry on.
	IsolateItem
	// BestEffort logs the error and carries on as if the stage succeeded.
	BestEffort
)

func (p FailurePolicy) String() string {
	switch p {
	case AbortBatch:
		return "abort_batch"
	case IsolateItem:
		return "isolate_item"
	case BestEffort:
		return "best_effort"
	default:
		return "unknown"
	}
}

// Chunk is the slice of a batch that moves through the stages together.
// Items only ever shrink: items that fail are dropped from it.
type Chunk struct {
	Index  int
	Items  []*models.BatchItem
	Images *agents.ImageSet
}

// Stage is one step of the pipeline. IsolateItem stages set RunItem, every
// other stage sets Run. After is called with the items a RunItem stage
// succeeded for; its errors abort the batch.
type Stage struct {
	Name    string
	Policy  FailurePolicy
	Run     func(ctx context.Context, c *Chunk) error
	RunItem func(ctx context.Context, c *Chunk, item *models.BatchItem) error
	After   func(ctx context.Context, item *models.BatchItem) error
}

// StageError is returned when an AbortBatch stage fails.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Pipeline runs its stages in order over a chunk.
type Pipeline struct {
	stages []Stage
	items  agents.ItemStore
}

func NewPipeline(items agents.ItemStore, stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages, items: items}
}

func (p *Pipeline) Stages() []Stage {
	return p.stages
}

// Run executes every stage over the chunk. It stops at the first AbortBatch
// failure and returns it as a *StageError.
func (p *Pipeline) Run(ctx context.Context, c *Chunk) error {
	for _, stage := range p.stages {
		log := logger.FromContext(ctx).Data(logger.Data{"stage": stage.Name, "policy": stage.Policy.String()})
		if len(c.Items) == 0 {
			log.Info("no items left in chunk, skipping remaining stages")
			return nil
		}

		log.Info("stage starting", logger.Data{"items": len(c.Items)})
		stageCtx := log.WithContext(ctx)

		var err error
		if stage.Policy == IsolateItem {
			err = p.runIsolated(stageCtx, stage, c)
		} else {
			err = stage.Run(stageCtx, c)
		}

		if err != nil {
			if stage.Policy == BestEffort {
				log.Err(err).Warn("stage failed, continuing")
				continue
			}
			log.Err(err).Error("stage failed, aborting batch")
			return &StageError{Stage: stage.Name, Err: err}
		}
		log.Info("stage finished", logger.Data{"items": len(c.Items)})
	}
	return nil
}

func (p *Pipeline) runIsolated(ctx context.Context, stage Stage, c *Chunk) error {
	log := logger.FromContext(ctx)

	kept := c.Items[:0:0]
	for _, item := range c.Items {
		if err := stage.RunItem(ctx, c, item); err != nil {
			log.Err(err).Warn("item failed", logger.Data{"item_id": item.ID, "file_path": item.FilePath})
			if ferr := p.items.FailItem(ctx, item, err); ferr != nil {
				return errors.Wrap(ferr, "failed to record item failure")
			}
			continue
		}
		if stage.After != nil {
			if err := stage.After(ctx, item); err != nil {
				return err
			}
		}
		kept = append(kept, item)
	}
	c.Items = kept
	return nil
}
