package models

import (
	"time"

	"github.com/uptrace/bun"
)

// ItemStatus is the progress of a single file through the pipeline.
type ItemStatus string

const (
	ItemStatusPending         ItemStatus = "pending"
	ItemStatusNameResolved    ItemStatus = "name_resolved"
	ItemStatusPersisted       ItemStatus = "persisted"
	ItemStatusImagesFetched   ItemStatus = "images_fetched"
	ItemStatusMetadataFetched ItemStatus = "metadata_fetched"
	ItemStatusCompleted       ItemStatus = "completed"
	ItemStatusFailed          ItemStatus = "failed"
)

// itemRank orders the non-failed statuses. Items only ever move forward.
var itemRank = map[ItemStatus]int{
	ItemStatusPending:         0,
	ItemStatusNameResolved:    1,
	ItemStatusPersisted:       2,
	ItemStatusImagesFetched:   3,
	ItemStatusMetadataFetched: 4,
	ItemStatusCompleted:       5,
}

// Valid reports whether s is one of the known item statuses.
func (s ItemStatus) Valid() bool {
	_, ok := itemRank[s]
	return ok || s == ItemStatusFailed
}

// CanTransitionItem reports whether an item may move from one status to
// another during a run. Items advance monotonically; failed can be reached
// from any unfinished status and is never left.
func CanTransitionItem(from, to ItemStatus) bool {
	if from == ItemStatusFailed || from == ItemStatusCompleted {
		return false
	}
	fromRank, ok := itemRank[from]
	if !ok {
		return false
	}
	if to == ItemStatusFailed {
		return true
	}
	toRank, ok := itemRank[to]
	return ok && toRank > fromRank
}

// CanRequeueItem reports whether an item can be put back to pending when its
// batch is resumed. Only completed items are kept as they are.
func CanRequeueItem(from ItemStatus) bool {
	return from.Valid() && from != ItemStatusCompleted
}

type BatchItem struct {
	bun.BaseModel `bun:"table:indexing_batch_items,alias:ibi"`

	ID                 int           `bun:",pk,nullzero" json:"id"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
	BatchID            string        `bun:",nullzero" json:"batch_id"`
	FilePath           string        `bun:",nullzero" json:"file_path"`
	SourceSha256       string        `bun:"source_sha256,nullzero" json:"source_sha256"`
	Status             ItemStatus    `bun:",nullzero" json:"status"`
	AgentResults       string        `bun:",nullzero" json:"-"`
	AgentResultsParsed *AgentResults `bun:"-" json:"agent_results,omitempty"`
	ErrorMessage       *string       `json:"error_message,omitempty"`
}
