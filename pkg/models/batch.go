package models

import (
	"time"

	"github.com/uptrace/bun"
)

// BatchStatus is the lifecycle state of an indexing batch.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
	BatchStatusRolledBack BatchStatus = "rolled_back"
)

var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchStatusPending:    {BatchStatusProcessing, BatchStatusRolledBack},
	BatchStatusProcessing: {BatchStatusCompleted, BatchStatusFailed, BatchStatusRolledBack},
	BatchStatusFailed:     {BatchStatusProcessing},
	BatchStatusCompleted:  {},
	BatchStatusRolledBack: {},
}

// Valid reports whether s is one of the known batch statuses.
func (s BatchStatus) Valid() bool {
	_, ok := batchTransitions[s]
	return ok
}

// Terminal reports whether no transition leads out of s.
func (s BatchStatus) Terminal() bool {
	return len(batchTransitions[s]) == 0
}

// CanTransitionBatch reports whether a batch may move from one status to
// another.
func CanTransitionBatch(from, to BatchStatus) bool {
	for _, s := range batchTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Batch struct {
	bun.BaseModel `bun:"table:indexing_batches,alias:ib"`

	ID             string       `bun:",pk" json:"id"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	Status         BatchStatus  `bun:",nullzero" json:"status"`
	TotalBooks     int          `json:"total_books"`
	ProcessedBooks int          `json:"processed_books"`
	FailedBooks    int          `json:"failed_books"`
	StartedAt      *time.Time   `json:"started_at,omitempty"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	Items          []*BatchItem `bun:"rel:has-many,join:id=batch_id" json:"items,omitempty"`
}
