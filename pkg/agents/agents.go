// Package agents holds the three resolution phases of an indexing chunk:
// naming files, fetching their images and enriching their metadata.
package agents

import (
	"context"
	"math"

	"github.com/booknest/booknest/pkg/models"
)

// ItemStore records phase results and status changes of batch items.
type ItemStore interface {
	TransitionItem(ctx context.Context, item *models.BatchItem, to models.ItemStatus) error
	FailItem(ctx context.Context, item *models.BatchItem, cause error) error
	SaveItemResults(ctx context.Context, item *models.BatchItem) error
}

// ClampConfidence forces v into [0, 1]. NaN becomes 0.
func ClampConfidence(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func results(item *models.BatchItem) *models.AgentResults {
	if item.AgentResultsParsed == nil {
		item.AgentResultsParsed = models.NewAgentResults()
	}
	return item.AgentResultsParsed
}
