package pipeline

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/peerflow/matchengine/pkg/models"
)

// LargeAmountStep flags amounts at or above the threshold for streamed,
// chunked settlement downstream. Metadata only; never a matching input.
type LargeAmountStep struct {
	Threshold decimal.Decimal
}

func (s *LargeAmountStep) Name() string { return "large_amount" }

func (s *LargeAmountStep) Enrich(_ context.Context, item *models.QueueItem) (bool, error) {
	if item.Amount.GreaterThanOrEqual(s.Threshold) {
		item.Optimization.Streaming = true
	}
	return false, nil
}
