package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerflow/matchengine/pkg/errors"
	"github.com/peerflow/matchengine/pkg/logger"
	"github.com/peerflow/matchengine/pkg/models"
)

func pipelineItem(amount string, method string) *models.QueueItem {
	return &models.QueueItem{
		ID:            uuid.New(),
		Direction:     models.DirectionDeposit,
		AccountID:     uuid.New(),
		Amount:        decimal.RequireFromString(amount),
		PaymentMethod: method,
		Status:        models.ItemPending,
		CreatedAt:     time.Now(),
	}
}

type failingStep struct{}

func (failingStep) Name() string { return "failing" }
func (failingStep) Enrich(context.Context, *models.QueueItem) (bool, error) {
	return false, errors.New("backend unreachable")
}

func TestRunnerFailOpen(t *testing.T) {
	large := &LargeAmountStep{Threshold: decimal.NewFromInt(10000)}
	r := NewRunner([]Step{failingStep{}, large}, time.Second, logger.Nop())

	item := pipelineItem("20000", "bank")
	require.NoError(t, r.Run(context.Background(), item), "step failure must not fail the run")

	assert.Equal(t, []string{"failing", "large_amount"}, item.Optimization.StepsRun)
	assert.True(t, item.Optimization.Streaming, "later steps still run after a failure")
}

func TestRunnerRecordsLatency(t *testing.T) {
	large := &LargeAmountStep{Threshold: decimal.NewFromInt(1)}
	r := NewRunner([]Step{large}, time.Second, logger.Nop())

	item := pipelineItem("5", "bank")
	require.NoError(t, r.Run(context.Background(), item))
	_, ok := item.Optimization.StepLatency["large_amount"]
	assert.True(t, ok)
}

func TestRiskStepAssignsProfile(t *testing.T) {
	signals := &StaticSignals{Default: 10}
	step := NewRiskStep(signals, 80)
	r := NewRunner([]Step{step}, time.Second, logger.Nop())

	item := pipelineItem("50", "bank")
	require.NoError(t, r.Run(context.Background(), item))
	require.NotNil(t, item.Criteria)
	assert.Equal(t, models.RiskLow, item.Criteria.RiskProfile)
	assert.Equal(t, 10, item.Optimization.RiskScore)

	// Large crypto amount from a risky account crosses into high.
	signals.Default = 40
	item = pipelineItem("20000", "crypto")
	require.NoError(t, r.Run(context.Background(), item))
	assert.Equal(t, models.RiskHigh, item.Criteria.RiskProfile)
}

func TestRiskStepVeto(t *testing.T) {
	step := NewRiskStep(&StaticSignals{Default: 70}, 80)
	r := NewRunner([]Step{step}, time.Second, logger.Nop())

	item := pipelineItem("20000", "crypto") // 70 + 20 + 15 = 105 > 80
	err := r.Run(context.Background(), item)
	require.Error(t, err)

	var rr *errors.RiskRejectedError
	require.True(t, errors.As(err, &rr))
	assert.Equal(t, 105, rr.Score)
	assert.Contains(t, rr.Factors, "large_amount")
}

func TestRiskStepKeepsDeclaredHigherProfile(t *testing.T) {
	step := NewRiskStep(&StaticSignals{Default: 5}, 80)
	item := pipelineItem("10", "bank")
	item.Criteria = &models.MatchingCriteria{RiskProfile: models.RiskHigh}
	item.Optimization = &models.OptimizationMetadata{}

	vetoed, err := step.Enrich(context.Background(), item)
	require.NoError(t, err)
	assert.False(t, vetoed)
	assert.Equal(t, models.RiskHigh, item.Criteria.RiskProfile, "declared profile is not downgraded")
}

func TestMethodCacheStepHitMiss(t *testing.T) {
	cache := NewMemoryMethodCache()
	step := &MethodCacheStep{Cache: cache}
	r := NewRunner([]Step{step}, time.Second, logger.Nop())

	item := pipelineItem("100", "bank")
	require.NoError(t, r.Run(context.Background(), item))
	assert.False(t, item.Optimization.CacheHit)

	require.NoError(t, cache.Record(context.Background(), "bank", true))
	item = pipelineItem("100", "bank")
	require.NoError(t, r.Run(context.Background(), item))
	assert.True(t, item.Optimization.CacheHit)

	stats, ok, err := cache.Get(context.Background(), "bank")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), stats.Matches)
}
