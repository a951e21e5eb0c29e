// Package pipeline implements the pre-insertion enrichment chain: a fixed,
// ordered list of steps that may annotate a queue item or veto it. Step
// failures are fail-open; enrichment is an optimization, not a correctness
// requirement.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/peerflow/matchengine/pkg/errors"
	"github.com/peerflow/matchengine/pkg/models"
)

// Step enriches a validated queue item before it enters the pending pool.
// A step may mutate item metadata, veto the submission (vetoed=true with a
// descriptive error), or return an error that the runner treats as a no-op.
// Steps must never touch the pending pool.
type Step interface {
	Name() string
	Enrich(ctx context.Context, item *models.QueueItem) (vetoed bool, err error)
}

// Runner executes steps in order with a per-step timeout.
type Runner struct {
	steps   []Step
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunner builds a runner over the given steps.
func NewRunner(steps []Step, timeout time.Duration, logger *zap.Logger) *Runner {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &Runner{steps: steps, timeout: timeout, logger: logger}
}

// Run applies every step to item. The only error it returns is a veto; any
// other step failure is logged and skipped so the submission proceeds
// unenriched.
func (r *Runner) Run(ctx context.Context, item *models.QueueItem) error {
	if item.Optimization == nil {
		item.Optimization = &models.OptimizationMetadata{}
	}
	if item.Optimization.StepLatency == nil {
		item.Optimization.StepLatency = make(map[string]time.Duration)
	}

	for _, step := range r.steps {
		stepCtx, cancel := context.WithTimeout(ctx, r.timeout)
		start := time.Now()
		vetoed, err := step.Enrich(stepCtx, item)
		cancel()

		item.Optimization.StepsRun = append(item.Optimization.StepsRun, step.Name())
		item.Optimization.StepLatency[step.Name()] = time.Since(start)

		if vetoed {
			if err == nil {
				err = errors.NewRiskRejected(0, step.Name())
			}
			return err
		}
		if err != nil {
			// Fail-open: the step result is dropped, the item continues.
			r.logger.Warn("enrichment step failed, continuing",
				zap.String("step", step.Name()),
				zap.String("item_id", item.ID.String()),
				zap.Error(err))
		}
	}
	return nil
}
