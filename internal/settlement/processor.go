// Package settlement owns the match-result lifecycle after a pairing is
// declared: ledger call-outs, completion, and failure marking. Requeueing of
// the constituent items on failure is the engine's job; this package only
// reports the outcome.
package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/peerflow/matchengine/internal/store"
	"github.com/peerflow/matchengine/pkg/errors"
	"github.com/peerflow/matchengine/pkg/models"
)

// Ledger is the external balance collaborator. Calls must be atomic and
// idempotent per ref: retrying a settled ref is a no-op on the ledger side.
type Ledger interface {
	Debit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, ref string) error
	Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, ref string) error
}

// Processor executes settlements against the ledger and persists every state
// transition. It never touches the pending pool.
type Processor struct {
	store  store.Store
	ledger Ledger
	logger *zap.Logger
}

// NewProcessor creates a settlement processor.
func NewProcessor(st store.Store, ledger Ledger, logger *zap.Logger) *Processor {
	return &Processor{store: st, ledger: ledger, logger: logger}
}

// Settle runs one settlement attempt for a declared match. The withdrawal
// account is debited and the deposit account credited as one logical
// operation; a credit failure after a successful debit is compensated before
// the match is marked failed. The settlement ref is the match ID, so a crash
// recovery rerun is safe.
func (p *Processor) Settle(ctx context.Context, match *models.MatchResult, w, d *models.QueueItem) error {
	ref := match.ID.String()

	// A recovery rerun arrives with both sides already in processing; any
	// other state that cannot legally enter processing means this match was
	// finished once and must not touch the ledger again.
	for _, side := range []*models.QueueItem{w, d} {
		if side.Status != models.ItemProcessing && !side.Status.CanTransition(models.ItemProcessing) {
			return errors.NewConflict(side.ID, string(side.Status), "settle")
		}
	}

	match.Status = models.MatchProcessing
	if err := p.store.PutMatch(ctx, match); err != nil {
		return err
	}
	w.Status = models.ItemProcessing
	d.Status = models.ItemProcessing
	if err := p.store.PutItem(ctx, w); err != nil {
		return err
	}
	if err := p.store.PutItem(ctx, d); err != nil {
		return err
	}

	if err := p.ledger.Debit(ctx, w.AccountID, match.Amount, ref); err != nil {
		return p.fail(ctx, match, errors.NewSettlement(match.ID, "debit", err))
	}
	if err := p.ledger.Credit(ctx, d.AccountID, match.Amount, ref); err != nil {
		// Undo the debit so no money is left in flight.
		if cerr := p.ledger.Credit(ctx, w.AccountID, match.Amount, ref+":comp"); cerr != nil {
			p.logger.Error("settlement compensation failed, ledger requires reconciliation",
				zap.String("match_id", match.ID.String()),
				zap.Error(cerr))
		}
		return p.fail(ctx, match, errors.NewSettlement(match.ID, "credit", err))
	}

	now := time.Now().UTC()
	match.Status = models.MatchCompleted
	match.CompletedAt = &now
	w.Status = models.ItemCompleted
	w.CompletedAt = &now
	d.Status = models.ItemCompleted
	d.CompletedAt = &now

	if err := p.store.PutMatch(ctx, match); err != nil {
		return err
	}
	if err := p.store.PutItem(ctx, w); err != nil {
		return err
	}
	return p.store.PutItem(ctx, d)
}

func (p *Processor) fail(ctx context.Context, match *models.MatchResult, serr *errors.SettlementError) error {
	match.Status = models.MatchFailed
	match.FailReason = serr.Error()
	if err := p.store.PutMatch(ctx, match); err != nil {
		p.logger.Error("failed to persist failed match", zap.String("match_id", match.ID.String()), zap.Error(err))
	}
	p.logger.Warn("settlement failed",
		zap.String("match_id", match.ID.String()),
		zap.String("stage", serr.Stage),
		zap.Error(serr.Err))
	return serr
}
