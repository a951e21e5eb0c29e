package settlement

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// InternalLedger is the built-in account ledger. Balances live in memory and
// every ref is applied at most once, so settlement retries after a crash
// recovery are no-ops. Deployments with an external ledger implement the
// Ledger interface against it instead.
type InternalLedger struct {
	mu       sync.Mutex
	balances map[uuid.UUID]decimal.Decimal
	applied  map[string]struct{}
	logger   *zap.Logger
}

func NewInternalLedger(logger *zap.Logger) *InternalLedger {
	return &InternalLedger{
		balances: make(map[uuid.UUID]decimal.Decimal),
		applied:  make(map[string]struct{}),
		logger:   logger,
	}
}

func (l *InternalLedger) Debit(_ context.Context, accountID uuid.UUID, amount decimal.Decimal, ref string) error {
	l.apply(accountID, amount.Neg(), "debit:"+ref)
	return nil
}

func (l *InternalLedger) Credit(_ context.Context, accountID uuid.UUID, amount decimal.Decimal, ref string) error {
	l.apply(accountID, amount, "credit:"+ref)
	return nil
}

// Balance returns the current balance for an account.
func (l *InternalLedger) Balance(accountID uuid.UUID) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[accountID]
}

func (l *InternalLedger) apply(accountID uuid.UUID, delta decimal.Decimal, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, done := l.applied[key]; done {
		l.logger.Debug("ledger ref already applied", zap.String("ref", key))
		return
	}
	l.applied[key] = struct{}{}
	l.balances[accountID] = l.balances[accountID].Add(delta)
}
