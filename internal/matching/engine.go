package matching

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/peerflow/matchengine/internal/notifier"
	"github.com/peerflow/matchengine/internal/pipeline"
	"github.com/peerflow/matchengine/internal/queue"
	"github.com/peerflow/matchengine/internal/settlement"
	"github.com/peerflow/matchengine/internal/stats"
	"github.com/peerflow/matchengine/internal/store"
	"github.com/peerflow/matchengine/pkg/errors"
	"github.com/peerflow/matchengine/pkg/models"
)

// Policy groups the lifecycle knobs that are not matching semantics.
type Policy struct {
	// PendingTTL auto-fails pending items older than this; zero disables.
	PendingTTL    time.Duration
	SweepInterval time.Duration
	// RequeueBump raises a requeued item's priority to avoid starvation,
	// capped at RequeueBumpCap over its original priority.
	RequeueBump    int
	RequeueBumpCap int
}

// Deps carries the engine's injected collaborators. There are no package
// singletons; every test gets its own isolated set.
type Deps struct {
	Pool        *queue.Pool
	Pipeline    *pipeline.Runner
	Store       store.Store
	Settler     *settlement.Processor
	Notifier    *notifier.Notifier
	Stats       *stats.Aggregator
	MethodCache pipeline.MethodStatsCache
	Logger      *zap.Logger
}

// Engine is the peer matching queue engine. A single mutex serializes the
// match-declare-and-remove critical section; validation, enrichment,
// settlement I/O and notification all run outside it.
type Engine struct {
	cfg    Config
	policy Policy
	deps   Deps

	mu sync.Mutex
	// active maps an item to the match currently holding it, for
	// double-match detection.
	active map[uuid.UUID]uuid.UUID

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewEngine assembles an engine and starts the TTL sweeper when configured.
func NewEngine(cfg Config, policy Policy, deps Deps) *Engine {
	e := &Engine{
		cfg:    cfg,
		policy: policy,
		deps:   deps,
		active: make(map[uuid.UUID]uuid.UUID),
		stopCh: make(chan struct{}),
	}
	if policy.PendingTTL > 0 && policy.SweepInterval > 0 {
		e.wg.Add(1)
		go e.sweepLoop()
	}
	return e
}

// Submit validates, enriches and pools a raw request, then attempts an
// immediate match. A declared match is settled asynchronously; the call
// returns as soon as the item is accepted.
func (e *Engine) Submit(ctx context.Context, req *models.SubmitRequest) (*models.QueueItem, error) {
	item, err := ValidateSubmit(req)
	if err != nil {
		return nil, err
	}

	if err := e.deps.Pipeline.Run(ctx, item); err != nil {
		var rr *errors.RiskRejectedError
		if errors.As(err, &rr) {
			e.deps.Stats.RecordRiskVeto()
		}
		return nil, err
	}

	if err := e.deps.Store.PutItem(ctx, item); err != nil {
		return nil, err
	}

	match, w, d := e.declareMatch(item)

	e.deps.Stats.RecordSubmitted(item)
	e.publish(notifier.Event{Type: notifier.EventItemAdded, Item: cloneItem(item)})

	if match == nil {
		e.recordMethodOutcome(ctx, false, item.PaymentMethod)
		return cloneItem(item), nil
	}

	if err := e.deps.Store.PutItem(ctx, w); err != nil {
		e.deps.Logger.Error("failed to persist matched withdrawal", zap.Error(err))
	}
	if err := e.deps.Store.PutItem(ctx, d); err != nil {
		e.deps.Logger.Error("failed to persist matched deposit", zap.Error(err))
	}
	if err := e.deps.Store.PutMatch(ctx, match); err != nil {
		e.deps.Logger.Error("failed to persist declared match", zap.Error(err))
	}

	now := match.CreatedAt
	e.deps.Stats.RecordMatched(now.Sub(w.CreatedAt), now.Sub(d.CreatedAt))
	e.recordMethodOutcome(ctx, true, w.PaymentMethod, d.PaymentMethod)
	e.publish(notifier.Event{Type: notifier.EventMatchDeclared, Match: cloneMatch(match)})

	// Clone before the settlement goroutine starts mutating the sides.
	out := cloneItem(item)
	e.wg.Add(1)
	go e.settle(match, w, d)

	return out, nil
}

// declareMatch inserts the item and, when a compatible counterparty exists,
// removes both sides and creates the match result, all in one critical
// section so two concurrent insertions can never claim the same candidate.
func (e *Engine) declareMatch(item *models.QueueItem) (*models.MatchResult, *models.QueueItem, *models.QueueItem) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.deps.Pool.Insert(item); err != nil {
		e.deps.Logger.Error("pool insert failed", zap.String("item_id", item.ID.String()), zap.Error(err))
		return nil, nil, nil
	}

	candidates := e.deps.Pool.Scan(item.Direction.Opposite(), nil)
	best, score := e.cfg.SelectCandidate(item, candidates)
	if best == nil {
		return nil, nil, nil
	}

	if matchID, held := e.active[best.ID]; held {
		// A pooled item must never be held by an active match. Quarantine it
		// and leave the new item pending.
		e.quarantine(best, errors.NewIntegrityViolation(best.ID, matchID))
		return nil, nil, nil
	}

	got, _, ok := e.deps.Pool.RemovePair(item.ID, best.ID)
	if !ok || got == nil {
		return nil, nil, nil
	}

	now := time.Now().UTC()
	item.Status = models.ItemMatched
	item.MatchedAt = &now
	best.Status = models.ItemMatched
	best.MatchedAt = &now

	w, d := item, best
	if item.Direction == models.DirectionDeposit {
		w, d = best, item
	}

	amount := w.Amount
	if d.Amount.LessThan(amount) {
		amount = d.Amount
	}

	match := &models.MatchResult{
		ID:           uuid.New(),
		WithdrawalID: w.ID,
		DepositID:    d.ID,
		Amount:       amount,
		MatchScore:   score,
		Status:       models.MatchPending,
		CreatedAt:    now,
	}
	e.active[w.ID] = match.ID
	e.active[d.ID] = match.ID
	return match, w, d
}

// quarantine pulls an integrity-violating item out of circulation and raises
// the alert. Called with e.mu held.
func (e *Engine) quarantine(item *models.QueueItem, violation *errors.IntegrityViolation) {
	e.deps.Pool.Remove(item.ID)
	item.Status = models.ItemFailed
	item.FailReason = violation.Error()
	e.deps.Logger.Error("integrity violation, item quarantined",
		zap.String("item_id", item.ID.String()),
		zap.Error(violation))
	go func() {
		if err := e.deps.Store.PutItem(context.Background(), item); err != nil {
			e.deps.Logger.Error("failed to persist quarantined item", zap.Error(err))
		}
	}()
}

// settle runs one settlement attempt and applies the failure-recovery
// contract: on a ledger failure both items go back to pending, never limbo.
// A failure after the transfer went through (a store write that did not
// stick) must NOT requeue: the money already moved, so the sides stay
// parked and the match is replayed by Recover, whose ledger refs are
// idempotent per match id.
func (e *Engine) settle(match *models.MatchResult, w, d *models.QueueItem) {
	defer e.wg.Done()
	ctx := context.Background()

	err := e.deps.Settler.Settle(ctx, match, w, d)

	// Only a ledger-stage failure leaves no net transfer behind.
	var serr *errors.SettlementError
	requeue := err != nil && errors.As(err, &serr)

	var wSnap, dSnap *models.QueueItem
	e.mu.Lock()
	delete(e.active, w.ID)
	delete(e.active, d.ID)
	if requeue {
		w.RequeueReset(e.policy.RequeueBump, e.policy.RequeueBumpCap)
		d.RequeueReset(e.policy.RequeueBump, e.policy.RequeueBumpCap)
		if ierr := e.deps.Pool.Insert(w); ierr != nil {
			e.deps.Logger.Error("requeue failed", zap.String("item_id", w.ID.String()), zap.Error(ierr))
		}
		if ierr := e.deps.Pool.Insert(d); ierr != nil {
			e.deps.Logger.Error("requeue failed", zap.String("item_id", d.ID.String()), zap.Error(ierr))
		}
		// Snapshot inside the critical section: once the lock drops a
		// concurrent submission may match and mutate the live structs.
		wSnap = cloneItem(w)
		dSnap = cloneItem(d)
	}
	e.mu.Unlock()

	if err != nil {
		if !requeue {
			e.deps.Logger.Error("settlement outcome not durably recorded, parking match for recovery",
				zap.String("match_id", match.ID.String()),
				zap.Error(err))
			return
		}
		if perr := e.deps.Store.PutItem(ctx, wSnap); perr != nil {
			e.deps.Logger.Error("failed to persist requeued withdrawal", zap.Error(perr))
		}
		if perr := e.deps.Store.PutItem(ctx, dSnap); perr != nil {
			e.deps.Logger.Error("failed to persist requeued deposit", zap.Error(perr))
		}
		e.deps.Stats.RecordFailed()
		e.publish(notifier.Event{Type: notifier.EventMatchFailed, Match: cloneMatch(match)})
		return
	}

	e.deps.Stats.RecordCompleted()
	e.publish(notifier.Event{Type: notifier.EventMatchComplete, Match: cloneMatch(match)})
}

// Cancel removes a still-pending item. Anything past pending is a conflict;
// repeating a cancellation is a conflict too, with no state change.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID) (*models.QueueItem, error) {
	e.mu.Lock()
	if item, ok := e.deps.Pool.Get(id); ok && item.Status == models.ItemPending {
		e.deps.Pool.Remove(id)
		item.Status = models.ItemFailed
		item.FailReason = "cancelled"
		e.mu.Unlock()

		if err := e.deps.Store.PutItem(ctx, item); err != nil {
			e.deps.Logger.Error("failed to persist cancellation", zap.Error(err))
		}
		e.deps.Stats.RecordCancelled()
		e.publish(notifier.Event{Type: notifier.EventItemCancelled, Item: cloneItem(item)})
		return cloneItem(item), nil
	}
	e.mu.Unlock()

	stored, err := e.deps.Store.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, errors.NewConflict(id, string(stored.Status), "cancel")
}

// GetItem returns the item by id, preferring the live pooled copy.
func (e *Engine) GetItem(ctx context.Context, id uuid.UUID) (*models.QueueItem, error) {
	e.mu.Lock()
	if item, ok := e.deps.Pool.Get(id); ok {
		out := cloneItem(item)
		e.mu.Unlock()
		return out, nil
	}
	e.mu.Unlock()
	return e.deps.Store.GetItem(ctx, id)
}

// ListItems is the read-only Query API over persisted items.
func (e *Engine) ListItems(ctx context.Context, filter *models.ItemFilter) ([]models.QueueItem, error) {
	return e.deps.Store.ListItems(ctx, filter)
}

// ListMatches is the read-only Query API over match results.
func (e *Engine) ListMatches(ctx context.Context, filter *models.MatchFilter) ([]models.MatchResult, error) {
	return e.deps.Store.ListMatches(ctx, filter)
}

// Stats returns the current queue statistics snapshot.
func (e *Engine) Stats() models.QueueStats {
	return e.deps.Stats.Snapshot()
}

// Recover rebuilds in-memory state from the store after a restart: pending
// items re-enter the pool and non-terminal matches are re-settled (the ledger
// is idempotent per match id, so reruns are safe).
func (e *Engine) Recover(ctx context.Context) error {
	items, matches, err := e.deps.Store.LoadOpen(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	for i := range items {
		item := items[i]
		if err := e.deps.Pool.Insert(&item); err != nil {
			e.deps.Logger.Error("recovery insert failed", zap.String("item_id", item.ID.String()), zap.Error(err))
		}
	}
	e.mu.Unlock()

	for i := range matches {
		match := matches[i]
		w, err := e.deps.Store.GetItem(ctx, match.WithdrawalID)
		if err != nil {
			e.deps.Logger.Error("recovery: withdrawal side missing", zap.String("match_id", match.ID.String()), zap.Error(err))
			continue
		}
		d, err := e.deps.Store.GetItem(ctx, match.DepositID)
		if err != nil {
			e.deps.Logger.Error("recovery: deposit side missing", zap.String("match_id", match.ID.String()), zap.Error(err))
			continue
		}
		e.mu.Lock()
		e.active[w.ID] = match.ID
		e.active[d.ID] = match.ID
		e.mu.Unlock()

		e.wg.Add(1)
		go e.settle(&match, w, d)
	}
	return nil
}

// sweepLoop auto-fails pending items older than the TTL.
func (e *Engine) sweepLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.policy.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.sweepExpired(time.Now().Add(-e.policy.PendingTTL))
		}
	}
}

// sweepExpired fails every pooled item created before the cutoff. Expiry is
// an explicit failure with an event, never a silent deletion.
func (e *Engine) sweepExpired(cutoff time.Time) {
	for _, candidate := range e.deps.Pool.ExpiredBefore(cutoff) {
		e.mu.Lock()
		item, ok := e.deps.Pool.Get(candidate.ID)
		if !ok || item.Status != models.ItemPending {
			e.mu.Unlock()
			continue
		}
		e.deps.Pool.Remove(item.ID)
		item.Status = models.ItemFailed
		item.FailReason = "ttl_expired"
		e.mu.Unlock()

		if err := e.deps.Store.PutItem(context.Background(), item); err != nil {
			e.deps.Logger.Error("failed to persist expiry", zap.Error(err))
		}
		e.deps.Stats.RecordExpired()
		e.publish(notifier.Event{Type: notifier.EventItemExpired, Item: cloneItem(item)})
	}
}

// Close stops the sweeper and waits for in-flight settlements.
func (e *Engine) Close() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

func (e *Engine) publish(event notifier.Event) {
	if e.deps.Notifier != nil {
		e.deps.Notifier.Publish(event)
	}
}

func (e *Engine) recordMethodOutcome(ctx context.Context, matched bool, methods ...string) {
	if e.deps.MethodCache == nil {
		return
	}
	for _, method := range methods {
		if err := e.deps.MethodCache.Record(ctx, method, matched); err != nil {
			e.deps.Logger.Warn("method cache record failed", zap.String("method", method), zap.Error(err))
		}
	}
}

func cloneItem(item *models.QueueItem) *models.QueueItem {
	out := *item
	return &out
}

func cloneMatch(match *models.MatchResult) *models.MatchResult {
	out := *match
	return &out
}
