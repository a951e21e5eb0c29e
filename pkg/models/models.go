// Package models defines the core data model of the peer matching queue engine:
// queue items, match results and derived queue statistics.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction indicates which side of a peer match a queue item belongs to.
type Direction string

const (
	DirectionWithdrawal Direction = "withdrawal"
	DirectionDeposit    Direction = "deposit"
)

// Opposite returns the direction a matching counterparty must have.
func (d Direction) Opposite() Direction {
	if d == DirectionWithdrawal {
		return DirectionDeposit
	}
	return DirectionWithdrawal
}

// ItemStatus is the lifecycle state of a queue item.
// Transitions move forward only: pending -> matched -> processing -> completed/failed.
// A pending item may also go directly to failed on cancellation or TTL expiry.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemMatched    ItemStatus = "matched"
	ItemProcessing ItemStatus = "processing"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
)

// CanTransition reports whether moving from s to next is a legal forward step.
// The single sanctioned backward edge, matched -> pending, exists only for
// settlement-failure requeue and TTL recovery and must go through RequeueReset.
func (s ItemStatus) CanTransition(next ItemStatus) bool {
	switch s {
	case ItemPending:
		return next == ItemMatched || next == ItemFailed
	case ItemMatched:
		return next == ItemProcessing || next == ItemFailed
	case ItemProcessing:
		return next == ItemCompleted || next == ItemFailed
	}
	return false
}

// TimePreference expresses how urgently the submitter wants a match.
type TimePreference string

const (
	TimeImmediate TimePreference = "immediate"
	TimeFlexible  TimePreference = "flexible"
	TimeScheduled TimePreference = "scheduled"
)

// RiskProfile buckets an item by counterparty risk.
type RiskProfile string

const (
	RiskLow    RiskProfile = "low"
	RiskMedium RiskProfile = "medium"
	RiskHigh   RiskProfile = "high"
)

// MatchingCriteria carries the optional per-item matching constraints.
type MatchingCriteria struct {
	PreferredMethods []string        `json:"preferred_methods,omitempty" validate:"omitempty,dive,min=1"`
	AmountTolerance  decimal.Decimal `json:"amount_tolerance"` // relative, 0..1
	TimePreference   TimePreference  `json:"time_preference,omitempty" validate:"omitempty,oneof=immediate flexible scheduled"`
	RiskProfile      RiskProfile     `json:"risk_profile,omitempty" validate:"omitempty,oneof=low medium high"`
}

// PrefersMethod reports whether method is acceptable under the criteria.
// An empty preference set accepts any method.
func (c *MatchingCriteria) PrefersMethod(method string) bool {
	if c == nil || len(c.PreferredMethods) == 0 {
		return true
	}
	for _, m := range c.PreferredMethods {
		if m == method {
			return true
		}
	}
	return false
}

// OptimizationMetadata records what the enrichment pipeline did to an item.
// It never influences matching correctness.
type OptimizationMetadata struct {
	StepsRun    []string                 `json:"steps_run,omitempty"`
	StepLatency map[string]time.Duration `json:"step_latency,omitempty"`
	CacheHit    bool                     `json:"cache_hit"`
	Streaming   bool                     `json:"streaming"`
	RiskScore   int                      `json:"risk_score"`
}

// QueueItem is a single withdrawal or deposit request held for matching.
type QueueItem struct {
	ID             uuid.UUID             `json:"id" validate:"required,uuid"`
	Direction      Direction             `json:"direction" validate:"required,oneof=withdrawal deposit"`
	AccountID      uuid.UUID             `json:"account_id" validate:"required,uuid"`
	Amount         decimal.Decimal       `json:"amount"` // positive, fixed-point
	PaymentMethod  string                `json:"payment_method" validate:"required,min=1,max=64"`
	PaymentDetails string                `json:"payment_details,omitempty" validate:"omitempty,max=512"`
	Priority       int                   `json:"priority"` // higher = served first
	BasePriority   int                   `json:"base_priority"`
	Status         ItemStatus            `json:"status" validate:"required,oneof=pending matched processing completed failed"`
	Criteria       *MatchingCriteria     `json:"criteria,omitempty"`
	Optimization   *OptimizationMetadata `json:"optimization,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	MatchedAt      *time.Time            `json:"matched_at,omitempty"`
	CompletedAt    *time.Time            `json:"completed_at,omitempty"`
	FailReason     string                `json:"fail_reason,omitempty"`
}

// Tolerance returns the item's relative amount tolerance, or def when unset.
func (q *QueueItem) Tolerance(def decimal.Decimal) decimal.Decimal {
	if q.Criteria == nil || q.Criteria.AmountTolerance.IsZero() {
		return def
	}
	return q.Criteria.AmountTolerance
}

// Risk returns the item's assigned risk profile, defaulting to medium.
func (q *QueueItem) Risk() RiskProfile {
	if q.Criteria == nil || q.Criteria.RiskProfile == "" {
		return RiskMedium
	}
	return q.Criteria.RiskProfile
}

// RequeueReset returns the item to the pending pool after a failed settlement
// or recovery sweep. The priority bump is capped so repeated failures cannot
// starve everything else.
func (q *QueueItem) RequeueReset(bump, cap int) {
	q.Status = ItemPending
	q.MatchedAt = nil
	p := q.Priority + bump
	if max := q.BasePriority + cap; p > max {
		p = max
	}
	q.Priority = p
}

// MatchStatus is the lifecycle state of a match result.
type MatchStatus string

const (
	MatchPending    MatchStatus = "pending"
	MatchProcessing MatchStatus = "processing"
	MatchCompleted  MatchStatus = "completed"
	MatchFailed     MatchStatus = "failed"
)

// Terminal reports whether the match can no longer change state.
func (s MatchStatus) Terminal() bool {
	return s == MatchCompleted || s == MatchFailed
}

// MatchResult pairs exactly one withdrawal with exactly one deposit.
type MatchResult struct {
	ID           uuid.UUID       `json:"id" validate:"required,uuid"`
	WithdrawalID uuid.UUID       `json:"withdrawal_id" validate:"required,uuid"`
	DepositID    uuid.UUID       `json:"deposit_id" validate:"required,uuid"`
	Amount       decimal.Decimal `json:"amount"`
	MatchScore   float64         `json:"match_score"` // 0..100
	Status       MatchStatus     `json:"status" validate:"required,oneof=pending processing completed failed"`
	FailReason   string          `json:"fail_reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// QueueStats is a derived point-in-time snapshot; never authoritative.
type QueueStats struct {
	PendingWithdrawals int64         `json:"pending_withdrawals"`
	PendingDeposits    int64         `json:"pending_deposits"`
	Submitted          int64         `json:"submitted"`
	Matched            int64         `json:"matched"`
	Completed          int64         `json:"completed"`
	Failed             int64         `json:"failed"`
	Cancelled          int64         `json:"cancelled"`
	Expired            int64         `json:"expired"`
	RiskVetoes         int64         `json:"risk_vetoes"`
	SuccessRate        float64       `json:"success_rate"` // completed / matched
	AvgWait            time.Duration `json:"avg_wait"`
	P95Wait            time.Duration `json:"p95_wait"`
	CacheHits          int64         `json:"cache_hits"`
	CacheMisses        int64         `json:"cache_misses"`
	CacheHitRate       float64       `json:"cache_hit_rate"`
	NotificationDrops  int64         `json:"notification_drops"`
	GeneratedAt        time.Time     `json:"generated_at"`
}

// SubmitRequest is the raw submission DTO accepted by the API before validation.
type SubmitRequest struct {
	Direction      string            `json:"direction" binding:"required" validate:"required,oneof=withdrawal deposit"`
	AccountID      string            `json:"account_id" binding:"required" validate:"required,uuid"`
	Amount         string            `json:"amount" binding:"required" validate:"required"`
	PaymentMethod  string            `json:"payment_method" binding:"required" validate:"required,min=1,max=64"`
	PaymentDetails string            `json:"payment_details" validate:"omitempty,max=512"`
	Priority       int               `json:"priority" validate:"omitempty,min=0,max=1000"`
	Criteria       *MatchingCriteria `json:"criteria,omitempty"`
}

// ItemFilter narrows Query API listings of queue items.
type ItemFilter struct {
	Direction     Direction       `form:"direction" json:"direction" validate:"omitempty,oneof=withdrawal deposit"`
	Status        ItemStatus      `form:"status" json:"status" validate:"omitempty,oneof=pending matched processing completed failed"`
	AccountID     uuid.UUID       `form:"-" json:"account_id"`
	PaymentMethod string          `form:"payment_method" json:"payment_method"`
	MinAmount     decimal.Decimal `form:"-" json:"min_amount"`
	MaxAmount     decimal.Decimal `form:"-" json:"max_amount"`
	Limit         int             `form:"limit" json:"limit" validate:"omitempty,min=1,max=1000"`
}

// Matches reports whether item passes every set filter field.
func (f *ItemFilter) Matches(item *QueueItem) bool {
	if f.Direction != "" && item.Direction != f.Direction {
		return false
	}
	if f.Status != "" && item.Status != f.Status {
		return false
	}
	if f.AccountID != uuid.Nil && item.AccountID != f.AccountID {
		return false
	}
	if f.PaymentMethod != "" && item.PaymentMethod != f.PaymentMethod {
		return false
	}
	if !f.MinAmount.IsZero() && item.Amount.LessThan(f.MinAmount) {
		return false
	}
	if !f.MaxAmount.IsZero() && item.Amount.GreaterThan(f.MaxAmount) {
		return false
	}
	return true
}

// MatchFilter narrows Query API listings of match results.
type MatchFilter struct {
	Status MatchStatus `form:"status" json:"status" validate:"omitempty,oneof=pending processing completed failed"`
	Limit  int         `form:"limit" json:"limit" validate:"omitempty,min=1,max=1000"`
}
