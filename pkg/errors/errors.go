// Package errors defines the typed error taxonomy of the matching engine.
// Every error a caller can act on has its own type so the API layer and tests
// can dispatch on kind with errors.As.
package errors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Standard error functions re-exported for callers of this package.
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
	New    = errors.New
)

// ValidationError rejects a malformed submission. Surfaced synchronously,
// no state change.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %q: %s", e.Field, e.Message)
}

func NewValidation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// RiskRejectedError is an optimization-pipeline veto. The item never enters
// the pending pool.
type RiskRejectedError struct {
	Score   int      `json:"score"`
	Factors []string `json:"factors,omitempty"`
}

func (e *RiskRejectedError) Error() string {
	return fmt.Sprintf("risk check rejected submission (score %d)", e.Score)
}

func NewRiskRejected(score int, factors ...string) *RiskRejectedError {
	return &RiskRejectedError{Score: score, Factors: factors}
}

// ConflictError reports an operation against an item in an incompatible
// state, e.g. cancelling an already-matched item.
type ConflictError struct {
	ID    uuid.UUID `json:"id"`
	State string    `json:"state"`
	Op    string    `json:"op"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cannot %s item %s in state %q", e.Op, e.ID, e.State)
}

func NewConflict(id uuid.UUID, state, op string) *ConflictError {
	return &ConflictError{ID: id, State: state, Op: op}
}

// NotFoundError reports a lookup miss against either store or pool.
type NotFoundError struct {
	Kind string    `json:"kind"` // "item" or "match"
	ID   uuid.UUID `json:"id"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func NewNotFound(kind string, id uuid.UUID) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// SettlementError wraps a ledger call-out failure. Recovered internally by
// requeueing both sides; never surfaced to the original submitter.
type SettlementError struct {
	MatchID uuid.UUID
	Stage   string // "debit" or "credit"
	Err     error
}

func (e *SettlementError) Error() string {
	return fmt.Sprintf("settlement %s failed for match %s: %v", e.Stage, e.MatchID, e.Err)
}

func (e *SettlementError) Unwrap() error { return e.Err }

func NewSettlement(matchID uuid.UUID, stage string, err error) *SettlementError {
	return &SettlementError{MatchID: matchID, Stage: stage, Err: err}
}

// IntegrityViolation signals a broken concurrency invariant: the same queue
// item observed in two active matches. Fatal for the affected items.
type IntegrityViolation struct {
	ItemID   uuid.UUID
	MatchIDs []uuid.UUID
}

func (e *IntegrityViolation) Error() string {
	return fmt.Sprintf("integrity violation: item %s appears in %d active matches", e.ItemID, len(e.MatchIDs))
}

func NewIntegrityViolation(itemID uuid.UUID, matchIDs ...uuid.UUID) *IntegrityViolation {
	return &IntegrityViolation{ItemID: itemID, MatchIDs: matchIDs}
}
