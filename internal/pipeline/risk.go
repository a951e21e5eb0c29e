package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/peerflow/matchengine/pkg/errors"
	"github.com/peerflow/matchengine/pkg/models"
)

// SignalProvider supplies the caller-side risk signal for an account.
type SignalProvider interface {
	AccountRiskScore(ctx context.Context, accountID uuid.UUID) (int, error)
}

// StaticSignals is a SignalProvider backed by a fixed table; accounts not in
// the table get the default score. Used in tests and as a stand-in until an
// external scorer is wired.
type StaticSignals struct {
	Scores  map[uuid.UUID]int
	Default int
}

func (s *StaticSignals) AccountRiskScore(_ context.Context, accountID uuid.UUID) (int, error) {
	if score, ok := s.Scores[accountID]; ok {
		return score, nil
	}
	return s.Default, nil
}

// Risk score bands mapped onto profiles.
const (
	riskLowBelow    = 30
	riskMediumBelow = 60
)

// methodRiskWeights reflects the fraud exposure of each payment rail.
var methodRiskWeights = map[string]int{
	"cash":   10,
	"crypto": 15,
}

// RiskStep assigns a risk profile from account signals, amount and payment
// method, and vetoes submissions above the configured score ceiling.
type RiskStep struct {
	Signals        SignalProvider
	MaxScore       int
	LargeAmount    decimal.Decimal // adds a score band above this
	ModerateAmount decimal.Decimal
}

// NewRiskStep builds a risk step with the given ceiling; amounts default to
// 1000/10000 bands.
func NewRiskStep(signals SignalProvider, maxScore int) *RiskStep {
	return &RiskStep{
		Signals:        signals,
		MaxScore:       maxScore,
		ModerateAmount: decimal.NewFromInt(1000),
		LargeAmount:    decimal.NewFromInt(10000),
	}
}

func (s *RiskStep) Name() string { return "risk" }

func (s *RiskStep) Enrich(ctx context.Context, item *models.QueueItem) (bool, error) {
	base, err := s.Signals.AccountRiskScore(ctx, item.AccountID)
	if err != nil {
		return false, err // fail-open in the runner
	}

	score := base
	var factors []string
	if item.Amount.GreaterThanOrEqual(s.LargeAmount) {
		score += 20
		factors = append(factors, "large_amount")
	} else if item.Amount.GreaterThanOrEqual(s.ModerateAmount) {
		score += 10
		factors = append(factors, "moderate_amount")
	}
	if w, ok := methodRiskWeights[item.PaymentMethod]; ok {
		score += w
		factors = append(factors, "method_"+item.PaymentMethod)
	}

	if s.MaxScore > 0 && score > s.MaxScore {
		return true, errors.NewRiskRejected(score, factors...)
	}

	profile := models.RiskHigh
	switch {
	case score < riskLowBelow:
		profile = models.RiskLow
	case score < riskMediumBelow:
		profile = models.RiskMedium
	}
	if item.Criteria == nil {
		item.Criteria = &models.MatchingCriteria{}
	}
	// A submitter-declared profile is never downgraded below the assessed one.
	if item.Criteria.RiskProfile == "" || riskRank(profile) > riskRank(item.Criteria.RiskProfile) {
		item.Criteria.RiskProfile = profile
	}
	item.Optimization.RiskScore = score
	return false, nil
}

func riskRank(p models.RiskProfile) int {
	switch p {
	case models.RiskLow:
		return 0
	case models.RiskMedium:
		return 1
	case models.RiskHigh:
		return 2
	}
	return 1
}
