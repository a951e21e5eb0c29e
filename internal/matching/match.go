// Package matching implements the matcher and the engine that ties the
// pending pool, enrichment pipeline, settlement and notification together.
package matching

import (
	"github.com/shopspring/decimal"

	"github.com/peerflow/matchengine/internal/config"
	"github.com/peerflow/matchengine/pkg/models"
)

// Config is the parsed matcher configuration.
type Config struct {
	// DefaultTolerance applies when an item declares none; zero means
	// exact-amount matching.
	DefaultTolerance decimal.Decimal
	// ScoreEpsilon is the significance threshold: a candidate must beat the
	// incumbent by more than this many score points to displace it,
	// otherwise priority then age decide.
	ScoreEpsilon   float64
	AmountWeight   float64
	MethodWeight   float64
	PriorityWeight float64
	// RiskPolicy maps each profile to the set of profiles it may match.
	RiskPolicy map[models.RiskProfile]map[models.RiskProfile]bool
}

// ParseConfig converts the raw configuration into matcher terms.
func ParseConfig(raw config.MatchingConfig) (Config, error) {
	tol, err := decimal.NewFromString(raw.DefaultTolerance)
	if err != nil {
		return Config{}, err
	}
	policy := make(map[models.RiskProfile]map[models.RiskProfile]bool, len(raw.RiskPolicy))
	for from, tos := range raw.RiskPolicy {
		set := make(map[models.RiskProfile]bool, len(tos))
		for _, to := range tos {
			set[models.RiskProfile(to)] = true
		}
		policy[models.RiskProfile(from)] = set
	}
	return Config{
		DefaultTolerance: tol,
		ScoreEpsilon:     raw.ScoreEpsilon,
		AmountWeight:     raw.AmountWeight,
		MethodWeight:     raw.MethodWeight,
		PriorityWeight:   raw.PriorityWeight,
		RiskPolicy:       policy,
	}, nil
}

// effectiveTolerance is the stricter of both sides' tolerances.
func (c Config) effectiveTolerance(a, b *models.QueueItem) decimal.Decimal {
	ta := a.Tolerance(c.DefaultTolerance)
	tb := b.Tolerance(c.DefaultTolerance)
	if ta.LessThan(tb) {
		return ta
	}
	return tb
}

// relativeDiff is |a.Amount - b.Amount| / max(a.Amount, b.Amount).
func relativeDiff(a, b *models.QueueItem) decimal.Decimal {
	max := a.Amount
	if b.Amount.GreaterThan(max) {
		max = b.Amount
	}
	return a.Amount.Sub(b.Amount).Abs().Div(max)
}

// Compatible reports whether two opposite-direction items may be paired.
func (c Config) Compatible(a, b *models.QueueItem) bool {
	if a.Direction == b.Direction {
		return false
	}
	if a.Status != models.ItemPending || b.Status != models.ItemPending {
		return false
	}

	// Amount within the stricter tolerance. An exact boundary value matches.
	tol := c.effectiveTolerance(a, b)
	if tol.IsZero() {
		if !a.Amount.Equal(b.Amount) {
			return false
		}
	} else if relativeDiff(a, b).GreaterThan(tol) {
		return false
	}

	// Payment methods must be mutually acceptable.
	if !a.Criteria.PrefersMethod(b.PaymentMethod) || !b.Criteria.PrefersMethod(a.PaymentMethod) {
		return false
	}

	// Risk compatibility in both directions.
	if !c.riskAllowed(a.Risk(), b.Risk()) || !c.riskAllowed(b.Risk(), a.Risk()) {
		return false
	}
	return true
}

func (c Config) riskAllowed(from, to models.RiskProfile) bool {
	set, ok := c.RiskPolicy[from]
	if !ok {
		// Unconfigured profile: only same-profile pairing.
		return from == to
	}
	return set[to]
}

// Score rates a compatible pair 0..100. Deterministic for identical inputs
// and monotonic in amount-closeness: a smaller relative difference never
// scores lower.
func (c Config) Score(a, b *models.QueueItem) float64 {
	// Amount closeness: 100 at exact match, falling linearly to 0 at the
	// tolerance boundary.
	closeness := 100.0
	diff := relativeDiff(a, b)
	if !diff.IsZero() {
		tol := c.effectiveTolerance(a, b)
		if tol.IsZero() {
			closeness = 0
		} else {
			ratio, _ := diff.Div(tol).Float64()
			closeness = 100 * (1 - ratio)
			if closeness < 0 {
				closeness = 0
			}
		}
	}

	// Method bonus: identical rails settle cleanest; mutually acceptable
	// but different rails still score.
	method := 60.0
	if a.PaymentMethod == b.PaymentMethod {
		method = 100.0
	}

	// Priority alignment: closer priorities pair better.
	prioDelta := a.Priority - b.Priority
	if prioDelta < 0 {
		prioDelta = -prioDelta
	}
	prio := 100.0 - float64(prioDelta)*10
	if prio < 0 {
		prio = 0
	}

	return c.AmountWeight*closeness + c.MethodWeight*method + c.PriorityWeight*prio
}

// SelectCandidate picks the best counterparty for item from candidates, which
// must already be ordered by priority descending then age ascending (the pool
// scan order). The incumbent is only displaced by a score more than
// ScoreEpsilon better, so marginal score differences never beat priority or
// waiting time.
func (c Config) SelectCandidate(item *models.QueueItem, candidates []*models.QueueItem) (*models.QueueItem, float64) {
	var best *models.QueueItem
	var bestScore float64
	for _, cand := range candidates {
		if !c.Compatible(item, cand) {
			continue
		}
		score := c.Score(item, cand)
		if best == nil || score > bestScore+c.ScoreEpsilon {
			best = cand
			bestScore = score
		}
	}
	return best, bestScore
}
