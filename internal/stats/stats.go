// Package stats keeps incremental counters over engine state transitions and
// produces point-in-time QueueStats snapshots without scanning the pool under
// its lock. Counters are mirrored to prometheus.
package stats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/peerflow/matchengine/pkg/models"
)

// waitWindow bounds the rolling sample used for wait-time percentiles.
const waitWindow = 1024

// DepthFunc reports current pool depths; called on snapshot, O(1) per pool.
type DepthFunc func() (withdrawals, deposits int)

// Aggregator accumulates engine counters. All methods are safe for
// concurrent use; recording never blocks the match path beyond an atomic add.
type Aggregator struct {
	depths DepthFunc

	submitted  atomic.Int64
	matched    atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	cancelled  atomic.Int64
	expired    atomic.Int64
	riskVetoes atomic.Int64

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	notifDrops  atomic.Int64

	waitMu    sync.Mutex
	waits     []time.Duration
	waitIdx   int
	waitCount int

	promSubmitted prometheus.Counter
	promMatched   prometheus.Counter
	promCompleted prometheus.Counter
	promFailed    prometheus.Counter
	promWait      prometheus.Histogram
}

// NewAggregator creates an aggregator; reg may be nil to skip prometheus
// registration (tests).
func NewAggregator(depths DepthFunc, reg prometheus.Registerer) *Aggregator {
	a := &Aggregator{
		depths: depths,
		waits:  make([]time.Duration, waitWindow),
		promSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchengine_items_submitted_total",
			Help: "Queue items accepted into the pending pool.",
		}),
		promMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchengine_matches_declared_total",
			Help: "Match results declared by the matcher.",
		}),
		promCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchengine_matches_completed_total",
			Help: "Match results settled successfully.",
		}),
		promFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "matchengine_matches_failed_total",
			Help: "Match results that failed settlement.",
		}),
		promWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "matchengine_match_wait_seconds",
			Help:    "Time from item submission to match declaration.",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(a.promSubmitted, a.promMatched, a.promCompleted, a.promFailed, a.promWait)
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "matchengine_pool_depth_withdrawals",
			Help: "Pending withdrawals in the pool.",
		}, func() float64 { w, _ := depths(); return float64(w) }))
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "matchengine_pool_depth_deposits",
			Help: "Pending deposits in the pool.",
		}, func() float64 { _, d := depths(); return float64(d) }))
	}
	return a
}

// RecordSubmitted counts an accepted item, including its cache-hit outcome.
func (a *Aggregator) RecordSubmitted(item *models.QueueItem) {
	a.submitted.Add(1)
	a.promSubmitted.Inc()
	if item.Optimization != nil {
		if item.Optimization.CacheHit {
			a.cacheHits.Add(1)
		} else {
			a.cacheMisses.Add(1)
		}
	}
}

// RecordRiskVeto counts a pipeline veto.
func (a *Aggregator) RecordRiskVeto() { a.riskVetoes.Add(1) }

// RecordMatched counts a declared match and samples both sides' wait times.
func (a *Aggregator) RecordMatched(waits ...time.Duration) {
	a.matched.Add(1)
	a.promMatched.Inc()
	a.waitMu.Lock()
	for _, w := range waits {
		a.waits[a.waitIdx] = w
		a.waitIdx = (a.waitIdx + 1) % waitWindow
		if a.waitCount < waitWindow {
			a.waitCount++
		}
		a.promWait.Observe(w.Seconds())
	}
	a.waitMu.Unlock()
}

// RecordCompleted counts a settled match.
func (a *Aggregator) RecordCompleted() {
	a.completed.Add(1)
	a.promCompleted.Inc()
}

// RecordFailed counts a failed settlement.
func (a *Aggregator) RecordFailed() {
	a.failed.Add(1)
	a.promFailed.Inc()
}

// RecordCancelled counts an owner cancellation.
func (a *Aggregator) RecordCancelled() { a.cancelled.Add(1) }

// RecordExpired counts a TTL expiry.
func (a *Aggregator) RecordExpired() { a.expired.Add(1) }

// RecordNotificationDrop counts an undeliverable event.
func (a *Aggregator) RecordNotificationDrop() { a.notifDrops.Add(1) }

// Snapshot computes the current QueueStats. Bounded staleness: pool depths
// are read at call time, wait percentiles come from the rolling window.
func (a *Aggregator) Snapshot() models.QueueStats {
	w, d := a.depths()

	a.waitMu.Lock()
	sample := make([]time.Duration, a.waitCount)
	copy(sample, a.waits[:a.waitCount])
	a.waitMu.Unlock()

	var avg, p95 time.Duration
	if len(sample) > 0 {
		sort.Slice(sample, func(i, j int) bool { return sample[i] < sample[j] })
		var total time.Duration
		for _, s := range sample {
			total += s
		}
		avg = total / time.Duration(len(sample))
		idx := (len(sample) * 95) / 100
		if idx >= len(sample) {
			idx = len(sample) - 1
		}
		p95 = sample[idx]
	}

	matched := a.matched.Load()
	completed := a.completed.Load()
	successRate := 0.0
	if matched > 0 {
		successRate = float64(completed) / float64(matched)
	}
	hits := a.cacheHits.Load()
	misses := a.cacheMisses.Load()
	hitRate := 0.0
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses)
	}

	return models.QueueStats{
		PendingWithdrawals: int64(w),
		PendingDeposits:    int64(d),
		Submitted:          a.submitted.Load(),
		Matched:            matched,
		Completed:          completed,
		Failed:             a.failed.Load(),
		Cancelled:          a.cancelled.Load(),
		Expired:            a.expired.Load(),
		RiskVetoes:         a.riskVetoes.Load(),
		SuccessRate:        successRate,
		AvgWait:            avg,
		P95Wait:            p95,
		CacheHits:          hits,
		CacheMisses:        misses,
		CacheHitRate:       hitRate,
		NotificationDrops:  a.notifDrops.Load(),
		GeneratedAt:        time.Now().UTC(),
	}
}
