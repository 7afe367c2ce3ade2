package engine

import (
	"math"
	"sync/atomic"

	"github.com/stagewatch/stagewatch/internal/domain"
)

// runningStats is one lock-free latency aggregate: exact count/min/max
// plus a bucket histogram for percentile estimates.
type runningStats struct {
	count atomic.Int64
	min   atomic.Int64
	max   atomic.Int64
	hist  *histogram
}

func newRunningStats(bounds []int64) *runningStats {
	s := &runningStats{hist: newHistogram(bounds)}
	s.min.Store(math.MaxInt64)
	s.max.Store(-1)
	return s
}

// observe records one duration. v must be non-negative (the aggregator
// clamps skewed durations before calling). The count is bumped last so
// a concurrent snapshot that sees count > 0 also sees min and max set.
func (s *runningStats) observe(v int64) {
	for {
		cur := s.min.Load()
		if v >= cur || s.min.CompareAndSwap(cur, v) {
			break
		}
	}
	for {
		cur := s.max.Load()
		if v <= cur || s.max.CompareAndSwap(cur, v) {
			break
		}
	}
	s.hist.record(v)
	s.count.Add(1)
}

func (s *runningStats) snapshot() domain.StageStats {
	count := s.count.Load()
	if count == 0 {
		return domain.StageStats{}
	}

	minV := s.min.Load()
	maxV := s.max.Load()
	if minV == math.MaxInt64 {
		minV = 0
	}
	if maxV < 0 {
		maxV = 0
	}

	counts := s.hist.snapshotCounts()
	p50 := percentileFromCounts(s.hist.bounds, counts, 0.50, maxV)
	p95 := percentileFromCounts(s.hist.bounds, counts, 0.95, maxV)
	p99 := percentileFromCounts(s.hist.bounds, counts, 0.99, maxV)

	clamp := func(p float64) float64 {
		if p < float64(minV) {
			return float64(minV)
		}
		if p > float64(maxV) {
			return float64(maxV)
		}
		return p
	}

	return domain.StageStats{
		Count: count,
		MinMs: minV,
		MaxMs: maxV,
		P50Ms: clamp(p50),
		P95Ms: clamp(p95),
		P99Ms: clamp(p99),
	}
}

// Aggregator consumes finalized traces and maintains per-transition
// and end-to-end statistics plus outcome and anomaly counters. All
// hot-path updates are atomic; the transition map is immutable after
// construction, so Ingest and Snapshot run concurrently without locks.
type Aggregator struct {
	keys        []string
	transitions map[string]*runningStats
	endToEnd    *runningStats

	completed  atomic.Int64
	timedOut   atomic.Int64
	outOfOrder atomic.Int64
	duplicates atomic.Int64

	clockSkew     atomic.Int64
	reentries     atomic.Int64
	unknownStages atomic.Int64
}

// NewAggregator builds an aggregator for the pipeline's adjacent
// transitions. Empty bucketBoundsMs selects the default bounds.
func NewAggregator(p *domain.Pipeline, bucketBoundsMs []int64) *Aggregator {
	if len(bucketBoundsMs) == 0 {
		bucketBoundsMs = DefaultBucketBoundsMs()
	}

	keys := p.TransitionKeys()
	transitions := make(map[string]*runningStats, len(keys))
	for _, k := range keys {
		transitions[k] = newRunningStats(bucketBoundsMs)
	}

	return &Aggregator{
		keys:        keys,
		transitions: transitions,
		endToEnd:    newRunningStats(bucketBoundsMs),
	}
}

// Ingest folds one finalized trace into the aggregates. Transition
// durations are computed for every adjacent stage pair where both
// timestamps are present, so partially-arrived timed-out traces still
// contribute what they have. End-to-end requires the full arrival set.
// Negative durations indicate producer clock skew: they are clamped to
// zero and counted, never propagated.
func (a *Aggregator) Ingest(f *Finalized) {
	for i := 1; i < len(f.Arrivals); i++ {
		from, to := f.Arrivals[i-1], f.Arrivals[i]
		if from < 0 || to < 0 {
			continue
		}
		d := to - from
		if d < 0 {
			d = 0
			a.clockSkew.Add(1)
		}
		a.transitions[a.keys[i-1]].observe(d)
	}

	if f.ArrivedCount == len(f.Arrivals) && len(f.Arrivals) > 0 {
		d := f.Arrivals[len(f.Arrivals)-1] - f.Arrivals[0]
		if d < 0 {
			d = 0
			a.clockSkew.Add(1)
		}
		a.endToEnd.observe(d)
	}

	switch f.Status {
	case domain.TraceStatusCompleted:
		a.completed.Add(1)
	case domain.TraceStatusOutOfOrder:
		// Full arrival set assembled despite the inversion: counts as
		// completed, additionally flagged out of order.
		a.completed.Add(1)
		a.outOfOrder.Add(1)
	case domain.TraceStatusTimedOut:
		a.timedOut.Add(1)
	}
}

// RecordDuplicate counts a duplicate stage arrival
func (a *Aggregator) RecordDuplicate() {
	a.duplicates.Add(1)
}

// RecordReentry counts an arrival for an already-finalized trace. It
// surfaces as a duplicate in outcomes and as an anomaly.
func (a *Aggregator) RecordReentry() {
	a.duplicates.Add(1)
	a.reentries.Add(1)
}

// RecordUnknownStage counts an event naming a stage outside the pipeline
func (a *Aggregator) RecordUnknownStage() {
	a.unknownStages.Add(1)
}

// Snapshot returns a point-in-time copy of all statistics, safe to
// call while ingestion continues.
func (a *Aggregator) Snapshot() domain.ReportView {
	per := make(map[string]domain.StageStats, len(a.keys))
	for _, k := range a.keys {
		per[k] = a.transitions[k].snapshot()
	}

	return domain.ReportView{
		PerTransition: per,
		EndToEnd:      a.endToEnd.snapshot(),
		Outcomes: domain.Outcomes{
			Completed:         a.completed.Load(),
			TimedOut:          a.timedOut.Load(),
			OutOfOrder:        a.outOfOrder.Load(),
			DuplicateArrivals: a.duplicates.Load(),
		},
		Anomalies: domain.Anomalies{
			ClockSkew:          a.clockSkew.Load(),
			FinalizedReentries: a.reentries.Load(),
			UnknownStages:      a.unknownStages.Load(),
		},
	}
}
