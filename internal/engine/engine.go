package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/domain"
)

// OutcomeSink receives each finalized trace outcome exactly once.
// Publish is called on the goroutine that finalized the trace and must
// not block; sinks that do real work buffer internally.
type OutcomeSink interface {
	Publish(outcome *domain.TraceOutcome)
}

// Config configures one engine instance
type Config struct {
	RunID    uuid.UUID
	Pipeline *domain.Pipeline

	// StageDeadlineMs is how long a trace may go without a new arrival
	// before a sweep finalizes it as timed out.
	StageDeadlineMs int64
	// SweepIntervalMs is the sweep period. Defaults to 1000.
	SweepIntervalMs int64
	// BucketBoundsMs overrides the histogram bucket bounds. Must be
	// ascending and positive. Empty selects DefaultBucketBoundsMs.
	BucketBoundsMs []int64
	// TombstoneRetentionMs is how long finalized trace ids are
	// remembered for reentry detection. Defaults to StageDeadlineMs.
	TombstoneRetentionMs int64

	// Clock defaults to the system clock. Tests inject a ManualClock.
	Clock  Clock
	Logger *zap.Logger
}

// Engine correlates stage events for a single run: it owns the trace
// registry, the stats aggregator, the recorder and the timeout
// sweeper, and fans finalized outcomes out to attached sinks. A
// process hosts one engine per active run, constructed explicitly.
type Engine struct {
	runID      uuid.UUID
	pipeline   *domain.Pipeline
	registry   *Registry
	stats      *Aggregator
	recorder   *Recorder
	sweeper    *Sweeper
	clock      Clock
	log        *zap.Logger
	deadlineMs int64
	sinks      []OutcomeSink
}

// New builds an engine from the config. The engine is inert until
// Start launches its sweeper; Record works either way.
func New(cfg Config) (*Engine, error) {
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if cfg.StageDeadlineMs <= 0 {
		return nil, fmt.Errorf("stage deadline must be positive, got %d", cfg.StageDeadlineMs)
	}
	if cfg.SweepIntervalMs == 0 {
		cfg.SweepIntervalMs = 1000
	}
	if cfg.SweepIntervalMs < 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %d", cfg.SweepIntervalMs)
	}
	if len(cfg.BucketBoundsMs) > 0 && !validBucketBounds(cfg.BucketBoundsMs) {
		return nil, fmt.Errorf("histogram bucket bounds must be ascending and positive")
	}
	if cfg.TombstoneRetentionMs <= 0 {
		cfg.TombstoneRetentionMs = cfg.StageDeadlineMs
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	log := cfg.Logger.With(zap.String("runId", cfg.RunID.String()))

	registry := NewRegistry(cfg.Pipeline.Len(), cfg.TombstoneRetentionMs)
	stats := NewAggregator(cfg.Pipeline, cfg.BucketBoundsMs)

	e := &Engine{
		runID:      cfg.RunID,
		pipeline:   cfg.Pipeline,
		registry:   registry,
		stats:      stats,
		recorder:   NewRecorder(cfg.Pipeline, registry, stats, log),
		clock:      cfg.Clock,
		log:        log,
		deadlineMs: cfg.StageDeadlineMs,
	}
	e.sweeper = newSweeper(e, time.Duration(cfg.SweepIntervalMs)*time.Millisecond, log)

	return e, nil
}

// AttachSink registers an outcome sink. Not safe to call once Record
// or Start may run concurrently; wire sinks during construction.
func (e *Engine) AttachSink(s OutcomeSink) {
	e.sinks = append(e.sinks, s)
}

// Start launches the timeout sweeper
func (e *Engine) Start(ctx context.Context) {
	e.sweeper.Start(ctx)
}

// Record folds one stage event into the run. The returned error marks
// a rejected event (unknown stage, bad trace id, bad timestamp); it
// never reflects engine failure and the caller reports it per event.
func (e *Engine) Record(ev domain.StageEvent) (domain.RecordResult, error) {
	now := e.clock.NowMillis()

	out, err := e.recorder.OnStageArrival(ev.TraceID, ev.Stage, ev.TimestampMs, now)
	if err != nil {
		return "", err
	}

	if out.Finalized != nil {
		e.publish(out.Finalized)
	}
	return out.Result, nil
}

// SweepNow runs one timeout sweep and returns how many traces it
// finalized. Each swept trace is aggregated and published
// independently, so one entry cannot block the rest.
func (e *Engine) SweepNow() int {
	now := e.clock.NowMillis()

	swept := e.registry.SweepTimeouts(now, e.deadlineMs)
	for _, f := range swept {
		e.stats.Ingest(f)
		e.publish(f)
	}
	return len(swept)
}

// Drain force-finalizes every in-flight trace as timed out. Called
// when a run stops so its outcome totals account for every trace ever
// seen.
func (e *Engine) Drain() int {
	now := e.clock.NowMillis()

	swept := e.registry.SweepTimeouts(now, -1)
	for _, f := range swept {
		e.stats.Ingest(f)
		e.publish(f)
	}
	if len(swept) > 0 {
		e.log.Info("drained in-flight traces", zap.Int("count", len(swept)))
	}
	return len(swept)
}

// Stop halts the sweeper; an in-flight sweep completes first. Traces
// still in flight stay in the registry until Drain.
func (e *Engine) Stop() {
	e.sweeper.Stop()
}

// Snapshot returns the current aggregated report
func (e *Engine) Snapshot() domain.ReportView {
	return e.stats.Snapshot()
}

// InFlight returns the number of live traces
func (e *Engine) InFlight() int64 {
	return e.registry.InFlightCount()
}

// RunID returns the run this engine belongs to
func (e *Engine) RunID() uuid.UUID {
	return e.runID
}

// Pipeline returns the configured pipeline
func (e *Engine) Pipeline() *domain.Pipeline {
	return e.pipeline
}

// publish converts a finalized snapshot to the outcome record and
// hands it to every sink. Runs outside any registry lock.
func (e *Engine) publish(f *Finalized) {
	if len(e.sinks) == 0 {
		return
	}

	oc := e.outcomeFrom(f)
	for _, s := range e.sinks {
		s.Publish(oc)
	}
}

func (e *Engine) outcomeFrom(f *Finalized) *domain.TraceOutcome {
	oc := &domain.TraceOutcome{
		RunID:             e.runID,
		TraceID:           f.TraceID,
		Status:            f.Status,
		OutOfOrder:        f.OutOfOrder,
		DuplicateArrivals: f.Duplicates,
		ArrivalCount:      uint32(f.ArrivedCount),
		StageCount:        uint32(len(f.Arrivals)),
		FinalizedAt:       time.UnixMilli(f.FinalizedAtMs),
	}

	first, last := int64(-1), int64(-1)
	for _, ts := range f.Arrivals {
		if ts < 0 {
			continue
		}
		if first < 0 || ts < first {
			first = ts
		}
		if ts > last {
			last = ts
		}
	}
	if first >= 0 {
		oc.FirstArrivalMs = first
		oc.LastArrivalMs = last
	}

	if f.ArrivedCount == len(f.Arrivals) && len(f.Arrivals) > 0 {
		d := f.Arrivals[len(f.Arrivals)-1] - f.Arrivals[0]
		if d < 0 {
			d = 0
		}
		oc.EndToEndMs = &d
	}

	return oc
}
