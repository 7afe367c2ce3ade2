package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/domain"
)

// captureSink records every published outcome for assertions
type captureSink struct {
	mu       sync.Mutex
	outcomes []*domain.TraceOutcome
	byTrace  map[string]int
}

func newCaptureSink() *captureSink {
	return &captureSink{byTrace: make(map[string]int)}
}

func (c *captureSink) Publish(oc *domain.TraceOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, oc)
	c.byTrace[oc.TraceID]++
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outcomes)
}

func (c *captureSink) forTrace(traceID string) (*domain.TraceOutcome, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var last *domain.TraceOutcome
	for _, oc := range c.outcomes {
		if oc.TraceID == traceID {
			last = oc
		}
	}
	return last, c.byTrace[traceID]
}

func newTestEngine(t *testing.T, clock Clock, deadlineMs int64, stages ...string) (*Engine, *captureSink) {
	t.Helper()

	p, err := domain.NewPipeline(stages)
	require.NoError(t, err)

	e, err := New(Config{
		RunID:           uuid.New(),
		Pipeline:        p,
		StageDeadlineMs: deadlineMs,
		SweepIntervalMs: 10,
		Clock:           clock,
		Logger:          zap.NewNop(),
	})
	require.NoError(t, err)

	sink := newCaptureSink()
	e.AttachSink(sink)
	return e, sink
}

func record(t *testing.T, e *Engine, traceID, stage string, tsMs int64) domain.RecordResult {
	t.Helper()
	res, err := e.Record(domain.StageEvent{TraceID: traceID, Stage: stage, TimestampMs: tsMs})
	require.NoError(t, err)
	return res
}

func TestEngineInOrderCompletion(t *testing.T) {
	clock := NewManualClock(0)
	e, sink := newTestEngine(t, clock, 1000, "ingest", "transform", "sink")

	assert.Equal(t, domain.RecordResultCreated, record(t, e, "t1", "ingest", 0))
	clock.Set(200)
	assert.Equal(t, domain.RecordResultUpdated, record(t, e, "t1", "transform", 200))
	clock.Set(500)
	assert.Equal(t, domain.RecordResultFinalized, record(t, e, "t1", "sink", 500))

	assert.Equal(t, int64(0), e.InFlight())

	view := e.Snapshot()
	assert.Equal(t, int64(200), view.PerTransition["ingest_transform"].MinMs)
	assert.Equal(t, int64(300), view.PerTransition["transform_sink"].MinMs)
	assert.Equal(t, int64(500), view.EndToEnd.MinMs)
	assert.Equal(t, int64(500), view.EndToEnd.MaxMs)
	assert.Equal(t, int64(1), view.Outcomes.Completed)
	assert.Equal(t, int64(0), view.Outcomes.OutOfOrder)

	oc, n := sink.forTrace("t1")
	require.NotNil(t, oc)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.TraceStatusCompleted, oc.Status)
	assert.Equal(t, uint32(3), oc.ArrivalCount)
	assert.Equal(t, uint32(3), oc.StageCount)
	require.NotNil(t, oc.EndToEndMs)
	assert.Equal(t, int64(500), *oc.EndToEndMs)
	assert.Equal(t, int64(0), oc.FirstArrivalMs)
	assert.Equal(t, int64(500), oc.LastArrivalMs)
	assert.False(t, oc.OutOfOrder)
}

func TestEngineTimeout(t *testing.T) {
	clock := NewManualClock(0)
	e, sink := newTestEngine(t, clock, 1000, "ingest", "transform", "sink")

	record(t, e, "t1", "ingest", 0)
	require.Equal(t, int64(1), e.InFlight())

	// Inside the deadline nothing is stale.
	clock.Set(1000)
	assert.Equal(t, 0, e.SweepNow())

	clock.Set(1500)
	assert.Equal(t, 1, e.SweepNow())
	assert.Equal(t, int64(0), e.InFlight())

	view := e.Snapshot()
	assert.Equal(t, int64(1), view.Outcomes.TimedOut)
	assert.Equal(t, int64(0), view.Outcomes.Completed)

	oc, n := sink.forTrace("t1")
	require.NotNil(t, oc)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.TraceStatusTimedOut, oc.Status)
	assert.Equal(t, uint32(1), oc.ArrivalCount)
	assert.Nil(t, oc.EndToEndMs)
}

func TestEngineDuplicateArrival(t *testing.T) {
	clock := NewManualClock(0)
	e, sink := newTestEngine(t, clock, 1000, "ingest", "transform", "sink")

	record(t, e, "t1", "ingest", 0)
	// Retransmission with a different timestamp: the first one wins.
	assert.Equal(t, domain.RecordResultDuplicateArrival, record(t, e, "t1", "ingest", 999))
	record(t, e, "t1", "transform", 200)
	record(t, e, "t1", "sink", 500)

	view := e.Snapshot()
	assert.Equal(t, int64(1), view.Outcomes.Completed)
	assert.Equal(t, int64(1), view.Outcomes.DuplicateArrivals)
	assert.Equal(t, int64(500), view.EndToEnd.MinMs)

	oc, _ := sink.forTrace("t1")
	require.NotNil(t, oc)
	assert.Equal(t, uint32(1), oc.DuplicateArrivals)
	require.NotNil(t, oc.EndToEndMs)
	assert.Equal(t, int64(500), *oc.EndToEndMs)
}

func TestEngineOutOfOrderCompletion(t *testing.T) {
	clock := NewManualClock(0)
	e, sink := newTestEngine(t, clock, 1000, "ingest", "transform", "sink")

	// The sink event outruns the others entirely.
	assert.Equal(t, domain.RecordResultCreated, record(t, e, "t1", "sink", 100))
	assert.Equal(t, domain.RecordResultOutOfOrderRecorded, record(t, e, "t1", "ingest", 10))
	assert.Equal(t, domain.RecordResultFinalized, record(t, e, "t1", "transform", 50))

	view := e.Snapshot()
	assert.Equal(t, int64(40), view.PerTransition["ingest_transform"].MinMs)
	assert.Equal(t, int64(50), view.PerTransition["transform_sink"].MinMs)
	assert.Equal(t, int64(90), view.EndToEnd.MinMs)
	assert.Equal(t, int64(1), view.Outcomes.Completed)
	assert.Equal(t, int64(1), view.Outcomes.OutOfOrder)

	oc, _ := sink.forTrace("t1")
	require.NotNil(t, oc)
	assert.Equal(t, domain.TraceStatusOutOfOrder, oc.Status)
	assert.True(t, oc.OutOfOrder)
	require.NotNil(t, oc.EndToEndMs)
	assert.Equal(t, int64(90), *oc.EndToEndMs)
}

func TestEngineRejectedEvents(t *testing.T) {
	clock := NewManualClock(0)
	e, sink := newTestEngine(t, clock, 1000, "ingest", "sink")

	t.Run("unknown stage", func(t *testing.T) {
		_, err := e.Record(domain.StageEvent{TraceID: "t1", Stage: "enrich", TimestampMs: 10})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnknownStage)
		assert.Equal(t, int64(0), e.InFlight())
		assert.Equal(t, int64(1), e.Snapshot().Anomalies.UnknownStages)
	})

	t.Run("empty trace id", func(t *testing.T) {
		_, err := e.Record(domain.StageEvent{TraceID: "", Stage: "ingest", TimestampMs: 10})
		assert.ErrorIs(t, err, ErrInvalidTraceID)
	})

	t.Run("oversized trace id", func(t *testing.T) {
		long := make([]byte, 129)
		for i := range long {
			long[i] = 'a'
		}
		_, err := e.Record(domain.StageEvent{TraceID: string(long), Stage: "ingest", TimestampMs: 10})
		assert.ErrorIs(t, err, ErrInvalidTraceID)
	})

	t.Run("negative timestamp", func(t *testing.T) {
		_, err := e.Record(domain.StageEvent{TraceID: "t1", Stage: "ingest", TimestampMs: -5})
		assert.ErrorIs(t, err, ErrInvalidTimestamp)
	})

	// None of the rejected events created a trace or published anything.
	assert.Equal(t, int64(0), e.InFlight())
	assert.Equal(t, 0, sink.count())
}

func TestEngineFinalizedReentry(t *testing.T) {
	clock := NewManualClock(0)
	e, sink := newTestEngine(t, clock, 1000, "ingest", "sink")

	record(t, e, "t1", "ingest", 0)
	record(t, e, "t1", "sink", 100)
	require.Equal(t, int64(0), e.InFlight())

	// A straggler for the finalized trace: rejected as a duplicate, the
	// terminal trace is never reopened.
	res, err := e.Record(domain.StageEvent{TraceID: "t1", Stage: "ingest", TimestampMs: 200})
	require.NoError(t, err)
	assert.Equal(t, domain.RecordResultDuplicateArrival, res)
	assert.Equal(t, int64(0), e.InFlight())

	view := e.Snapshot()
	assert.Equal(t, int64(1), view.Outcomes.Completed)
	assert.Equal(t, int64(1), view.Outcomes.DuplicateArrivals)
	assert.Equal(t, int64(1), view.Anomalies.FinalizedReentries)

	_, n := sink.forTrace("t1")
	assert.Equal(t, 1, n)
}

func TestEngineSingleStagePipeline(t *testing.T) {
	clock := NewManualClock(0)
	e, sink := newTestEngine(t, clock, 1000, "sink")

	// The first arrival is also the completing one.
	assert.Equal(t, domain.RecordResultFinalized, record(t, e, "t1", "sink", 42))
	assert.Equal(t, int64(0), e.InFlight())

	view := e.Snapshot()
	assert.Empty(t, view.PerTransition)
	assert.Equal(t, int64(1), view.EndToEnd.Count)
	assert.Equal(t, int64(0), view.EndToEnd.MinMs)
	assert.Equal(t, int64(1), view.Outcomes.Completed)

	oc, _ := sink.forTrace("t1")
	require.NotNil(t, oc)
	require.NotNil(t, oc.EndToEndMs)
	assert.Equal(t, int64(0), *oc.EndToEndMs)
}

func TestEngineDrain(t *testing.T) {
	clock := NewManualClock(0)
	e, sink := newTestEngine(t, clock, 60000, "ingest", "transform", "sink")

	record(t, e, "t1", "ingest", 0)
	record(t, e, "t1", "transform", 50)
	record(t, e, "t2", "ingest", 10)
	record(t, e, "t3", "ingest", 20)
	record(t, e, "t3", "transform", 60)
	record(t, e, "t3", "sink", 90)
	require.Equal(t, int64(2), e.InFlight())

	// Drain ignores the deadline so a stopping run closes its books.
	assert.Equal(t, 2, e.Drain())
	assert.Equal(t, int64(0), e.InFlight())

	view := e.Snapshot()
	assert.Equal(t, int64(1), view.Outcomes.Completed)
	assert.Equal(t, int64(2), view.Outcomes.TimedOut)
	assert.Equal(t, int64(3), view.Outcomes.Completed+view.Outcomes.TimedOut)
	assert.Equal(t, 3, sink.count())

	// t1 still contributes its observed transition.
	assert.Equal(t, int64(2), view.PerTransition["ingest_transform"].Count)
	assert.Equal(t, int64(1), view.PerTransition["transform_sink"].Count)
	assert.Equal(t, int64(1), view.EndToEnd.Count)
}

func TestEngineConcurrentCompletion(t *testing.T) {
	const traces = 10000
	const workers = 8

	clock := NewManualClock(5000)
	e, sink := newTestEngine(t, clock, 60000, "ingest", "transform", "sink")

	stages := []string{"ingest", "transform", "sink"}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < traces; i += workers {
				traceID := fmt.Sprintf("trace-%05d", i)
				for si, stage := range stages {
					_, err := e.Record(domain.StageEvent{
						TraceID:     traceID,
						Stage:       stage,
						TimestampMs: int64(1000 + si*10),
					})
					assert.NoError(t, err)
				}
			}
		}(w)
	}

	// Sweeps run concurrently with ingestion; nothing is stale, so they
	// must finalize nothing and disturb nothing.
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		for i := 0; i < 50; i++ {
			e.SweepNow()
		}
	}()

	wg.Wait()
	<-sweepDone

	assert.Equal(t, int64(0), e.InFlight())

	view := e.Snapshot()
	assert.Equal(t, int64(traces), view.Outcomes.Completed)
	assert.Equal(t, int64(0), view.Outcomes.TimedOut)
	assert.Equal(t, int64(0), view.Outcomes.DuplicateArrivals)
	assert.Equal(t, int64(traces), view.EndToEnd.Count)

	require.Equal(t, traces, sink.count())
	sink.mu.Lock()
	defer sink.mu.Unlock()
	for id, n := range sink.byTrace {
		if n != 1 {
			t.Fatalf("trace %s published %d times", id, n)
		}
	}
}

func TestEngineConfigValidation(t *testing.T) {
	p, err := domain.NewPipeline([]string{"ingest", "sink"})
	require.NoError(t, err)

	t.Run("pipeline required", func(t *testing.T) {
		_, err := New(Config{StageDeadlineMs: 1000})
		assert.Error(t, err)
	})

	t.Run("deadline must be positive", func(t *testing.T) {
		_, err := New(Config{Pipeline: p})
		assert.Error(t, err)
	})

	t.Run("negative sweep interval rejected", func(t *testing.T) {
		_, err := New(Config{Pipeline: p, StageDeadlineMs: 1000, SweepIntervalMs: -1})
		assert.Error(t, err)
	})

	t.Run("invalid bucket bounds rejected", func(t *testing.T) {
		_, err := New(Config{Pipeline: p, StageDeadlineMs: 1000, BucketBoundsMs: []int64{100, 10}})
		assert.Error(t, err)
	})

	t.Run("defaults fill in", func(t *testing.T) {
		e, err := New(Config{RunID: uuid.New(), Pipeline: p, StageDeadlineMs: 1000})
		require.NoError(t, err)
		assert.NotNil(t, e)
		assert.Equal(t, p, e.Pipeline())
	})
}

func TestSweeperLifecycle(t *testing.T) {
	clock := NewManualClock(0)
	e, _ := newTestEngine(t, clock, 1000, "ingest", "sink")

	record(t, e, "t1", "ingest", 5)
	require.Equal(t, int64(1), e.InFlight())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.Start(ctx)
	e.Start(ctx) // repeated Start is a no-op

	// Once engine time passes the deadline the background sweeper must
	// pick the trace up on its own.
	clock.Set(5000)
	assert.Eventually(t, func() bool {
		return e.InFlight() == 0
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(1), e.Snapshot().Outcomes.TimedOut)

	e.Stop()
	e.Stop() // idempotent
}

func TestSweeperStopsOnContextCancel(t *testing.T) {
	clock := NewManualClock(0)
	e, _ := newTestEngine(t, clock, 1000, "ingest", "sink")

	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)
	cancel()

	// Stop must return even though the loop already exited via ctx.
	done := make(chan struct{})
	go func() {
		e.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
}

func TestEngineRecordResultErrors(t *testing.T) {
	// Sentinel errors are stable so handlers can map them to responses.
	assert.True(t, errors.Is(fmt.Errorf("%w: %q", ErrUnknownStage, "x"), ErrUnknownStage))
	assert.True(t, errors.Is(fmt.Errorf("%w: length 0", ErrInvalidTraceID), ErrInvalidTraceID))
	assert.True(t, errors.Is(fmt.Errorf("%w: -1", ErrInvalidTimestamp), ErrInvalidTimestamp))
}
