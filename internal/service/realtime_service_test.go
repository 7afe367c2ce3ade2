package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/config"
	"github.com/stagewatch/stagewatch/internal/domain"
)

// stubReportSource serves canned reports and records how often each
// run was snapshotted.
type stubReportSource struct {
	mu      sync.Mutex
	active  []uuid.UUID
	calls   int
	failFor uuid.UUID
}

func (s *stubReportSource) ActiveRunIDs() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID(nil), s.active...)
}

func (s *stubReportSource) Report(_ context.Context, runID uuid.UUID) (*domain.RunReport, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if runID == s.failFor {
		return nil, assert.AnError
	}
	return &domain.RunReport{
		RunID:    runID,
		Status:   domain.RunStatusActive,
		InFlight: 4,
		Report: domain.ReportView{
			Outcomes: domain.Outcomes{Completed: 9},
		},
		GeneratedAt: time.Now(),
	}, nil
}

func (s *stubReportSource) setActive(runIDs ...uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = runIDs
}

func (s *stubReportSource) reportCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// captureEnqueuer records enqueued snapshot batches.
type captureEnqueuer struct {
	mu      sync.Mutex
	batches [][]domain.ReportSnapshot
}

func (e *captureEnqueuer) EnqueueSnapshots(snapshots []domain.ReportSnapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batches = append(e.batches, snapshots)
	return nil
}

func (e *captureEnqueuer) all() [][]domain.ReportSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.batches
}

func newTestRealtimeService(source ReportSource) *RealtimeService {
	return NewRealtimeService(config.RealtimeConfig{}, source, zap.NewNop())
}

func receiveEvent(t *testing.T, sub *Subscriber) *RealtimeEvent {
	t.Helper()
	select {
	case event := <-sub.Channel:
		return event
	case <-time.After(time.Second):
		t.Fatal("expected an event on the subscriber channel")
		return nil
	}
}

func TestRealtimeService_Subscribe(t *testing.T) {
	t.Run("tracks subscribers per run", func(t *testing.T) {
		svc := newTestRealtimeService(&stubReportSource{})

		runA := uuid.New()
		runB := uuid.New()
		subA1 := svc.Subscribe(context.Background(), runA)
		subA2 := svc.Subscribe(context.Background(), runA)
		subB := svc.Subscribe(context.Background(), runB)

		assert.Equal(t, 2, svc.GetSubscriberCount(runA))
		assert.Equal(t, 1, svc.GetSubscriberCount(runB))

		svc.Unsubscribe(subA1.ID)
		assert.Equal(t, 1, svc.GetSubscriberCount(runA))

		// Unsubscribing twice must not panic on the closed channel
		svc.Unsubscribe(subA1.ID)

		svc.Unsubscribe(subA2.ID)
		svc.Unsubscribe(subB.ID)
		assert.Equal(t, 0, svc.GetSubscriberCount(runA))
		assert.Equal(t, 0, svc.GetSubscriberCount(runB))
	})

	t.Run("context cancellation removes the subscriber", func(t *testing.T) {
		svc := newTestRealtimeService(&stubReportSource{})

		runID := uuid.New()
		ctx, cancel := context.WithCancel(context.Background())
		svc.Subscribe(ctx, runID)
		require.Equal(t, 1, svc.GetSubscriberCount(runID))

		cancel()
		require.Eventually(t, func() bool {
			return svc.GetSubscriberCount(runID) == 0
		}, time.Second, 10*time.Millisecond)
	})
}

func TestRealtimeService_Publish(t *testing.T) {
	t.Run("delivers only to the run's subscribers", func(t *testing.T) {
		svc := newTestRealtimeService(&stubReportSource{})

		runA := uuid.New()
		runB := uuid.New()
		subA := svc.Subscribe(context.Background(), runA)
		subB := svc.Subscribe(context.Background(), runB)
		defer svc.Unsubscribe(subA.ID)
		defer svc.Unsubscribe(subB.ID)

		svc.Publish(runA, EventTypeReportSnapshot, "payload")

		event := receiveEvent(t, subA)
		assert.Equal(t, EventTypeReportSnapshot, event.Type)
		assert.Equal(t, runA, event.RunID)
		assert.Equal(t, "payload", event.Data)
		assert.Empty(t, subB.Channel)
	})
}

func TestRealtimeService_PublishSnapshots(t *testing.T) {
	t.Run("snapshots only watched runs", func(t *testing.T) {
		runA := uuid.New()
		runB := uuid.New()
		source := &stubReportSource{}
		source.setActive(runA, runB)
		svc := newTestRealtimeService(source)

		sub := svc.Subscribe(context.Background(), runA)
		defer svc.Unsubscribe(sub.ID)

		svc.publishSnapshots(context.Background())

		event := receiveEvent(t, sub)
		assert.Equal(t, EventTypeReportSnapshot, event.Type)
		report, ok := event.Data.(*domain.RunReport)
		require.True(t, ok)
		assert.Equal(t, runA, report.RunID)
		assert.Equal(t, int64(4), report.InFlight)

		// runB has no subscribers, so no report was taken for it
		assert.Equal(t, 1, source.reportCalls())
	})

	t.Run("announces a stop when a run's engine disappears", func(t *testing.T) {
		runID := uuid.New()
		source := &stubReportSource{}
		source.setActive(runID)
		svc := newTestRealtimeService(source)

		sub := svc.Subscribe(context.Background(), runID)
		defer svc.Unsubscribe(sub.ID)

		svc.publishSnapshots(context.Background())
		receiveEvent(t, sub) // drain the snapshot

		source.setActive()
		svc.publishSnapshots(context.Background())

		event := receiveEvent(t, sub)
		assert.Equal(t, EventTypeRunStopped, event.Type)
		assert.Equal(t, runID, event.RunID)
	})
}

func TestRealtimeService_PersistSnapshots(t *testing.T) {
	t.Run("enqueues one snapshot per active run", func(t *testing.T) {
		runA := uuid.New()
		runB := uuid.New()
		source := &stubReportSource{}
		source.setActive(runA, runB)
		svc := newTestRealtimeService(source)

		enqueuer := &captureEnqueuer{}
		svc.SetSnapshotEnqueuer(enqueuer)

		svc.persistSnapshots(context.Background())

		batches := enqueuer.all()
		require.Len(t, batches, 1)
		require.Len(t, batches[0], 2)

		snapshot := batches[0][0]
		assert.Equal(t, int64(4), snapshot.InFlight)
		assert.False(t, snapshot.TakenAt.IsZero())

		var view domain.ReportView
		require.NoError(t, json.Unmarshal([]byte(snapshot.ReportJSON), &view))
		assert.Equal(t, int64(9), view.Outcomes.Completed)
	})

	t.Run("skips runs whose snapshot fails", func(t *testing.T) {
		runA := uuid.New()
		runB := uuid.New()
		source := &stubReportSource{failFor: runA}
		source.setActive(runA, runB)
		svc := newTestRealtimeService(source)

		enqueuer := &captureEnqueuer{}
		svc.SetSnapshotEnqueuer(enqueuer)

		svc.persistSnapshots(context.Background())

		batches := enqueuer.all()
		require.Len(t, batches, 1)
		require.Len(t, batches[0], 1)
		assert.Equal(t, runB, batches[0][0].RunID)
	})

	t.Run("does nothing without an enqueuer", func(t *testing.T) {
		source := &stubReportSource{}
		source.setActive(uuid.New())
		svc := newTestRealtimeService(source)

		svc.persistSnapshots(context.Background())
		assert.Equal(t, 0, source.reportCalls())
	})
}

func TestFormatSSE(t *testing.T) {
	event := &RealtimeEvent{
		Type:      EventTypeReportSnapshot,
		RunID:     uuid.New(),
		Data:      map[string]int{"inFlight": 3},
		Timestamp: time.Now(),
	}

	formatted, err := FormatSSE(event)
	require.NoError(t, err)

	text := string(formatted)
	require.True(t, strings.HasPrefix(text, "data: "))
	require.True(t, strings.HasSuffix(text, "\n\n"))

	var decoded RealtimeEvent
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSuffix(text, "\n\n"), "data: ")), &decoded))
	assert.Equal(t, EventTypeReportSnapshot, decoded.Type)
}
