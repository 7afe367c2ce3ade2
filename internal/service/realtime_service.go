package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/config"
	"github.com/stagewatch/stagewatch/internal/domain"
)

// EventTypes constants for event types
const (
	EventTypeReportSnapshot = "report.snapshot"
	EventTypeRunStopped     = "run.stopped"
)

// RealtimeEvent represents an event to be sent to clients
type RealtimeEvent struct {
	Type      string    `json:"type"`
	RunID     uuid.UUID `json:"runId"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscriber represents a connected client
type Subscriber struct {
	ID      string
	RunID   uuid.UUID
	Channel chan *RealtimeEvent
	Done    chan struct{}
}

// ReportSource yields live reports for the runs the stream covers
type ReportSource interface {
	ActiveRunIDs() []uuid.UUID
	Report(ctx context.Context, runID uuid.UUID) (*domain.RunReport, error)
}

// SnapshotEnqueuer hands a snapshot batch to the background worker for
// warehouse persistence
type SnapshotEnqueuer interface {
	EnqueueSnapshots(snapshots []domain.ReportSnapshot) error
}

// RealtimeService streams live report snapshots to SSE subscribers and
// periodically enqueues them for warehouse persistence. One publish
// tick serves every subscriber of a run from a single engine snapshot.
type RealtimeService struct {
	source   ReportSource
	enqueuer SnapshotEnqueuer
	logger   *zap.Logger

	snapshotInterval time.Duration
	persistInterval  time.Duration

	mu          sync.RWMutex
	subscribers map[string]*Subscriber

	// prevActive tracks which runs had an engine on the last tick so a
	// stop can be announced to that run's subscribers.
	prevActive map[uuid.UUID]struct{}
}

// NewRealtimeService creates a new realtime service
func NewRealtimeService(cfg config.RealtimeConfig, source ReportSource, logger *zap.Logger) *RealtimeService {
	snapshotInterval := time.Duration(cfg.SnapshotIntervalMs) * time.Millisecond
	if snapshotInterval <= 0 {
		snapshotInterval = time.Second
	}
	persistInterval := time.Duration(cfg.PersistIntervalMs) * time.Millisecond
	if persistInterval <= 0 {
		persistInterval = 30 * time.Second
	}

	return &RealtimeService{
		source:           source,
		logger:           logger,
		snapshotInterval: snapshotInterval,
		persistInterval:  persistInterval,
		subscribers:      make(map[string]*Subscriber),
		prevActive:       make(map[uuid.UUID]struct{}),
	}
}

// SetSnapshotEnqueuer wires snapshot persistence. Without it the
// stream still works; snapshots are just not persisted.
func (s *RealtimeService) SetSnapshotEnqueuer(e SnapshotEnqueuer) {
	s.enqueuer = e
}

// Start launches the publish and persist loops. Both stop when the
// context is cancelled.
func (s *RealtimeService) Start(ctx context.Context) {
	go s.publishLoop(ctx)
	go s.persistLoop(ctx)
}

// Subscribe creates a new subscription for a run
func (s *RealtimeService) Subscribe(ctx context.Context, runID uuid.UUID) *Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &Subscriber{
		ID:      uuid.New().String(),
		RunID:   runID,
		Channel: make(chan *RealtimeEvent, 100),
		Done:    make(chan struct{}),
	}

	s.subscribers[sub.ID] = sub

	// Clean up when context is done
	go func() {
		select {
		case <-ctx.Done():
			s.Unsubscribe(sub.ID)
		case <-sub.Done:
		}
	}()

	return sub
}

// Unsubscribe removes a subscription
func (s *RealtimeService) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subscribers[id]; ok {
		close(sub.Done)
		close(sub.Channel)
		delete(s.subscribers, id)
	}
}

// Publish sends an event to all subscribers of a run. Slow subscribers
// miss events rather than stall the tick.
func (s *RealtimeService) Publish(runID uuid.UUID, eventType string, data any) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event := &RealtimeEvent{
		Type:      eventType,
		RunID:     runID,
		Data:      data,
		Timestamp: time.Now(),
	}

	for _, sub := range s.subscribers {
		if sub.RunID == runID {
			select {
			case sub.Channel <- event:
			default:
				// Channel is full, skip this subscriber
			}
		}
	}
}

// GetSubscriberCount returns the number of active subscribers for a run
func (s *RealtimeService) GetSubscriberCount(runID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, sub := range s.subscribers {
		if sub.RunID == runID {
			count++
		}
	}
	return count
}

// publishLoop pushes a report snapshot to each subscribed run's
// subscribers on every tick and announces runs that stopped.
func (s *RealtimeService) publishLoop(ctx context.Context) {
	ticker := time.NewTicker(s.snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publishSnapshots(ctx)
		}
	}
}

func (s *RealtimeService) publishSnapshots(ctx context.Context) {
	active := s.source.ActiveRunIDs()
	activeSet := make(map[uuid.UUID]struct{}, len(active))

	for _, runID := range active {
		activeSet[runID] = struct{}{}

		// Snapshots are only taken for runs someone is watching
		if s.GetSubscriberCount(runID) == 0 {
			continue
		}

		report, err := s.source.Report(ctx, runID)
		if err != nil {
			s.logger.Warn("failed to snapshot run for stream",
				zap.String("run_id", runID.String()),
				zap.Error(err))
			continue
		}

		s.Publish(runID, EventTypeReportSnapshot, report)
	}

	// Runs that had an engine last tick but not now were stopped
	for runID := range s.prevActive {
		if _, ok := activeSet[runID]; !ok {
			s.Publish(runID, EventTypeRunStopped, nil)
		}
	}
	s.prevActive = activeSet
}

// persistLoop enqueues a snapshot batch for every active run so
// stopped runs keep a report to serve.
func (s *RealtimeService) persistLoop(ctx context.Context) {
	ticker := time.NewTicker(s.persistInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.persistSnapshots(ctx)
		}
	}
}

func (s *RealtimeService) persistSnapshots(ctx context.Context) {
	if s.enqueuer == nil {
		return
	}

	active := s.source.ActiveRunIDs()
	if len(active) == 0 {
		return
	}

	snapshots := make([]domain.ReportSnapshot, 0, len(active))
	now := time.Now()

	for _, runID := range active {
		report, err := s.source.Report(ctx, runID)
		if err != nil {
			s.logger.Warn("failed to snapshot run for persistence",
				zap.String("run_id", runID.String()),
				zap.Error(err))
			continue
		}

		data, err := json.Marshal(report.Report)
		if err != nil {
			s.logger.Warn("failed to encode report snapshot",
				zap.String("run_id", runID.String()),
				zap.Error(err))
			continue
		}

		snapshots = append(snapshots, domain.ReportSnapshot{
			RunID:      runID,
			InFlight:   report.InFlight,
			ReportJSON: string(data),
			TakenAt:    now,
		})
	}

	if len(snapshots) == 0 {
		return
	}

	if err := s.enqueuer.EnqueueSnapshots(snapshots); err != nil {
		s.logger.Warn("failed to enqueue snapshot batch",
			zap.Int("count", len(snapshots)),
			zap.Error(err))
	}
}

// FormatSSE formats an event for SSE
func FormatSSE(event *RealtimeEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	return append([]byte("data: "), append(data, '\n', '\n')...), nil
}
