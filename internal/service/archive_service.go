package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/config"
	"github.com/stagewatch/stagewatch/internal/domain"
	"github.com/stagewatch/stagewatch/internal/pkg/circuitbreaker"
	"github.com/stagewatch/stagewatch/internal/pkg/metrics"
)

// OutcomeRepository defines the interface for archived outcome
// persistence. Implementations batch into ClickHouse.
type OutcomeRepository interface {
	InsertBatch(ctx context.Context, outcomes []*domain.TraceOutcome) error
}

// ArchiveService buffers finalized trace outcomes and flushes them to
// the warehouse in batches. It implements engine.OutcomeSink: Publish
// never blocks the finalizing goroutine, it appends to a bounded
// buffer and drops with a counter when the buffer is full.
//
// Flushes happen when the buffer reaches FlushSize or on the flush
// ticker, whichever comes first. Warehouse writes go through a circuit
// breaker so a ClickHouse outage cannot pile up goroutines.
type ArchiveService struct {
	repo    OutcomeRepository
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger

	flushInterval time.Duration
	flushSize     int
	capacity      int

	mu      sync.Mutex
	buffer  []*domain.TraceOutcome
	dropped int64

	wg     sync.WaitGroup
	stopCh chan struct{}
	kickCh chan struct{}
	once   sync.Once
}

// NewArchiveService creates a new ArchiveService. Call Start to launch
// the flush loop and Close to drain on shutdown.
func NewArchiveService(cfg config.ArchiveConfig, repo OutcomeRepository, logger *zap.Logger) *ArchiveService {
	flushInterval := time.Duration(cfg.FlushIntervalMs) * time.Millisecond
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	flushSize := cfg.FlushSize
	if flushSize <= 0 {
		flushSize = 500
	}
	capacity := cfg.BufferCapacity
	if capacity <= 0 {
		capacity = 10000
	}

	breakerCfg := circuitbreaker.DefaultConfig("clickhouse-archive")
	breakerCfg.OnStateChange = func(name string, from, to circuitbreaker.State) {
		logger.Warn("archive circuit state changed",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}

	return &ArchiveService{
		repo:          repo,
		breaker:       circuitbreaker.New(breakerCfg),
		logger:        logger,
		flushInterval: flushInterval,
		flushSize:     flushSize,
		capacity:      capacity,
		buffer:        make([]*domain.TraceOutcome, 0, flushSize),
		stopCh:        make(chan struct{}),
		kickCh:        make(chan struct{}, 1),
	}
}

// Start launches the background flush loop
func (s *ArchiveService) Start() {
	s.wg.Add(1)
	go s.flushLoop()
}

// Publish buffers one finalized outcome. Never blocks; outcomes beyond
// the buffer capacity are dropped and counted.
func (s *ArchiveService) Publish(outcome *domain.TraceOutcome) {
	s.mu.Lock()
	if len(s.buffer) >= s.capacity {
		s.dropped++
		dropped := s.dropped
		s.mu.Unlock()

		metrics.RecordArchiveFlush("dropped")
		if dropped == 1 || dropped%1000 == 0 {
			s.logger.Error("archive buffer full, dropping outcomes",
				zap.Int64("dropped_total", dropped))
		}
		return
	}

	s.buffer = append(s.buffer, outcome)
	size := len(s.buffer)
	s.mu.Unlock()

	metrics.SetArchiveBufferSize(size)

	if size >= s.flushSize {
		select {
		case s.kickCh <- struct{}{}:
		default:
		}
	}
}

// Close stops the flush loop and drains whatever is buffered. Safe to
// call more than once.
func (s *ArchiveService) Close() {
	s.once.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

// Dropped returns how many outcomes were lost to a full buffer
func (s *ArchiveService) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// BufferedCount returns the number of outcomes awaiting flush
func (s *ArchiveService) BufferedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

func (s *ArchiveService) flushLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.flush()
		case <-s.kickCh:
			s.flush()
		case <-s.stopCh:
			// Final drain; anything the warehouse rejects now is lost
			// and logged.
			s.flush()
			return
		}
	}
}

// flush swaps the buffer out under the lock and writes it outside it
func (s *ArchiveService) flush() {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.buffer
	s.buffer = make([]*domain.TraceOutcome, 0, s.flushSize)
	s.mu.Unlock()

	metrics.SetArchiveBufferSize(0)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := s.breaker.Execute(ctx, func() error {
		return s.repo.InsertBatch(ctx, batch)
	})
	if err != nil {
		metrics.RecordArchiveFlush("error")
		s.logger.Error("failed to flush outcome batch",
			zap.Int("batch_size", len(batch)),
			zap.Error(err))

		// Put the batch back if there is room so a transient outage
		// does not lose data.
		s.mu.Lock()
		if len(s.buffer)+len(batch) <= s.capacity {
			s.buffer = append(batch, s.buffer...)
		} else {
			s.dropped += int64(len(batch))
		}
		s.mu.Unlock()
		return
	}

	metrics.RecordArchiveFlush("ok")
	s.logger.Debug("flushed outcome batch", zap.Int("batch_size", len(batch)))
}
