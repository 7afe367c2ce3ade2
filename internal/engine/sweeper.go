package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/pkg/metrics"
)

// Sweeper drives periodic timeout sweeps. It is the only component
// that ages out stuck traces: without it, a trace whose final stage
// event never arrives would sit in the registry forever.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	log      *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func newSweeper(e *Engine, interval time.Duration, log *zap.Logger) *Sweeper {
	return &Sweeper{
		engine:   e,
		interval: interval,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. Subsequent calls are no-ops.
func (s *Sweeper) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.run(ctx)
	})
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Debug("timeout sweeper started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			start := time.Now()
			swept := s.engine.SweepNow()
			metrics.RecordSweepDuration(time.Since(start))
			if swept > 0 {
				s.log.Info("timeout sweep finalized traces",
					zap.Int("sweptCount", swept),
					zap.Int64("inFlight", s.engine.InFlight()),
					zap.Duration("took", time.Since(start)),
				)
			}
		}
	}
}

// Stop halts the loop. An in-flight sweep cycle completes before Stop
// returns, so no already-finalized trace is lost.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}
