// Package circuitbreaker guards calls to a flaky downstream. The
// archive flusher wraps its warehouse writes in one so a ClickHouse
// outage fails fast instead of stacking up blocked batches.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrOpen is returned while the circuit is open and the cooldown
	// period has not elapsed.
	ErrOpen = errors.New("circuit open")
	// ErrProbeInFlight is returned in the half-open state once the
	// probe quota is taken.
	ErrProbeInFlight = errors.New("circuit half-open, probe in flight")
)

// State is the position of the circuit.
type State uint8

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Config tunes a breaker. Zero fields take the DefaultConfig values.
type Config struct {
	// Name identifies the breaker in state-change notifications.
	Name string
	// FailureThreshold is how many consecutive failures trip the
	// circuit while closed.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before admitting
	// probe calls.
	Cooldown time.Duration
	// ProbeQuota is how many calls may run concurrently while
	// half-open; that many successes close the circuit again.
	ProbeQuota int
	// OnStateChange, when set, is invoked on its own goroutine for
	// every transition.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns the tuning used for warehouse writes.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		ProbeQuota:       1,
	}
}

// CircuitBreaker trips after consecutive failures, fails fast for a
// cooldown period, then probes the downstream before closing again.
type CircuitBreaker struct {
	cfg Config

	mu             sync.Mutex
	state          State
	failureStreak  int
	reopenAt       time.Time
	probes         int
	probeSuccesses int
}

// New builds a breaker, clamping non-positive config fields to the
// defaults.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.ProbeQuota <= 0 {
		cfg.ProbeQuota = 1
	}
	return &CircuitBreaker{cfg: cfg}
}

// Execute runs fn under the breaker. It returns ErrOpen or
// ErrProbeInFlight without calling fn when the circuit refuses the
// call, and otherwise returns fn's error after recording it.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.settle(err)
	return err
}

// State reports the current position of the circuit.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		return nil
	case Open:
		if time.Now().Before(cb.reopenAt) {
			return ErrOpen
		}
		cb.shift(HalfOpen)
		cb.probes = 1
		return nil
	default: // HalfOpen
		if cb.probes >= cb.cfg.ProbeQuota {
			return ErrProbeInFlight
		}
		cb.probes++
		return nil
	}
}

func (cb *CircuitBreaker) settle(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failureStreak++
		switch cb.state {
		case Closed:
			if cb.failureStreak >= cb.cfg.FailureThreshold {
				cb.trip()
			}
		case HalfOpen:
			// A failed probe reopens immediately.
			cb.trip()
		}
		return
	}

	switch cb.state {
	case Closed:
		cb.failureStreak = 0
	case HalfOpen:
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.cfg.ProbeQuota {
			cb.shift(Closed)
		}
	}
}

// trip opens the circuit and schedules the next probe window. Caller
// holds the lock.
func (cb *CircuitBreaker) trip() {
	cb.reopenAt = time.Now().Add(cb.cfg.Cooldown)
	cb.shift(Open)
}

// shift moves to a new state, resetting probe bookkeeping. Caller
// holds the lock.
func (cb *CircuitBreaker) shift(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.probes = 0
	cb.probeSuccesses = 0
	if to == Closed {
		cb.failureStreak = 0
	}
	if cb.cfg.OnStateChange != nil {
		go cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}
