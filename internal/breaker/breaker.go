// Package breaker implements per-worker circuit breakers that stop
// dispatching to consistently failing workers until they have had time
// to recover.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the state of a single worker's circuit.
type State string

const (
	// StateClosed allows dispatches; failures are being counted.
	StateClosed State = "closed"
	// StateOpen blocks dispatches until the cool-down elapses.
	StateOpen State = "open"
	// StateHalfOpen admits exactly one trial dispatch after cool-down.
	StateHalfOpen State = "half-open"
)

// ErrOpen is returned by Acquire when a worker's circuit blocks dispatch.
var ErrOpen = errors.New("circuit is open")

// Config holds tunables for the breaker bank.
type Config struct {
	// FailureThreshold is the number of failures within Window that trips
	// a closed circuit open.
	FailureThreshold int
	// Window is the sliding window over which failures are counted.
	Window time.Duration
	// Cooldown is how long an open circuit blocks before admitting a probe.
	Cooldown time.Duration
}

// DefaultConfig returns the default breaker tunables.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		Cooldown:         30 * time.Second,
	}
}

// normalized returns cfg with zero fields replaced by defaults.
func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.Window <= 0 {
		c.Window = def.Window
	}
	if c.Cooldown <= 0 {
		c.Cooldown = def.Cooldown
	}
	return c
}

// circuit is the state machine for one worker.
// Each circuit has its own lock so unrelated workers never contend.
type circuit struct {
	mu sync.Mutex

	state State
	// failures holds the timestamps of failures inside the sliding window.
	failures []time.Time
	// openedAt is when the circuit last tripped open.
	openedAt time.Time
	// probing is true while the single half-open trial is outstanding.
	probing bool
}

// Bank holds one circuit per worker.
type Bank struct {
	cfg Config

	mu       sync.RWMutex
	circuits map[string]*circuit

	// now is swappable for tests.
	now func() time.Time
}

// NewBank creates a Bank with the given configuration.
// Zero-valued config fields fall back to defaults.
func NewBank(cfg Config) *Bank {
	return &Bank{
		cfg:      cfg.normalized(),
		circuits: make(map[string]*circuit),
		now:      time.Now,
	}
}

// get returns the circuit for a worker, creating it in the closed state.
func (b *Bank) get(workerID string) *circuit {
	b.mu.RLock()
	c, ok := b.circuits[workerID]
	b.mu.RUnlock()
	if ok {
		return c
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok = b.circuits[workerID]; ok {
		return c
	}
	c = &circuit{state: StateClosed}
	b.circuits[workerID] = c
	return c
}

// Allowed reports whether a dispatch to the worker would currently be
// admitted, without consuming the half-open probe slot. Selection paths
// use this; the dispatcher calls Acquire immediately before invoking.
func (b *Bank) Allowed(workerID string) bool {
	c := b.get(workerID)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return true
	case StateOpen:
		// Lazy transition check: the cool-down may already have elapsed.
		return b.now().Sub(c.openedAt) >= b.cfg.Cooldown
	case StateHalfOpen:
		return !c.probing
	default:
		return false
	}
}

// IsAllowed reports whether the worker may receive a dispatch right now,
// claiming the half-open probe slot when the cool-down has elapsed.
// The claimed slot is released by the matching RecordOutcome call.
func (b *Bank) IsAllowed(workerID string) bool {
	return b.Acquire(workerID) == nil
}

// Acquire is IsAllowed with an error result, for callers that want to
// wrap the refusal.
func (b *Bank) Acquire(workerID string) error {
	c := b.get(workerID)
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(c.openedAt) < b.cfg.Cooldown {
			return ErrOpen
		}
		// Cool-down elapsed: move to half-open and claim the probe slot.
		c.state = StateHalfOpen
		c.probing = true
		return nil
	case StateHalfOpen:
		if c.probing {
			return ErrOpen
		}
		c.probing = true
		return nil
	default:
		return ErrOpen
	}
}

// Release returns a probe slot claimed by Acquire when the invocation
// was abandoned before producing an outcome, such as on caller
// cancellation. The circuit reverts to open; since the cool-down has
// already elapsed, the next Acquire can immediately retry the trial.
// A no-op for circuits with no outstanding probe.
func (b *Bank) Release(workerID string) {
	c := b.get(workerID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateHalfOpen && c.probing {
		c.probing = false
		c.state = StateOpen
	}
}

// RecordOutcome records the result of a dispatch to the worker and drives
// the state machine. Safe for concurrent use across workers and within
// one worker.
func (b *Bank) RecordOutcome(workerID string, success bool, latency time.Duration) {
	c := b.get(workerID)
	c.mu.Lock()
	defer c.mu.Unlock()

	now := b.now()

	switch c.state {
	case StateHalfOpen:
		c.probing = false
		if success {
			c.state = StateClosed
			c.failures = nil
		} else {
			c.state = StateOpen
			c.openedAt = now
			c.failures = nil
		}
	case StateClosed:
		if success {
			return
		}
		c.failures = append(c.failures, now)
		c.pruneLocked(now, b.cfg.Window)
		if len(c.failures) >= b.cfg.FailureThreshold {
			c.state = StateOpen
			c.openedAt = now
			c.failures = nil
		}
	case StateOpen:
		// A late outcome from a call admitted before the trip; the
		// circuit is already open so there is nothing to count.
	}
}

// pruneLocked drops failures that fell out of the sliding window.
// Caller must hold c.mu.
func (c *circuit) pruneLocked(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	kept := c.failures[:0]
	for _, ts := range c.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	c.failures = kept
}

// State returns the worker's current circuit state.
// Workers with no recorded history report closed.
func (b *Bank) State(workerID string) State {
	c := b.get(workerID)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// FailureCount returns the number of failures currently inside the
// worker's sliding window.
func (b *Bank) FailureCount(workerID string) int {
	c := b.get(workerID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(b.now(), b.cfg.Window)
	return len(c.failures)
}

// Snapshot describes one worker's circuit for status surfaces.
type Snapshot struct {
	WorkerID string `json:"worker_id"`
	State    State  `json:"state"`
	Failures int    `json:"failures"`
}

// Snapshots returns the current state of every tracked circuit.
func (b *Bank) Snapshots() []Snapshot {
	b.mu.RLock()
	ids := make([]string, 0, len(b.circuits))
	for id := range b.circuits {
		ids = append(ids, id)
	}
	b.mu.RUnlock()

	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		out = append(out, Snapshot{
			WorkerID: id,
			State:    b.State(id),
			Failures: b.FailureCount(id),
		})
	}
	return out
}
