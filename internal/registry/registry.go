// Package registry maintains the mapping from worker identity to
// advertised capabilities and health state. Lookups during dispatch are
// served from immutable snapshots so registration never blocks them.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skellig/convoke/pkg/models"
)

// NotFoundError is returned when an operation names an unknown worker.
// It is a non-fatal condition callers may log and ignore.
type NotFoundError struct {
	WorkerID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("worker %q is not registered", e.WorkerID)
}

// Gate decides whether a worker may currently receive dispatches.
// The breaker bank implements it; the check must be read-only.
type Gate interface {
	Allowed(workerID string) bool
}

// gateFunc adapts a plain function to the Gate interface.
type gateFunc func(string) bool

func (f gateFunc) Allowed(workerID string) bool { return f(workerID) }

// GateFunc wraps a function as a Gate.
func GateFunc(f func(workerID string) bool) Gate { return gateFunc(f) }

// latencyAlpha is the smoothing factor for the recent-latency moving average.
const latencyAlpha = 0.3

// Registry is the capability registry. Writers mutate a private map under
// a lock and publish a fresh snapshot; readers only ever touch snapshots.
type Registry struct {
	// gate filters circuit-blocked workers out of lookups. May be nil.
	gate Gate

	mu      sync.Mutex
	workers map[string]*models.Worker

	// snapshot is the published read-only view of workers.
	snapshot atomic.Pointer[map[string]*models.Worker]
}

// New creates a Registry. The gate may be nil, in which case lookups do
// not filter on circuit state.
func New(gate Gate) *Registry {
	r := &Registry{
		gate:    gate,
		workers: make(map[string]*models.Worker),
	}
	r.publishLocked()
	return r
}

// publishLocked publishes a fresh snapshot of the worker map.
// Caller must hold r.mu (except during construction).
func (r *Registry) publishLocked() {
	snap := make(map[string]*models.Worker, len(r.workers))
	for id, w := range r.workers {
		snap[id] = w.Clone()
	}
	r.snapshot.Store(&snap)
}

// Register adds a worker or overwrites an existing registration.
// Re-registering resets the capability set and health to healthy but
// deliberately leaves circuit-breaker counters alone: a flapping worker
// must not launder its failure history by re-registering.
func (r *Registry) Register(w *models.Worker) error {
	if w == nil || w.ID == "" {
		return fmt.Errorf("worker descriptor must have an ID")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry := w.Clone()
	entry.Health = models.HealthHealthy
	if entry.LastSeen.IsZero() {
		entry.LastSeen = time.Now()
	}
	if prev, ok := r.workers[w.ID]; ok && entry.RecentLatency == 0 {
		entry.RecentLatency = prev.RecentLatency
	}
	r.workers[w.ID] = entry
	r.publishLocked()
	return nil
}

// Deregister removes a worker. Returns *NotFoundError for unknown IDs.
func (r *Registry) Deregister(workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workers[workerID]; !ok {
		return &NotFoundError{WorkerID: workerID}
	}
	delete(r.workers, workerID)
	r.publishLocked()
	return nil
}

// SetHealth updates a worker's health state and last-seen timestamp.
// Returns *NotFoundError for unknown IDs.
func (r *Registry) SetHealth(workerID string, state models.HealthState) error {
	if !state.Valid() {
		return fmt.Errorf("invalid health state %q", state)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return &NotFoundError{WorkerID: workerID}
	}
	w.Health = state
	if state != models.HealthUnavailable {
		w.LastSeen = time.Now()
	}
	r.publishLocked()
	return nil
}

// RecordLatency folds an observed invocation latency into the worker's
// moving average. Unknown workers are ignored.
func (r *Registry) RecordLatency(workerID string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[workerID]
	if !ok {
		return
	}
	if w.RecentLatency == 0 {
		w.RecentLatency = latency
	} else {
		w.RecentLatency = time.Duration(float64(w.RecentLatency)*(1-latencyAlpha) + float64(latency)*latencyAlpha)
	}
	w.LastSeen = time.Now()
	r.publishLocked()
}

// FindByCapability returns workers advertising the capability, excluding
// unavailable workers and workers whose circuit currently blocks dispatch.
// Results are ordered by lowest recent latency, then by ID, so selection
// is reproducible.
func (r *Registry) FindByCapability(cap models.Capability) []*models.Worker {
	snap := *r.snapshot.Load()

	var out []*models.Worker
	for _, w := range snap {
		if !w.Has(cap) {
			continue
		}
		if w.Health == models.HealthUnavailable {
			continue
		}
		if r.gate != nil && !r.gate.Allowed(w.ID) {
			continue
		}
		out = append(out, w)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].RecentLatency != out[j].RecentLatency {
			return out[i].RecentLatency < out[j].RecentLatency
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns the descriptor for a worker, or nil if unknown.
func (r *Registry) Get(workerID string) *models.Worker {
	snap := *r.snapshot.Load()
	return snap[workerID]
}

// All returns every registered worker ordered by ID.
func (r *Registry) All() []*models.Worker {
	snap := *r.snapshot.Load()

	out := make([]*models.Worker, 0, len(snap))
	for _, w := range snap {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered workers.
func (r *Registry) Count() int {
	return len(*r.snapshot.Load())
}

// PruneStale deregisters workers that have been unavailable for longer
// than maxAge and returns the removed IDs. Used by the health prober.
func (r *Registry) PruneStale(maxAge time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	var removed []string
	for id, w := range r.workers {
		if w.Health == models.HealthUnavailable && w.LastSeen.Before(cutoff) {
			delete(r.workers, id)
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		r.publishLocked()
	}
	sort.Strings(removed)
	return removed
}
