package models

import "time"

// Capability identifies a unit of functionality a worker can perform.
// Capabilities are opaque tags such as "security-scan" or "reasoning";
// the analyzer's lexicon decides which tags a request needs.
type Capability string

// HealthState represents the reported liveness of a worker.
type HealthState string

const (
	// HealthHealthy indicates the worker is responding normally.
	HealthHealthy HealthState = "healthy"
	// HealthDegraded indicates the worker is responding slowly or partially.
	HealthDegraded HealthState = "degraded"
	// HealthUnavailable indicates the worker is not responding.
	HealthUnavailable HealthState = "unavailable"
)

// Valid returns true if the state is a known value.
func (h HealthState) Valid() bool {
	switch h {
	case HealthHealthy, HealthDegraded, HealthUnavailable:
		return true
	default:
		return false
	}
}

// Worker describes an invokable worker and the capabilities it advertises.
type Worker struct {
	// ID is the unique identifier for this worker.
	ID string `json:"id"`
	// Capabilities is the set of capability tags this worker claims.
	Capabilities []Capability `json:"capabilities"`
	// Health is the most recently probed health state.
	Health HealthState `json:"health"`
	// LastSeen is when the worker last responded to a probe or dispatch.
	LastSeen time.Time `json:"last_seen"`
	// RecentLatency is a moving average of recent invocation latency,
	// used to order candidates deterministically during selection.
	RecentLatency time.Duration `json:"recent_latency"`
}

// Has returns true if the worker advertises the given capability.
func (w *Worker) Has(cap Capability) bool {
	for _, c := range w.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the worker descriptor.
func (w *Worker) Clone() *Worker {
	out := *w
	out.Capabilities = append([]Capability{}, w.Capabilities...)
	return &out
}
