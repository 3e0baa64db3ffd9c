package dispatch

import (
	"context"
	"time"

	"github.com/skellig/convoke/pkg/models"
)

// Assignment is the unit of work handed to one worker invocation.
// When several required capabilities resolve to the same worker, the
// worker receives a single assignment carrying the capability union.
type Assignment struct {
	// RequestID identifies the originating request.
	RequestID string
	// Text is the request text.
	Text string
	// Capabilities lists the capability tags this invocation covers.
	Capabilities []models.Capability
	// Context holds key-value attachments, including any output piped
	// from upstream workers under "upstream.<worker-id>" keys.
	Context map[string]string
}

// Worker is the outbound invocation contract. Implementations must honor
// context cancellation: the dispatcher imposes per-call deadlines and
// signals aborts through ctx.
type Worker interface {
	// ID returns the worker's unique identity.
	ID() string
	// Invoke performs the assignment and returns the worker's payload.
	Invoke(ctx context.Context, a Assignment) (models.Payload, error)
}

// Directory resolves capability tags to eligible worker descriptors.
// The capability registry implements it; results must already exclude
// circuit-blocked and unavailable workers, best candidate first.
type Directory interface {
	FindByCapability(cap models.Capability) []*models.Worker
}

// Breakers is the circuit-breaker surface the dispatcher drives.
type Breakers interface {
	// Acquire claims permission to dispatch to a worker, consuming the
	// half-open probe slot when one is available.
	Acquire(workerID string) error
	// Release returns an Acquired probe slot for an invocation that was
	// abandoned without an outcome.
	Release(workerID string)
	// RecordOutcome reports the result of a dispatch.
	RecordOutcome(workerID string, success bool, latency time.Duration)
}

// LatencyRecorder receives successful invocation latencies so worker
// ordering can prefer fast workers. Optional.
type LatencyRecorder interface {
	RecordLatency(workerID string, latency time.Duration)
}
