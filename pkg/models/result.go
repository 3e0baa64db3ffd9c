package models

import "time"

// Payload is the structured output one worker produced for one dispatch.
type Payload struct {
	// Summary is the worker's primary textual answer.
	Summary string `json:"summary,omitempty"`
	// Recommendations lists recommendation-like findings the worker surfaced.
	Recommendations []string `json:"recommendations,omitempty"`
	// Data holds arbitrary structured output keyed by field name.
	Data map[string]any `json:"data,omitempty"`
}

// WorkerOutcome is the per-worker result of one dispatch attempt.
// Its lifetime is bounded to one orchestration cycle.
type WorkerOutcome struct {
	// WorkerID identifies the worker that was invoked.
	WorkerID string `json:"worker_id"`
	// Capabilities lists the capability tags this invocation covered.
	Capabilities []Capability `json:"capabilities"`
	// Success indicates the worker returned a usable payload.
	Success bool `json:"success"`
	// Payload is the worker's output. Only meaningful when Success is true.
	Payload Payload `json:"payload,omitempty"`
	// Latency is how long the invocation took.
	Latency time.Duration `json:"latency"`
	// TimedOut indicates the invocation exceeded its deadline.
	TimedOut bool `json:"timed_out,omitempty"`
	// Err holds the failure detail when Success is false.
	Err string `json:"error,omitempty"`
}

// CoordinationResult is the synthesized output of one orchestration cycle.
// It is returned to the caller and never persisted by the engine itself.
type CoordinationResult struct {
	// RequestID is the ID of the request this result answers.
	RequestID string `json:"request_id"`
	// Strategy is the coordination strategy that produced this result.
	Strategy Strategy `json:"strategy"`
	// Summary is the merged textual answer across successful workers.
	Summary string `json:"summary,omitempty"`
	// MergedData is the combined structured output of successful workers.
	// On key collision the first contribution wins.
	MergedData map[string]any `json:"merged_data,omitempty"`
	// Recommendations is the deduplicated, priority-ranked recommendation list.
	Recommendations []string `json:"recommendations,omitempty"`
	// Confidence is successful outcomes over attempted outcomes, in [0, 1].
	// Zero when no workers were attempted.
	Confidence float64 `json:"confidence"`
	// Attempted is the number of workers that were dispatched.
	Attempted int `json:"attempted"`
	// Provenance retains every successful outcome unmodified so callers
	// can audit which worker contributed which fact.
	Provenance []WorkerOutcome `json:"provenance,omitempty"`
	// Failures retains failed outcomes for degraded-response rendering.
	Failures []WorkerOutcome `json:"failures,omitempty"`
	// Duration is the wall-clock time of the whole cycle.
	Duration time.Duration `json:"duration"`
	// CompletedAt is when synthesis finished.
	CompletedAt time.Time `json:"completed_at"`
}

// Degraded returns true if at least one worker was attempted but some failed.
func (r *CoordinationResult) Degraded() bool {
	return r.Attempted > 0 && len(r.Provenance) > 0 && len(r.Provenance) < r.Attempted
}

// Failed returns true if workers were attempted and none succeeded, or no
// workers could be attempted at all.
func (r *CoordinationResult) Failed() bool {
	return len(r.Provenance) == 0
}
