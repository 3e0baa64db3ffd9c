package orchestrator

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/skellig/convoke/pkg/models"
)

// EventType identifies a coordination lifecycle event.
type EventType string

const (
	// EventCycleStarted fires when a request enters the coordinator.
	EventCycleStarted EventType = "cycle_started"
	// EventAnalyzed fires once the analyzer has produced its routing decision.
	EventAnalyzed EventType = "analyzed"
	// EventWorkerFinished fires per worker outcome as dispatch completes.
	EventWorkerFinished EventType = "worker_finished"
	// EventCycleFinished fires when synthesis completes.
	EventCycleFinished EventType = "cycle_finished"
	// EventCycleCancelled fires when the caller abandons the request.
	EventCycleCancelled EventType = "cycle_cancelled"
)

// Event is a coordination lifecycle notification for subscribers such as
// the CLI progress view.
type Event struct {
	// Type identifies what happened.
	Type EventType `json:"type"`
	// CycleID identifies the orchestration cycle.
	CycleID string `json:"cycle_id"`
	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"timestamp"`
	// Analysis is set on EventAnalyzed.
	Analysis *models.TaskAnalysis `json:"analysis,omitempty"`
	// Outcome is set on EventWorkerFinished.
	Outcome *models.WorkerOutcome `json:"outcome,omitempty"`
	// Result is set on EventCycleFinished.
	Result *models.CoordinationResult `json:"result,omitempty"`
}

// EventEmitter provides a thread-safe way to publish events to one
// subscriber. A stalled subscriber causes drops, never blocked dispatch.
type EventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
}

// NewEventEmitter creates a new EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{
		events: make(chan Event, bufferSize),
	}
}

// Emit sends an event to the events channel.
// If the channel is full, it tries with a timeout before dropping the event.
func (e *EventEmitter) Emit(event Event) {
	event.Timestamp = time.Now()

	select {
	case e.events <- event:
		return
	default:
		// Channel full, try with timeout
	}

	select {
	case e.events <- event:
		return
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 { // Log every 10th drop to avoid spam
			log.Printf("[orchestrator] WARNING: event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events for subscribers.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the events channel. Call only after the coordinator has
// stopped emitting.
func (e *EventEmitter) Close() {
	close(e.events)
}
