// Package dispatch selects workers for a task analysis and invokes them
// under the chosen coordination strategy. Individual worker failures are
// captured as outcome data, never returned as errors; the only errors a
// dispatch can return are contract violations and caller cancellation.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/skellig/convoke/pkg/models"
)

// DefaultTimeout bounds a single worker invocation when no per-capability
// override applies.
const DefaultTimeout = 30 * time.Second

// defaultConsensusFanout is how many workers share one capability under
// the consensus strategy.
const defaultConsensusFanout = 3

// Config holds dispatcher tunables.
type Config struct {
	// DefaultTimeout bounds each worker call. Zero means DefaultTimeout.
	DefaultTimeout time.Duration
	// CapabilityTimeouts overrides the call timeout per capability;
	// critical capabilities get shorter timeouts to fail fast. When one
	// invocation covers several capabilities the shortest bound wins.
	CapabilityTimeouts map[models.Capability]time.Duration
	// ConsensusFanout is how many eligible workers receive the same
	// capability under consensus. Zero means 3.
	ConsensusFanout int
}

// Dispatcher resolves capabilities to bound workers and runs them.
type Dispatcher struct {
	directory Directory
	breakers  Breakers
	latency   LatencyRecorder
	cfg       Config

	// invokers maps worker IDs to their invocation implementations.
	mu       sync.RWMutex
	invokers map[string]Worker

	// logf receives debug output; defaults to a no-op.
	logf func(format string, args ...any)
}

// New creates a Dispatcher. directory and breakers are required; latency
// may be nil.
func New(directory Directory, breakers Breakers, latency LatencyRecorder, cfg Config) *Dispatcher {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.ConsensusFanout <= 0 {
		cfg.ConsensusFanout = defaultConsensusFanout
	}
	return &Dispatcher{
		directory: directory,
		breakers:  breakers,
		latency:   latency,
		cfg:       cfg,
		invokers:  make(map[string]Worker),
		logf:      func(string, ...any) {},
	}
}

// SetLogf installs a debug log sink.
func (d *Dispatcher) SetLogf(logf func(format string, args ...any)) {
	if logf != nil {
		d.logf = logf
	}
}

// Bind associates a worker implementation with its identity so dispatch
// can invoke it. Rebinding an ID replaces the implementation.
func (d *Dispatcher) Bind(w Worker) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.invokers[w.ID()] = w
}

// Unbind removes a worker implementation.
func (d *Dispatcher) Unbind(workerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.invokers, workerID)
}

// invoker returns the bound implementation for a worker, or nil.
func (d *Dispatcher) invoker(workerID string) Worker {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.invokers[workerID]
}

// assignment pairs a bound worker with the capabilities it will cover in
// one invocation.
type assignment struct {
	worker  Worker
	caps    []models.Capability
	timeout time.Duration
}

// Dispatch runs the analysis under its strategy and returns one outcome
// per attempted invocation. A result with zero successes is a valid
// return; callers surface it as a degraded response.
func (d *Dispatcher) Dispatch(ctx context.Context, analysis *models.TaskAnalysis, req models.TaskRequest) ([]models.WorkerOutcome, error) {
	if analysis == nil {
		return nil, fmt.Errorf("dispatch called with nil analysis")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if analysis.Strategy == models.StrategyConsensus {
		return d.dispatchConsensus(ctx, analysis, req)
	}

	plan, misses := d.plan(analysis)
	d.logf("[dispatch] strategy=%s assignments=%d unmatched=%d", analysis.Strategy, len(plan), len(misses))

	var outcomes []models.WorkerOutcome
	var err error
	switch analysis.Strategy {
	case models.StrategySequential:
		outcomes, err = d.runSequential(ctx, plan, req)
	case models.StrategyHierarchical:
		outcomes, err = d.runHierarchical(ctx, plan, req)
	default:
		outcomes, err = d.runParallel(ctx, plan, req, nil)
	}
	if err != nil {
		return nil, err
	}

	return append(outcomes, misses...), nil
}

// plan resolves each required capability to the top-ranked eligible bound
// worker and groups capabilities by worker so each worker is invoked once.
// Capabilities with no eligible worker become failed outcomes in misses.
func (d *Dispatcher) plan(analysis *models.TaskAnalysis) ([]*assignment, []models.WorkerOutcome) {
	var plan []*assignment
	byWorker := make(map[string]*assignment)
	var misses []models.WorkerOutcome

	for _, cap := range analysis.Capabilities {
		w := d.selectWorker(cap, nil)
		if w == nil {
			d.logf("[dispatch] no eligible worker for capability %q", cap)
			misses = append(misses, models.WorkerOutcome{
				Capabilities: []models.Capability{cap},
				Success:      false,
				Err:          fmt.Sprintf("no eligible worker for capability %q", cap),
			})
			continue
		}

		if asg, ok := byWorker[w.ID()]; ok {
			asg.caps = append(asg.caps, cap)
			if t := d.timeoutFor(cap); t < asg.timeout {
				asg.timeout = t
			}
			continue
		}
		asg := &assignment{
			worker:  w,
			caps:    []models.Capability{cap},
			timeout: d.timeoutFor(cap),
		}
		byWorker[w.ID()] = asg
		plan = append(plan, asg)
	}
	return plan, misses
}

// selectWorker returns the highest-ranked bound worker for a capability,
// skipping IDs in exclude.
func (d *Dispatcher) selectWorker(cap models.Capability, exclude map[string]bool) Worker {
	for _, desc := range d.directory.FindByCapability(cap) {
		if exclude[desc.ID] {
			continue
		}
		if w := d.invoker(desc.ID); w != nil {
			return w
		}
	}
	return nil
}

// timeoutFor returns the call timeout for a capability.
func (d *Dispatcher) timeoutFor(cap models.Capability) time.Duration {
	if t, ok := d.cfg.CapabilityTimeouts[cap]; ok && t > 0 {
		return t
	}
	return d.cfg.DefaultTimeout
}

// mergedContext combines the request context with pipelined extras.
// The request's own context is never mutated.
func mergedContext(req models.TaskRequest, extra map[string]string) map[string]string {
	if len(req.Context) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(map[string]string, len(req.Context)+len(extra))
	for k, v := range req.Context {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// invokeOne runs a single assignment under its timeout and drives the
// breaker. The second return is false only when the parent context was
// cancelled, in which case the outcome must be discarded and no breaker
// state is touched.
func (d *Dispatcher) invokeOne(ctx context.Context, asg *assignment, req models.TaskRequest, extra map[string]string) (models.WorkerOutcome, bool) {
	outcome := models.WorkerOutcome{
		WorkerID:     asg.worker.ID(),
		Capabilities: append([]models.Capability{}, asg.caps...),
	}

	if err := d.breakers.Acquire(asg.worker.ID()); err != nil {
		// The circuit tripped between planning and invocation. Skipping
		// is recovery, not failure: the breaker is not charged.
		outcome.Err = fmt.Sprintf("worker unavailable: %v", err)
		return outcome, true
	}

	callCtx, cancel := context.WithTimeout(ctx, asg.timeout)
	defer cancel()

	// Built before spawning: extra may be a pipeline map the strategy
	// loop keeps writing after an abandoned call is written off.
	task := Assignment{
		RequestID:    req.ID,
		Text:         req.Text,
		Capabilities: asg.caps,
		Context:      mergedContext(req, extra),
	}

	type reply struct {
		payload models.Payload
		err     error
	}
	done := make(chan reply, 1)
	start := time.Now()
	go func() {
		payload, err := asg.worker.Invoke(callCtx, task)
		done <- reply{payload: payload, err: err}
	}()

	select {
	case r := <-done:
		outcome.Latency = time.Since(start)
		if ctx.Err() != nil {
			// Caller cancelled while the worker was finishing; the
			// partial outcome is discarded, the outcome never recorded.
			// Any claimed probe slot must be handed back or the circuit
			// would stay half-open forever.
			d.breakers.Release(asg.worker.ID())
			return models.WorkerOutcome{}, false
		}
		if r.err != nil {
			outcome.Err = r.err.Error()
			if callCtx.Err() == context.DeadlineExceeded {
				outcome.TimedOut = true
			}
			d.breakers.RecordOutcome(asg.worker.ID(), false, outcome.Latency)
			return outcome, true
		}
		outcome.Success = true
		outcome.Payload = r.payload
		if outcome.Latency > asg.timeout {
			// Awaited past the deadline but still delivered; keep the
			// data, flag the overrun.
			outcome.TimedOut = true
		}
		d.breakers.RecordOutcome(asg.worker.ID(), true, outcome.Latency)
		if d.latency != nil {
			d.latency.RecordLatency(asg.worker.ID(), outcome.Latency)
		}
		return outcome, true

	case <-callCtx.Done():
		if ctx.Err() != nil {
			d.breakers.Release(asg.worker.ID())
			return models.WorkerOutcome{}, false
		}
		// Per-call deadline: the worker gets a short grace to deliver a
		// late reply before the call is written off.
		select {
		case r := <-done:
			outcome.Latency = time.Since(start)
			outcome.TimedOut = true
			if r.err == nil {
				outcome.Success = true
				outcome.Payload = r.payload
				d.breakers.RecordOutcome(asg.worker.ID(), true, outcome.Latency)
				if d.latency != nil {
					d.latency.RecordLatency(asg.worker.ID(), outcome.Latency)
				}
				return outcome, true
			}
			outcome.Err = r.err.Error()
		case <-time.After(50 * time.Millisecond):
			outcome.Latency = time.Since(start)
			outcome.TimedOut = true
			outcome.Err = fmt.Sprintf("timed out after %s", asg.timeout)
		}
		d.breakers.RecordOutcome(asg.worker.ID(), false, outcome.Latency)
		return outcome, true
	}
}
