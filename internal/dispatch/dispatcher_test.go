package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/skellig/convoke/internal/breaker"
	"github.com/skellig/convoke/internal/registry"
	"github.com/skellig/convoke/pkg/models"
)

// stubWorker is a test worker backed by a function.
type stubWorker struct {
	id string
	fn func(ctx context.Context, a Assignment) (models.Payload, error)
}

func (s *stubWorker) ID() string { return s.id }

func (s *stubWorker) Invoke(ctx context.Context, a Assignment) (models.Payload, error) {
	return s.fn(ctx, a)
}

// harness wires a dispatcher to a real registry and breaker bank.
type harness struct {
	bank *breaker.Bank
	reg  *registry.Registry
	disp *Dispatcher
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	bank := breaker.NewBank(breaker.Config{FailureThreshold: 3, Window: time.Minute, Cooldown: 30 * time.Second})
	reg := registry.New(registry.GateFunc(bank.Allowed))
	disp := New(reg, bank, reg, cfg)
	return &harness{bank: bank, reg: reg, disp: disp}
}

func (h *harness) addWorker(t *testing.T, id string, caps []models.Capability, fn func(ctx context.Context, a Assignment) (models.Payload, error)) {
	t.Helper()
	if err := h.reg.Register(&models.Worker{ID: id, Capabilities: caps}); err != nil {
		t.Fatalf("Register(%s) error: %v", id, err)
	}
	h.disp.Bind(&stubWorker{id: id, fn: fn})
}

func okWorker(summary string, recs ...string) func(ctx context.Context, a Assignment) (models.Payload, error) {
	return func(ctx context.Context, a Assignment) (models.Payload, error) {
		return models.Payload{Summary: summary, Recommendations: recs}, nil
	}
}

func analysis(strategy models.Strategy, caps ...models.Capability) *models.TaskAnalysis {
	return &models.TaskAnalysis{
		Capabilities: caps,
		Complexity:   models.ComplexityModerate,
		Strategy:     strategy,
	}
}

func TestDispatch_NilAnalysis(t *testing.T) {
	h := newHarness(t, Config{})

	if _, err := h.disp.Dispatch(context.Background(), nil, models.TaskRequest{}); err == nil {
		t.Error("Dispatch(nil analysis) should error")
	}
}

func TestDispatch_ParallelAllSucceed(t *testing.T) {
	h := newHarness(t, Config{})
	h.addWorker(t, "a", []models.Capability{"reasoning"}, okWorker("a says"))
	h.addWorker(t, "b", []models.Capability{"security-scan"}, okWorker("b says"))
	h.addWorker(t, "c", []models.Capability{"code-analysis"}, okWorker("c says"))

	outcomes, err := h.disp.Dispatch(context.Background(),
		analysis(models.StrategyParallel, "reasoning", "security-scan", "code-analysis"),
		models.TaskRequest{ID: "r1", Text: "review"})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	if len(outcomes) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(outcomes))
	}
	for _, o := range outcomes {
		if !o.Success {
			t.Errorf("outcome for %s failed: %s", o.WorkerID, o.Err)
		}
	}
}

func TestDispatch_ParallelOneFails(t *testing.T) {
	h := newHarness(t, Config{})
	h.addWorker(t, "a", []models.Capability{"reasoning"}, okWorker("fine"))
	h.addWorker(t, "b", []models.Capability{"security-scan"}, func(ctx context.Context, a Assignment) (models.Payload, error) {
		return models.Payload{}, errors.New("scanner crashed")
	})
	h.addWorker(t, "c", []models.Capability{"code-analysis"}, okWorker("fine too"))

	outcomes, err := h.disp.Dispatch(context.Background(),
		analysis(models.StrategyParallel, "reasoning", "security-scan", "code-analysis"),
		models.TaskRequest{ID: "r1"})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	var successes, failures int
	for _, o := range outcomes {
		if o.Success {
			successes++
		} else {
			failures++
			if o.WorkerID != "b" {
				t.Errorf("unexpected failure from %s", o.WorkerID)
			}
		}
	}
	if successes != 2 || failures != 1 {
		t.Errorf("successes=%d failures=%d, want 2 and 1", successes, failures)
	}
	if got := h.bank.FailureCount("b"); got != 1 {
		t.Errorf("breaker failures for b = %d, want 1", got)
	}
}

func TestDispatch_WorkerInvokedOnceWithCapabilityUnion(t *testing.T) {
	h := newHarness(t, Config{})

	var calls atomic.Int64
	var gotCaps atomic.Value
	h.addWorker(t, "multi", []models.Capability{"reasoning", "code-analysis"}, func(ctx context.Context, a Assignment) (models.Payload, error) {
		calls.Add(1)
		gotCaps.Store(append([]models.Capability{}, a.Capabilities...))
		return models.Payload{Summary: "both"}, nil
	})

	outcomes, err := h.disp.Dispatch(context.Background(),
		analysis(models.StrategyParallel, "reasoning", "code-analysis"),
		models.TaskRequest{ID: "r1"})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("worker invoked %d times, want 1", got)
	}
	if len(outcomes) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(outcomes))
	}
	caps := gotCaps.Load().([]models.Capability)
	if len(caps) != 2 {
		t.Errorf("assignment capabilities = %v, want union of 2", caps)
	}
}

func TestDispatch_TimeoutProducesTimedOutOutcome(t *testing.T) {
	h := newHarness(t, Config{DefaultTimeout: 50 * time.Millisecond})
	h.addWorker(t, "slow", []models.Capability{"reasoning"}, func(ctx context.Context, a Assignment) (models.Payload, error) {
		time.Sleep(400 * time.Millisecond) // ignores ctx entirely
		return models.Payload{Summary: "too late"}, nil
	})

	outcomes, err := h.disp.Dispatch(context.Background(),
		analysis(models.StrategyParallel, "reasoning"),
		models.TaskRequest{ID: "r1"})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	if len(outcomes) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(outcomes))
	}
	o := outcomes[0]
	if o.Success {
		t.Error("timed out worker should not succeed")
	}
	if !o.TimedOut {
		t.Error("outcome should be flagged timed_out")
	}
	if got := h.bank.FailureCount("slow"); got != 1 {
		t.Errorf("breaker failures = %d, want exactly 1", got)
	}
}

func TestDispatch_TimeoutDoesNotAffectOthers(t *testing.T) {
	h := newHarness(t, Config{DefaultTimeout: 50 * time.Millisecond})
	h.addWorker(t, "slow", []models.Capability{"reasoning"}, func(ctx context.Context, a Assignment) (models.Payload, error) {
		<-ctx.Done()
		return models.Payload{}, ctx.Err()
	})
	h.addWorker(t, "fast", []models.Capability{"security-scan"}, okWorker("done"))

	outcomes, err := h.disp.Dispatch(context.Background(),
		analysis(models.StrategyParallel, "reasoning", "security-scan"),
		models.TaskRequest{ID: "r1"})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	byID := map[string]models.WorkerOutcome{}
	for _, o := range outcomes {
		byID[o.WorkerID] = o
	}
	if !byID["fast"].Success {
		t.Error("fast worker should succeed despite slow worker's timeout")
	}
	if byID["slow"].Success || !byID["slow"].TimedOut {
		t.Errorf("slow outcome = %+v, want timed-out failure", byID["slow"])
	}
}

func TestDispatch_SequentialPipelinesUpstreamOutput(t *testing.T) {
	h := newHarness(t, Config{})

	var sawUpstream atomic.Value
	h.addWorker(t, "first", []models.Capability{"reasoning"}, okWorker("the plan"))
	h.addWorker(t, "second", []models.Capability{"code-analysis"}, func(ctx context.Context, a Assignment) (models.Payload, error) {
		sawUpstream.Store(a.Context["upstream.first"])
		return models.Payload{Summary: "applied"}, nil
	})

	_, err := h.disp.Dispatch(context.Background(),
		analysis(models.StrategySequential, "reasoning", "code-analysis"),
		models.TaskRequest{ID: "r1"})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	if got, _ := sawUpstream.Load().(string); got != "the plan" {
		t.Errorf("downstream context upstream.first = %q, want %q", got, "the plan")
	}
}

func TestDispatch_SequentialFailureDoesNotHaltChain(t *testing.T) {
	h := newHarness(t, Config{})

	var secondRan atomic.Bool
	h.addWorker(t, "first", []models.Capability{"reasoning"}, func(ctx context.Context, a Assignment) (models.Payload, error) {
		return models.Payload{}, errors.New("boom")
	})
	h.addWorker(t, "second", []models.Capability{"code-analysis"}, func(ctx context.Context, a Assignment) (models.Payload, error) {
		secondRan.Store(true)
		return models.Payload{Summary: "still ran"}, nil
	})

	outcomes, err := h.disp.Dispatch(context.Background(),
		analysis(models.StrategySequential, "reasoning", "code-analysis"),
		models.TaskRequest{ID: "r1"})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	if !secondRan.Load() {
		t.Error("second worker should run after first fails")
	}
	if len(outcomes) != 2 {
		t.Errorf("got %d outcomes, want 2", len(outcomes))
	}
}

func TestDispatch_HierarchicalPrunesPerLeadPlan(t *testing.T) {
	h := newHarness(t, Config{})

	h.addWorker(t, "lead", []models.Capability{"reasoning"}, func(ctx context.Context, a Assignment) (models.Payload, error) {
		return models.Payload{
			Summary: "plan",
			Data:    map[string]any{"required_capabilities": []string{"testing"}},
		}, nil
	})
	var testerRan, writerRan atomic.Bool
	h.addWorker(t, "tester", []models.Capability{"testing"}, func(ctx context.Context, a Assignment) (models.Payload, error) {
		testerRan.Store(true)
		return models.Payload{Summary: "tested"}, nil
	})
	h.addWorker(t, "writer", []models.Capability{"documentation"}, func(ctx context.Context, a Assignment) (models.Payload, error) {
		writerRan.Store(true)
		return models.Payload{Summary: "documented"}, nil
	})

	outcomes, err := h.disp.Dispatch(context.Background(),
		analysis(models.StrategyHierarchical, "reasoning", "testing", "documentation"),
		models.TaskRequest{ID: "r1"})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	if !testerRan.Load() {
		t.Error("tester should run: lead's plan requires testing")
	}
	if writerRan.Load() {
		t.Error("writer should be pruned by the lead's plan")
	}
	if len(outcomes) != 2 {
		t.Errorf("got %d outcomes, want 2 (lead + tester)", len(outcomes))
	}
	if outcomes[0].WorkerID != "lead" {
		t.Errorf("first outcome = %s, want lead", outcomes[0].WorkerID)
	}
}

func TestDispatch_HierarchicalWithoutPlanKeepsAll(t *testing.T) {
	h := newHarness(t, Config{})

	h.addWorker(t, "lead", []models.Capability{"reasoning"}, okWorker("no plan published"))
	var writerRan atomic.Bool
	h.addWorker(t, "writer", []models.Capability{"documentation"}, func(ctx context.Context, a Assignment) (models.Payload, error) {
		writerRan.Store(true)
		return models.Payload{Summary: "documented"}, nil
	})

	_, err := h.disp.Dispatch(context.Background(),
		analysis(models.StrategyHierarchical, "reasoning", "documentation"),
		models.TaskRequest{ID: "r1"})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	if !writerRan.Load() {
		t.Error("writer should run when lead publishes no plan")
	}
}

func TestDispatch_ConsensusFansOut(t *testing.T) {
	h := newHarness(t, Config{ConsensusFanout: 3})
	h.addWorker(t, "s1", []models.Capability{"security-scan"}, okWorker("verdict A"))
	h.addWorker(t, "s2", []models.Capability{"security-scan"}, okWorker("verdict A"))
	h.addWorker(t, "s3", []models.Capability{"security-scan"}, okWorker("verdict B"))

	outcomes, err := h.disp.Dispatch(context.Background(),
		analysis(models.StrategyConsensus, "security-scan"),
		models.TaskRequest{ID: "r1"})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	if len(outcomes) != 3 {
		t.Fatalf("got %d outcomes, want fanout of 3", len(outcomes))
	}
	seen := map[string]bool{}
	for _, o := range outcomes {
		if seen[o.WorkerID] {
			t.Errorf("worker %s invoked more than once", o.WorkerID)
		}
		seen[o.WorkerID] = true
	}
}

func TestDispatch_NoEligibleWorker(t *testing.T) {
	h := newHarness(t, Config{})

	outcomes, err := h.disp.Dispatch(context.Background(),
		analysis(models.StrategyParallel, "translation"),
		models.TaskRequest{ID: "r1"})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	if len(outcomes) != 1 {
		t.Fatalf("got %d outcomes, want 1 recorded miss", len(outcomes))
	}
	if outcomes[0].Success {
		t.Error("unmatched capability should yield a failed outcome")
	}
}

func TestDispatch_OpenCircuitRoutesToNextWorker(t *testing.T) {
	h := newHarness(t, Config{})
	h.addWorker(t, "flaky", []models.Capability{"security-scan"}, okWorker("flaky says"))
	h.addWorker(t, "steady", []models.Capability{"security-scan"}, okWorker("steady says"))

	// Trip flaky's circuit.
	for i := 0; i < 3; i++ {
		h.bank.RecordOutcome("flaky", false, time.Millisecond)
	}

	outcomes, err := h.disp.Dispatch(context.Background(),
		analysis(models.StrategyParallel, "security-scan"),
		models.TaskRequest{ID: "r1"})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	if len(outcomes) != 1 || outcomes[0].WorkerID != "steady" {
		t.Errorf("outcomes = %+v, want single dispatch to steady", outcomes)
	}
}

// captureLatency records the last latency reported per worker.
type captureLatency struct {
	mu       sync.Mutex
	byWorker map[string]time.Duration
}

func (c *captureLatency) RecordLatency(workerID string, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byWorker == nil {
		c.byWorker = map[string]time.Duration{}
	}
	c.byWorker[workerID] = latency
}

func (c *captureLatency) get(workerID string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.byWorker[workerID]
	return d, ok
}

func TestDispatch_LateSuccessRecordsLatency(t *testing.T) {
	bank := breaker.NewBank(breaker.DefaultConfig())
	reg := registry.New(registry.GateFunc(bank.Allowed))
	rec := &captureLatency{}
	disp := New(reg, bank, rec, Config{DefaultTimeout: 20 * time.Millisecond})

	if err := reg.Register(&models.Worker{ID: "slow", Capabilities: []models.Capability{"reasoning"}}); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	disp.Bind(&stubWorker{id: "slow", fn: func(ctx context.Context, a Assignment) (models.Payload, error) {
		time.Sleep(40 * time.Millisecond) // past the deadline, within the grace
		return models.Payload{Summary: "late but usable"}, nil
	}})

	outcomes, err := disp.Dispatch(context.Background(),
		analysis(models.StrategyParallel, "reasoning"),
		models.TaskRequest{ID: "r1"})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	if len(outcomes) != 1 {
		t.Fatalf("got %d outcomes, want 1", len(outcomes))
	}
	o := outcomes[0]
	if !o.Success || !o.TimedOut {
		t.Errorf("outcome = %+v, want successful overrun", o)
	}
	if got, ok := rec.get("slow"); !ok || got <= 0 {
		t.Errorf("recorded latency = %v (present=%t), want positive sample for late success", got, ok)
	}
}

func TestDispatch_SequentialContinuesPastAbandonedWorker(t *testing.T) {
	h := newHarness(t, Config{DefaultTimeout: 20 * time.Millisecond})

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	h.addWorker(t, "stuck", []models.Capability{"reasoning"}, func(ctx context.Context, a Assignment) (models.Payload, error) {
		<-release
		return models.Payload{}, ctx.Err()
	})
	h.addWorker(t, "next", []models.Capability{"code-analysis"}, okWorker("continued"))
	var sawUpstream atomic.Value
	h.addWorker(t, "last", []models.Capability{"documentation"}, func(ctx context.Context, a Assignment) (models.Payload, error) {
		sawUpstream.Store(a.Context["upstream.next"])
		return models.Payload{Summary: "done"}, nil
	})

	outcomes, err := h.disp.Dispatch(context.Background(),
		analysis(models.StrategySequential, "reasoning", "code-analysis", "documentation"),
		models.TaskRequest{ID: "r1"})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}

	if len(outcomes) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(outcomes))
	}
	if outcomes[0].Success || !outcomes[0].TimedOut {
		t.Errorf("stuck outcome = %+v, want timed-out failure", outcomes[0])
	}
	if got, _ := sawUpstream.Load().(string); got != "continued" {
		t.Errorf("downstream context upstream.next = %q, want %q", got, "continued")
	}
}

func TestDispatch_CancelledHalfOpenTrialReleasesProbe(t *testing.T) {
	bank := breaker.NewBank(breaker.Config{FailureThreshold: 1, Window: time.Minute, Cooldown: 20 * time.Millisecond})
	reg := registry.New(registry.GateFunc(bank.Allowed))
	disp := New(reg, bank, reg, Config{DefaultTimeout: 5 * time.Second})

	started := make(chan struct{})
	if err := reg.Register(&models.Worker{ID: "flaky", Capabilities: []models.Capability{"reasoning"}}); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	disp.Bind(&stubWorker{id: "flaky", fn: func(ctx context.Context, a Assignment) (models.Payload, error) {
		close(started)
		<-ctx.Done()
		return models.Payload{}, ctx.Err()
	}})

	// Trip the circuit, then let the cool-down elapse so the next
	// dispatch is the half-open trial.
	bank.RecordOutcome("flaky", false, time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-started
		cancel()
	}()

	if _, err := disp.Dispatch(ctx, analysis(models.StrategyParallel, "reasoning"), models.TaskRequest{ID: "r1"}); err == nil {
		t.Fatal("Dispatch() should return the cancellation error")
	}

	// The abandoned trial must not wedge the circuit half-open.
	if got := bank.State("flaky"); got != breaker.StateOpen {
		t.Errorf("State() = %v after cancelled trial, want %v", got, breaker.StateOpen)
	}
	if !bank.Allowed("flaky") {
		t.Error("Allowed() = false after cancelled trial, want true (probe slot released)")
	}
	if err := bank.Acquire("flaky"); err != nil {
		t.Errorf("Acquire() after cancelled trial error: %v, want new trial admitted", err)
	}
}

func TestDispatch_CancellationDiscardsPartialOutcomes(t *testing.T) {
	h := newHarness(t, Config{DefaultTimeout: 5 * time.Second})

	started := make(chan struct{})
	h.addWorker(t, "blocked", []models.Capability{"reasoning"}, func(ctx context.Context, a Assignment) (models.Payload, error) {
		close(started)
		<-ctx.Done()
		return models.Payload{}, ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	outcomes, err := h.disp.Dispatch(ctx,
		analysis(models.StrategyParallel, "reasoning"),
		models.TaskRequest{ID: "r1"})

	if err == nil {
		t.Fatal("Dispatch() should return the cancellation error")
	}
	if len(outcomes) != 0 {
		t.Errorf("got %d outcomes after cancellation, want 0", len(outcomes))
	}
	if got := h.bank.FailureCount("blocked"); got != 0 {
		t.Errorf("breaker failures = %d, want 0 for cancelled in-flight call", got)
	}
}
