package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/skellig/convoke/internal/analyzer"
	"github.com/skellig/convoke/internal/breaker"
	"github.com/skellig/convoke/internal/dispatch"
	"github.com/skellig/convoke/internal/registry"
	"github.com/skellig/convoke/internal/synth"
	"github.com/skellig/convoke/pkg/models"
)

// eventBufferSize bounds the coordinator's event channel.
const eventBufferSize = 100

// Config contains construction options for the Coordinator.
type Config struct {
	// Lexicon is the keyword-to-capability mapping. Nil uses the default.
	Lexicon *analyzer.Lexicon
	// ComplexStrategy is used for complex requests; hierarchical when unset.
	ComplexStrategy models.Strategy
	// Breaker holds circuit-breaker tunables; zero fields use defaults.
	Breaker breaker.Config
	// Dispatch holds dispatcher tunables; zero fields use defaults.
	Dispatch dispatch.Config
	// RankKeywords overrides recommendation ranking; nil uses defaults.
	RankKeywords []string
	// DebugLogPath enables file-backed debug logging when non-empty.
	DebugLogPath string
}

// Coordinator is the orchestration facade: one entry point that analyzes
// a request, dispatches workers, and synthesizes their outcomes.
type Coordinator struct {
	analyzer *analyzer.Analyzer
	breakers *breaker.Bank
	registry *registry.Registry
	dispatch *dispatch.Dispatcher
	synth    *synth.Synthesizer

	emitter *EventEmitter
	logger  *DebugLogger
}

// New creates a Coordinator wired end to end.
func New(cfg Config) (*Coordinator, error) {
	logger, err := NewDebugLogger(cfg.DebugLogPath)
	if err != nil {
		return nil, fmt.Errorf("create debug logger: %w", err)
	}
	setPackageLogger(logger)

	bank := breaker.NewBank(cfg.Breaker)
	reg := registry.New(registry.GateFunc(bank.Allowed))
	disp := dispatch.New(reg, bank, reg, cfg.Dispatch)
	disp.SetLogf(debugLog)

	return &Coordinator{
		analyzer: analyzer.New(cfg.Lexicon, cfg.ComplexStrategy),
		breakers: bank,
		registry: reg,
		dispatch: disp,
		synth:    synth.New(cfg.RankKeywords),
		emitter:  NewEventEmitter(eventBufferSize),
		logger:   logger,
	}, nil
}

// RegisterWorker adds a worker to the registry and binds its
// implementation for dispatch. Registration is idempotent.
func (c *Coordinator) RegisterWorker(desc *models.Worker, impl dispatch.Worker) error {
	if impl == nil {
		return fmt.Errorf("worker %q has no implementation", desc.ID)
	}
	if desc.ID != impl.ID() {
		return fmt.Errorf("descriptor ID %q does not match implementation ID %q", desc.ID, impl.ID())
	}
	if err := c.registry.Register(desc); err != nil {
		return err
	}
	c.dispatch.Bind(impl)
	debugLog("[coordinator] registered worker %s caps=%v", desc.ID, desc.Capabilities)
	return nil
}

// DeregisterWorker removes a worker. A *registry.NotFoundError is
// non-fatal; callers may log and ignore it.
func (c *Coordinator) DeregisterWorker(workerID string) error {
	c.dispatch.Unbind(workerID)
	return c.registry.Deregister(workerID)
}

// Registry exposes the capability registry for health probes and status
// surfaces.
func (c *Coordinator) Registry() *registry.Registry {
	return c.registry
}

// Breakers exposes circuit state for status surfaces.
func (c *Coordinator) Breakers() *breaker.Bank {
	return c.breakers
}

// Analyzer exposes the task analyzer so hosts can hot-swap the lexicon.
func (c *Coordinator) Analyzer() *analyzer.Analyzer {
	return c.analyzer
}

// Events returns the coordination event stream.
func (c *Coordinator) Events() <-chan Event {
	return c.emitter.Events()
}

// Handle runs one full orchestration cycle: analyze, dispatch under the
// chosen strategy, synthesize. A non-empty strategyOverride bypasses the
// analyzer's choice. Worker failures degrade the result instead of
// failing the call; the only errors are contract violations and caller
// cancellation, and a cancelled request yields no partial result.
func (c *Coordinator) Handle(ctx context.Context, req models.TaskRequest, strategyOverride models.Strategy) (*models.CoordinationResult, error) {
	if strategyOverride != "" && !strategyOverride.Valid() {
		return nil, fmt.Errorf("invalid strategy override %q", strategyOverride)
	}
	if req.ID == "" {
		req.ID = uuid.New().String()[:8]
	}
	start := time.Now()

	c.emitter.Emit(Event{Type: EventCycleStarted, CycleID: req.ID})
	debugLog("[coordinator] cycle %s started: %q", req.ID, req.Text)

	analysis := c.analyzer.Analyze(req)
	if strategyOverride != "" {
		analysis.Strategy = strategyOverride
	}
	c.emitter.Emit(Event{Type: EventAnalyzed, CycleID: req.ID, Analysis: &analysis})
	debugLog("[coordinator] cycle %s analysis: caps=%v complexity=%s strategy=%s",
		req.ID, analysis.Capabilities, analysis.Complexity, analysis.Strategy)

	outcomes, err := c.dispatch.Dispatch(ctx, &analysis, req)
	if err != nil {
		c.emitter.Emit(Event{Type: EventCycleCancelled, CycleID: req.ID})
		debugLog("[coordinator] cycle %s aborted: %v", req.ID, err)
		return nil, err
	}
	for i := range outcomes {
		c.emitter.Emit(Event{Type: EventWorkerFinished, CycleID: req.ID, Outcome: &outcomes[i]})
	}

	result := c.synth.Synthesize(req.ID, analysis.Strategy, outcomes)
	result.Duration = time.Since(start)

	c.emitter.Emit(Event{Type: EventCycleFinished, CycleID: req.ID, Result: result})
	debugLog("[coordinator] cycle %s finished: confidence=%.2f attempted=%d successes=%d",
		req.ID, result.Confidence, result.Attempted, len(result.Provenance))
	return result, nil
}

// Close releases the coordinator's resources. The event channel is
// closed; Handle must not be called afterwards.
func (c *Coordinator) Close() error {
	c.emitter.Close()
	return c.logger.Close()
}
