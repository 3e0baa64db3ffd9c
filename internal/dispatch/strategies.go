package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/skellig/convoke/pkg/models"
)

// runParallel invokes every assignment concurrently and waits for all of
// them to finish or time out. Call order carries no meaning; synthesis
// determinism comes from ranking, not arrival order.
func (d *Dispatcher) runParallel(ctx context.Context, plan []*assignment, req models.TaskRequest, extra map[string]string) ([]models.WorkerOutcome, error) {
	var (
		mu       sync.Mutex
		outcomes []models.WorkerOutcome
		wg       sync.WaitGroup
	)

	for _, asg := range plan {
		wg.Add(1)
		go func(asg *assignment) {
			defer wg.Done()
			outcome, ok := d.invokeOne(ctx, asg, req, extra)
			if !ok {
				return
			}
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
		}(asg)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		// Cancelled mid-flight: partial outcomes are discarded.
		return nil, err
	}
	return outcomes, nil
}

// runSequential invokes assignments in capability-priority order. A
// failure does not halt the chain; each success pipes its summary to
// downstream workers through the shared context.
func (d *Dispatcher) runSequential(ctx context.Context, plan []*assignment, req models.TaskRequest) ([]models.WorkerOutcome, error) {
	var outcomes []models.WorkerOutcome
	pipeline := make(map[string]string)

	for _, asg := range plan {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outcome, ok := d.invokeOne(ctx, asg, req, pipeline)
		if !ok {
			return nil, ctx.Err()
		}
		outcomes = append(outcomes, outcome)
		if outcome.Success && outcome.Payload.Summary != "" {
			pipeline["upstream."+outcome.WorkerID] = outcome.Payload.Summary
		}
	}
	return outcomes, nil
}

// planKey is the context key under which a hierarchical lead publishes
// the capabilities still required. The value must be a list of strings.
const planKey = "required_capabilities"

// runHierarchical invokes the lead worker first (the one covering the
// highest-priority capability), then prunes the remaining assignments to
// the capabilities the lead's plan still requires.
func (d *Dispatcher) runHierarchical(ctx context.Context, plan []*assignment, req models.TaskRequest) ([]models.WorkerOutcome, error) {
	if len(plan) == 0 {
		return nil, nil
	}

	lead := plan[0]
	rest := plan[1:]

	leadOutcome, ok := d.invokeOne(ctx, lead, req, nil)
	if !ok {
		return nil, ctx.Err()
	}

	extra := map[string]string{}
	if leadOutcome.Success && leadOutcome.Payload.Summary != "" {
		extra["upstream."+leadOutcome.WorkerID] = leadOutcome.Payload.Summary
	}

	if required, ok := requiredCapabilities(leadOutcome); ok {
		pruned := rest[:0:0]
		for _, asg := range rest {
			if coversAny(asg, required) {
				pruned = append(pruned, asg)
			} else {
				d.logf("[dispatch] lead plan pruned worker %s (caps %v)", asg.worker.ID(), asg.caps)
			}
		}
		rest = pruned
	}

	outcomes, err := d.runParallel(ctx, rest, req, extra)
	if err != nil {
		return nil, err
	}
	return append([]models.WorkerOutcome{leadOutcome}, outcomes...), nil
}

// requiredCapabilities extracts the lead worker's pruning plan from its
// payload. A lead that publishes no plan keeps all remaining dispatches.
func requiredCapabilities(lead models.WorkerOutcome) (map[models.Capability]bool, bool) {
	if !lead.Success || lead.Payload.Data == nil {
		return nil, false
	}
	raw, ok := lead.Payload.Data[planKey]
	if !ok {
		return nil, false
	}

	required := make(map[models.Capability]bool)
	switch v := raw.(type) {
	case []string:
		for _, c := range v {
			required[models.Capability(c)] = true
		}
	case []models.Capability:
		for _, c := range v {
			required[c] = true
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				required[models.Capability(s)] = true
			}
		}
	default:
		return nil, false
	}
	return required, true
}

// coversAny reports whether the assignment covers any required capability.
func coversAny(asg *assignment, required map[models.Capability]bool) bool {
	for _, c := range asg.caps {
		if required[c] {
			return true
		}
	}
	return false
}

// dispatchConsensus fans each capability out to several eligible workers
// in parallel. Reconciliation of the competing answers happens in the
// synthesizer, not here.
func (d *Dispatcher) dispatchConsensus(ctx context.Context, analysis *models.TaskAnalysis, req models.TaskRequest) ([]models.WorkerOutcome, error) {
	var plan []*assignment
	var misses []models.WorkerOutcome

	for _, cap := range analysis.Capabilities {
		picked := 0
		exclude := make(map[string]bool)
		for picked < d.cfg.ConsensusFanout {
			w := d.selectWorker(cap, exclude)
			if w == nil {
				break
			}
			exclude[w.ID()] = true
			plan = append(plan, &assignment{
				worker:  w,
				caps:    []models.Capability{cap},
				timeout: d.timeoutFor(cap),
			})
			picked++
		}
		if picked == 0 {
			misses = append(misses, models.WorkerOutcome{
				Capabilities: []models.Capability{cap},
				Success:      false,
				Err:          fmt.Sprintf("no eligible worker for capability %q", cap),
			})
		}
	}
	d.logf("[dispatch] strategy=consensus fanout=%d assignments=%d unmatched=%d",
		d.cfg.ConsensusFanout, len(plan), len(misses))

	outcomes, err := d.runParallel(ctx, plan, req, nil)
	if err != nil {
		return nil, err
	}
	return append(outcomes, misses...), nil
}
