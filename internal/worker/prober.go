package worker

import (
	"context"
	"sync"
	"time"

	"github.com/skellig/convoke/internal/registry"
	"github.com/skellig/convoke/pkg/models"
)

// Pinger is implemented by workers that can report their own health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// defaultPingTimeout bounds a single health probe.
const defaultPingTimeout = 5 * time.Second

// Prober periodically health-checks registered workers and keeps the
// registry's health states current. A failed probe degrades a worker; a
// second consecutive failure marks it unavailable; a success restores it.
type Prober struct {
	registry *registry.Registry
	interval time.Duration
	// staleAfter prunes workers unseen for this long; zero disables pruning.
	staleAfter  time.Duration
	pingTimeout time.Duration

	mu       sync.Mutex
	pingers  map[string]Pinger
	failures map[string]int

	done chan struct{}
	wg   sync.WaitGroup
}

// NewProber creates a Prober. interval must be positive.
func NewProber(reg *registry.Registry, interval, staleAfter time.Duration) *Prober {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Prober{
		registry:    reg,
		interval:    interval,
		staleAfter:  staleAfter,
		pingTimeout: defaultPingTimeout,
		pingers:     make(map[string]Pinger),
		failures:    make(map[string]int),
		done:        make(chan struct{}),
	}
}

// Track adds a worker to the probe set. Workers without a Pinger are
// skipped by the probe loop and only subject to stale pruning.
func (p *Prober) Track(workerID string, pinger Pinger) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pinger != nil {
		p.pingers[workerID] = pinger
	}
}

// Untrack removes a worker from the probe set.
func (p *Prober) Untrack(workerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pingers, workerID)
	delete(p.failures, workerID)
}

// Start launches the probe loop. Stop terminates it.
func (p *Prober) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.done:
				return
			case <-ticker.C:
				p.Sweep(context.Background())
			}
		}
	}()
}

// Stop terminates the probe loop and waits for it to finish.
func (p *Prober) Stop() {
	close(p.done)
	p.wg.Wait()
}

// Sweep probes every tracked worker once and prunes stale descriptors.
// It is called by the probe loop and exposed for on-demand checks.
func (p *Prober) Sweep(ctx context.Context) {
	p.mu.Lock()
	targets := make(map[string]Pinger, len(p.pingers))
	for id, pinger := range p.pingers {
		targets[id] = pinger
	}
	p.mu.Unlock()

	for id, pinger := range targets {
		p.probe(ctx, id, pinger)
	}

	if p.staleAfter > 0 {
		p.registry.PruneStale(p.staleAfter)
	}
}

// probe runs one health check and applies the state transition.
func (p *Prober) probe(ctx context.Context, workerID string, pinger Pinger) {
	pingCtx, cancel := context.WithTimeout(ctx, p.pingTimeout)
	err := pinger.Ping(pingCtx)
	cancel()

	p.mu.Lock()
	if err != nil {
		p.failures[workerID]++
	} else {
		p.failures[workerID] = 0
	}
	count := p.failures[workerID]
	p.mu.Unlock()

	state := models.HealthHealthy
	switch {
	case count >= 2:
		state = models.HealthUnavailable
	case count == 1:
		state = models.HealthDegraded
	}
	// Deregistered workers return a not-found error; nothing to do.
	_ = p.registry.SetHealth(workerID, state)
}
