// Package worker provides dispatch.Worker implementations: in-process
// function workers, Anthropic-backed workers, and the health prober
// that keeps the registry's view of them current.
package worker

import (
	"context"
	"fmt"

	"github.com/skellig/convoke/internal/dispatch"
	"github.com/skellig/convoke/pkg/models"
)

// InvokeFunc is the signature of an in-process worker body.
type InvokeFunc func(ctx context.Context, a dispatch.Assignment) (models.Payload, error)

// Func adapts a plain function into a dispatch.Worker. It is the
// cheapest way to host a specialist in the same process as the
// coordinator.
type Func struct {
	id     string
	invoke InvokeFunc
	// ping is optional; nil means the worker is always considered healthy.
	ping func(ctx context.Context) error
}

// NewFunc creates a function-backed worker.
func NewFunc(id string, invoke InvokeFunc) (*Func, error) {
	if id == "" {
		return nil, fmt.Errorf("worker ID must not be empty")
	}
	if invoke == nil {
		return nil, fmt.Errorf("worker %q has no invoke function", id)
	}
	return &Func{id: id, invoke: invoke}, nil
}

// WithPing attaches a health check used by the prober.
func (f *Func) WithPing(ping func(ctx context.Context) error) *Func {
	f.ping = ping
	return f
}

// ID returns the worker's identity.
func (f *Func) ID() string {
	return f.id
}

// Invoke runs the wrapped function.
func (f *Func) Invoke(ctx context.Context, a dispatch.Assignment) (models.Payload, error) {
	if err := ctx.Err(); err != nil {
		return models.Payload{}, err
	}
	return f.invoke(ctx, a)
}

// Ping reports the worker's health. A nil ping hook always succeeds.
func (f *Func) Ping(ctx context.Context) error {
	if f.ping == nil {
		return nil
	}
	return f.ping(ctx)
}
