package orchestrator

import (
	"context"

	aerr "github.com/vinayprograms/admitkit/errors"
	"github.com/vinayprograms/admitkit/gate"
	"github.com/vinayprograms/admitkit/ledger"
	"github.com/vinayprograms/admitkit/service"
)

// Handle is the body's access to the services and gates of a run. It is
// passed explicitly to whatever code submits work.
type Handle struct {
	o *Orchestrator
}

// Submit queues a request on the named service. After the run has ended
// it fails with CANCELLED.
func (h *Handle) Submit(ctx context.Context, name string, payload any, cost float64, opts ...service.SubmitOption) (*service.Future, error) {
	if h.o.ended.Load() {
		return nil, aerr.Cancelled("orchestrator run has ended", aerr.WithService(name))
	}
	svc, err := h.o.service(name)
	if err != nil {
		return nil, err
	}
	return svc.Submit(ctx, payload, cost, opts...)
}

// Call submits a request and waits for its outcome.
func (h *Handle) Call(ctx context.Context, name string, payload any, cost float64, opts ...service.SubmitOption) (any, error) {
	f, err := h.Submit(ctx, name, payload, cost, opts...)
	if err != nil {
		return nil, err
	}
	return f.Wait(ctx)
}

// Do runs fn while holding a slot of the named gate.
func (h *Handle) Do(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	g, err := h.o.gate(name)
	if err != nil {
		return err
	}
	ctx, span := h.o.tracer.StartGateSpan(ctx, name)
	defer func() { h.o.tracer.EndGateSpan(span, err) }()
	return g.Do(ctx, fn)
}

// AcquireGate takes a slot of the named gate. The caller must release it,
// typically with defer.
func (h *Handle) AcquireGate(ctx context.Context, name string) (*gate.Handle, error) {
	g, err := h.o.gate(name)
	if err != nil {
		return nil, err
	}
	return g.Acquire(ctx)
}

// Unavailable reports whether the named service has crashed.
func (h *Handle) Unavailable(name string) bool {
	svc, err := h.o.service(name)
	return err == nil && svc.Unavailable()
}

// Ledger returns the run's cost ledger.
func (h *Handle) Ledger() *ledger.Ledger {
	return h.o.ledger
}
