package gate

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	aerr "github.com/vinayprograms/admitkit/errors"
)

// Config configures a Gate.
type Config struct {
	// Capacity is the number of callers allowed inside at once.
	Capacity int `json:"capacity" yaml:"capacity" toml:"capacity"`
}

// Validate checks that the configuration can drive a gate.
func (c Config) Validate() error {
	if c.Capacity < 1 {
		return aerr.New(aerr.CodeConfiguration,
			"gate capacity must be at least 1",
			aerr.WithMetadata("capacity", strconv.Itoa(c.Capacity)))
	}
	return nil
}

// Observer is notified whenever the number of held slots changes. It runs
// under the gate's notification lock and must not acquire from the gate.
type Observer interface {
	GateChanged(name string, held, capacity int)
}

// Option configures a Gate.
type Option func(*Gate)

// WithObserver attaches an observer, typically the metrics collector.
func WithObserver(obs Observer) Option {
	return func(g *Gate) {
		g.observer = obs
	}
}

// Gate is a bounded-slot gate with FIFO waiters.
// It is safe for concurrent use.
type Gate struct {
	name     string
	capacity int
	sem      *semaphore.Weighted
	held     atomic.Int64

	// mu orders observer notifications with the held count they report.
	mu       sync.Mutex
	observer Observer
}

// New creates a gate with the given capacity.
func New(name string, cfg Config, opts ...Option) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, aerr.Wrap(err, "gate "+name, aerr.WithService(name))
	}
	g := &Gate{
		name:     name,
		capacity: cfg.Capacity,
		sem:      semaphore.NewWeighted(int64(cfg.Capacity)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Name returns the gate name.
func (g *Gate) Name() string {
	return g.name
}

// Capacity returns the number of slots.
func (g *Gate) Capacity() int {
	return g.capacity
}

// Held returns the number of slots currently in use.
func (g *Gate) Held() int {
	return int(g.held.Load())
}

// Handle is one held slot. Release is idempotent.
type Handle struct {
	gate *Gate
	once sync.Once
}

// Release frees the slot. Calls after the first are no-ops.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.once.Do(h.gate.release)
}

// Acquire blocks until a slot is free or ctx ends.
func (g *Gate) Acquire(ctx context.Context) (*Handle, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, context.Cause(ctx)
	}
	g.adjust(1)
	return &Handle{gate: g}, nil
}

// TryAcquire takes a slot without blocking. Returns nil if none is free.
func (g *Gate) TryAcquire() *Handle {
	if !g.sem.TryAcquire(1) {
		return nil
	}
	g.adjust(1)
	return &Handle{gate: g}
}

// Do runs fn while holding a slot. The slot is released however fn exits,
// including by panic, which is propagated after the release.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	h, err := g.Acquire(ctx)
	if err != nil {
		return err
	}
	defer h.Release()
	return fn(ctx)
}

// release reports the drop before freeing the slot, so the next holder's
// increment is always observed after it.
func (g *Gate) release() {
	g.adjust(-1)
	g.sem.Release(1)
}

// adjust changes the held count and notifies the observer under g.mu, so
// observers see counts in the order they happened.
func (g *Gate) adjust(delta int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	held := g.held.Add(delta)
	if g.observer != nil {
		g.observer.GateChanged(g.name, int(held), g.capacity)
	}
}
