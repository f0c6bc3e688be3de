package ledger

import (
	"sync"
	"time"
)

// Resource totals fed by Record.
const (
	ResourceLLMRequests       = "llm.requests"
	ResourceLLMPromptTokens   = "llm.prompt_tokens"
	ResourceLLMResponseTokens = "llm.response_tokens"
)

// Defaults applied by Record to empty names.
const (
	DefaultLabel = "default"
	UnknownModel = "unknown_model"
	DefaultEvent = "default"
)

// Observer is notified after a resource total changes. It runs with the
// ledger locked and must not call back into the ledger.
type Observer interface {
	LedgerChanged(resource string, total float64)
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithObserver attaches an observer, typically the metrics collector.
func WithObserver(obs Observer) Option {
	return func(l *Ledger) {
		l.observer = obs
	}
}

// WithPrices replaces the price table used by Cost. A nil table prices
// everything at zero.
func WithPrices(p Prices) Option {
	return func(l *Ledger) {
		l.prices = p
	}
}

// WithClock replaces the time source used for elapsed run time.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.nowFunc = now
		}
	}
}

// Ledger holds monotonic per-resource totals. It is safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	totals  map[string]float64
	usage   map[string]map[string]map[string]Usage // label -> model -> event
	prices  Prices
	started time.Time

	observer Observer
	nowFunc  func() time.Time
}

// New creates an empty ledger. Elapsed time is measured from this call.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		totals:  make(map[string]float64),
		usage:   make(map[string]map[string]map[string]Usage),
		prices:  DefaultPrices(),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.started = l.nowFunc()
	return l
}

// Add increases the total for resource by amount.
// Non-positive amounts are ignored so totals never decrease.
func (l *Ledger) Add(resource string, amount float64) {
	if !(amount > 0) {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.add(resource, amount)
}

// add updates one total and notifies the observer. Notifying under l.mu
// keeps the observer's view monotonic. Caller must hold l.mu.
func (l *Ledger) add(resource string, amount float64) {
	l.totals[resource] += amount
	if l.observer != nil {
		l.observer.LedgerChanged(resource, l.totals[resource])
	}
}

// Snapshot returns a consistent copy of all resource totals.
func (l *Ledger) Snapshot() map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]float64, len(l.totals))
	for k, v := range l.totals {
		out[k] = v
	}
	return out
}

// Total returns the total for one resource.
func (l *Ledger) Total(resource string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totals[resource]
}

// Elapsed returns the time since the ledger was created.
func (l *Ledger) Elapsed() time.Duration {
	return l.nowFunc().Sub(l.started)
}
