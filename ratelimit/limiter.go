package ratelimit

import (
	"container/list"
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	aerr "github.com/vinayprograms/admitkit/errors"
)

// tolerance absorbs float drift when the refill lands exactly on the cost.
const tolerance = 1e-9

// waiter is one caller blocked in Acquire.
type waiter struct {
	cost float64
	wake chan struct{} // buffered(1); a pending signal is never lost
}

// Limiter is a FIFO token bucket for one named resource.
// It is safe for concurrent use.
type Limiter struct {
	name string

	mu         sync.Mutex
	capacity   float64
	available  float64
	rate       float64
	lastRefill time.Time
	waiters    *list.List // of *waiter, arrival order
	closed     bool

	nowFunc func() time.Time // for testing
}

// New creates a limiter for the named resource. The bucket starts full.
func New(name string, cfg Config, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, aerr.Wrap(err, "limiter "+name, aerr.WithService(name))
	}
	l := &Limiter{
		name:      name,
		capacity:  cfg.Capacity,
		available: cfg.Capacity,
		rate:      cfg.RefillRate,
		waiters:   list.New(),
		nowFunc:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastRefill = l.nowFunc()
	return l, nil
}

// Name returns the resource name.
func (l *Limiter) Name() string {
	return l.name
}

// CheckCost reports whether cost could ever be granted by this limiter.
func (l *Limiter) CheckCost(cost float64) error {
	if math.IsNaN(cost) || cost <= 0 {
		return aerr.New(aerr.CodeConfiguration,
			"cost must be positive",
			aerr.WithService(l.name),
			aerr.WithCause(ErrInvalidCost),
			aerr.WithMetadata("cost", formatFloat(cost)))
	}
	if cost > l.capacity {
		return aerr.New(aerr.CodeConfiguration,
			"cost exceeds limiter capacity and can never be granted",
			aerr.WithService(l.name),
			aerr.WithCause(ErrInvalidCost),
			aerr.WithMetadata("cost", formatFloat(cost)),
			aerr.WithMetadata("capacity", formatFloat(l.capacity)))
	}
	return nil
}

// refill adds budget for the time elapsed since the last refill.
// Caller must hold l.mu.
func (l *Limiter) refill(now time.Time) {
	elapsed := now.Sub(l.lastRefill)
	if elapsed <= 0 {
		return
	}
	l.available = math.Min(l.capacity, l.available+elapsed.Seconds()*l.rate)
	l.lastRefill = now
}

// take deducts cost if the bucket covers it. Caller must hold l.mu.
func (l *Limiter) take(cost float64) bool {
	if l.available+tolerance < cost {
		return false
	}
	l.available = math.Max(0, l.available-cost)
	return true
}

// wakeHead signals the first waiter to re-check. Caller must hold l.mu.
func (l *Limiter) wakeHead() {
	front := l.waiters.Front()
	if front == nil {
		return
	}
	select {
	case front.Value.(*waiter).wake <- struct{}{}:
	default:
	}
}

func (l *Limiter) closedError() error {
	return aerr.Cancelled("limiter "+l.name+" closed",
		aerr.WithService(l.name), aerr.WithCause(ErrClosed))
}

// Acquire blocks until cost units of budget are granted, in arrival order.
//
// Returns a configuration error if cost is not positive or exceeds the
// bucket capacity, the context's error if ctx ends first, and a cancelled
// error if the limiter is closed. No budget is consumed on any error.
func (l *Limiter) Acquire(ctx context.Context, cost float64) error {
	if err := l.CheckCost(cost); err != nil {
		return err
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return l.closedError()
	}
	// Fast path: nobody ahead of us and the bucket covers the cost
	l.refill(l.nowFunc())
	if l.waiters.Len() == 0 && l.take(cost) {
		l.mu.Unlock()
		return nil
	}
	w := &waiter{cost: cost, wake: make(chan struct{}, 1)}
	elem := l.waiters.PushBack(w)
	l.mu.Unlock()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		var timerC <-chan time.Time

		l.mu.Lock()
		if l.closed {
			l.waiters.Remove(elem)
			l.mu.Unlock()
			return l.closedError()
		}
		if l.waiters.Front() == elem {
			l.refill(l.nowFunc())
			if l.take(cost) {
				l.waiters.Remove(elem)
				// The next waiter may fit in what is left
				l.wakeHead()
				l.mu.Unlock()
				return nil
			}
			timer.Reset(durationFor(cost-l.available, l.rate))
			timerC = timer.C
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			l.mu.Lock()
			wasHead := l.waiters.Front() == elem
			l.waiters.Remove(elem)
			if wasHead {
				l.wakeHead()
			}
			l.mu.Unlock()
			return context.Cause(ctx)
		case <-w.wake:
		case <-timerC:
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

// TryAcquire takes cost units without blocking. It fails if the bucket does
// not cover the cost or if earlier callers are already waiting.
func (l *Limiter) TryAcquire(cost float64) bool {
	if l.CheckCost(cost) != nil {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.waiters.Len() > 0 {
		return false
	}
	l.refill(l.nowFunc())
	return l.take(cost)
}

// Refund returns budget granted to a request that never used it.
// The bucket never exceeds its capacity.
func (l *Limiter) Refund(cost float64) {
	if math.IsNaN(cost) || cost <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.refill(l.nowFunc())
	l.available = math.Min(l.capacity, l.available+cost)
	l.wakeHead()
}

// Capacity returns a snapshot of the limiter state.
func (l *Limiter) Capacity() Capacity {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refill(l.nowFunc())
	return Capacity{
		Resource:   l.name,
		Available:  l.available,
		Total:      l.capacity,
		RefillRate: l.rate,
		Waiting:    l.waiters.Len(),
	}
}

// Close shuts down the limiter. Blocked callers return a cancelled error.
func (l *Limiter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	l.closed = true

	// Wake up all waiters so they can exit
	for e := l.waiters.Front(); e != nil; e = e.Next() {
		select {
		case e.Value.(*waiter).wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// durationFor returns how long the refill takes to produce amount units.
// The result lies in [1µs, math.MaxInt64ns]; waits too long to represent
// saturate instead of wrapping negative.
func durationFor(amount, rate float64) time.Duration {
	ns := math.Ceil(amount / rate * float64(time.Second))
	if math.IsNaN(ns) || ns >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	d := time.Duration(ns)
	if d < time.Microsecond {
		d = time.Microsecond
	}
	return d
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
