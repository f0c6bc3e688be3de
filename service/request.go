package service

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a Request.
type State int32

const (
	StateCreated State = iota
	StateQueued
	StateAdmitted
	StateExecuting
	StateCompleted
	StateFailed
	StateCancelled
)

var stateNames = map[State]string{
	StateCreated:   "created",
	StateQueued:    "queued",
	StateAdmitted:  "admitted",
	StateExecuting: "executing",
	StateCompleted: "completed",
	StateFailed:    "failed",
	StateCancelled: "cancelled",
}

// String returns the state name.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// ErrPending is returned by Future.Result before the request resolves.
var ErrPending = errors.New("request not resolved")

// Causes attached to a request's context when it ends.
var (
	errDeadlinePassed = errors.New("request deadline passed")
	errAborted        = errors.New("service aborted")
	errCrashed        = errors.New("service crashed")
	errReleased       = errors.New("request released")
)

// Request is one unit of work submitted to a Service.
// Its state is changed only by the owning Service.
type Request struct {
	ID          string
	Service     string
	Payload     any
	Cost        float64
	Deadline    time.Time
	SubmittedAt time.Time

	state  atomic.Int32
	future *Future

	// ctx ends on deadline, caller cancellation, abort or crash.
	// It bounds the wait for admission, never the execution.
	ctx       context.Context
	cancel    context.CancelCauseFunc
	stopTimer context.CancelFunc

	mu        sync.Mutex
	stopWatch func() bool
	released  bool

	elem *list.Element // position in the queue; guarded by the queue lock
}

func newRequest(svc *Service, payload any, cost float64) *Request {
	req := &Request{
		ID:          uuid.NewString(),
		Service:     svc.name,
		Payload:     payload,
		Cost:        cost,
		SubmittedAt: time.Now(),
	}
	req.future = &Future{req: req, svc: svc, done: make(chan struct{})}
	return req
}

// State returns the current state.
func (r *Request) State() State {
	return State(r.state.Load())
}

func (r *Request) setState(s State) {
	r.state.Store(int32(s))
}

func (r *Request) transition(from, to State) bool {
	return r.state.CompareAndSwap(int32(from), int32(to))
}

// expired reports whether the deadline has passed at now.
func (r *Request) expired(now time.Time) bool {
	return !r.Deadline.IsZero() && !now.Before(r.Deadline)
}

// watch runs fn once the request's context ends, unless the request has
// already been released.
func (r *Request) watch(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	r.stopWatch = context.AfterFunc(r.ctx, fn)
}

// release frees the request's context and its watcher.
func (r *Request) release() {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.released = true
	stop := r.stopWatch
	r.mu.Unlock()

	if stop != nil {
		stop()
	}
	if r.cancel != nil {
		r.cancel(errReleased)
	}
	if r.stopTimer != nil {
		r.stopTimer()
	}
}

// Future is the pending outcome of a Request. It resolves exactly once.
type Future struct {
	req  *Request
	svc  *Service
	done chan struct{}
	once sync.Once

	value any
	err   error
}

// ID returns the request ID.
func (f *Future) ID() string {
	return f.req.ID
}

// State returns the request's current state.
func (f *Future) State() State {
	return f.req.State()
}

// Done returns a channel closed when the future resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx ends. Ending ctx stops the
// wait only; the request itself carries on.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// Result returns the outcome without blocking, or ErrPending.
func (f *Future) Result() (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	default:
		return nil, ErrPending
	}
}

// Cancel withdraws the request if it is still queued. It returns false once
// the request has been admitted or has already resolved.
func (f *Future) Cancel() bool {
	return f.svc.cancelQueued(f.req)
}

func (f *Future) resolve(value any, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
		resolved = true
	})
	return resolved
}
