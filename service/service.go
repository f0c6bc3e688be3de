package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	aerr "github.com/vinayprograms/admitkit/errors"
	"github.com/vinayprograms/admitkit/ledger"
	"github.com/vinayprograms/admitkit/logging"
	"github.com/vinayprograms/admitkit/ratelimit"
	"github.com/vinayprograms/admitkit/telemetry"
)

// Observer receives admission events, typically the metrics collector.
type Observer interface {
	Submitted(service string)
	Rejected(service string, code aerr.ErrorCode)
	Admitted(service string, wait time.Duration)
	Finished(service string, state State)
	QueueDepth(service string, depth int)
}

type nopObserver struct{}

func (nopObserver) Submitted(string)                {}
func (nopObserver) Rejected(string, aerr.ErrorCode) {}
func (nopObserver) Admitted(string, time.Duration)  {}
func (nopObserver) Finished(string, State)          {}
func (nopObserver) QueueDepth(string, int)          {}

// Option configures a Service.
type Option func(*Service)

// WithObserver attaches an admission observer.
func WithObserver(obs Observer) Option {
	return func(s *Service) {
		if obs != nil {
			s.observer = obs
		}
	}
}

// WithLedger records the cost of every admitted request under the service name.
func WithLedger(l *ledger.Ledger) Option {
	return func(s *Service) { s.ledger = l }
}

// WithTracer sets the tracer used for executor spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithLogger sets the lifecycle logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLimiterOptions passes options to the service's limiter.
func WithLimiterOptions(opts ...ratelimit.Option) Option {
	return func(s *Service) {
		s.limiterOpts = append(s.limiterOpts, opts...)
	}
}

// SubmitOption configures one submission.
type SubmitOption func(*Request)

// WithDeadline fails the request if it is not admitted by t.
func WithDeadline(t time.Time) SubmitOption {
	return func(r *Request) { r.Deadline = t }
}

// WithTimeout fails the request if it is not admitted within d.
func WithTimeout(d time.Duration) SubmitOption {
	return func(r *Request) { r.Deadline = r.SubmittedAt.Add(d) }
}

// Service admits requests for one rate-limited resource. Requests wait in a
// bounded FIFO queue; workers admit them as the limiter permits and hand
// them to the executor.
type Service struct {
	name    string
	cfg     Config
	exec    Executor
	limiter *ratelimit.Limiter
	queue   *Queue

	// abortCtx parents every request context; cancelling it ends all
	// waits for admission.
	abortCtx context.Context
	abort    context.CancelCauseFunc

	started     atomic.Bool
	closing     atomic.Bool
	unavailable atomic.Bool
	crashOnce   sync.Once
	crashMu     sync.Mutex
	crashErr    error
	done        chan struct{}

	observer    Observer
	ledger      *ledger.Ledger
	tracer      *telemetry.Tracer
	logger      *logging.Logger
	limiterOpts []ratelimit.Option
}

// New creates a service. Missing optional config fields take defaults.
func New(name string, cfg Config, exec Executor, opts ...Option) (*Service, error) {
	if name == "" {
		return nil, aerr.Configuration("service name must not be empty")
	}
	if exec == nil {
		return nil, aerr.New(aerr.CodeConfiguration, "service "+name+": executor is required",
			aerr.WithService(name))
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, aerr.Wrap(err, "service "+name, aerr.WithService(name))
	}

	s := &Service{
		name:     name,
		cfg:      cfg,
		exec:     exec,
		queue:    NewQueue(cfg.MaxQueueDepth),
		done:     make(chan struct{}),
		observer: nopObserver{},
		tracer:   telemetry.GetTracer(),
		logger:   logging.New().WithComponent("service"),
	}
	for _, opt := range opts {
		opt(s)
	}

	lim, err := ratelimit.New(name, cfg.Limiter, s.limiterOpts...)
	if err != nil {
		return nil, err
	}
	s.limiter = lim
	s.abortCtx, s.abort = context.WithCancelCause(context.Background())
	return s, nil
}

// Name returns the service name.
func (s *Service) Name() string {
	return s.name
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// Limiter returns the service's budget limiter.
func (s *Service) Limiter() *ratelimit.Limiter {
	return s.limiter
}

// QueueLen returns the number of queued requests.
func (s *Service) QueueLen() int {
	return s.queue.Len()
}

// Unavailable reports whether the service crashed.
func (s *Service) Unavailable() bool {
	return s.unavailable.Load()
}

// Err returns the crash error, or nil.
func (s *Service) Err() error {
	s.crashMu.Lock()
	defer s.crashMu.Unlock()
	return s.crashErr
}

// Done returns a channel closed when Run has returned.
func (s *Service) Done() <-chan struct{} {
	return s.done
}

// Submit queues a request and returns its future. Rejections are returned
// synchronously: QUEUE_FULL, CONFIGURATION for a cost the limiter can never
// grant, SERVICE_UNAVAILABLE after a crash, and CANCELLED during shutdown.
// Under the block policy Submit waits for queue space until ctx ends.
func (s *Service) Submit(ctx context.Context, payload any, cost float64, opts ...SubmitOption) (*Future, error) {
	if err := s.checkAccepting(); err != nil {
		return nil, s.reject(err)
	}
	if err := s.limiter.CheckCost(cost); err != nil {
		return nil, s.reject(err)
	}

	req := newRequest(s, payload, cost)
	for _, opt := range opts {
		opt(req)
	}
	req.ctx, req.cancel = context.WithCancelCause(s.abortCtx)
	if !req.Deadline.IsZero() {
		req.ctx, req.stopTimer = context.WithDeadlineCause(req.ctx, req.Deadline, errDeadlinePassed)
	}

	req.setState(StateQueued)
	if err := s.queue.Push(ctx, req, s.cfg.QueueFullPolicy == PolicyBlock); err != nil {
		req.setState(StateCancelled)
		req.release()
		return nil, s.reject(s.pushError(req, err))
	}
	req.watch(func() { s.settle(req, context.Cause(req.ctx)) })

	s.observer.Submitted(s.name)
	s.observeDepth()
	return req.future, nil
}

// Call submits a request and waits for its outcome.
func (s *Service) Call(ctx context.Context, payload any, cost float64, opts ...SubmitOption) (any, error) {
	f, err := s.Submit(ctx, payload, cost, opts...)
	if err != nil {
		return nil, err
	}
	return f.Wait(ctx)
}

func (s *Service) checkAccepting() error {
	if s.unavailable.Load() {
		return aerr.ServiceUnavailable(s.name, s.Err())
	}
	if s.closing.Load() {
		return aerr.Cancelled("service "+s.name+" is shutting down", aerr.WithService(s.name))
	}
	return nil
}

func (s *Service) pushError(req *Request, err error) error {
	switch {
	case errors.Is(err, ErrQueueFull):
		return aerr.QueueFull(s.name, s.cfg.MaxQueueDepth, aerr.WithRequestID(req.ID))
	case errors.Is(err, ErrQueueClosed):
		if accepting := s.checkAccepting(); accepting != nil {
			return accepting
		}
		return aerr.Cancelled("service "+s.name+" is shutting down", aerr.WithService(s.name))
	default:
		return aerr.Cancelled("submission abandoned while waiting for queue space",
			aerr.WithService(s.name), aerr.WithRequestID(req.ID), aerr.WithCause(err))
	}
}

func (s *Service) reject(err error) error {
	s.observer.Rejected(s.name, aerr.Code(err))
	return err
}

func (s *Service) observeDepth() {
	s.observer.QueueDepth(s.name, s.queue.Len())
}

// resolveQueued moves a queued request to a terminal state without running it.
func (s *Service) resolveQueued(req *Request, to State, err error) bool {
	if !req.transition(StateQueued, to) {
		return false
	}
	s.queue.Remove(req)
	s.finish(req, to, nil, err)
	return true
}

// finish reports the outcome before resolving so observers are current by
// the time a waiter wakes.
func (s *Service) finish(req *Request, state State, value any, err error) {
	req.release()
	s.observer.Finished(s.name, state)
	s.observeDepth()
	req.future.resolve(value, err)
}

// settle resolves a queued request whose admission wait ended early.
// Requests that already resolved are left alone.
func (s *Service) settle(req *Request, cause error) {
	switch {
	case errors.Is(cause, errReleased):
	case errors.Is(cause, errDeadlinePassed):
		s.resolveQueued(req, StateFailed, aerr.DeadlineExceeded(s.name, req.ID, req.Deadline))
	case errors.Is(cause, errCrashed):
		s.resolveQueued(req, StateFailed, aerr.ServiceUnavailable(s.name, s.Err(),
			aerr.WithRequestID(req.ID)))
	default:
		s.resolveQueued(req, StateCancelled, s.abortedError(req, cause))
	}
}

func (s *Service) abortedError(req *Request, cause error) error {
	return aerr.Cancelled("service "+s.name+" aborted",
		aerr.WithService(s.name), aerr.WithRequestID(req.ID), aerr.WithCause(cause))
}

func (s *Service) cancelQueued(req *Request) bool {
	return s.resolveQueued(req, StateCancelled, aerr.Cancelled("cancelled by caller",
		aerr.WithService(s.name), aerr.WithRequestID(req.ID)))
}

// Run starts the workers and blocks until they exit: after Close once the
// queue is drained, after Abort, or after a crash. Cancelling ctx aborts the
// service and cancels the context passed to running executors.
// It returns the crash error, if any.
func (s *Service) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return aerr.New(aerr.CodeInternal, "service "+s.name+" already started", aerr.WithService(s.name))
	}
	defer close(s.done)

	stop := context.AfterFunc(ctx, s.Abort)
	defer stop()

	start := time.Now()
	s.logger.ServiceStart(s.name, s.cfg.WorkerCount)

	var g errgroup.Group
	for i := 0; i < s.cfg.WorkerCount; i++ {
		g.Go(func() error {
			return s.worker(ctx)
		})
	}
	err := g.Wait()

	// Anything still queued was left behind by a forced stop
	s.Abort()
	s.limiter.Close()
	s.logger.ServiceStop(s.name, time.Since(start))
	return err
}

// Close stops accepting submissions. Queued requests are still executed.
func (s *Service) Close() {
	s.closing.Store(true)
	s.queue.Close()
}

// Abort stops accepting submissions and cancels every queued request.
// Executing requests run to completion.
func (s *Service) Abort() {
	s.closing.Store(true)
	s.queue.Close()
	s.abort(errAborted)
	for _, req := range s.queue.Drain() {
		s.resolveQueued(req, StateCancelled, s.abortedError(req, errAborted))
	}
}

// Wait blocks until Run has returned or ctx ends.
func (s *Service) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (s *Service) worker(ctx context.Context) error {
	for {
		req, err := s.queue.Pop(ctx)
		if err != nil {
			return nil
		}
		s.observeDepth()

		if req.State() != StateQueued {
			continue
		}
		if req.expired(time.Now()) {
			s.resolveQueued(req, StateFailed, aerr.DeadlineExceeded(s.name, req.ID, req.Deadline))
			continue
		}

		if err := s.limiter.Acquire(req.ctx, req.Cost); err != nil {
			if req.ctx.Err() != nil {
				err = context.Cause(req.ctx)
			}
			s.settle(req, err)
			continue
		}
		// Lost the race against cancellation or expiry
		if !req.transition(StateQueued, StateAdmitted) {
			s.limiter.Refund(req.Cost)
			continue
		}

		wait := time.Since(req.SubmittedAt)
		if s.ledger != nil {
			s.ledger.Add(s.name, req.Cost)
		}
		s.observer.Admitted(s.name, wait)
		req.setState(StateExecuting)

		if crash := s.execute(ctx, req, wait); crash != nil {
			return s.crash(crash)
		}
	}
}

type outcome struct {
	value any
	err   error
	crash error
}

func (s *Service) invoke(ctx context.Context, payload any) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out.crash = aerr.RecoverPanic(r)
		}
	}()
	out.value, out.err = s.exec(ctx, payload)
	return out
}

// execute runs the executor for an admitted request and resolves it.
// It returns a non-nil error only when the executor panicked.
func (s *Service) execute(ctx context.Context, req *Request, wait time.Duration) error {
	ctx, span := s.tracer.StartExecSpan(ctx, telemetry.ExecSpanOptions{
		Service:   s.name,
		RequestID: req.ID,
		Cost:      req.Cost,
		QueueWait: wait,
	})

	out := s.invoke(ctx, req.Payload)
	switch {
	case out.crash != nil:
		s.tracer.EndExecSpan(span, out.crash)
		req.setState(StateFailed)
		s.finish(req, StateFailed, nil, aerr.ServiceUnavailable(s.name, out.crash,
			aerr.WithRequestID(req.ID)))
	case out.err != nil:
		s.tracer.EndExecSpan(span, out.err)
		req.setState(StateFailed)
		s.finish(req, StateFailed, nil, aerr.Executor(s.name, req.ID, out.err))
	default:
		s.tracer.EndExecSpan(span, nil)
		req.setState(StateCompleted)
		s.finish(req, StateCompleted, out.value, nil)
	}
	return out.crash
}

// crash marks the service unavailable and fails everything still queued.
func (s *Service) crash(cause error) error {
	s.crashOnce.Do(func() {
		s.crashMu.Lock()
		s.crashErr = cause
		s.crashMu.Unlock()

		s.unavailable.Store(true)
		s.closing.Store(true)
		s.queue.Close()
		s.abort(errCrashed)

		pending := s.queue.Drain()
		for _, req := range pending {
			s.resolveQueued(req, StateFailed, aerr.ServiceUnavailable(s.name, cause,
				aerr.WithRequestID(req.ID)))
		}
		s.logger.ServiceUnavailable(s.name, cause, len(pending))
	})
	return aerr.ServiceUnavailable(s.name, cause)
}
