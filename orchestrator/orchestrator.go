package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	aerr "github.com/vinayprograms/admitkit/errors"
	"github.com/vinayprograms/admitkit/gate"
	"github.com/vinayprograms/admitkit/ledger"
	"github.com/vinayprograms/admitkit/logging"
	"github.com/vinayprograms/admitkit/metrics"
	"github.com/vinayprograms/admitkit/service"
	"github.com/vinayprograms/admitkit/shutdown"
	"github.com/vinayprograms/admitkit/telemetry"
)

// Shutdown modes.
const (
	ModeDrain = "drain"
	ModeAbort = "abort"
)

// ProgressFunc receives periodic ledger snapshots during a run.
type ProgressFunc func(snapshot map[string]float64, elapsed time.Duration)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the lifecycle logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics attaches a metrics collector to every service, gate and the ledger.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer sets the tracer for executor and gate spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithProgress calls fn every interval with a ledger snapshot, and once more
// when the run shuts down.
func WithProgress(interval time.Duration, fn ProgressFunc) Option {
	return func(o *Orchestrator) {
		if interval > 0 && fn != nil {
			o.progressEvery = interval
			o.progress = fn
		}
	}
}

// WithLedger records into l instead of a fresh ledger, so executors built
// before New can share it. Metrics are not attached to a supplied ledger.
func WithLedger(l *ledger.Ledger) Option {
	return func(o *Orchestrator) { o.ledger = l }
}

// WithExporter mirrors the ledger to Redis on every progress tick and at shutdown.
func WithExporter(e *ledger.RedisExporter) Option {
	return func(o *Orchestrator) { o.exporter = e }
}

// Orchestrator owns a set of services and gates for the duration of one Run.
type Orchestrator struct {
	cfg      Config
	services map[string]*service.Service
	order    []string
	gates    map[string]*gate.Gate
	ledger   *ledger.Ledger

	logger        *logging.Logger
	metrics       *metrics.Metrics
	tracer        *telemetry.Tracer
	progress      ProgressFunc
	progressEvery time.Duration
	exporter      *ledger.RedisExporter

	started atomic.Bool
	ended   atomic.Bool
}

// New validates the specs and builds every service and gate. An empty
// service list, a duplicate name or an invalid config is a CONFIGURATION
// error.
func New(cfg Config, services []ServiceSpec, gates []GateSpec, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(services) == 0 {
		return nil, aerr.Configuration("orchestrator needs at least one service")
	}

	o := &Orchestrator{
		cfg:      cfg.withDefaults(),
		services: make(map[string]*service.Service, len(services)),
		gates:    make(map[string]*gate.Gate, len(gates)),
		logger:   logging.New().WithComponent("orchestrator"),
		tracer:   telemetry.GetTracer(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.ledger == nil {
		var ledgerOpts []ledger.Option
		if o.metrics != nil {
			ledgerOpts = append(ledgerOpts, ledger.WithObserver(o.metrics))
		}
		o.ledger = ledger.New(ledgerOpts...)
	}

	for _, spec := range services {
		if _, dup := o.services[spec.Name]; dup {
			return nil, aerr.Configuration("duplicate service name %q", spec.Name)
		}
		svcOpts := []service.Option{
			service.WithLedger(o.ledger),
			service.WithTracer(o.tracer),
			service.WithLogger(o.logger.WithComponent("service")),
		}
		if o.metrics != nil {
			svcOpts = append(svcOpts, service.WithObserver(o.metrics))
		}
		svc, err := service.New(spec.Name, spec.Config, spec.Executor, svcOpts...)
		if err != nil {
			return nil, err
		}
		o.services[spec.Name] = svc
		o.order = append(o.order, spec.Name)
	}

	for _, spec := range gates {
		if spec.Name == "" {
			return nil, aerr.Configuration("gate name must not be empty")
		}
		if _, dup := o.gates[spec.Name]; dup {
			return nil, aerr.Configuration("duplicate gate name %q", spec.Name)
		}
		var gateOpts []gate.Option
		if o.metrics != nil {
			gateOpts = append(gateOpts, gate.WithObserver(o.metrics))
		}
		g, err := gate.New(spec.Name, spec.Config, gateOpts...)
		if err != nil {
			return nil, err
		}
		o.gates[spec.Name] = g
	}
	return o, nil
}

// Ledger returns the run's cost ledger.
func (o *Orchestrator) Ledger() *ledger.Ledger {
	return o.ledger
}

// Run starts every service, runs body with a Handle and then shuts down.
//
// When body returns nil the services drain their queues; when it returns
// an error or panics, or ctx ends, queued requests are cancelled instead.
// Either way Run waits up to the grace period, then force-cancels executors
// and joins every worker before returning. Cancelling ctx aborts the
// services at once, while body is still running.
//
// Run returns body's error, or ctx's cause if body returned nil after ctx
// ended. A panic in body is re-raised once shutdown is complete.
func (o *Orchestrator) Run(ctx context.Context, body func(ctx context.Context, h *Handle) error) error {
	if !o.started.CompareAndSwap(false, true) {
		return aerr.New(aerr.CodeInternal, "orchestrator already ran")
	}
	start := time.Now()

	// Executors keep running through a parent cancellation; only a forced
	// stop cancels them.
	execCtx, forceStop := context.WithCancel(context.WithoutCancel(ctx))
	defer forceStop()

	stopAbort := context.AfterFunc(ctx, o.abortAll)
	defer stopAbort()

	var workers errgroup.Group
	for _, name := range o.order {
		svc := o.services[name]
		workers.Go(func() error {
			// A crash is already logged and reported through futures.
			_ = svc.Run(execCtx)
			return nil
		})
	}

	progressCtx, stopProgress := context.WithCancel(execCtx)
	defer stopProgress()
	progressDone := make(chan struct{})
	if o.progress != nil {
		workers.Go(func() error {
			defer close(progressDone)
			o.reportProgress(progressCtx)
			return nil
		})
	} else {
		close(progressDone)
	}

	recovered, panicked, bodyErr := runBody(ctx, &Handle{o: o}, body)

	mode := ModeDrain
	if bodyErr != nil || panicked || ctx.Err() != nil {
		mode = ModeAbort
	}
	forced := o.shutdown(mode, stopProgress, progressDone)
	if forced {
		o.abortAll()
		forceStop()
	}
	_ = workers.Wait()

	o.ended.Store(true)
	o.logger.ShutdownComplete(time.Since(start), forced)

	if panicked {
		panic(recovered)
	}
	if bodyErr == nil && ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return bodyErr
}

func runBody(ctx context.Context, h *Handle, body func(context.Context, *Handle) error) (recovered any, panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			recovered, panicked = r, true
		}
	}()
	return nil, false, body(ctx, h)
}

// shutdown runs the phased shutdown and reports whether the grace period
// ran out.
func (o *Orchestrator) shutdown(mode string, stopProgress context.CancelFunc, progressDone <-chan struct{}) bool {
	grace := o.cfg.ShutdownGracePeriod
	o.logger.ShutdownBegin(mode, grace)

	coord := shutdown.NewCoordinator(shutdown.Config{
		DefaultTimeout:  grace,
		ContinueOnError: true,
	}, shutdown.WithLogger(o.logger))

	for _, name := range o.order {
		svc := o.services[name]
		coord.RegisterFuncWithPhase(name, func(ctx context.Context) error {
			if mode == ModeAbort {
				svc.Abort()
			} else {
				svc.Close()
			}
			return svc.Wait(ctx)
		}, shutdown.PhaseServices)
	}

	coord.RegisterFuncWithPhase("progress", func(ctx context.Context) error {
		stopProgress()
		select {
		case <-progressDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}, shutdown.PhaseReporters)

	if o.exporter != nil {
		coord.RegisterFuncWithPhase("ledger-export", func(ctx context.Context) error {
			return o.exporter.Export(ctx, o.ledger)
		}, shutdown.PhaseReporters)
	}

	err := coord.ShutdownWithTimeout(grace)
	if !errors.Is(err, shutdown.ErrTimeout) {
		return false
	}
	o.logger.GraceExpired(grace, coord.Result().FailedHandlers())
	stopProgress()
	return true
}

func (o *Orchestrator) abortAll() {
	for _, name := range o.order {
		o.services[name].Abort()
	}
}

func (o *Orchestrator) reportProgress(ctx context.Context) {
	ticker := time.NewTicker(o.progressEvery)
	defer ticker.Stop()

	report := func() {
		o.progress(o.ledger.Snapshot(), o.ledger.Elapsed())
	}
	for {
		select {
		case <-ctx.Done():
			report()
			return
		case <-ticker.C:
			report()
			if o.exporter != nil {
				if err := o.exporter.Export(ctx, o.ledger); err != nil {
					o.logger.Warn("ledger_export_failed", map[string]interface{}{
						"error": err.Error(),
					})
				}
			}
		}
	}
}

func (o *Orchestrator) service(name string) (*service.Service, error) {
	svc, ok := o.services[name]
	if !ok {
		return nil, aerr.New(aerr.CodeConfiguration, fmt.Sprintf("unknown service %q", name),
			aerr.WithService(name))
	}
	return svc, nil
}

func (o *Orchestrator) gate(name string) (*gate.Gate, error) {
	g, ok := o.gates[name]
	if !ok {
		return nil, aerr.Configuration("unknown gate %q", name)
	}
	return g, nil
}
