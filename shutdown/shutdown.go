package shutdown

import (
	"context"
	"errors"
	"time"

	aerr "github.com/vinayprograms/admitkit/errors"
)

// Common errors.
var (
	// ErrAlreadyShutdown indicates shutdown was already initiated.
	ErrAlreadyShutdown = errors.New("shutdown already initiated")

	// ErrTimeout indicates the grace period ended before every phase finished.
	ErrTimeout = errors.New("shutdown grace period exceeded")

	// ErrHandlerFailed indicates one or more handlers failed.
	ErrHandlerFailed = errors.New("one or more handlers failed")
)

// Phases used by the orchestrator. Lower phases run first.
const (
	// PhaseServices drains or aborts service queues and joins their workers.
	PhaseServices = 10

	// PhaseReporters stops progress reporting and flushes ledger exports.
	PhaseReporters = 20
)

// Handler is implemented by components that take part in shutdown.
type Handler interface {
	// OnShutdown stops the component. ctx ends when the grace period runs
	// out; handlers must return promptly after that.
	OnShutdown(ctx context.Context) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context) error

// OnShutdown implements Handler.
func (f HandlerFunc) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// HandlerResult is the outcome of one handler.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result is the outcome of a whole shutdown.
type Result struct {
	TotalDuration time.Duration
	Results       []HandlerResult

	// Err is nil, ErrHandlerFailed or ErrTimeout.
	Err error
}

// Failed reports whether any handler failed or the grace period ran out.
func (r *Result) Failed() bool {
	return r.Err != nil
}

// TimedOut reports whether the grace period ran out.
func (r *Result) TimedOut() bool {
	return errors.Is(r.Err, ErrTimeout)
}

// FailedHandlers returns the names of handlers that returned an error.
func (r *Result) FailedHandlers() []string {
	var failed []string
	for _, hr := range r.Results {
		if hr.Err != nil {
			failed = append(failed, hr.Name)
		}
	}
	return failed
}

// Config configures a Coordinator.
type Config struct {
	// DefaultTimeout bounds ShutdownWithTimeout(0).
	// Default: 30 seconds
	DefaultTimeout time.Duration

	// DefaultPhase is assigned by Register.
	// Default: PhaseServices
	DefaultPhase int

	// ContinueOnError runs later phases after a handler fails.
	ContinueOnError bool

	// OnProgress is called as each handler finishes.
	OnProgress func(result HandlerResult)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.DefaultTimeout < 0 {
		return aerr.Configuration("shutdown timeout must not be negative: %s", c.DefaultTimeout)
	}
	return nil
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:  30 * time.Second,
		DefaultPhase:    PhaseServices,
		ContinueOnError: true,
	}
}

type registration struct {
	name    string
	handler Handler
	phase   int
}
