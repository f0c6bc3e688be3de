package shutdown

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	aerr "github.com/vinayprograms/admitkit/errors"
	"github.com/vinayprograms/admitkit/logging"
)

// TestBasicShutdownWithSingleHandler tests basic shutdown with a single handler.
func TestBasicShutdownWithSingleHandler(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())

	called := false
	coord.RegisterFunc("llm", func(ctx context.Context) error {
		called = true
		return nil
	})

	if err := coord.ShutdownWithTimeout(5 * time.Second); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected handler to be called")
	}

	select {
	case <-coord.Done():
	default:
		t.Fatal("expected Done channel to be closed")
	}

	result := coord.Result()
	if result == nil || len(result.Results) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Results[0].Name != "llm" || result.Results[0].Phase != PhaseServices {
		t.Errorf("unexpected handler result %+v", result.Results[0])
	}
	if result.Failed() || result.TimedOut() {
		t.Error("expected a clean result")
	}
}

// TestPhasesRunInOrder tests that lower phases execute first.
func TestPhasesRunInOrder(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())

	var mu sync.Mutex
	var order []int
	record := func(phase int) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, phase)
			mu.Unlock()
			return nil
		}
	}

	coord.RegisterFuncWithPhase("export", record(30), 30)
	coord.RegisterFuncWithPhase("llm", record(PhaseServices), PhaseServices)
	coord.RegisterFuncWithPhase("progress", record(PhaseReporters), PhaseReporters)

	if err := coord.ShutdownWithTimeout(5 * time.Second); err != nil {
		t.Fatal(err)
	}
	if len(order) != 3 || order[0] != 10 || order[1] != 20 || order[2] != 30 {
		t.Fatalf("expected order [10 20 30], got %v", order)
	}
}

// TestConcurrentHandlersInSamePhase tests that services drain concurrently.
func TestConcurrentHandlersInSamePhase(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())

	var wg sync.WaitGroup
	wg.Add(2)
	barrier := func(ctx context.Context) error {
		wg.Done()
		wg.Wait()
		return nil
	}
	coord.RegisterFunc("llm", barrier)
	coord.RegisterFunc("search", barrier)

	done := make(chan error, 1)
	go func() { done <- coord.ShutdownWithTimeout(5 * time.Second) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handlers in one phase did not run concurrently")
	}
}

// TestGracePeriodExpires tests that a slow handler sees its context end.
func TestGracePeriodExpires(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())

	var laterCalled bool
	coord.RegisterFunc("slow", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Second):
			return nil
		}
	})
	coord.RegisterFunc("fast", func(ctx context.Context) error { return nil })
	coord.RegisterFuncWithPhase("later", func(ctx context.Context) error {
		laterCalled = true
		return nil
	}, PhaseReporters)

	start := time.Now()
	err := coord.ShutdownWithTimeout(50 * time.Millisecond)
	if time.Since(start) > time.Second {
		t.Fatalf("shutdown took too long: %v", time.Since(start))
	}

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	result := coord.Result()
	if !result.TimedOut() {
		t.Error("expected TimedOut")
	}
	pending := result.FailedHandlers()
	if len(pending) != 1 || pending[0] != "slow" {
		t.Errorf("expected [slow] pending, got %v", pending)
	}
	if laterCalled {
		t.Error("phases after the grace period must not run")
	}
}

// TestCancelledContext tests shutdown with an already-ended grace period.
func TestCancelledContext(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())

	called := false
	coord.RegisterFunc("llm", func(ctx context.Context) error {
		called = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := coord.Shutdown(ctx); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if called {
		t.Fatal("expected handler not to be called")
	}
}

func TestHandlerErrors(t *testing.T) {
	tests := []struct {
		name            string
		continueOnError bool
		wantLater       bool
	}{
		{"continue", true, true},
		{"stop", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ContinueOnError = tt.continueOnError
			coord := NewCoordinator(cfg)

			cause := errors.New("drain failed")
			laterCalled := false
			coord.RegisterFunc("failing", func(ctx context.Context) error { return cause })
			coord.RegisterFuncWithPhase("later", func(ctx context.Context) error {
				laterCalled = true
				return nil
			}, PhaseReporters)

			err := coord.ShutdownWithTimeout(5 * time.Second)
			if !errors.Is(err, ErrHandlerFailed) {
				t.Fatalf("expected ErrHandlerFailed, got %v", err)
			}
			if laterCalled != tt.wantLater {
				t.Errorf("later phase called = %v, want %v", laterCalled, tt.wantLater)
			}

			result := coord.Result()
			if failed := result.FailedHandlers(); len(failed) != 1 || failed[0] != "failing" {
				t.Errorf("expected [failing], got %v", failed)
			}
			if result.Results[0].Err != cause {
				t.Errorf("handler error not preserved: %v", result.Results[0].Err)
			}
		})
	}
}

// TestDoubleShutdown tests that a finished shutdown reports its first error.
func TestDoubleShutdown(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())
	calls := 0
	coord.RegisterFunc("llm", func(ctx context.Context) error {
		calls++
		return nil
	})

	if err := coord.ShutdownWithTimeout(time.Second); err != nil {
		t.Fatal(err)
	}
	if err := coord.ShutdownWithTimeout(time.Second); err != nil {
		t.Fatalf("second shutdown should report the first result, got %v", err)
	}
	if calls != 1 {
		t.Errorf("handler called %d times", calls)
	}
}

// TestShutdownWhileRunning tests that a concurrent call does not rerun handlers.
func TestShutdownWhileRunning(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())
	entered := make(chan struct{})
	release := make(chan struct{})
	coord.RegisterFunc("llm", func(ctx context.Context) error {
		close(entered)
		<-release
		return nil
	})

	go coord.ShutdownWithTimeout(5 * time.Second)
	<-entered

	if err := coord.ShutdownWithTimeout(time.Second); !errors.Is(err, ErrAlreadyShutdown) {
		t.Errorf("expected ErrAlreadyShutdown, got %v", err)
	}
	if coord.Result() != nil {
		t.Error("Result should be nil before Done")
	}
	close(release)
	<-coord.Done()
}

// TestOnProgress tests the per-handler progress callback.
func TestOnProgress(t *testing.T) {
	var mu sync.Mutex
	var seen []string

	cfg := DefaultConfig()
	cfg.OnProgress = func(hr HandlerResult) {
		mu.Lock()
		seen = append(seen, hr.Name)
		mu.Unlock()
	}
	coord := NewCoordinator(cfg)
	coord.RegisterFunc("llm", func(ctx context.Context) error { return nil })
	coord.RegisterFuncWithPhase("progress", func(ctx context.Context) error { return nil }, PhaseReporters)

	if err := coord.ShutdownWithTimeout(time.Second); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 2 || seen[1] != "progress" {
		t.Errorf("unexpected progress calls %v", seen)
	}
}

func TestPhaseLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New()
	logger.SetOutput(&buf)
	logger.SetLevel(logging.LevelDebug)

	coord := NewCoordinator(DefaultConfig(), WithLogger(logger))
	coord.RegisterFunc("llm", func(ctx context.Context) error { return errors.New("stuck") })
	coord.RegisterFuncWithPhase("export", func(ctx context.Context) error { return nil }, 40)

	_ = coord.ShutdownWithTimeout(time.Second)

	out := buf.String()
	for _, want := range []string{"phase=services", "failed=1", "phase=phase-40"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}

// TestHandlerDuration tests that handler durations are measured.
func TestHandlerDuration(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())
	coord.RegisterFunc("slow", func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	})

	_ = coord.ShutdownWithTimeout(time.Second)

	result := coord.Result()
	if result.Results[0].Duration < 20*time.Millisecond {
		t.Errorf("duration %v too short", result.Results[0].Duration)
	}
	if result.TotalDuration < result.Results[0].Duration {
		t.Errorf("total %v shorter than handler", result.TotalDuration)
	}
}

func TestEmptyShutdown(t *testing.T) {
	coord := NewCoordinator(DefaultConfig())
	if err := coord.ShutdownWithTimeout(time.Second); err != nil {
		t.Fatal(err)
	}
	if len(coord.Result().Results) != 0 {
		t.Error("expected no results")
	}
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.DefaultTimeout != 30*time.Second || cfg.DefaultPhase != PhaseServices || !cfg.ContinueOnError {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}

	cfg.DefaultTimeout = -time.Second
	if err := cfg.Validate(); !aerr.Is(err, aerr.CodeConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}

	coord := NewCoordinator(Config{})
	if coord.config.DefaultTimeout != 30*time.Second || coord.config.DefaultPhase != PhaseServices {
		t.Errorf("zero config not defaulted: %+v", coord.config)
	}
}

func TestGroupByPhase(t *testing.T) {
	if groupByPhase(nil) != nil {
		t.Error("expected nil for no handlers")
	}

	groups := groupByPhase([]registration{
		{name: "a", phase: 10},
		{name: "b", phase: 10},
		{name: "c", phase: 20},
	})
	if len(groups) != 2 || len(groups[0]) != 2 || groups[1][0].name != "c" {
		t.Errorf("unexpected groups %+v", groups)
	}
}
