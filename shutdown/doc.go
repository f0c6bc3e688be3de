// Package shutdown runs phased shutdown handlers under a grace period.
//
// Handlers are registered with a phase. Lower phases run first and the
// handlers of one phase run concurrently. The context passed to every
// handler ends when the grace period runs out:
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	coord.RegisterFuncWithPhase("llm", func(ctx context.Context) error {
//		svc.Close()
//		return svc.Wait(ctx)
//	}, shutdown.PhaseServices)
//	coord.RegisterFuncWithPhase("progress", stopProgress, shutdown.PhaseReporters)
//
//	if err := coord.ShutdownWithTimeout(10 * time.Second); errors.Is(err, shutdown.ErrTimeout) {
//		pending := coord.Result().FailedHandlers()
//		// force-stop whatever is still pending
//	}
//
// The orchestrator uses one coordinator per run: PhaseServices drains (or
// aborts) every service concurrently, PhaseReporters stops the progress
// reporter and flushes ledger exports.
package shutdown
