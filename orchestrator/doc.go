// Package orchestrator runs a set of services and gates inside one scoped
// lifecycle.
//
// Run starts a worker pool per service, hands the body a Handle, and on the
// way out shuts everything down in phases under a grace period:
//
//	orch, err := orchestrator.New(orchestrator.Config{ShutdownGracePeriod: 10 * time.Second},
//		[]orchestrator.ServiceSpec{{Name: "llm", Config: llmCfg, Executor: exec}},
//		[]orchestrator.GateSpec{{Name: "browser", Config: gate.Config{Capacity: 10}}},
//	)
//	if err != nil {
//		return err
//	}
//
//	err = orch.Run(ctx, func(ctx context.Context, h *orchestrator.Handle) error {
//		return h.Do(ctx, "browser", func(ctx context.Context) error {
//			_, err := h.Call(ctx, "llm", prompt, 800)
//			return err
//		})
//	})
//
// Shutdown:
//
//	body returns nil          drain: queued requests still run
//	body error, panic, ctx    abort: queued requests resolve CANCELLED
//	grace period exceeded     force: executor contexts cancelled
//
// No worker outlives Run. A service whose executor panics becomes
// unavailable while the other services keep running.
package orchestrator
