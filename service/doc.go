// Package service admits work to one scarce resource.
//
// A Service owns a bounded FIFO queue, a budget limiter and a pool of
// workers. Each worker takes the head of the queue, waits until the limiter
// grants the request's cost, then runs the caller-supplied Executor:
//
//	svc, err := service.New("llm", service.Config{
//	    Limiter:       ratelimit.Config{Capacity: 4000, RefillRate: 66.7},
//	    MaxQueueDepth: 100,
//	    WorkerCount:   4,
//	}, callModel)
//
//	go svc.Run(ctx)
//
//	fut, err := svc.Submit(ctx, prompt, 350, service.WithTimeout(time.Minute))
//	if err != nil {
//	    return err // QUEUE_FULL, CONFIGURATION, SERVICE_UNAVAILABLE or CANCELLED
//	}
//	answer, err := fut.Wait(ctx)
//
// # Request lifecycle
//
//	Created -> Queued -> Admitted -> Executing -> Completed | Failed
//	           Queued -> Cancelled                 (Future.Cancel, Abort)
//	           Queued -> Failed                    (deadline, crash)
//
// A request whose deadline passes or which is cancelled while queued
// resolves at once, uses no budget and never reaches the executor. Once
// admitted a request cannot be cancelled.
//
// # Crashes
//
// A panicking executor fails its own request with SERVICE_UNAVAILABLE,
// marks the service unavailable, and fails everything still queued the
// same way. Later submissions are rejected synchronously.
//
// # Shutdown
//
// Close drains: submissions are refused but the queue is worked off.
// Abort cancels everything queued and lets executing requests finish.
// Cancelling the context passed to Run aborts and also cancels the context
// handed to running executors.
package service
