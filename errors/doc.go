// Package errors provides the structured error taxonomy for admitkit.
//
// Every failure the coordination core reports, whether returned
// synchronously from Submit or delivered through a request's future,
// is an *Error carrying a code and a category.
//
// # Codes
//
//   - CONFIGURATION: invalid construction parameters or an unsatisfiable
//     request (cost larger than the limiter capacity). Never retried.
//   - QUEUE_FULL: fail-fast admission queue at its maximum depth.
//   - DEADLINE_EXCEEDED: a request's deadline passed before admission.
//   - EXECUTOR: the externally supplied executor returned an error. The
//     original error is reachable through Unwrap.
//   - SERVICE_UNAVAILABLE: the service's worker crashed.
//   - CANCELLED: shutdown or explicit cancellation reached the request.
//
// # Categories
//
//   - Transient: retry may succeed later.
//   - Permanent: retry will not help.
//   - Resource: capacity pressure; back off and retry.
//   - Internal: a fault inside the system.
//   - External: failure originated in caller-supplied code; the caller owns
//     the retry decision.
//
// # Usage
//
//	fut, err := h.Submit(ctx, "llm", payload, 1200)
//	if errors.Is(err, errors.CodeQueueFull) {
//	    // back off
//	}
//	out, err := fut.Wait(ctx)
//	if errors.Is(err, errors.CodeExecutor) {
//	    cause := stderrors.Unwrap(err)
//	    _ = cause
//	}
package errors
