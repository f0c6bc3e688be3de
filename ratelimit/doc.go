// Package ratelimit provides the budget limiter that gates admission to a
// scarce, externally rate-limited resource such as an LLM token allowance.
//
// A Limiter is a token bucket that refills continuously rather than in
// window-sized steps:
//
//	limiter, err := ratelimit.New("llm", ratelimit.Config{
//	    Capacity:   4000, // tokens the bucket can hold
//	    RefillRate: 200,  // tokens per second
//	})
//
//	// Block until 350 units of budget are granted
//	if err := limiter.Acquire(ctx, 350); err != nil {
//	    return err
//	}
//
// # Fairness
//
// Waiters are served strictly in arrival order. Only the head of the waiter
// list may take budget; a later request asking for less never overtakes an
// earlier one that is still waiting for more. The head sleeps for exactly
// the time the refill needs to cover its shortfall and then re-checks.
//
// A waiter whose context ends is removed from the list without consuming
// budget, and the next waiter is woken.
//
// # Refunds
//
// Refund returns budget that was granted to a request which was cancelled
// before it could use it. Totals never exceed Capacity.
package ratelimit
