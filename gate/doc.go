// Package gate bounds how many callers may use a resource at once, such as
// a pool of browser instances or concurrent search-engine queries.
//
// Prefer the scoped form, which releases the slot on every exit path:
//
//	browsers, _ := gate.New("browser", gate.Config{Capacity: 10})
//
//	err := browsers.Do(ctx, func(ctx context.Context) error {
//	    return scrape(ctx, url)
//	})
//
// Callers that need an explicit handle use Acquire and defer Release:
//
//	h, err := browsers.Acquire(ctx)
//	if err != nil {
//	    return err
//	}
//	defer h.Release()
//
// Waiters are granted slots in arrival order.
package gate
