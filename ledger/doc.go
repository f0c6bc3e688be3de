// Package ledger accumulates what a run has spent on each scarce resource.
//
// Services record the cost of every admitted request under their own name.
// Totals only grow; there is no way to remove or decrease an entry.
//
//	l := ledger.New()
//	l.Add("llm", 350)
//	fmt.Println(l.Snapshot()["llm"]) // 350
//
// LLM usage is additionally tracked per label, model and event. A label is
// whatever groups a unit of work, such as one jurisdiction:
//
//	l.Record("san-jose", "gpt-4o", "extraction", ledger.Usage{Requests: 1, PromptTokens: 812})
//	l.Cost("san-jose") // priced with DefaultPrices unless WithPrices is given
//
// The usage report mirrors usage.json: one object per label, holding one
// object per model keyed by event plus a "tracker_totals" object with
// per-model sums. WriteFile writes that report together with the resource
// totals, per-label cost and the elapsed run time.
package ledger
