// Package metrics exports admission activity as Prometheus metrics.
//
// A Metrics value implements the observer interfaces of the service, gate
// and ledger packages, so one collector can be attached to every component
// of an orchestrator run:
//
//	m, err := metrics.New(nil)
//	if err != nil {
//		return err
//	}
//	orch, err := orchestrator.New(cfg, services, gates, orchestrator.WithMetrics(m))
//	http.Handle("/metrics", m.Handler())
//
// Exported series:
//
//	admitkit_requests_submitted_total{service}
//	admitkit_requests_rejected_total{service,code}
//	admitkit_requests_finished_total{service,state}
//	admitkit_admission_wait_seconds{service}
//	admitkit_queue_depth{service}
//	admitkit_gate_held{gate}
//	admitkit_gate_capacity{gate}
//	admitkit_ledger_total{resource}
package metrics
