package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	aerr "github.com/vinayprograms/admitkit/errors"
	"github.com/vinayprograms/admitkit/gate"
	"github.com/vinayprograms/admitkit/ledger"
	"github.com/vinayprograms/admitkit/service"
)

const namespace = "admitkit"

// Metrics collects admission metrics.
type Metrics struct {
	registry *prometheus.Registry

	submitted *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	finished  *prometheus.CounterVec
	wait      *prometheus.HistogramVec
	depth     *prometheus.GaugeVec
	gateHeld  *prometheus.GaugeVec
	gateCap   *prometheus.GaugeVec
	ledger    *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. A nil reg gets a
// fresh registry, which keeps separate runs from colliding.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: reg,
		submitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_submitted_total",
				Help:      "Requests accepted into a service queue",
			},
			[]string{"service"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_rejected_total",
				Help:      "Submissions rejected synchronously, by error code",
			},
			[]string{"service", "code"},
		),
		finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_finished_total",
				Help:      "Requests that reached a terminal state",
			},
			[]string{"service", "state"},
		),
		wait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "admission_wait_seconds",
				Help:      "Time from submission to admission",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"service"},
		),
		depth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Requests waiting in a service queue",
			},
			[]string{"service"},
		),
		gateHeld: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "gate_held",
				Help:      "Gate slots currently held",
			},
			[]string{"gate"},
		),
		gateCap: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "gate_capacity",
				Help:      "Gate slot capacity",
			},
			[]string{"gate"},
		),
		ledger: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ledger_total",
				Help:      "Cumulative resource consumption recorded on the ledger",
			},
			[]string{"resource"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.submitted, m.rejected, m.finished, m.wait,
		m.depth, m.gateHeld, m.gateCap, m.ledger,
	} {
		if err := reg.Register(c); err != nil {
			return nil, aerr.Wrap(err, "register metrics")
		}
	}
	return m, nil
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Submitted implements service.Observer.
func (m *Metrics) Submitted(svc string) {
	m.submitted.WithLabelValues(svc).Inc()
}

// Rejected implements service.Observer.
func (m *Metrics) Rejected(svc string, code aerr.ErrorCode) {
	if code == "" {
		code = aerr.CodeInternal
	}
	m.rejected.WithLabelValues(svc, string(code)).Inc()
}

// Admitted implements service.Observer.
func (m *Metrics) Admitted(svc string, wait time.Duration) {
	m.wait.WithLabelValues(svc).Observe(wait.Seconds())
}

// Finished implements service.Observer.
func (m *Metrics) Finished(svc string, state service.State) {
	m.finished.WithLabelValues(svc, state.String()).Inc()
}

// QueueDepth implements service.Observer.
func (m *Metrics) QueueDepth(svc string, depth int) {
	m.depth.WithLabelValues(svc).Set(float64(depth))
}

// GateChanged implements gate.Observer.
func (m *Metrics) GateChanged(name string, held, capacity int) {
	m.gateHeld.WithLabelValues(name).Set(float64(held))
	m.gateCap.WithLabelValues(name).Set(float64(capacity))
}

// LedgerChanged implements ledger.Observer.
func (m *Metrics) LedgerChanged(resource string, total float64) {
	m.ledger.WithLabelValues(resource).Set(total)
}

var (
	_ service.Observer = (*Metrics)(nil)
	_ gate.Observer    = (*Metrics)(nil)
	_ ledger.Observer  = (*Metrics)(nil)
)
