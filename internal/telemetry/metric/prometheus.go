package metric

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bunqsession"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Registry holds all session metrics.
type Registry struct {
	registry *prometheus.Registry
	reg      prometheus.Registerer

	SessionLoads    *prometheus.CounterVec
	SessionStores   *prometheus.CounterVec
	SessionDestroys *prometheus.CounterVec
	KeyGeneration   *prometheus.HistogramVec
	HandshakeSteps  *prometheus.CounterVec
}

// NewRegistry creates a registry with its own prometheus.Registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := newRegistry(reg)
	r.registry = reg
	return r
}

// NewRegistryWith registers the session metrics on an existing
// registerer.
func NewRegistryWith(reg prometheus.Registerer) *Registry {
	return newRegistry(reg)
}

func newRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		SessionLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "loads_total",
			Help:      "Session loads by outcome.",
		}, []string{"outcome"}),
		SessionStores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "stores_total",
			Help:      "Session store attempts by result.",
		}, []string{"result"}),
		SessionDestroys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "destroys_total",
			Help:      "Session destroy operations by level.",
		}, []string{"level"}),
		KeyGeneration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "keypair",
			Name:      "generation_seconds",
			Help:      "RSA keypair generation latency.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"result"}),
		HandshakeSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handshake",
			Name:      "steps_total",
			Help:      "Handshake steps by step and result.",
		}, []string{"step", "result"}),
	}

	r.reg = reg
	reg.MustRegister(
		r.SessionLoads,
		r.SessionStores,
		r.SessionDestroys,
		r.KeyGeneration,
		r.HandshakeSteps,
	)
	return r
}

// ObserveLoad implements session.Metrics.
func (r *Registry) ObserveLoad(outcome string) {
	r.SessionLoads.WithLabelValues(outcome).Inc()
}

// ObserveStore implements session.Metrics.
func (r *Registry) ObserveStore(err error) {
	r.SessionStores.WithLabelValues(result(err)).Inc()
}

// ObserveDestroy implements session.Metrics.
func (r *Registry) ObserveDestroy(level string) {
	r.SessionDestroys.WithLabelValues(level).Inc()
}

// ObserveKeyGeneration implements session.Metrics.
func (r *Registry) ObserveKeyGeneration(d time.Duration, err error) {
	r.KeyGeneration.WithLabelValues(result(err)).Observe(d.Seconds())
}

// ObserveHandshakeStep implements session.Metrics.
func (r *Registry) ObserveHandshakeStep(step string, err error) {
	r.HandshakeSteps.WithLabelValues(step, result(err)).Inc()
}

// Register adds extra collectors, such as a Collector or a storage
// engine's gauges, to the underlying registerer.
func (r *Registry) Register(cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := r.reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Registerer returns the registerer the metrics live on.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.reg
}

// Gatherer returns the registerer as a Gatherer when it is one, or nil.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r.registry != nil {
		return r.registry
	}
	if g, ok := r.reg.(prometheus.Gatherer); ok {
		return g
	}
	return nil
}

// Handler returns an HTTP handler serving this registry in the
// Prometheus exposition format. Registerers that cannot be gathered
// fall back to the default gatherer.
func (r *Registry) Handler() http.Handler {
	g := r.Gatherer()
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns a process-wide registry on prometheus.DefaultRegisterer.
func Global() *Registry {
	globalOnce.Do(func() {
		global = NewRegistryWith(prometheus.DefaultRegisterer)
	})
	return global
}
