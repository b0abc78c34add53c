package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pipeline"

// Metrics groups every collector the server exposes on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	// HTTPRequestCounter counts API requests.
	// Labels: method, route, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// HTTPRequestDuration measures API latency in seconds.
	// Labels: method, route
	HTTPRequestDuration *prometheus.HistogramVec

	// StorageOperationDuration measures project store calls.
	// Labels: operation (list|get|insert|replace|delete), status (success|error)
	StorageOperationDuration *prometheus.HistogramVec

	// HubConnections is the number of open simulation hub connections.
	HubConnections prometheus.Gauge

	// SimulationsRunning is the number of simulation tasks in flight.
	SimulationsRunning prometheus.Gauge

	// SimulationCounter counts finished simulations.
	// Labels: outcome (completed|stopped|error)
	SimulationCounter *prometheus.CounterVec
}

// NewMetrics registers all collectors on a fresh registry so that several
// servers (and tests) can coexist in one process.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequestCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by method, route and status code",
			},
			[]string{"method", "route", "status_code"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "route"},
		),
		StorageOperationDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_operation_duration_seconds",
				Help:      "Duration of project store operations in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"operation", "status"},
		),
		HubConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_connections",
			Help:      "Number of open simulation hub connections",
		}),
		SimulationsRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "simulations_running",
			Help:      "Number of simulation tasks currently running",
		}),
		SimulationCounter: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "simulations_total",
				Help:      "Total number of finished simulations by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStorage records one store call. It is nil-safe so stores can be
// used without metrics.
func (m *Metrics) ObserveStorage(operation string, seconds float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StorageOperationDuration.WithLabelValues(operation, status).Observe(seconds)
}

func (m *Metrics) SimulationStarted() {
	if m == nil {
		return
	}
	m.SimulationsRunning.Inc()
}

func (m *Metrics) SimulationFinished(outcome string) {
	if m == nil {
		return
	}
	m.SimulationsRunning.Dec()
	m.SimulationCounter.WithLabelValues(outcome).Inc()
}

func (m *Metrics) HubConnected() {
	if m == nil {
		return
	}
	m.HubConnections.Inc()
}

func (m *Metrics) HubDisconnected() {
	if m == nil {
		return
	}
	m.HubConnections.Dec()
}
