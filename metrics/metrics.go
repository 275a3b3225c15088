// Package metrics exposes Prometheus collectors for the auction lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sealedbid"

// Metrics groups the collectors updated by the controller and the server.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	operations     *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	bidsCommitted  prometheus.Counter
	activeAuctions prometheus.Gauge
	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	busyRejects    prometheus.Counter
}

// New creates collectors registered on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Accepted lifecycle operations by type",
		}, []string{"op"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Rejected lifecycle operations by type and error kind",
		}, []string{"op", "kind"}),
		bidsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bids_committed_total",
			Help:      "Sealed bids stored",
		}),
		activeAuctions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_auctions",
			Help:      "Auctions that have not reached a terminal state",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Server requests by type and outcome",
		}, []string{"type", "success"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Server request handling time",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		busyRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_busy_total",
			Help:      "Connections rejected because the worker pool was full",
		}),
	}

	m.Registry.MustRegister(
		m.operations,
		m.rejections,
		m.bidsCommitted,
		m.activeAuctions,
		m.requests,
		m.requestLatency,
		m.busyRejects,
	)
	return m
}

// Accepted records a successful lifecycle operation.
func (m *Metrics) Accepted(op string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op).Inc()
	switch op {
	case "create":
		m.activeAuctions.Inc()
	case "bid":
		m.bidsCommitted.Inc()
	case "finalize", "cancel":
		m.activeAuctions.Dec()
	}
}

// SetActive seeds the active auction gauge, typically from the store at startup.
func (m *Metrics) SetActive(n int) {
	if m == nil {
		return
	}
	m.activeAuctions.Set(float64(n))
}

// Rejected records a failed lifecycle operation.
func (m *Metrics) Rejected(op, kind string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(op, kind).Inc()
}

// Request records one handled server request.
func (m *Metrics) Request(reqType string, success bool, seconds float64) {
	if m == nil {
		return
	}
	outcome := "false"
	if success {
		outcome = "true"
	}
	m.requests.WithLabelValues(reqType, outcome).Inc()
	m.requestLatency.WithLabelValues(reqType).Observe(seconds)
}

// Busy records a connection turned away by a full worker pool.
func (m *Metrics) Busy() {
	if m == nil {
		return
	}
	m.busyRejects.Inc()
}
