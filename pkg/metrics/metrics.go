package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ordershop"

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

// NewServerMetrics registers HTTP metrics for service on reg.
func NewServerMetrics(reg prometheus.Registerer, service string) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "method", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler", "method"})

	reg.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// OrderMetrics counts order lifecycle activity. A nil *OrderMetrics records nothing.
type OrderMetrics struct {
	Created             prometheus.Counter
	Transitions         *prometheus.CounterVec
	RejectedTransitions *prometheus.CounterVec
	ConflictRetries     prometheus.Counter
	Payments            *prometheus.CounterVec
}

func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	m := &OrderMetrics{
		Created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "created_total",
			Help:      "Orders created.",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "status_transitions_total",
			Help:      "Committed order status transitions.",
		}, []string{"from", "to"}),
		RejectedTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "rejected_transitions_total",
			Help:      "Status changes refused by the transition table.",
		}, []string{"from", "to"}),
		ConflictRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "conflict_retries_total",
			Help:      "Conditional writes retried after a concurrent modification.",
		}),
		Payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orders",
			Name:      "payment_status_updates_total",
			Help:      "Payment status changes recorded on orders.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.Created, m.Transitions, m.RejectedTransitions, m.ConflictRetries, m.Payments)
	return m
}

func (m *OrderMetrics) OrderCreated() {
	if m == nil {
		return
	}
	m.Created.Inc()
}

func (m *OrderMetrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

func (m *OrderMetrics) RejectedTransition(from, to string) {
	if m == nil {
		return
	}
	m.RejectedTransitions.WithLabelValues(from, to).Inc()
}

func (m *OrderMetrics) ConflictRetry() {
	if m == nil {
		return
	}
	m.ConflictRetries.Inc()
}

func (m *OrderMetrics) PaymentStatus(status string) {
	if m == nil {
		return
	}
	m.Payments.WithLabelValues(status).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
