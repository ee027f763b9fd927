package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, g prometheus.Gatherer) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler(g).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestOrderMetricsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrderMetrics(reg)

	m.OrderCreated()
	m.OrderCreated()
	m.Transition("PENDING", "CONFIRMED")
	m.RejectedTransition("PENDING", "SHIPPED")
	m.ConflictRetry()
	m.PaymentStatus("PAID")

	body := scrape(t, reg)
	require.Contains(t, body, "ordershop_orders_created_total 2")
	require.Contains(t, body, `ordershop_orders_status_transitions_total{from="PENDING",to="CONFIRMED"} 1`)
	require.Contains(t, body, `ordershop_orders_rejected_transitions_total{from="PENDING",to="SHIPPED"} 1`)
	require.Contains(t, body, "ordershop_orders_conflict_retries_total 1")
	require.Contains(t, body, `ordershop_orders_payment_status_updates_total{status="PAID"} 1`)
}

func TestNilOrderMetricsIsSafe(t *testing.T) {
	var m *OrderMetrics
	require.NotPanics(t, func() {
		m.OrderCreated()
		m.Transition("PENDING", "CONFIRMED")
		m.RejectedTransition("PENDING", "SHIPPED")
		m.ConflictRetry()
		m.PaymentStatus("PAID")
	})
}

func TestServerMetricsExposed(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewServerMetrics(reg, "gateway")
	s.Requests.WithLabelValues("/api/v1/orders", "GET", "200").Inc()
	s.LatencyMS.WithLabelValues("/api/v1/orders", "GET").Observe(12)

	body := scrape(t, reg)
	require.Contains(t, body, `ordershop_gateway_http_requests_total{handler="/api/v1/orders",method="GET",status="200"} 1`)
	require.Contains(t, body, "ordershop_gateway_http_request_duration_ms_count")
}
