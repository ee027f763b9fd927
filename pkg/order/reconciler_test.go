package order

import (
	"testing"
	"time"

	"github.com/example/ordershop/pkg/models"
	"github.com/stretchr/testify/require"
)

func TestReconcilePaidPromotesPending(t *testing.T) {
	now := time.Date(2026, 10, 16, 10, 0, 0, 0, time.UTC)
	o := &models.Order{Status: models.OrderStatusPending, PaymentStatus: models.PaymentStatusUnpaid}

	r := ReconcilePayment(o, models.PaymentStatusPaid, false, now)
	require.Equal(t, Reconciliation{PaidStamped: true, AutoPromoted: true}, r)
	require.Equal(t, models.OrderStatusConfirmed, o.Status)
	require.Equal(t, models.PaymentStatusPaid, o.PaymentStatus)
	require.Equal(t, now, *o.PaidAt)
}

func TestReconcilePaidWithExplicitStatusDoesNotPromote(t *testing.T) {
	now := time.Now().UTC()
	o := &models.Order{Status: models.OrderStatusProcessing}

	r := ReconcilePayment(o, models.PaymentStatusPaid, true, now)
	require.True(t, r.PaidStamped)
	require.False(t, r.AutoPromoted)
	require.Equal(t, models.OrderStatusProcessing, o.Status)
}

func TestReconcilePaidKeepsFirstPaidAt(t *testing.T) {
	first := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	o := &models.Order{Status: models.OrderStatusConfirmed, PaidAt: &first}

	r := ReconcilePayment(o, models.PaymentStatusPaid, false, first.Add(time.Hour))
	require.False(t, r.PaidStamped)
	require.False(t, r.AutoPromoted)
	require.False(t, r.Skipped)
	require.Equal(t, first, *o.PaidAt)
	require.Equal(t, models.OrderStatusConfirmed, o.Status)
}

func TestReconcilePaidDoesNotReviveTerminalOrders(t *testing.T) {
	for _, status := range []models.OrderStatus{
		models.OrderStatusCancelled,
		models.OrderStatusRefunded,
		models.OrderStatusShipped,
		models.OrderStatusProcessing,
	} {
		o := &models.Order{Status: status}
		r := ReconcilePayment(o, models.PaymentStatusPaid, false, time.Now())
		require.True(t, r.Skipped, status)
		require.Equal(t, status, o.Status)
		require.Equal(t, models.PaymentStatusPaid, o.PaymentStatus)
		require.NotNil(t, o.PaidAt)
	}
}

func TestReconcileOtherPaymentStatusesOnlyPersist(t *testing.T) {
	for _, payment := range []models.PaymentStatus{models.PaymentStatusFailed, models.PaymentStatusRefunded, models.PaymentStatusUnpaid} {
		o := &models.Order{Status: models.OrderStatusPending}
		r := ReconcilePayment(o, payment, false, time.Now())
		require.Equal(t, Reconciliation{}, r)
		require.Equal(t, payment, o.PaymentStatus)
		require.Equal(t, models.OrderStatusPending, o.Status)
		require.Nil(t, o.PaidAt)
	}
}
