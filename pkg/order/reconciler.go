package order

import (
	"time"

	"github.com/example/ordershop/pkg/models"
)

// Reconciliation describes what a payment status change did to the order.
type Reconciliation struct {
	PaidStamped  bool
	AutoPromoted bool
	// Skipped is set when PAID arrived for an order that could not be promoted,
	// e.g. one already cancelled.
	Skipped bool
}

// ReconcilePayment folds a payment status change into the order.
//
// PAID stamps paidAt once. When the same request carries no explicit status,
// the order is promoted to CONFIRMED only if that is a legal transition from
// its current status; otherwise the status is left alone and the payment
// status is still recorded.
func ReconcilePayment(o *models.Order, payment models.PaymentStatus, statusRequested bool, now time.Time) Reconciliation {
	var r Reconciliation
	o.PaymentStatus = payment
	if payment != models.PaymentStatusPaid {
		return r
	}

	if o.PaidAt == nil {
		o.PaidAt = &now
		r.PaidStamped = true
	}
	if statusRequested {
		return r
	}

	if o.Status == models.OrderStatusConfirmed {
		return r
	}
	if err := ApplyTransition(o, models.OrderStatusConfirmed, now); err != nil {
		r.Skipped = true
		return r
	}
	r.AutoPromoted = true
	return r
}
