package order

import (
	"slices"
	"time"

	"github.com/example/ordershop/pkg/models"
)

var statusTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPending:    {models.OrderStatusConfirmed, models.OrderStatusCancelled},
	models.OrderStatusConfirmed:  {models.OrderStatusProcessing, models.OrderStatusCancelled},
	models.OrderStatusProcessing: {models.OrderStatusShipped, models.OrderStatusCancelled},
	models.OrderStatusShipped:    {models.OrderStatusDelivered},
	models.OrderStatusDelivered:  {models.OrderStatusRefunded},
	models.OrderStatusCancelled:  nil,
	models.OrderStatusRefunded:   nil,
}

// customerCancellable is narrower than the table: customers may only cancel
// orders that have not been confirmed or are still being processed.
var customerCancellable = []models.OrderStatus{
	models.OrderStatusPending,
	models.OrderStatusProcessing,
}

// AllowedTransitions returns the statuses reachable from current.
func AllowedTransitions(current models.OrderStatus) []models.OrderStatus {
	return slices.Clone(statusTransitions[current])
}

func IsTerminal(status models.OrderStatus) bool {
	return len(statusTransitions[status]) == 0
}

// ValidateTransition fails with *InvalidTransitionError unless requested is an
// outgoing edge of current.
func ValidateTransition(current, requested models.OrderStatus) error {
	if !slices.Contains(statusTransitions[current], requested) {
		return &InvalidTransitionError{Current: current, Requested: requested}
	}
	return nil
}

// ApplyTransition validates and moves the order to target, stamping
// cancelledAt/completedAt on entry. Timestamps are never overwritten.
func ApplyTransition(o *models.Order, target models.OrderStatus, now time.Time) error {
	if err := ValidateTransition(o.Status, target); err != nil {
		return err
	}
	o.Status = target
	switch target {
	case models.OrderStatusCancelled:
		if o.CancelledAt == nil {
			o.CancelledAt = &now
		}
	case models.OrderStatusDelivered:
		if o.CompletedAt == nil {
			o.CompletedAt = &now
		}
	}
	return nil
}

// CanCustomerCancel reports whether the owner may cancel an order in status.
func CanCustomerCancel(status models.OrderStatus) bool {
	return slices.Contains(customerCancellable, status)
}
