package events

import (
	"context"
	"errors"
	"time"
)

const (
	TypeOrderCreated       = "order.created"
	TypeOrderStatusChanged = "order.status.changed"
	TypeOrderCancelled     = "order.cancelled"
	TypeOrderDeleted       = "order.deleted"
)

// OrderEvent describes a committed order mutation.
type OrderEvent struct {
	Type                  string         `json:"type" bson:"type"`
	OrderID               string         `json:"orderId" bson:"order_id"`
	OrderNumber           string         `json:"orderNumber" bson:"order_number"`
	UserID                string         `json:"userId" bson:"user_id"`
	PreviousStatus        string         `json:"previousStatus,omitempty" bson:"previous_status,omitempty"`
	CurrentStatus         string         `json:"currentStatus,omitempty" bson:"current_status,omitempty"`
	PreviousPaymentStatus string         `json:"previousPaymentStatus,omitempty" bson:"previous_payment_status,omitempty"`
	PaymentStatus         string         `json:"paymentStatus,omitempty" bson:"payment_status,omitempty"`
	ActorID               string         `json:"actorId,omitempty" bson:"actor_id,omitempty"`
	OccurredAt            time.Time      `json:"occurredAt" bson:"occurred_at"`
	Metadata              map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// Publisher delivers order events to downstream consumers.
type Publisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// Nop discards events.
type Nop struct{}

func (Nop) PublishOrderEvent(context.Context, OrderEvent) error { return nil }

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) PublishOrderEvent(ctx context.Context, event OrderEvent) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.PublishOrderEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
