package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/example/ordershop/pkg/pricing"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusRefunded   OrderStatus = "REFUNDED"
)

// OrderStatuses lists every status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

func (s OrderStatus) Valid() bool {
	for _, known := range OrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseOrderStatus is case-insensitive and rejects unknown values.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	s := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown order status %q", raw)
	}
	return s, nil
}

func (s *OrderStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseOrderStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "UNPAID"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

var PaymentStatuses = []PaymentStatus{
	PaymentStatusUnpaid,
	PaymentStatusPaid,
	PaymentStatusFailed,
	PaymentStatusRefunded,
}

func (s PaymentStatus) Valid() bool {
	for _, known := range PaymentStatuses {
		if s == known {
			return true
		}
	}
	return false
}

func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	s := PaymentStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown payment status %q", raw)
	}
	return s, nil
}

func (s *PaymentStatus) UnmarshalText(text []byte) error {
	parsed, err := ParsePaymentStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Address is opaque to the order engine; it is stored as JSON.
type Address struct {
	FullName   string `json:"fullName,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

type Order struct {
	ID              string        `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OrderNumber     string        `gorm:"type:varchar(40);uniqueIndex;not null" json:"orderNumber"`
	UserID          string        `gorm:"type:varchar(36);not null;index" json:"userId"`
	Subtotal        pricing.Money `gorm:"type:decimal(12,2);not null" json:"subtotal"`
	TaxAmount       pricing.Money `gorm:"type:decimal(12,2);not null" json:"taxAmount"`
	ShippingCost    pricing.Money `gorm:"type:decimal(12,2);not null" json:"shippingCost"`
	Total           pricing.Money `gorm:"type:decimal(12,2);not null" json:"total"`
	Status          OrderStatus   `gorm:"type:varchar(20);not null;index" json:"status"`
	PaymentStatus   PaymentStatus `gorm:"type:varchar(20);not null;index" json:"paymentStatus"`
	ShippingAddress Address       `gorm:"type:json;serializer:json" json:"shippingAddress"`
	BillingAddress  *Address      `gorm:"type:json;serializer:json" json:"billingAddress,omitempty"`
	PaymentMethod   string        `gorm:"type:varchar(50)" json:"paymentMethod,omitempty"`
	Notes           string        `gorm:"type:text" json:"notes,omitempty"`
	Version         int64         `gorm:"not null;default:1" json:"version"`
	Items           []OrderItem   `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt       time.Time     `gorm:"index" json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
	PaidAt          *time.Time    `json:"paidAt,omitempty"`
	CancelledAt     *time.Time    `json:"cancelledAt,omitempty"`
	CompletedAt     *time.Time    `json:"completedAt,omitempty"`
}

func (Order) TableName() string {
	return "orders"
}

// Clone returns a deep copy so callers cannot alias stored state.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.BillingAddress != nil {
		addr := *o.BillingAddress
		c.BillingAddress = &addr
	}
	c.PaidAt = cloneTime(o.PaidAt)
	c.CancelledAt = cloneTime(o.CancelledAt)
	c.CompletedAt = cloneTime(o.CompletedAt)
	if o.Items != nil {
		c.Items = make([]OrderItem, len(o.Items))
		copy(c.Items, o.Items)
	}
	return &c
}

type OrderItem struct {
	ID          uint          `gorm:"primaryKey;autoIncrement" json:"-"`
	OrderID     string        `gorm:"type:varchar(36);not null;index" json:"-"`
	ProductID   string        `gorm:"type:varchar(36);not null" json:"productId"`
	SKU         string        `gorm:"type:varchar(64)" json:"sku"`
	ProductName string        `gorm:"type:varchar(255);not null" json:"productName"`
	Quantity    int           `gorm:"not null" json:"quantity"`
	UnitPrice   pricing.Money `gorm:"type:decimal(14,4);not null" json:"unitPrice"`
	TotalPrice  pricing.Money `gorm:"type:decimal(12,2);not null" json:"totalPrice"`
}

func (OrderItem) TableName() string {
	return "order_items"
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
