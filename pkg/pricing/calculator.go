// Package pricing turns line items into order totals. The order service and the
// gateway cart quote share this code so that what a customer is shown and what
// is persisted cannot drift apart.
//
// Rounding policy: each line total is rounded to cents for display, but the
// subtotal is the rounded sum of the unrounded line values.
package pricing

import (
	"errors"
	"fmt"

	"github.com/example/ordershop/pkg/config"
	"github.com/shopspring/decimal"
)

var (
	ErrEmptyOrder      = errors.New("empty order")
	ErrInvalidItem     = errors.New("invalid line item")
	ErrInvalidTaxRate  = errors.New("invalid tax rate")
	ErrInvalidShipping = errors.New("invalid shipping cost")
)

// DefaultTaxRate applies when neither the request nor the config sets one.
var DefaultTaxRate = decimal.RequireFromString("0.20")

// UnitPricePlaces is the precision unit prices are stored with.
const UnitPricePlaces = 4

type LineItem struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// Options overrides the calculator defaults for a single calculation.
type Options struct {
	TaxRate      *decimal.Decimal
	ShippingCost *decimal.Decimal
}

type Breakdown struct {
	Subtotal     Money   `json:"subtotal"`
	TaxAmount    Money   `json:"taxAmount"`
	ShippingCost Money   `json:"shippingCost"`
	Total        Money   `json:"total"`
	LineTotals   []Money `json:"lineTotals"`
}

type Calculator struct {
	taxRate               decimal.Decimal
	freeShippingThreshold decimal.Decimal
	flatShippingCost      decimal.Decimal
}

func NewCalculator(cfg config.OrderConfig) *Calculator {
	return &Calculator{
		taxRate:               decimal.NewFromFloat(cfg.DefaultTaxRate),
		freeShippingThreshold: decimal.NewFromFloat(cfg.FreeShippingThreshold),
		flatShippingCost:      decimal.NewFromFloat(cfg.FlatShippingCost),
	}
}

// Price computes order totals. Shipping defaults to zero.
func (c *Calculator) Price(items []LineItem, opts Options) (Breakdown, error) {
	rate := c.taxRate
	if opts.TaxRate != nil {
		rate = *opts.TaxRate
	}
	shipping := decimal.Zero
	if opts.ShippingCost != nil {
		shipping = *opts.ShippingCost
	}
	return calculate(items, rate, func(decimal.Decimal) decimal.Decimal { return shipping })
}

// Quote prices a storefront cart: flat-rate shipping unless the subtotal reaches
// the free shipping threshold.
func (c *Calculator) Quote(items []LineItem) (Breakdown, error) {
	return calculate(items, c.taxRate, c.shippingFor)
}

func (c *Calculator) shippingFor(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThanOrEqual(c.freeShippingThreshold) {
		return decimal.Zero
	}
	return c.flatShippingCost
}

// Calculate prices items with the package defaults.
func Calculate(items []LineItem, opts Options) (Breakdown, error) {
	return (&Calculator{taxRate: DefaultTaxRate}).Price(items, opts)
}

// LineTotal is round(unitPrice × quantity, 2).
func LineTotal(unitPrice decimal.Decimal, quantity int) Money {
	return NewMoney(unitPrice.Mul(decimal.NewFromInt(int64(quantity))))
}

func calculate(items []LineItem, taxRate decimal.Decimal, shippingFor func(decimal.Decimal) decimal.Decimal) (Breakdown, error) {
	if len(items) == 0 {
		return Breakdown{}, ErrEmptyOrder
	}
	if taxRate.IsNegative() {
		return Breakdown{}, fmt.Errorf("%w: %s", ErrInvalidTaxRate, taxRate)
	}

	raw := decimal.Zero
	lines := make([]Money, len(items))
	for i, item := range items {
		if item.Quantity <= 0 {
			return Breakdown{}, fmt.Errorf("%w: item %d quantity must be positive, got %d", ErrInvalidItem, i, item.Quantity)
		}
		if item.UnitPrice.IsNegative() {
			return Breakdown{}, fmt.Errorf("%w: item %d unit price must not be negative", ErrInvalidItem, i)
		}
		if !item.UnitPrice.Equal(item.UnitPrice.Round(UnitPricePlaces)) {
			return Breakdown{}, fmt.Errorf("%w: item %d unit price has more than %d decimal places", ErrInvalidItem, i, UnitPricePlaces)
		}
		value := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		raw = raw.Add(value)
		lines[i] = NewMoney(value)
	}

	subtotal := NewMoney(raw)
	shipping := shippingFor(subtotal.Decimal)
	if shipping.IsNegative() {
		return Breakdown{}, fmt.Errorf("%w: %s", ErrInvalidShipping, shipping)
	}

	tax := NewMoney(subtotal.Mul(taxRate))
	ship := NewMoney(shipping)

	return Breakdown{
		Subtotal:     subtotal,
		TaxAmount:    tax,
		ShippingCost: ship,
		Total:        subtotal.Add(tax).Add(ship),
		LineTotals:   lines,
	}, nil
}
