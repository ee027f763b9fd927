package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/example/ordershop/pkg/models"
	"github.com/example/ordershop/pkg/pricing"
)

// MemoryOrderRepository keeps orders in process memory. It honours the same
// preconditions as the SQL repository and is used for local runs and tests.
type MemoryOrderRepository struct {
	mu       sync.RWMutex
	orders   map[string]*models.Order
	byNumber map[string]string
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{
		orders:   make(map[string]*models.Order),
		byNumber: make(map[string]string),
	}
}

func (r *MemoryOrderRepository) Create(_ context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[order.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, order.ID)
	}
	if _, ok := r.byNumber[order.OrderNumber]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, order.OrderNumber)
	}
	if order.Version == 0 {
		order.Version = 1
	}
	r.orders[order.ID] = order.Clone()
	r.byNumber[order.OrderNumber] = order.ID
	return nil
}

func (r *MemoryOrderRepository) FindOne(_ context.Context, lookup OrderLookup) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id := lookup.ID
	if id == "" {
		id = r.byNumber[lookup.OrderNumber]
	}
	order, ok := r.orders[id]
	if !ok || id == "" {
		return nil, ErrNotFound
	}
	if lookup.OrderNumber != "" && order.OrderNumber != lookup.OrderNumber {
		return nil, ErrNotFound
	}
	if lookup.UserID != "" && order.UserID != lookup.UserID {
		return nil, ErrNotFound
	}
	return order.Clone(), nil
}

func (r *MemoryOrderRepository) List(_ context.Context, filter OrderFilter, offset, limit int) ([]models.Order, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*models.Order, 0, len(r.orders))
	for _, o := range r.orders {
		if matches(o, filter) {
			matched = append(matched, o)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if offset >= len(matched) {
		return []models.Order{}, total, nil
	}
	end := len(matched)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	page := make([]models.Order, 0, end-offset)
	for _, o := range matched[offset:end] {
		page = append(page, *o.Clone())
	}
	return page, total, nil
}

func matches(o *models.Order, f OrderFilter) bool {
	if f.Status != nil && o.Status != *f.Status {
		return false
	}
	if f.PaymentStatus != nil && o.PaymentStatus != *f.PaymentStatus {
		return false
	}
	if f.UserID != "" && o.UserID != f.UserID {
		return false
	}
	if f.OrderNumber != "" && o.OrderNumber != f.OrderNumber {
		return false
	}
	return true
}

func (r *MemoryOrderRepository) UpdateState(_ context.Context, order *models.Order, expect Precondition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[order.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != expect.Status || stored.Version != expect.Version {
		return ErrConflict
	}

	updated := stored.Clone()
	updated.Status = order.Status
	updated.PaymentStatus = order.PaymentStatus
	updated.Notes = order.Notes
	updated.PaidAt = order.PaidAt
	updated.CancelledAt = order.CancelledAt
	updated.CompletedAt = order.CompletedAt
	updated.UpdatedAt = order.UpdatedAt
	updated.Version = expect.Version + 1
	r.orders[order.ID] = updated.Clone()

	order.Version = updated.Version
	return nil
}

func (r *MemoryOrderRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return ErrNotFound
	}
	delete(r.byNumber, order.OrderNumber)
	delete(r.orders, id)
	return nil
}

func (r *MemoryOrderRepository) Stats(_ context.Context) (OrderStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := OrderStats{
		ByStatus: make(map[models.OrderStatus]int64, len(models.OrderStatuses)),
		Revenue:  pricing.Zero,
	}
	for _, o := range r.orders {
		stats.Total++
		stats.ByStatus[o.Status]++
		if o.PaymentStatus == models.PaymentStatusPaid && o.Status != models.OrderStatusRefunded {
			stats.Revenue = stats.Revenue.Add(o.Subtotal)
		}
	}
	stats.Revenue = pricing.NewMoney(stats.Revenue.Decimal)
	return stats, nil
}
