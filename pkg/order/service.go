// Package order implements the order lifecycle: creation with priced totals,
// status transitions, payment reconciliation and the queries around them.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/ordershop/pkg/config"
	"github.com/example/ordershop/pkg/events"
	"github.com/example/ordershop/pkg/metrics"
	"github.com/example/ordershop/pkg/models"
	"github.com/example/ordershop/pkg/pricing"
	"github.com/example/ordershop/pkg/repository"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Serializer runs fn so that no two functions for the same key overlap. fn
// must do its work with the context it is given.
type Serializer interface {
	Serialize(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type inline struct{}

func (inline) Serialize(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// AuditTrail reads back the events recorded for an order, newest first.
type AuditTrail interface {
	GetAuditLogs(ctx context.Context, entityID string, limit int64) ([]*repository.AuditLog, error)
}

type ItemInput struct {
	ProductID   string          `json:"productId"`
	SKU         string          `json:"sku"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
}

type CreateRequest struct {
	Items           []ItemInput      `json:"items"`
	TaxRate         *decimal.Decimal `json:"taxRate,omitempty"`
	ShippingCost    *decimal.Decimal `json:"shippingCost,omitempty"`
	ShippingAddress models.Address   `json:"shippingAddress"`
	BillingAddress  *models.Address  `json:"billingAddress,omitempty"`
	PaymentMethod   string           `json:"paymentMethod,omitempty"`
	Notes           string           `json:"notes,omitempty"`
}

// StatusUpdate is a partial update; nil fields are left untouched. Payment
// processor callbacks arrive as updates that only set PaymentStatus.
type StatusUpdate struct {
	Status        *models.OrderStatus   `json:"status,omitempty"`
	PaymentStatus *models.PaymentStatus `json:"paymentStatus,omitempty"`
	Notes         *string               `json:"notes,omitempty"`
}

type Filter = repository.OrderFilter

type PageMeta struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"totalPages"`
}

type Page struct {
	Data []models.Order `json:"data"`
	Meta PageMeta       `json:"meta"`
}

type Statistics struct {
	Total        int64            `json:"total"`
	Pending      int64            `json:"pending"`
	Delivered    int64            `json:"delivered"`
	Cancelled    int64            `json:"cancelled"`
	ByStatus     map[string]int64 `json:"byStatus"`
	TotalRevenue pricing.Money    `json:"totalRevenue"`
}

type Service struct {
	repo            repository.OrderRepository
	calculator      *pricing.Calculator
	serializer      Serializer
	publisher       events.Publisher
	publishTimeout  time.Duration
	audit           AuditTrail
	metrics         *metrics.OrderMetrics
	logger          *zap.Logger
	now             func() time.Time
	newID           func() string
	defaultPageSize int
	maxPageSize     int
	conflictRetries int
}

type Option func(*Service)

// WithSerializer routes every mutation of an order through s, keyed by order id.
func WithSerializer(s Serializer) Option {
	return func(svc *Service) { svc.serializer = s }
}

func WithPublisher(p events.Publisher) Option {
	return func(svc *Service) { svc.publisher = p }
}

// WithPublishTimeout bounds each event publish. Publishing happens after the
// write is committed, so a slow broker delays only the caller that triggered it.
func WithPublishTimeout(d time.Duration) Option {
	return func(svc *Service) { svc.publishTimeout = d }
}

func WithAuditTrail(t AuditTrail) Option {
	return func(svc *Service) { svc.audit = t }
}

func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(svc *Service) { svc.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(svc *Service) { svc.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(svc *Service) { svc.newID = newID }
}

func NewService(repo repository.OrderRepository, calculator *pricing.Calculator, cfg config.OrderConfig, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		repo:            repo,
		calculator:      calculator,
		serializer:      inline{},
		publisher:       events.Nop{},
		publishTimeout:  5 * time.Second,
		logger:          logger,
		now:             time.Now,
		newID:           uuid.NewString,
		defaultPageSize: cfg.DefaultPageSize,
		maxPageSize:     cfg.MaxPageSize,
		conflictRetries: cfg.ConflictRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.defaultPageSize <= 0 {
		s.defaultPageSize = 10
	}
	if s.maxPageSize < s.defaultPageSize {
		s.maxPageSize = s.defaultPageSize
	}
	if s.publishTimeout <= 0 {
		s.publishTimeout = 5 * time.Second
	}
	return s
}

// NewOrderNumber builds ORD-YYYYMMDD-<ULID>. The ULID keeps numbers unique
// and sortable by creation time.
func NewOrderNumber(now time.Time) string {
	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy())
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), id.String())
}

func (s *Service) Create(ctx context.Context, ownerID string, req CreateRequest) (*models.Order, error) {
	if ownerID == "" {
		return nil, validationError("owner is required")
	}
	if len(req.Items) == 0 {
		return nil, validationError("empty order")
	}
	if err := validateAddress("shippingAddress", &req.ShippingAddress); err != nil {
		return nil, err
	}
	if req.BillingAddress != nil {
		if err := validateAddress("billingAddress", req.BillingAddress); err != nil {
			return nil, err
		}
	}

	lines := make([]pricing.LineItem, len(req.Items))
	for i, item := range req.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return nil, validationError("item %d: productId is required", i)
		}
		if strings.TrimSpace(item.ProductName) == "" {
			return nil, validationError("item %d: productName is required", i)
		}
		lines[i] = pricing.LineItem{UnitPrice: item.UnitPrice, Quantity: item.Quantity}
	}

	breakdown, err := s.calculator.Price(lines, pricing.Options{TaxRate: req.TaxRate, ShippingCost: req.ShippingCost})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	now := s.now().UTC()
	order := &models.Order{
		ID:              s.newID(),
		OrderNumber:     NewOrderNumber(now),
		UserID:          ownerID,
		Subtotal:        breakdown.Subtotal,
		TaxAmount:       breakdown.TaxAmount,
		ShippingCost:    breakdown.ShippingCost,
		Total:           breakdown.Total,
		Status:          models.OrderStatusPending,
		PaymentStatus:   models.PaymentStatusUnpaid,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		PaymentMethod:   req.PaymentMethod,
		Notes:           req.Notes,
		Version:         1,
		Items:           make([]models.OrderItem, len(req.Items)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i, item := range req.Items {
		order.Items[i] = models.OrderItem{
			ProductID:   item.ProductID,
			SKU:         item.SKU,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   pricing.Money{Decimal: item.UnitPrice},
			TotalPrice:  breakdown.LineTotals[i],
		}
	}

	if err := s.repo.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	s.metrics.OrderCreated()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("user_id", ownerID),
		zap.String("total", order.Total.String()),
		zap.Int("item_count", len(order.Items)))
	s.publish(ctx, events.OrderEvent{
		Type:          events.TypeOrderCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		CurrentStatus: string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		ActorID:       ownerID,
		OccurredAt:    now,
		Metadata:      map[string]any{"total": order.Total.String()},
	})
	return order, nil
}

func validateAddress(field string, a *models.Address) error {
	if strings.TrimSpace(a.Line1) == "" || strings.TrimSpace(a.City) == "" || strings.TrimSpace(a.Country) == "" {
		return validationError("%s: line1, city and country are required", field)
	}
	return nil
}

// FindAll lists orders matching filter, newest first.
func (s *Service) FindAll(ctx context.Context, filter Filter, page, limit int) (*Page, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, validationError("unknown status %q", *filter.Status)
	}
	if filter.PaymentStatus != nil && !filter.PaymentStatus.Valid() {
		return nil, validationError("unknown payment status %q", *filter.PaymentStatus)
	}

	page, limit = s.normalizePage(page, limit)
	orders, total, err := s.repo.List(ctx, filter, (page-1)*limit, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	if orders == nil {
		orders = []models.Order{}
	}

	return &Page{
		Data: orders,
		Meta: PageMeta{
			Total:      total,
			Page:       page,
			Limit:      limit,
			TotalPages: int((total + int64(limit) - 1) / int64(limit)),
		},
	}, nil
}

func (s *Service) FindUserOrders(ctx context.Context, userID string, page, limit int) (*Page, error) {
	if userID == "" {
		return nil, validationError("userId is required")
	}
	return s.FindAll(ctx, Filter{UserID: userID}, page, limit)
}

func (s *Service) normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = s.defaultPageSize
	}
	if limit > s.maxPageSize {
		limit = s.maxPageSize
	}
	return page, limit
}

// FindOne loads an order by id. With a non-empty ownerID an order owned by
// someone else is reported as not found.
func (s *Service) FindOne(ctx context.Context, id, ownerID string) (*models.Order, error) {
	if id == "" {
		return nil, validationError("id is required")
	}
	order, err := s.repo.FindOne(ctx, repository.OrderLookup{ID: id, UserID: ownerID})
	if err != nil {
		return nil, mapRepositoryError(err, id)
	}
	return order, nil
}

func (s *Service) FindByOrderNumber(ctx context.Context, orderNumber, ownerID string) (*models.Order, error) {
	if orderNumber == "" {
		return nil, validationError("orderNumber is required")
	}
	order, err := s.repo.FindOne(ctx, repository.OrderLookup{OrderNumber: orderNumber, UserID: ownerID})
	if err != nil {
		return nil, mapRepositoryError(err, orderNumber)
	}
	return order, nil
}

// UpdateStatus applies a status and/or payment status change. Notes only
// travel with one of those. The write is conditional on the status and
// version that were read; on a concurrent modification the order is reloaded
// and the change validated again.
func (s *Service) UpdateStatus(ctx context.Context, id string, update StatusUpdate) (*models.Order, error) {
	if update.Status == nil && update.PaymentStatus == nil {
		return nil, validationError("status or paymentStatus is required")
	}
	if update.Status != nil && !update.Status.Valid() {
		return nil, validationError("unknown status %q", *update.Status)
	}
	if update.PaymentStatus != nil && !update.PaymentStatus.Valid() {
		return nil, validationError("unknown payment status %q", *update.PaymentStatus)
	}

	var result *change
	err := s.serializer.Serialize(ctx, id, func(ctx context.Context) error {
		var err error
		result, err = s.mutate(ctx, id, func(o *models.Order, now time.Time) error {
			if update.Status != nil {
				if err := ApplyTransition(o, *update.Status, now); err != nil {
					s.metrics.RejectedTransition(string(o.Status), string(*update.Status))
					return err
				}
			}
			if update.PaymentStatus != nil {
				from := o.Status
				rec := ReconcilePayment(o, *update.PaymentStatus, update.Status != nil, now)
				if rec.Skipped && IsTerminal(from) {
					s.logger.Warn("Payment recorded on terminal order",
						zap.String("order_id", o.ID),
						zap.String("status", string(from)),
						zap.String("payment_status", string(*update.PaymentStatus)))
				}
			}
			if update.Notes != nil {
				o.Notes = *update.Notes
			}
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.recordChange(ctx, result)
	return result.after, nil
}

// CancelOrder lets the owner cancel an order that is pending or processing.
func (s *Service) CancelOrder(ctx context.Context, id, callerUserID string) (*models.Order, error) {
	if callerUserID == "" {
		return nil, validationError("caller is required")
	}

	var result *change
	err := s.serializer.Serialize(ctx, id, func(ctx context.Context) error {
		var err error
		result, err = s.mutate(ctx, id, func(o *models.Order, now time.Time) error {
			if o.UserID != callerUserID {
				return fmt.Errorf("%w: order %s belongs to another user", ErrForbidden, id)
			}
			if !CanCustomerCancel(o.Status) {
				s.metrics.RejectedTransition(string(o.Status), string(models.OrderStatusCancelled))
				return &InvalidTransitionError{Current: o.Status, Requested: models.OrderStatusCancelled}
			}
			return ApplyTransition(o, models.OrderStatusCancelled, now)
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.recordChange(ctx, result)
	return result.after, nil
}

// change is a committed mutation.
type change struct {
	before *models.Order
	after  *models.Order
	at     time.Time
}

// mutate loads the order, applies apply to a copy and writes it back if the
// stored order is still the one that was read.
func (s *Service) mutate(ctx context.Context, id string, apply func(o *models.Order, now time.Time) error) (*change, error) {
	for attempt := 0; ; attempt++ {
		current, err := s.repo.FindOne(ctx, repository.OrderLookup{ID: id})
		if err != nil {
			return nil, mapRepositoryError(err, id)
		}

		now := s.now().UTC()
		next := current.Clone()
		if err := apply(next, now); err != nil {
			return nil, err
		}
		next.UpdatedAt = now

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err = s.repo.UpdateState(ctx, next, repository.Precondition{Status: current.Status, Version: current.Version})
		if errors.Is(err, repository.ErrConflict) {
			if attempt >= s.conflictRetries {
				s.logger.Warn("Giving up on contended order", zap.String("order_id", id), zap.Int("attempts", attempt+1))
				return nil, fmt.Errorf("%w: order %s", ErrConflict, id)
			}
			s.metrics.ConflictRetry()
			s.logger.Debug("Order changed concurrently, retrying", zap.String("order_id", id), zap.Int("attempt", attempt+1))
			continue
		}
		if err != nil {
			return nil, mapRepositoryError(err, id)
		}

		return &change{before: current, after: next, at: now}, nil
	}
}

// recordChange reports a committed mutation. It runs outside the serialized
// section so metrics and publishing never hold up the next writer.
func (s *Service) recordChange(ctx context.Context, c *change) {
	before, after := c.before, c.after
	if before.Status != after.Status {
		s.metrics.Transition(string(before.Status), string(after.Status))
	}
	if before.PaymentStatus != after.PaymentStatus {
		s.metrics.PaymentStatus(string(after.PaymentStatus))
	}

	s.logger.Info("Order updated",
		zap.String("order_id", after.ID),
		zap.String("from_status", string(before.Status)),
		zap.String("to_status", string(after.Status)),
		zap.String("payment_status", string(after.PaymentStatus)),
		zap.Int64("version", after.Version))

	eventType := events.TypeOrderStatusChanged
	if after.Status == models.OrderStatusCancelled && before.Status != after.Status {
		eventType = events.TypeOrderCancelled
	}
	s.publish(ctx, events.OrderEvent{
		Type:                  eventType,
		OrderID:               after.ID,
		OrderNumber:           after.OrderNumber,
		UserID:                after.UserID,
		PreviousStatus:        string(before.Status),
		CurrentStatus:         string(after.Status),
		PreviousPaymentStatus: string(before.PaymentStatus),
		PaymentStatus:         string(after.PaymentStatus),
		ActorID:               ActorFromContext(ctx),
		OccurredAt:            c.at,
	})
}

// Remove hard-deletes an order and its items. It is an administrative
// operation outside the normal lifecycle.
func (s *Service) Remove(ctx context.Context, id string) error {
	var existing *models.Order
	err := s.serializer.Serialize(ctx, id, func(ctx context.Context) error {
		var err error
		existing, err = s.repo.FindOne(ctx, repository.OrderLookup{ID: id})
		if err != nil {
			return mapRepositoryError(err, id)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return mapRepositoryError(s.repo.Delete(ctx, id), id)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Order deleted", zap.String("order_id", id), zap.String("order_number", existing.OrderNumber))
	s.publish(ctx, events.OrderEvent{
		Type:           events.TypeOrderDeleted,
		OrderID:        id,
		OrderNumber:    existing.OrderNumber,
		UserID:         existing.UserID,
		PreviousStatus: string(existing.Status),
		ActorID:        ActorFromContext(ctx),
		OccurredAt:     s.now().UTC(),
	})
	return nil
}

// History returns the recorded events of an order, newest first. Entries
// outlive the order, so a deleted order still has a history.
func (s *Service) History(ctx context.Context, id string, limit int) ([]*repository.AuditLog, error) {
	if id == "" {
		return nil, validationError("id is required")
	}
	if s.audit == nil {
		return nil, fmt.Errorf("%w: order history is not recorded", ErrUnavailable)
	}

	_, limit = s.normalizePage(1, limit)
	entries, err := s.audit.GetAuditLogs(ctx, id, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to load order history: %w", err)
	}
	if entries == nil {
		entries = []*repository.AuditLog{}
	}
	return entries, nil
}

// GetStatistics counts orders by status and sums the subtotals of paid,
// unrefunded orders.
func (s *Service) GetStatistics(ctx context.Context) (*Statistics, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load statistics: %w", err)
	}

	byStatus := make(map[string]int64, len(models.OrderStatuses))
	for _, status := range models.OrderStatuses {
		byStatus[string(status)] = stats.ByStatus[status]
	}
	return &Statistics{
		Total:        stats.Total,
		Pending:      stats.ByStatus[models.OrderStatusPending],
		Delivered:    stats.ByStatus[models.OrderStatusDelivered],
		Cancelled:    stats.ByStatus[models.OrderStatusCancelled],
		ByStatus:     byStatus,
		TotalRevenue: stats.Revenue,
	}, nil
}

// publish never fails the caller; the write it describes is already committed.
func (s *Service) publish(ctx context.Context, event events.OrderEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	if err := s.publisher.PublishOrderEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish order event",
			zap.String("type", event.Type),
			zap.String("order_id", event.OrderID),
			zap.Error(err))
	}
}

func mapRepositoryError(err error, ref string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: order %s", ErrNotFound, ref)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: order %s", ErrConflict, ref)
	default:
		return err
	}
}

type actorKey struct{}

// WithActor records the user performing a mutation, for the audit trail.
func WithActor(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

func ActorFromContext(ctx context.Context) string {
	id, _ := ctx.Value(actorKey{}).(string)
	return id
}
