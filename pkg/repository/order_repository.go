package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/ordershop/pkg/config"
	"github.com/example/ordershop/pkg/models"
	"github.com/example/ordershop/pkg/pricing"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("repository: record not found")
	// ErrConflict means the stored order no longer matches the write precondition.
	ErrConflict = errors.New("repository: precondition failed")
	// ErrDuplicate is returned when an order id or number already exists.
	ErrDuplicate = errors.New("repository: duplicate order")
)

type OrderFilter struct {
	Status        *models.OrderStatus
	PaymentStatus *models.PaymentStatus
	UserID        string
	OrderNumber   string
}

// OrderLookup selects a single order by ID or OrderNumber. A non-empty UserID
// is part of the match.
type OrderLookup struct {
	ID          string
	OrderNumber string
	UserID      string
}

// Precondition is the state a conditional write expects to find.
type Precondition struct {
	Status  models.OrderStatus
	Version int64
}

type OrderStats struct {
	Total    int64
	ByStatus map[models.OrderStatus]int64
	// Revenue sums subtotals of paid orders that were not refunded.
	Revenue pricing.Money
}

// OrderRepository persists orders together with their items.
type OrderRepository interface {
	// Create writes the order and all of its items atomically.
	Create(ctx context.Context, order *models.Order) error
	FindOne(ctx context.Context, lookup OrderLookup) (*models.Order, error)
	// List returns one page of matching orders, newest first, and the total match count.
	List(ctx context.Context, filter OrderFilter, offset, limit int) ([]models.Order, int64, error)
	// UpdateState writes the mutable order fields if the stored order still
	// matches expect, and bumps the version on success.
	UpdateState(ctx context.Context, order *models.Order, expect Precondition) error
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (OrderStats, error)
}

type GormOrderRepository struct {
	db *gorm.DB
}

// OpenMySQL connects to MySQL and migrates the order tables.
func OpenMySQL(cfg *config.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)

	// Auto migrate
	if err := db.AutoMigrate(&models.Order{}, &models.OrderItem{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return db, nil
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) Create(ctx context.Context, order *models.Order) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Items are inserted by the association in the same transaction.
		return tx.Create(order).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", ErrDuplicate, order.OrderNumber)
	}
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

func (r *GormOrderRepository) FindOne(ctx context.Context, lookup OrderLookup) (*models.Order, error) {
	query := r.db.WithContext(ctx).Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	})
	switch {
	case lookup.ID != "":
		query = query.Where("id = ?", lookup.ID)
	case lookup.OrderNumber != "":
		query = query.Where("order_number = ?", lookup.OrderNumber)
	default:
		return nil, ErrNotFound
	}
	if lookup.UserID != "" {
		query = query.Where("user_id = ?", lookup.UserID)
	}

	var order models.Order
	if err := query.First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &order, nil
}

func (r *GormOrderRepository) List(ctx context.Context, filter OrderFilter, offset, limit int) ([]models.Order, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.PaymentStatus != nil {
		query = query.Where("payment_status = ?", *filter.PaymentStatus)
	}
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.OrderNumber != "" {
		query = query.Where("order_number = ?", filter.OrderNumber)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	var orders []models.Order
	err := query.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, total, nil
}

func (r *GormOrderRepository) UpdateState(ctx context.Context, order *models.Order, expect Precondition) error {
	updates := map[string]interface{}{
		"status":         order.Status,
		"payment_status": order.PaymentStatus,
		"notes":          order.Notes,
		"paid_at":        order.PaidAt,
		"cancelled_at":   order.CancelledAt,
		"completed_at":   order.CompletedAt,
		"updated_at":     order.UpdatedAt,
		"version":        expect.Version + 1,
	}

	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ? AND version = ?", order.ID, expect.Status, expect.Version).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update order: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", order.ID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check order: %w", err)
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}

	order.Version = expect.Version + 1
	return nil
}

func (r *GormOrderRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", id).Delete(&models.OrderItem{}).Error; err != nil {
			return fmt.Errorf("failed to delete order items: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&models.Order{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete order: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *GormOrderRepository) Stats(ctx context.Context) (OrderStats, error) {
	var rows []struct {
		Status models.OrderStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return OrderStats{}, fmt.Errorf("failed to count orders by status: %w", err)
	}

	stats := OrderStats{ByStatus: make(map[models.OrderStatus]int64, len(models.OrderStatuses))}
	for _, row := range rows {
		stats.ByStatus[row.Status] = row.Count
		stats.Total += row.Count
	}

	var revenue struct {
		Revenue pricing.Money
	}
	err = r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("COALESCE(SUM(subtotal), 0) AS revenue").
		Where("payment_status = ? AND status <> ?", models.PaymentStatusPaid, models.OrderStatusRefunded).
		Scan(&revenue).Error
	if err != nil {
		return OrderStats{}, fmt.Errorf("failed to sum revenue: %w", err)
	}
	stats.Revenue = pricing.NewMoney(revenue.Revenue.Decimal)
	return stats, nil
}
