package repository

import (
	"context"
	"errors"
	"time"

	"marketrouter/src/database"
	"marketrouter/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type OrderRepository struct {
	db *gorm.DB
}

// OrderSearchOptions narrows Search. Zero values are ignored.
type OrderSearchOptions struct {
	AccountID     uint
	MarketID      *uint
	Currency      *string
	Status        *model.OrderStatus
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
	Offset        int
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{db: database.MainDB}
}

func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, order *model.Order) error {
	if err := r.db.WithContext(ctx).Omit("Market").Create(order).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":            "OrderRepository",
			"op":              "Create",
			"client_order_id": order.ClientOrderID,
		}).WithError(err).Error("Failed to create order")

		return err
	}
	return nil
}

// Update persists the mutable exchange-side fields of the order.
func (r *OrderRepository) Update(ctx context.Context, order *model.Order) error {
	return r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", order.ID).
		Updates(map[string]interface{}{
			"exchange_order_id": order.ExchangeOrderID,
			"status":            order.Status,
			"filled":            order.Filled,
			"average":           order.Average,
			"cost":              order.Cost,
			"response":          order.Response,
			"error":             order.Error,
			"executed_at":       order.ExecutedAt,
			"updated_at":        time.Now().UTC(),
		}).Error
}

// FindByID returns (nil, nil) if the order does not exist.
func (r *OrderRepository) FindByID(ctx context.Context, id uint) (*model.Order, error) {
	var order model.Order

	err := r.db.WithContext(ctx).Preload("Market").First(&order, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// HasNonTerminal reports whether the account holds a non-terminal order on any of the currencies.
func (r *OrderRepository) HasNonTerminal(ctx context.Context, accountID uint, currencies ...string) (bool, error) {
	if len(currencies) == 0 {
		return false, nil
	}

	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("account_id = ? AND currency IN ? AND status IN ?", accountID, currencies, model.NonTerminalOrderStatuses).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListNonTerminal returns the account orders still waiting on the exchange, oldest first.
func (r *OrderRepository) ListNonTerminal(ctx context.Context, accountID uint) ([]model.Order, error) {
	var orders []model.Order

	err := r.db.WithContext(ctx).
		Preload("Market").
		Where("account_id = ? AND status IN ?", accountID, model.NonTerminalOrderStatuses).
		Order("created_at, id").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// Search lists account orders newest first.
func (r *OrderRepository) Search(ctx context.Context, opts OrderSearchOptions) ([]model.Order, error) {
	query := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("account_id = ?", opts.AccountID)

	if opts.MarketID != nil {
		query = query.Where("market_id = ?", *opts.MarketID)
	}
	if opts.Currency != nil {
		query = query.Where("currency = ?", *opts.Currency)
	}
	if opts.Status != nil {
		query = query.Where("status = ?", *opts.Status)
	}
	if opts.CreatedAfter != nil {
		query = query.Where("created_at >= ?", *opts.CreatedAfter)
	}
	if opts.CreatedBefore != nil {
		query = query.Where("created_at <= ?", *opts.CreatedBefore)
	}

	query = query.Order("created_at DESC, id DESC")

	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	var orders []model.Order
	if err := query.Find(&orders).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "OrderRepository",
			"op":      "Search",
			"account": opts.AccountID,
		}).WithError(err).Error("Failed to search orders")

		return nil, err
	}
	return orders, nil
}
