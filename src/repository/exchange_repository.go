package repository

import (
	"context"
	"errors"
	"time"

	"marketrouter/src/database"
	"marketrouter/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormExchangeRepository implements exchange persistence using GORM.
type GormExchangeRepository struct {
	db *gorm.DB
}

// NewExchangeRepository creates a new Exchange repository using the main database.
func NewExchangeRepository() *GormExchangeRepository {
	logger.WithField("component", "ExchangeRepository").
		Info("Creating new ExchangeRepository with MainDB")

	return &GormExchangeRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (s *GormExchangeRepository) WithDB(db *gorm.DB) *GormExchangeRepository {
	return &GormExchangeRepository{db: db}
}

// Upsert creates the exchange or refreshes its properties by name.
// Status fields are owned by the status poll and are left untouched on conflict.
// The stored row is loaded back into exchange.
func (s *GormExchangeRepository) Upsert(
	ctx context.Context,
	exchange *model.Exchange,
) error {

	logger.WithFields(map[string]interface{}{
		"repo": "ExchangeRepository",
		"op":   "Upsert",
		"name": exchange.Name,
	}).Debug("Upserting exchange")

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"has_fetch_tickers",
				"has_fetch_ohlcv",
				"has_fetch_open_orders",
				"has_fetch_positions",
				"has_transfer",
				"has_watch_order_book",
				"wallets",
				"rate_limit_requests",
				"rate_limit_window_ms",
				"rate_limit_per_wallet",
				"timeout_ms",
				"ohlcv_limit",
				"start_date",
				"enabled",
				"updated_at",
			}),
		}).
		Create(exchange).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "ExchangeRepository",
			"op":   "Upsert",
			"name": exchange.Name,
		}).WithError(err).Error("Failed to upsert exchange")

		return err
	}

	return s.db.WithContext(ctx).Where("name = ?", exchange.Name).First(exchange).Error
}

// FindByID fetches an exchange by its primary ID.
// Returns (nil, nil) if not found.
func (s *GormExchangeRepository) FindByID(
	ctx context.Context,
	id uint,
) (*model.Exchange, error) {

	var exchange model.Exchange

	err := s.db.WithContext(ctx).
		First(&exchange, id).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo": "ExchangeRepository",
				"op":   "FindByID",
				"id":   id,
			}).Info("Exchange not found by ID")

			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "ExchangeRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch exchange by ID")

		return nil, err
	}

	return &exchange, nil
}

// FindByName fetches an exchange by its name.
// Returns (nil, nil) if not found.
func (s *GormExchangeRepository) FindByName(
	ctx context.Context,
	name string,
) (*model.Exchange, error) {

	logger.WithFields(map[string]interface{}{
		"repo": "ExchangeRepository",
		"op":   "FindByName",
		"name": name,
	}).Debug("Fetching exchange by name")

	var exchange model.Exchange

	err := s.db.WithContext(ctx).
		Where("name = ?", name).
		First(&exchange).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo": "ExchangeRepository",
				"op":   "FindByName",
				"name": name,
			}).Info("Exchange not found by name")

			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo": "ExchangeRepository",
			"op":   "FindByName",
			"name": name,
		}).WithError(err).Error("Failed to fetch exchange by name")

		return nil, err
	}

	return &exchange, nil
}

// List returns every exchange ordered by name.
func (s *GormExchangeRepository) List(ctx context.Context) ([]model.Exchange, error) {
	var exchanges []model.Exchange

	if err := s.db.WithContext(ctx).Order("name").Find(&exchanges).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "ExchangeRepository",
			"op":   "List",
		}).WithError(err).Error("Failed to list exchanges")

		return nil, err
	}

	return exchanges, nil
}

// UpdateStatus records the outcome of a status poll.
func (s *GormExchangeRepository) UpdateStatus(
	ctx context.Context,
	id uint,
	status model.ExchangeStatus,
	at time.Time,
	eta *time.Time,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":   "ExchangeRepository",
		"op":     "UpdateStatus",
		"id":     id,
		"status": status,
	}).Debug("Updating exchange status")

	return s.db.WithContext(ctx).
		Model(&model.Exchange{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"status_at":  at,
			"status_eta": eta,
		}).Error
}
