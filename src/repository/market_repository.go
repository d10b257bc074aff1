package repository

import (
	"context"
	"errors"

	"marketrouter/src/database"
	"marketrouter/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormMarketRepository persists normalized markets. Markets are never deleted.
type GormMarketRepository struct {
	db *gorm.DB
}

func NewMarketRepository() *GormMarketRepository {
	logger.WithField("component", "MarketRepository").
		Info("Creating new MarketRepository with MainDB")

	return &GormMarketRepository{db: database.MainDB}
}

func (r *GormMarketRepository) WithDB(db *gorm.DB) *GormMarketRepository {
	return &GormMarketRepository{db: db}
}

// Upsert inserts or refreshes a market keyed by (exchange, symbol, type, derivative type).
// The excluded flag survives refreshes. The stored row is loaded back into market.
func (r *GormMarketRepository) Upsert(ctx context.Context, market *model.Market) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "exchange_id"},
				{Name: "symbol"},
				{Name: "type"},
				{Name: "derivative_type"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"exchange_symbol",
				"base",
				"quote",
				"wallet",
				"margin_currency",
				"contract_value",
				"contract_value_currency",
				"listing_date",
				"delivery_date",
				"amount_min",
				"amount_max",
				"price_min",
				"price_max",
				"cost_min",
				"cost_max",
				"precision_mode",
				"amount_precision",
				"price_precision",
				"active",
				"updated_at",
			}),
		}).
		Omit("Exchange").
		Create(market).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "MarketRepository",
			"op":       "Upsert",
			"exchange": market.ExchangeID,
			"symbol":   market.Symbol,
		}).WithError(err).Error("Failed to upsert market")

		return err
	}

	return r.db.WithContext(ctx).
		Where("exchange_id = ? AND symbol = ? AND type = ? AND derivative_type = ?",
			market.ExchangeID, market.Symbol, market.Type, market.DerivativeType).
		First(market).Error
}

// FindByID returns (nil, nil) if not found.
func (r *GormMarketRepository) FindByID(ctx context.Context, id uint) (*model.Market, error) {
	var market model.Market

	err := r.db.WithContext(ctx).First(&market, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo": "MarketRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch market")

		return nil, err
	}

	return &market, nil
}

// ListByExchange returns all markets of an exchange, excluded ones included.
func (r *GormMarketRepository) ListByExchange(ctx context.Context, exchangeID uint) ([]model.Market, error) {
	var markets []model.Market

	err := r.db.WithContext(ctx).
		Where("exchange_id = ?", exchangeID).
		Order("symbol").
		Find(&markets).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "MarketRepository",
			"op":       "ListByExchange",
			"exchange": exchangeID,
		}).WithError(err).Error("Failed to list markets")

		return nil, err
	}

	return markets, nil
}

func (r *GormMarketRepository) List(ctx context.Context) ([]model.Market, error) {
	var markets []model.Market
	if err := r.db.WithContext(ctx).Order("exchange_id, symbol").Find(&markets).Error; err != nil {
		return nil, err
	}
	return markets, nil
}

// MarkExcluded flags a market whose data proved unreliable.
func (r *GormMarketRepository) MarkExcluded(ctx context.Context, id uint, reason string) error {
	logger.WithFields(map[string]interface{}{
		"repo":   "MarketRepository",
		"op":     "MarkExcluded",
		"id":     id,
		"reason": reason,
	}).Warn("Excluding market")

	return r.db.WithContext(ctx).
		Model(&model.Market{}).
		Where("id = ?", id).
		Update("excluded", true).Error
}

// DeactivateMissing marks inactive every market of the exchange not in keepIDs.
func (r *GormMarketRepository) DeactivateMissing(ctx context.Context, exchangeID uint, keepIDs []uint) (int64, error) {
	tx := r.db.WithContext(ctx).
		Model(&model.Market{}).
		Where("exchange_id = ? AND active = ?", exchangeID, true)
	if len(keepIDs) > 0 {
		tx = tx.Where("id NOT IN ?", keepIDs)
	}

	res := tx.Update("active", false)
	return res.RowsAffected, res.Error
}
