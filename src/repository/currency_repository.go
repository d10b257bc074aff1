package repository

import (
	"context"

	"marketrouter/src/database"
	"marketrouter/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormCurrencyRepository struct {
	db *gorm.DB
}

func NewCurrencyRepository() *GormCurrencyRepository {
	return &GormCurrencyRepository{db: database.MainDB}
}

func (r *GormCurrencyRepository) WithDB(db *gorm.DB) *GormCurrencyRepository {
	return &GormCurrencyRepository{db: db}
}

// Upsert creates the currency or refreshes its name. Flags are only ever raised, never cleared.
// The stored row, including its ID, is loaded back into currency.
func (r *GormCurrencyRepository) Upsert(ctx context.Context, currency *model.Currency) error {
	updates := map[string]interface{}{"name": currency.Name}
	if currency.QuoteEligible {
		updates["quote_eligible"] = true
	}
	if currency.Stablecoin {
		updates["stablecoin"] = true
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.Assignments(updates),
		}).
		Omit("Exchanges").
		Create(currency).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "CurrencyRepository",
			"op":   "Upsert",
			"code": currency.Code,
		}).WithError(err).Error("Failed to upsert currency")

		return err
	}

	return r.db.WithContext(ctx).Where("code = ?", currency.Code).First(currency).Error
}

// LinkExchange records that the exchange lists the currency.
func (r *GormCurrencyRepository) LinkExchange(ctx context.Context, currency *model.Currency, exchange *model.Exchange) error {
	err := r.db.WithContext(ctx).
		Model(currency).
		Association("Exchanges").
		Append(exchange)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "CurrencyRepository",
			"op":       "LinkExchange",
			"code":     currency.Code,
			"exchange": exchange.Name,
		}).WithError(err).Error("Failed to link currency to exchange")
	}
	return err
}

func (r *GormCurrencyRepository) List(ctx context.Context) ([]model.Currency, error) {
	var currencies []model.Currency
	if err := r.db.WithContext(ctx).Order("code").Find(&currencies).Error; err != nil {
		return nil, err
	}
	return currencies, nil
}

// CountQuoteEligible returns how many currencies may be used as a quote.
func (r *GormCurrencyRepository) CountQuoteEligible(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Currency{}).
		Where("quote_eligible = ?", true).
		Count(&count).Error
	return count, err
}
