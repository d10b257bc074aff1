package repository

import (
	"context"

	"marketrouter/src/database"
	"marketrouter/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormPositionRepository struct {
	db *gorm.DB
}

func NewPositionRepository() *GormPositionRepository {
	return &GormPositionRepository{db: database.MainDB}
}

func (r *GormPositionRepository) WithDB(db *gorm.DB) *GormPositionRepository {
	return &GormPositionRepository{db: db}
}

// Save upserts an open position by (account, market). A zero-size position is deleted instead.
func (r *GormPositionRepository) Save(ctx context.Context, position *model.Position) error {
	if position.Size.IsZero() {
		return r.Delete(ctx, position.AccountID, position.MarketID)
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "account_id"}, {Name: "market_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"side",
				"size",
				"notional",
				"entry_price",
				"leverage",
				"margin_mode",
				"liquidation_price",
				"realized_pnl",
				"unrealized_pnl",
				"response",
				"updated_at",
			}),
		}).
		Omit("Market").
		Create(position).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "PositionRepository",
			"op":      "Save",
			"account": position.AccountID,
			"market":  position.MarketID,
		}).WithError(err).Error("Failed to save position")
	}
	return err
}

func (r *GormPositionRepository) Delete(ctx context.Context, accountID, marketID uint) error {
	return r.db.WithContext(ctx).
		Where("account_id = ? AND market_id = ?", accountID, marketID).
		Delete(&model.Position{}).Error
}

// DeleteMissing removes the account positions held in wallets whose market is not in
// keepMarketIDs. Positions of other wallets are left alone.
func (r *GormPositionRepository) DeleteMissing(ctx context.Context, accountID uint, wallets []model.Wallet, keepMarketIDs []uint) error {
	if len(wallets) == 0 {
		return nil
	}
	names := make([]string, 0, len(wallets))
	for _, w := range wallets {
		names = append(names, string(w))
	}
	inWallets := r.db.Model(&model.Market{}).Select("id").Where("wallet IN ?", names)

	tx := r.db.WithContext(ctx).Where("account_id = ? AND market_id IN (?)", accountID, inWallets)
	if len(keepMarketIDs) > 0 {
		tx = tx.Where("market_id NOT IN ?", keepMarketIDs)
	}
	return tx.Delete(&model.Position{}).Error
}

// ListByAccount returns open positions with their markets.
func (r *GormPositionRepository) ListByAccount(ctx context.Context, accountID uint) ([]model.Position, error) {
	var positions []model.Position

	err := r.db.WithContext(ctx).
		Preload("Market").
		Where("account_id = ?", accountID).
		Order("market_id").
		Find(&positions).Error
	if err != nil {
		return nil, err
	}
	return positions, nil
}
