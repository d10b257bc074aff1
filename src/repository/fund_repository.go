package repository

import (
	"context"

	"marketrouter/src/database"
	"marketrouter/src/model"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// GormFundRepository appends balance snapshots; rows are never updated.
type GormFundRepository struct {
	db *gorm.DB
}

func NewFundRepository() *GormFundRepository {
	return &GormFundRepository{db: database.MainDB}
}

func (r *GormFundRepository) WithDB(db *gorm.DB) *GormFundRepository {
	return &GormFundRepository{db: db}
}

func (r *GormFundRepository) Create(ctx context.Context, fund *model.Fund) error {
	if err := r.db.WithContext(ctx).Create(fund).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "FundRepository",
			"op":      "Create",
			"account": fund.AccountID,
			"wallet":  fund.Wallet,
		}).WithError(err).Error("Failed to store fund snapshot")

		return err
	}
	return nil
}

// Latest returns the most recent snapshot of each wallet of the account.
func (r *GormFundRepository) Latest(ctx context.Context, accountID uint) ([]model.Fund, error) {
	var funds []model.Fund

	latest := r.db.WithContext(ctx).
		Model(&model.Fund{}).
		Select("wallet, MAX(taken_at) AS taken_at").
		Where("account_id = ?", accountID).
		Group("wallet")

	err := r.db.WithContext(ctx).
		Joins("JOIN (?) AS latest ON latest.wallet = funds.wallet AND latest.taken_at = funds.taken_at", latest).
		Where("funds.account_id = ?", accountID).
		Order("funds.wallet").
		Find(&funds).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "FundRepository",
			"op":      "Latest",
			"account": accountID,
		}).WithError(err).Error("Failed to fetch latest funds")

		return nil, err
	}
	return funds, nil
}
