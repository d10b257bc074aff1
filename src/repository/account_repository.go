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

type GormAccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository() *GormAccountRepository {
	logger.WithField("component", "AccountRepository").
		Info("Creating new AccountRepository with MainDB")

	return &GormAccountRepository{db: database.MainDB}
}

func (r *GormAccountRepository) WithDB(db *gorm.DB) *GormAccountRepository {
	return &GormAccountRepository{db: db}
}

// FindByID fetches an account with its exchange.
// Returns (nil, nil) if not found.
func (r *GormAccountRepository) FindByID(ctx context.Context, id uint) (*model.Account, error) {
	var account model.Account

	err := r.db.WithContext(ctx).Preload("Exchange").First(&account, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WithFields(map[string]interface{}{
				"repo": "AccountRepository",
				"op":   "FindByID",
				"id":   id,
			}).Info("Account not found")

			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// FindByName returns (nil, nil) if not found.
func (r *GormAccountRepository) FindByName(ctx context.Context, name string) (*model.Account, error) {
	var account model.Account

	err := r.db.WithContext(ctx).Preload("Exchange").Where("name = ?", name).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// ListTradable returns the accounts whose trading toggle is on, suspended ones included.
func (r *GormAccountRepository) ListTradable(ctx context.Context) ([]model.Account, error) {
	var accounts []model.Account

	err := r.db.WithContext(ctx).
		Preload("Exchange").
		Where("trading_enabled = ?", true).
		Order("id").
		Find(&accounts).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "AccountRepository",
			"op":   "ListTradable",
		}).WithError(err).Error("Failed to list tradable accounts")

		return nil, err
	}
	return accounts, nil
}

// UpsertCredentials stores encrypted credentials and marks them valid again.
func (r *GormAccountRepository) UpsertCredentials(ctx context.Context, account *model.Account) error {
	account.CredentialsValid = true
	account.SuspendedAt = nil
	account.SuspendReason = ""

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"exchange_id",
				"strategy_key",
				"api_key",
				"api_secret",
				"api_passphrase",
				"trading_enabled",
				"credentials_valid",
				"suspended_at",
				"suspend_reason",
				"updated_at",
			}),
		}).
		Omit("Exchange").
		Create(account).Error
}

// Suspend marks the account credentials invalid and stops trading until revalidation.
func (r *GormAccountRepository) Suspend(ctx context.Context, id uint, reason string) error {
	logger.WithFields(map[string]interface{}{
		"repo":   "AccountRepository",
		"op":     "Suspend",
		"id":     id,
		"reason": reason,
	}).Warn("Suspending account trading")

	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"credentials_valid": false,
			"suspended_at":      now,
			"suspend_reason":    reason,
		}).Error
}

// Revalidate lifts a suspension after the credentials were checked again.
func (r *GormAccountRepository) Revalidate(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"credentials_valid": true,
			"suspended_at":      nil,
			"suspend_reason":    "",
		}).Error
}

// SetTradingEnabled switches order placement for the account on or off.
func (r *GormAccountRepository) SetTradingEnabled(ctx context.Context, id uint, enabled bool) error {
	res := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", id).
		Update("trading_enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
