package migrations

import (
	"errors"
	"fmt"
	"time"

	"marketrouter/src/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DataMigration tracks executed data migrations.
// Table name is fixed to avoid collisions with other models.
type DataMigration struct {
	ID        string    `gorm:"primaryKey;size:200;column:id"`
	AppliedAt time.Time `gorm:"not null;column:applied_at"`
}

func (DataMigration) TableName() string { return "data_migrations" }

var (
	defaultQuoteCurrencies = []string{"USDT", "USDC", "BUSD", "FDUSD", "USD", "EUR", "BTC", "ETH", "BNB"}
	defaultStablecoins     = []string{"USDT", "USDC", "BUSD", "FDUSD", "DAI", "TUSD", "USDP"}
)

func ensureDataMigrationsTable(db *gorm.DB) error {
	return db.AutoMigrate(&DataMigration{})
}

// RunOnce runs fn only if migrationID was not executed before.
// It records the migration as executed only after fn succeeds.
func RunOnce(db *gorm.DB, migrationID string, fn func(*gorm.DB) error) error {
	if db == nil {
		return nil
	}
	if migrationID == "" {
		return fmt.Errorf("migration id is empty")
	}
	if fn == nil {
		return fmt.Errorf("migration %q has nil fn", migrationID)
	}

	if err := ensureDataMigrationsTable(db); err != nil {
		return fmt.Errorf("ensure data migrations table: %w", err)
	}

	return db.Transaction(func(tx *gorm.DB) error {
		var m DataMigration
		err := tx.First(&m, "id = ?", migrationID).Error
		if err == nil {
			// already applied
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check migration %q: %w", migrationID, err)
		}

		if err := fn(tx); err != nil {
			return fmt.Errorf("run migration %q: %w", migrationID, err)
		}

		rec := DataMigration{
			ID:        migrationID,
			AppliedAt: time.Now().UTC(),
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("record migration %q: %w", migrationID, err)
		}

		return nil
	})
}

// Run executes all data migrations that go beyond schema auto-migrations.
// Append new migrations at the bottom with a stable unique id.
func Run(db *gorm.DB) error {
	if db == nil {
		return nil
	}

	if err := RunOnce(db, "00001_seed_quote_currencies", seedQuoteCurrencies); err != nil {
		return err
	}

	if err := RunOnce(db, "00002_flag_stablecoins", flagStablecoins); err != nil {
		return err
	}

	return nil
}

// seedQuoteCurrencies makes sure market sync has quote currencies to work with.
func seedQuoteCurrencies(tx *gorm.DB) error {
	for _, code := range defaultQuoteCurrencies {
		c := model.Currency{Code: code, QuoteEligible: true}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"quote_eligible": true}),
		}).Create(&c).Error
		if err != nil {
			return fmt.Errorf("seed quote currency %s: %w", code, err)
		}
	}
	return nil
}

func flagStablecoins(tx *gorm.DB) error {
	return tx.Model(&model.Currency{}).
		Where("code IN ?", defaultStablecoins).
		Update("stablecoin", true).Error
}
