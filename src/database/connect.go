package database

import (
	"fmt"
	"time"

	"marketrouter/src/database/migrations"
	"marketrouter/src/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Models lists every model that belongs to the write-side schema.
func Models() []interface{} {
	return []interface{}{
		&model.Exchange{},
		&model.Currency{},
		&model.Market{},
		&model.Candle{},
		&model.Account{},
		&model.Fund{},
		&model.Position{},
		&model.Order{},
		&model.Exception{},
		&migrations.DataMigration{},
	}
}

// Migrate runs schema and data migrations against db.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to run schema migrations: %w", err)
	}
	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("failed to run data migrations: %w", err)
	}
	return nil
}

// OpenSQLite opens a sqlite database with the full schema. Used for local runs and tests.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB from sqlite: %w", err)
	}
	// a single connection keeps in-memory databases shared across goroutines
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func configurePool(db *gorm.DB, config Config) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB from GORM: %w", err)
	}
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(1 * time.Hour)
	return nil
}
