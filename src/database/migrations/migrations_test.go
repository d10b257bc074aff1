package migrations

import (
	"testing"

	"marketrouter/src/model"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&model.Exchange{}, &model.Currency{}))
	return db
}

func TestRunSeedsQuoteCurrenciesOnce(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, Run(db))
	require.NoError(t, Run(db))

	var quotes int64
	require.NoError(t, db.Model(&model.Currency{}).Where("quote_eligible = ?", true).Count(&quotes).Error)
	require.Equal(t, int64(len(defaultQuoteCurrencies)), quotes)

	var usdt model.Currency
	require.NoError(t, db.First(&usdt, "code = ?", "USDT").Error)
	require.True(t, usdt.Stablecoin)

	var btc model.Currency
	require.NoError(t, db.First(&btc, "code = ?", "BTC").Error)
	require.False(t, btc.Stablecoin)

	var applied int64
	require.NoError(t, db.Model(&DataMigration{}).Count(&applied).Error)
	require.Equal(t, int64(2), applied)
}

func TestRunOnceRejectsInvalidInput(t *testing.T) {
	db := openTestDB(t)

	require.Error(t, RunOnce(db, "", func(*gorm.DB) error { return nil }))
	require.Error(t, RunOnce(db, "00099_nil", nil))
	require.NoError(t, RunOnce(nil, "ignored", nil))
}
