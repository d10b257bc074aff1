package repository

import (
	"context"
	"testing"

	"marketrouter/src/database"
	"marketrouter/src/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite("file::memory:")
	require.NoError(t, err)

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func seedMarket(t *testing.T, db *gorm.DB) (*model.Exchange, *model.Market) {
	t.Helper()
	ctx := context.Background()

	exchange := &model.Exchange{Name: "binance", Enabled: true, Wallets: []model.Wallet{model.WalletSpot, model.WalletFuture}}
	require.NoError(t, (&GormExchangeRepository{}).WithDB(db).Upsert(ctx, exchange))

	market := &model.Market{
		ExchangeID:     exchange.ID,
		Symbol:         "BTC/USDT",
		ExchangeSymbol: "BTCUSDT",
		Base:           "BTC",
		Quote:          "USDT",
		Wallet:         model.WalletSpot,
		Type:           model.MarketTypeSpot,
		AmountMin:      decimal.NewNullDecimal(decimal.RequireFromString("0.001")),
		Active:         true,
	}
	require.NoError(t, (&GormMarketRepository{}).WithDB(db).Upsert(ctx, market))
	return exchange, market
}
