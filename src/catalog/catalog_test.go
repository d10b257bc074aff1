package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"marketrouter/src/connectors"
	"marketrouter/src/connectors/connectorstest"
	"marketrouter/src/credit"
	"marketrouter/src/database"
	"marketrouter/src/model"
	"marketrouter/src/normalizer"
	"marketrouter/src/repository"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
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

func newTestCatalog(db *gorm.DB) *Catalog {
	return New(
		(&repository.GormExchangeRepository{}).WithDB(db),
		(&repository.GormCurrencyRepository{}).WithDB(db),
		(&repository.GormMarketRepository{}).WithDB(db),
	)
}

func nd(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

type syncFixture struct {
	db       *gorm.DB
	catalog  *Catalog
	syncer   *Syncer
	client   *connectorstest.Client
	exchange *model.Exchange
	hook     *test.Hook
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	db := newTestDB(t)
	c := newTestCatalog(db)

	exchange := &model.Exchange{
		Name:              "binance",
		Enabled:           true,
		Status:            model.ExchangeStatusOK,
		RateLimitRequests: 100,
		RateLimitWindowMs: 60000,
		Wallets:           []model.Wallet{model.WalletSpot, model.WalletFuture},
	}
	require.NoError(t, c.Exchanges.Upsert(context.Background(), exchange))

	client := connectorstest.New("binance")
	log, hook := test.NewNullLogger()
	n := normalizer.New(normalizer.DefaultRegistry(), normalizer.Config{
		QuoteCurrencies: []string{"USDT"},
		Stablecoins:     []string{"USDT"},
	})
	n.Log = logger.NewEntry(log)

	s := NewSyncer(c, credit.NewGate(credit.NewLimiter()), n, func(*model.Exchange) (connectors.ExchangeClient, error) {
		return client, nil
	})
	s.Log = logger.NewEntry(log)

	return &syncFixture{db: db, catalog: c, syncer: s, client: client, exchange: exchange, hook: hook}
}

func spotMarket(base string) connectors.RawMarket {
	return connectors.RawMarket{
		ID: base + "USDT", Symbol: base + "/USDT", Base: base, Quote: "USDT",
		Type: "spot", Spot: true, Active: true,
		PrecisionMode: string(model.PrecisionTickSize),
		Precision:     connectors.MarketPrecision{Amount: nd("0.001"), Price: nd("0.01")},
		Limits:        connectors.MarketLimits{Amount: connectors.MinMax{Min: nd("0.001")}},
		Info:          map[string]interface{}{"status": "TRADING"},
	}
}

func perpMarket(base string, margin string) connectors.RawMarket {
	info := map[string]interface{}{"contractType": "PERPETUAL"}
	if margin != "" {
		info["marginAsset"] = margin
	}
	return connectors.RawMarket{
		ID: base + "USDT", Symbol: base + "/USDT:USDT", Base: base, Quote: "USDT",
		Type: "swap", Contract: true, Linear: true, Active: true,
		ContractSize: nd("1"),
		Info:         info,
	}
}

func TestRefreshStoresNormalizedMarkets(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	f.client.Markets = []connectors.RawMarket{
		spotMarket("BTC"),
		perpMarket("BTC", "USDT"),
		perpMarket("DOGE", ""),
	}

	result, err := f.syncer.Refresh(ctx, f.exchange)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Upserted)
	assert.Equal(t, 1, result.Rejected)

	snap := f.catalog.Snapshot()
	spot, ok := snap.Market(model.MarketKey{Exchange: "binance", Symbol: "BTC/USDT", Type: model.MarketTypeSpot})
	require.True(t, ok)
	assert.Equal(t, model.WalletSpot, spot.Wallet)
	assert.Equal(t, "binance", spot.Exchange.Name)

	perp, ok := snap.Market(model.MarketKey{Exchange: "binance", Symbol: "BTC/USDT:USDT", Type: model.MarketTypeDerivative, DerivativeType: model.DerivativePerpetual})
	require.True(t, ok)
	assert.Equal(t, "USDT", perp.MarginCurrency)
	assert.Equal(t, "BTC", perp.ContractValueCurrency)
	assert.Len(t, snap.MarketsByBase("binance", "BTC"), 2)

	_, ok = snap.Market(model.MarketKey{Exchange: "binance", Symbol: "DOGE/USDT:USDT", Type: model.MarketTypeDerivative, DerivativeType: model.DerivativePerpetual})
	assert.False(t, ok, "incomplete derivative is never stored")

	usdt, ok := snap.Currency("USDT")
	require.True(t, ok)
	assert.True(t, usdt.QuoteEligible)
	assert.True(t, usdt.Stablecoin)
	_, ok = snap.Currency("DOGE")
	assert.False(t, ok, "currencies of rejected markets are not created")

	var warned bool
	for _, e := range f.hook.AllEntries() {
		if e.Level == logger.WarnLevel && e.Data["unresolved"] == "margin_currency" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestSyncMarketsDeactivatesDelisted(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	f.client.Markets = []connectors.RawMarket{spotMarket("BTC"), spotMarket("ETH")}
	_, err := f.syncer.SyncMarkets(ctx, f.exchange)
	require.NoError(t, err)

	f.client.Markets = []connectors.RawMarket{spotMarket("BTC")}
	result, err := f.syncer.SyncMarkets(ctx, f.exchange)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Deactivated)

	snap, err := f.catalog.Load(ctx)
	require.NoError(t, err)
	eth, ok := snap.Market(model.MarketKey{Exchange: "binance", Symbol: "ETH/USDT", Type: model.MarketTypeSpot})
	require.True(t, ok, "markets are never deleted")
	assert.False(t, eth.Active)
	assert.Len(t, snap.TradableMarkets("binance"), 1)
}

func TestSyncMarketsWithoutQuoteCurrencies(t *testing.T) {
	f := newSyncFixture(t)
	require.NoError(t, f.db.Model(&model.Currency{}).Where("1 = 1").Update("quote_eligible", false).Error)

	_, err := f.syncer.SyncMarkets(context.Background(), f.exchange)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "binance", cfgErr.Exchange)
	assert.Zero(t, f.client.Calls("FetchMarkets"))
}

func TestSyncMarketsUnknownRules(t *testing.T) {
	f := newSyncFixture(t)
	f.exchange.Name = "mtgox"
	f.client.Markets = []connectors.RawMarket{spotMarket("BTC")}

	_, err := f.syncer.SyncMarkets(context.Background(), f.exchange)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
}

func TestRefreshSkipsExchangeInMaintenance(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	eta := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	f.client.Status = &connectors.Status{Status: model.ExchangeStatusMaintenance, ETA: &eta, Updated: time.Now().UTC()}

	_, err := f.syncer.Refresh(ctx, f.exchange)
	require.NoError(t, err)
	assert.Equal(t, 1, f.client.Calls("FetchStatus"))
	assert.Zero(t, f.client.Calls("FetchMarkets"))

	stored, err := f.catalog.Exchanges.FindByName(ctx, "binance")
	require.NoError(t, err)
	assert.Equal(t, model.ExchangeStatusMaintenance, stored.Status)
	require.NotNil(t, stored.StatusETA)
	assert.True(t, eta.Equal(*stored.StatusETA))

	_, err = f.syncer.SyncMarkets(ctx, f.exchange)
	require.ErrorIs(t, err, credit.ErrExchangeInactive)
	assert.Zero(t, f.client.Calls("FetchMarkets"), "inactive exchange is never contacted")
}

func TestSnapshotBeforeLoad(t *testing.T) {
	c := newTestCatalog(newTestDB(t))
	assert.Empty(t, c.Snapshot().Exchanges())
}

func TestSeedExchanges(t *testing.T) {
	db := newTestDB(t)
	store := (&repository.GormExchangeRepository{}).WithDB(db)

	path := filepath.Join(t.TempDir(), "exchanges.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
exchanges:
  - name: krakenfutures
    enabled: true
    has_fetch_tickers: true
    has_fetch_ohlcv: true
    has_watch_order_book: true
    wallets: [future, spot]
    rate_limit:
      requests: 500
      window: 10s
    timeout: 15s
    ohlcv_limit: 2000
    start_date: "2021-06-01"
`), 0o600))

	seeded, err := SeedExchanges(context.Background(), store, path)
	require.NoError(t, err)
	require.Len(t, seeded, 1)

	stored, err := store.FindByName(context.Background(), "krakenfutures")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 500, stored.RateLimitRequests)
	assert.Equal(t, 10*time.Second, stored.RateLimitWindow())
	assert.Equal(t, 15*time.Second, stored.Timeout())
	assert.Equal(t, 2000, stored.OHLCVLimit)
	assert.True(t, stored.SupportsWallet(model.WalletFuture))
	require.NotNil(t, stored.StartDate)
	assert.Equal(t, 2021, stored.StartDate.Year())
	assert.True(t, stored.IsActive())
}

func TestSeedRejectsBadStartDate(t *testing.T) {
	_, err := ExchangeSeed{Name: "binance", StartDate: "01/06/2021"}.Exchange()
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
}
