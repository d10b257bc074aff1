package pricefeed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"marketrouter/src/catalog"
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

var testNow = time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

type feedFixture struct {
	db       *gorm.DB
	catalog  *catalog.Catalog
	feed     *Feed
	client   *connectorstest.Client
	exchange *model.Exchange
	markets  map[string]*model.Market
	candles  *repository.GormCandleRepository
}

func newFeedFixture(t *testing.T, symbols ...string) *feedFixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenSQLite("file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	markets := (&repository.GormMarketRepository{}).WithDB(db)
	candles := (&repository.GormCandleRepository{}).WithDB(db)
	c := catalog.New(
		(&repository.GormExchangeRepository{}).WithDB(db),
		(&repository.GormCurrencyRepository{}).WithDB(db),
		markets,
	)

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	exchange := &model.Exchange{
		Name:              "binance",
		Enabled:           true,
		Status:            model.ExchangeStatusOK,
		RateLimitRequests: 1000,
		OHLCVLimit:        4,
		StartDate:         &start,
		Wallets:           []model.Wallet{model.WalletSpot},
	}
	require.NoError(t, c.Exchanges.Upsert(ctx, exchange))

	stored := map[string]*model.Market{}
	for _, symbol := range symbols {
		m := &model.Market{
			ExchangeID: exchange.ID,
			Symbol:     symbol,
			Base:       symbol[:3],
			Quote:      "USDT",
			Wallet:     model.WalletSpot,
			Type:       model.MarketTypeSpot,
			Active:     true,
		}
		require.NoError(t, markets.Upsert(ctx, m))
		stored[symbol] = m
	}
	_, err = c.Load(ctx)
	require.NoError(t, err)

	client := connectorstest.New("binance")
	log, _ := test.NewNullLogger()
	n := normalizer.New(normalizer.DefaultRegistry(), normalizer.Config{})
	n.Log = logger.NewEntry(log)

	f := New(c, credit.NewGate(credit.NewLimiter()), n, func(*model.Exchange) (connectors.ExchangeClient, error) {
		return client, nil
	}, candles, markets, Config{BookDepth: 10, ReconnectEvery: time.Millisecond, ReconnectBurst: 1, BookPollInterval: time.Millisecond})
	f.Log = logger.NewEntry(log)
	f.now = func() time.Time { return testNow }

	return &feedFixture{db: db, catalog: c, feed: f, client: client, exchange: exchange, markets: stored, candles: candles}
}

func nd(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(d(s))
}

func TestRefreshTickersPublishesPrices(t *testing.T) {
	fx := newFeedFixture(t, "BTC/USDT")
	fx.client.Tickers = map[string]connectors.Ticker{
		"BTC/USDT": {Symbol: "BTC/USDT", Last: nd("100"), Bid: nd("99"), Ask: nd("101"), QuoteVolume: nd("2400")},
		"XYZ/USDT": {Symbol: "XYZ/USDT", Last: nd("1")},
	}

	assert.Nil(t, fx.feed.Prices("binance"))

	tickers, err := fx.feed.RefreshTickers(context.Background(), fx.exchange)
	require.NoError(t, err)
	assert.Len(t, tickers, 2)

	prices := fx.feed.Prices("binance")
	require.NotNil(t, prices)
	assert.Len(t, prices.ByMarket, 1, "only catalog markets are published")

	btc, ok := prices.Get(fx.markets["BTC/USDT"].ID)
	require.True(t, ok)
	assert.True(t, btc.QuoteVolume24h.Decimal.Equal(d("2400")))
	price, ok := btc.Price()
	require.True(t, ok)
	assert.True(t, price.Equal(d("100")))
}

func TestRefreshTickersInactiveExchange(t *testing.T) {
	fx := newFeedFixture(t, "BTC/USDT")
	fx.exchange.Status = model.ExchangeStatusMaintenance

	_, err := fx.feed.RefreshTickers(context.Background(), fx.exchange)
	require.ErrorIs(t, err, credit.ErrExchangeInactive)
	assert.Zero(t, fx.client.Calls("FetchTickers"))
}

func TestUpdateLiveCandles(t *testing.T) {
	fx := newFeedFixture(t, "BTC/USDT", "ETH/USDT", "SOL/USDT")
	ctx := context.Background()

	tickers := map[string]TickerSnapshot{
		"BTC/USDT": {Symbol: "BTC/USDT", Last: nd("100"), QuoteVolume24h: nd("2400")},
		"ETH/USDT": {Symbol: "ETH/USDT", QuoteVolume24h: nd("2400")},
	}

	result, err := fx.feed.UpdateLiveCandles(ctx, fx.exchange, tickers)
	require.NoError(t, err)
	assert.Equal(t, LiveResult{Created: 1, Skipped: 1, Excluded: 1}, result)

	hour := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	candle, err := fx.candles.FindByHour(ctx, fx.markets["BTC/USDT"].ID, hour)
	require.NoError(t, err)
	require.NotNil(t, candle)
	assert.True(t, candle.Provisional)
	assert.True(t, candle.Volume.Equal(d("100")))

	eth, err := fx.candles.FindByHour(ctx, fx.markets["ETH/USDT"].ID, hour)
	require.NoError(t, err)
	assert.Nil(t, eth, "no last price, no candle")

	snap := fx.catalog.Snapshot()
	sol, ok := snap.MarketByID(fx.markets["SOL/USDT"].ID)
	require.True(t, ok)
	assert.True(t, sol.Excluded, "absent symbol is excluded")
	ethMarket, _ := snap.MarketByID(fx.markets["ETH/USDT"].ID)
	assert.False(t, ethMarket.Excluded, "missing last is not a reason to exclude")

	tickers["BTC/USDT"] = TickerSnapshot{Symbol: "BTC/USDT", Last: nd("110"), QuoteVolume24h: nd("4800")}
	result, err = fx.feed.UpdateLiveCandles(ctx, fx.exchange, tickers)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Corrected)

	candle, err = fx.candles.FindByHour(ctx, fx.markets["BTC/USDT"].ID, hour)
	require.NoError(t, err)
	assert.True(t, candle.Close.Equal(d("110")))
	assert.True(t, candle.Volume.Equal(d("200")))
}

func TestUpdateLiveCandlesKeepsFinalCandle(t *testing.T) {
	fx := newFeedFixture(t, "BTC/USDT")
	ctx := context.Background()
	hour := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := fx.candles.CreateIfAbsent(ctx, &model.Candle{MarketID: fx.markets["BTC/USDT"].ID, Hour: hour, Close: d("1"), Volume: d("1"), VolumeAvg: d("1")})
	require.NoError(t, err)

	result, err := fx.feed.UpdateLiveCandles(ctx, fx.exchange, map[string]TickerSnapshot{
		"BTC/USDT": {Last: nd("100"), QuoteVolume24h: nd("2400")},
	})
	require.NoError(t, err)
	assert.Equal(t, LiveResult{}, result)

	candle, err := fx.candles.FindByHour(ctx, fx.markets["BTC/USDT"].ID, hour)
	require.NoError(t, err)
	assert.True(t, candle.Close.Equal(d("1")))
}

func bars(from time.Time, n int) []connectors.OHLCV {
	out := make([]connectors.OHLCV, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, connectors.OHLCV{
			Timestamp: from.Add(time.Duration(i) * time.Hour),
			Close:     nd("100"),
			Volume:    nd("2"),
		})
	}
	return out
}

func countCandles(t *testing.T, db *gorm.DB, marketID uint) int64 {
	var n int64
	require.NoError(t, db.Model(&model.Candle{}).Where("market_id = ?", marketID).Count(&n).Error)
	return n
}

func TestBackfillIsIdempotent(t *testing.T) {
	fx := newFeedFixture(t, "BTC/USDT")
	ctx := context.Background()
	market := fx.markets["BTC/USDT"]

	// 00:00 to 10:00; 10:00 is the current partial hour and 05:00 has no volume
	history := bars(*fx.exchange.StartDate, 11)
	history[5].Volume = decimal.NullDecimal{}
	fx.client.Bars = map[string][]connectors.OHLCV{"BTC/USDT": history}

	result, err := fx.feed.Backfill(ctx, fx.exchange, market)
	require.NoError(t, err)
	assert.Equal(t, 9, result.Inserted)
	assert.Equal(t, 3, result.Batches)
	assert.Equal(t, 1, result.Missing)
	assert.False(t, result.Excluded)
	assert.Equal(t, int64(9), countCandles(t, fx.db, market.ID))

	candle, err := fx.candles.FindByHour(ctx, market.ID, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, candle)
	assert.True(t, candle.Volume.Equal(d("200")), "base volume converted to quote")
	assert.True(t, candle.VolumeAvg.Equal(d("200")))
	assert.False(t, candle.Provisional)

	result, err = fx.feed.Backfill(ctx, fx.exchange, market)
	require.NoError(t, err)
	assert.Zero(t, result.Inserted)
	assert.Equal(t, int64(9), countCandles(t, fx.db, market.ID))
}

func TestBackfillExcludesMarketMissingLatestCandle(t *testing.T) {
	fx := newFeedFixture(t, "BTC/USDT")
	ctx := context.Background()
	market := fx.markets["BTC/USDT"]
	fx.client.Bars = map[string][]connectors.OHLCV{"BTC/USDT": bars(*fx.exchange.StartDate, 8)}

	result, err := fx.feed.Backfill(ctx, fx.exchange, market)
	require.NoError(t, err)
	assert.True(t, result.Excluded)

	stored, err := (&repository.GormMarketRepository{}).WithDB(fx.db).FindByID(ctx, market.ID)
	require.NoError(t, err)
	assert.True(t, stored.Excluded)
}

func TestBackfillConfiguration(t *testing.T) {
	fx := newFeedFixture(t, "BTC/USDT")
	market := fx.markets["BTC/USDT"]

	noLimit := *fx.exchange
	noLimit.OHLCVLimit = 0
	_, err := fx.feed.Backfill(context.Background(), &noLimit, market)
	require.ErrorIs(t, err, ErrMissingOHLCVLimit)

	noStart := *fx.exchange
	noStart.StartDate = nil
	_, err = fx.feed.Backfill(context.Background(), &noStart, market)
	require.ErrorIs(t, err, ErrMissingStartDate)
	assert.Zero(t, fx.client.Calls("FetchOHLCV"))
}

func TestBackfillUnknownSymbol(t *testing.T) {
	fx := newFeedFixture(t, "BTC/USDT")
	fx.client.ErrOHLCV = connectors.NewFault(connectors.FaultBadSymbol, "binance", "FetchOHLCV", errors.New("invalid symbol"))

	result, err := fx.feed.Backfill(context.Background(), fx.exchange, fx.markets["BTC/USDT"])
	require.NoError(t, err)
	assert.True(t, result.Excluded)
	assert.Equal(t, 1, fx.client.Calls("FetchOHLCV"), "bad symbol is not retried")
}

func waitLadder(t *testing.T, ch <-chan *Ladder, bestBid string) *Ladder {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case l, ok := <-ch:
			require.True(t, ok, "stream closed early")
			if bid, ok := l.BestBid(); ok && bid.Equal(d(bestBid)) {
				return l
			}
		case <-timeout:
			t.Fatalf("no ladder with best bid %s", bestBid)
		}
	}
}

func bookAt(bid string) connectors.OrderBook {
	return connectors.OrderBook{
		Symbol: "BTC/USDT",
		Bids:   []connectors.BookLevel{lvl(bid, "1")},
		Asks:   []connectors.BookLevel{lvl("200", "1")},
	}
}

// setExchange stores the websocket capability and status of the exchange and reloads the catalog.
func (fx *feedFixture) setExchange(t *testing.T, watch bool, status model.ExchangeStatus) {
	t.Helper()
	ctx := context.Background()
	fx.exchange.HasWatchOrderBook = watch
	require.NoError(t, fx.catalog.Exchanges.Upsert(ctx, fx.exchange))
	require.NoError(t, (&repository.GormExchangeRepository{}).WithDB(fx.db).UpdateStatus(ctx, fx.exchange.ID, status, time.Now().UTC(), nil))
	_, err := fx.catalog.Load(ctx)
	require.NoError(t, err)
}

func TestStreamOrderBookReconnects(t *testing.T) {
	fx := newFeedFixture(t, "BTC/USDT")
	fx.setExchange(t, true, model.ExchangeStatusOK)
	market := fx.markets["BTC/USDT"]

	calls := 0
	fx.client.WatchFunc = func(ctx context.Context, symbol string, handler func(connectors.OrderBook)) error {
		calls++
		if calls == 1 {
			handler(bookAt("1"))
			return connectors.NewFault(connectors.FaultNetwork, "binance", "WatchOrderBook", errors.New("connection reset"))
		}
		handler(bookAt("2"))
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := fx.feed.StreamOrderBook(ctx, fx.exchange, market)

	waitLadder(t, ch, "2")
	stored, ok := fx.feed.Books.Get(market.ID)
	require.True(t, ok)
	assert.Equal(t, market.ID, stored.MarketID)

	cancel()
	for range ch {
	}
	assert.Equal(t, 2, fx.client.Calls("WatchOrderBook"))
}

func TestStreamOrderBookPollsWithoutWebsocket(t *testing.T) {
	fx := newFeedFixture(t, "BTC/USDT")
	fx.client.Books = map[string]*connectors.OrderBook{"BTC/USDT": func() *connectors.OrderBook { b := bookAt("5"); return &b }()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := fx.feed.StreamOrderBook(ctx, fx.exchange, fx.markets["BTC/USDT"])

	waitLadder(t, ch, "5")
	assert.Zero(t, fx.client.Calls("WatchOrderBook"))
	assert.GreaterOrEqual(t, fx.client.Calls("FetchOrderBook"), 1)
}

func TestStreamOrderBookFollowsExchangeStatus(t *testing.T) {
	fx := newFeedFixture(t, "BTC/USDT")
	fx.setExchange(t, true, model.ExchangeStatusMaintenance)

	var watching atomic.Bool
	fx.client.WatchFunc = func(ctx context.Context, symbol string, handler func(connectors.OrderBook)) error {
		watching.Store(true)
		defer watching.Store(false)
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			handler(bookAt("3"))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := fx.feed.StreamOrderBook(ctx, fx.exchange, fx.markets["BTC/USDT"])

	assert.Never(t, func() bool { return fx.client.Calls("WatchOrderBook") > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	fx.setExchange(t, true, model.ExchangeStatusOK)
	waitLadder(t, ch, "3")

	fx.setExchange(t, true, model.ExchangeStatusMaintenance)
	assert.Eventually(t, func() bool { return !watching.Load() }, time.Second, 5*time.Millisecond)
	opened := fx.client.Calls("WatchOrderBook")
	assert.Never(t, func() bool { return fx.client.Calls("WatchOrderBook") > opened }, 50*time.Millisecond, 5*time.Millisecond)
}
