package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"marketrouter/src/catalog"
	"marketrouter/src/connectors"
	"marketrouter/src/credit"
	"marketrouter/src/model"
	"marketrouter/src/normalizer"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

var (
	ErrMissingOHLCVLimit = errors.New("exchange has no OHLCV limit configured")
	ErrMissingStartDate  = errors.New("exchange has no start date configured")
)

// Catalog is the part of the exchange catalog the feed reads and refreshes.
type Catalog interface {
	Snapshot() *catalog.Snapshot
	Load(ctx context.Context) (*catalog.Snapshot, error)
}

type CandleStore interface {
	CreateIfAbsent(ctx context.Context, candle *model.Candle) (bool, error)
	FindByHour(ctx context.Context, marketID uint, hour time.Time) (*model.Candle, error)
	UpdateProvisional(ctx context.Context, candle *model.Candle) error
	LastHour(ctx context.Context, marketID uint) (*time.Time, error)
	HoursBetween(ctx context.Context, marketID uint, from, to time.Time) ([]time.Time, error)
}

type MarketStore interface {
	MarkExcluded(ctx context.Context, id uint, reason string) error
}

// TickerSnapshot is the latest normalized ticker of a market. Missing fields are null.
type TickerSnapshot struct {
	MarketID       uint
	Symbol         string
	Last           decimal.NullDecimal
	Bid            decimal.NullDecimal
	Ask            decimal.NullDecimal
	QuoteVolume24h decimal.NullDecimal
	FundingRate    decimal.NullDecimal
	At             time.Time
}

// Price is the last trade price, or the mid price when the ticker has no last.
func (t TickerSnapshot) Price() (decimal.Decimal, bool) {
	if t.Last.Valid && t.Last.Decimal.IsPositive() {
		return t.Last.Decimal, true
	}
	if t.Bid.Valid && t.Ask.Valid {
		return t.Bid.Decimal.Add(t.Ask.Decimal).Div(decimal.NewFromInt(2)), true
	}
	return decimal.Zero, false
}

// Prices is the published ticker set of one exchange.
type Prices struct {
	Exchange string
	At       time.Time
	ByMarket map[uint]TickerSnapshot
}

func (p *Prices) Get(marketID uint) (TickerSnapshot, bool) {
	if p == nil {
		return TickerSnapshot{}, false
	}
	t, ok := p.ByMarket[marketID]
	return t, ok
}

// Feed keeps tickers, candles and order books of the catalog markets up to date.
type Feed struct {
	Catalog    Catalog
	Gate       *credit.Gate
	Normalizer *normalizer.Normalizer
	Clients    catalog.ClientSource
	Candles    CandleStore
	Markets    MarketStore
	Books      *Books
	Config     Config
	Log        *logger.Entry

	now func() time.Time

	mu     sync.Mutex
	prices atomic.Pointer[map[string]*Prices]
}

func New(c Catalog, gate *credit.Gate, n *normalizer.Normalizer, clients catalog.ClientSource, candles CandleStore, markets MarketStore, config Config) *Feed {
	return &Feed{
		Catalog:    c,
		Gate:       gate,
		Normalizer: n,
		Clients:    clients,
		Candles:    candles,
		Markets:    markets,
		Books:      NewBooks(),
		Config:     config,
		Log:        logger.WithField("component", "pricefeed"),
		now:        time.Now,
	}
}

// Prices returns the latest published tickers of an exchange, or nil before the first refresh.
func (f *Feed) Prices(exchange string) *Prices {
	m := f.prices.Load()
	if m == nil {
		return nil
	}
	return (*m)[exchange]
}

func (f *Feed) publish(p *Prices) {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := map[string]*Prices{}
	if cur := f.prices.Load(); cur != nil {
		for k, v := range *cur {
			next[k] = v
		}
	}
	next[p.Exchange] = p
	f.prices.Store(&next)
}

// RefreshTickers fetches the exchange tickers, publishes them by market and returns them
// keyed by symbol.
func (f *Feed) RefreshTickers(ctx context.Context, exchange *model.Exchange) (map[string]TickerSnapshot, error) {
	raw, err := f.fetchTickers(ctx, exchange)
	if err != nil {
		return nil, err
	}
	return f.applyTickers(exchange, raw), nil
}

func (f *Feed) fetchTickers(ctx context.Context, exchange *model.Exchange) (map[string]connectors.Ticker, error) {
	client, err := f.Clients(exchange)
	if err != nil {
		return nil, &catalog.ConfigError{Exchange: exchange.Name, Reason: err.Error()}
	}
	raw, err := credit.Fetch(ctx, f.Gate, exchange, model.WalletSpot, 1, client.FetchTickers)
	if err != nil {
		return nil, fmt.Errorf("fetch tickers %s: %w", exchange.Name, err)
	}
	return raw, nil
}

func (f *Feed) applyTickers(exchange *model.Exchange, raw map[string]connectors.Ticker) map[string]TickerSnapshot {
	now := f.now().UTC()
	out := make(map[string]TickerSnapshot, len(raw))
	byMarket := map[uint]TickerSnapshot{}

	snap := f.Catalog.Snapshot()
	markets := map[string]*model.Market{}
	for _, m := range snap.Markets(exchange.Name) {
		markets[m.Symbol] = m
	}

	for symbol, t := range raw {
		ts := TickerSnapshot{
			Symbol:      symbol,
			Last:        t.Last,
			Bid:         t.Bid,
			Ask:         t.Ask,
			FundingRate: t.FundingRate,
			At:          t.Timestamp,
		}
		if ts.At.IsZero() {
			ts.At = now
		}
		if m, ok := markets[symbol]; ok {
			ts.MarketID = m.ID
			if v, ok, err := f.Normalizer.QuoteVolume24h(exchange.Name, m, t); err == nil && ok {
				ts.QuoteVolume24h = decimal.NewNullDecimal(v)
			}
			byMarket[m.ID] = ts
		}
		out[symbol] = ts
	}

	f.publish(&Prices{Exchange: exchange.Name, At: now, ByMarket: byMarket})
	return out
}

// excludeMarket flags a market whose data proved unreliable.
func (f *Feed) excludeMarket(ctx context.Context, exchange string, m *model.Market, reason string) error {
	f.Log.WithFields(map[string]interface{}{
		"exchange": exchange,
		"market":   m.Symbol,
		"reason":   reason,
	}).Warn("excluding market")
	if err := f.Markets.MarkExcluded(ctx, m.ID, reason); err != nil {
		return fmt.Errorf("exclude market %s: %w", m.Symbol, err)
	}
	return nil
}
