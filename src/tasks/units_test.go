package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"marketrouter/src/catalog"
	"marketrouter/src/model"
	"marketrouter/src/pricefeed"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type catalogStub struct {
	snap  *catalog.Snapshot
	loads atomic.Int32
	err   error
}

func (c *catalogStub) Load(ctx context.Context) (*catalog.Snapshot, error) {
	c.loads.Add(1)
	return c.snap, c.err
}

func (c *catalogStub) Snapshot() *catalog.Snapshot { return c.snap }

type syncerStub struct {
	mu      sync.Mutex
	calls   []string
	fail    map[string]error
	running atomic.Int32
	peak    atomic.Int32
}

func (s *syncerStub) track(name string) error {
	n := s.running.Add(1)
	defer s.running.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, name)
	return s.fail[name]
}

func (s *syncerStub) SyncStatus(ctx context.Context, exchange *model.Exchange) error {
	return s.track(exchange.Name)
}

func (s *syncerStub) Refresh(ctx context.Context, exchange *model.Exchange) (catalog.SyncResult, error) {
	// the refresh mutates the exchange it is given
	exchange.Status = model.ExchangeStatusMaintenance
	return catalog.SyncResult{Upserted: 1}, s.track(exchange.Name)
}

type feedStub struct {
	mu       sync.Mutex
	backfill []string
	live     []string
	fail     map[string]error
}

func (f *feedStub) RefreshTickers(ctx context.Context, exchange *model.Exchange) (map[string]pricefeed.TickerSnapshot, error) {
	if err := f.fail[exchange.Name]; err != nil {
		return nil, err
	}
	return map[string]pricefeed.TickerSnapshot{}, nil
}

func (f *feedStub) UpdateLiveCandles(ctx context.Context, exchange *model.Exchange, tickers map[string]pricefeed.TickerSnapshot) (pricefeed.LiveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live = append(f.live, exchange.Name)
	return pricefeed.LiveResult{}, nil
}

func (f *feedStub) Backfill(ctx context.Context, exchange *model.Exchange, market *model.Market) (pricefeed.BackfillResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backfill = append(f.backfill, exchange.Name+":"+market.Symbol)
	if err := f.fail[market.Symbol]; err != nil {
		return pricefeed.BackfillResult{}, err
	}
	return pricefeed.BackfillResult{Inserted: 2}, nil
}

func testSnapshot() *catalog.Snapshot {
	exchanges := []model.Exchange{
		{ID: 1, Name: "binance", Enabled: true, Status: model.ExchangeStatusOK},
		{ID: 2, Name: "krakenfutures", Enabled: true, Status: model.ExchangeStatusOK},
		{ID: 3, Name: "bitstamp", Enabled: true, Status: model.ExchangeStatusMaintenance},
		{ID: 4, Name: "kucoin", Enabled: false, Status: model.ExchangeStatusOK},
	}
	markets := []model.Market{
		{ID: 10, ExchangeID: 1, Symbol: "BTCUSDT", Type: model.MarketTypeSpot, Base: "BTC", Quote: "USDT", Active: true},
		{ID: 11, ExchangeID: 1, Symbol: "ETHUSDT", Type: model.MarketTypeSpot, Base: "ETH", Quote: "USDT", Active: true},
		{ID: 12, ExchangeID: 1, Symbol: "XRPUSDT", Type: model.MarketTypeSpot, Base: "XRP", Quote: "USDT", Active: true, Excluded: true},
		{ID: 20, ExchangeID: 2, Symbol: "PF_XBTUSD", Type: model.MarketTypeDerivative, Base: "BTC", Quote: "USD", Active: true},
	}
	return catalog.NewSnapshot(exchanges, nil, markets)
}

func newTestRunner(t *testing.T, concurrency int) (*Runner, *catalogStub, *syncerStub, *feedStub) {
	t.Helper()
	c := &catalogStub{snap: testSnapshot()}
	s := &syncerStub{fail: map[string]error{}}
	f := &feedStub{fail: map[string]error{}}
	r := NewRunner(c, s, f, Config{Concurrency: concurrency})
	log, _ := test.NewNullLogger()
	r.Log = log.WithField("component", "tasks")
	return r, c, s, f
}

func TestMarketsRefreshIsolatesFailures(t *testing.T) {
	r, c, s, _ := newTestRunner(t, 4)
	s.fail["binance"] = errors.New("exchange down")

	report := r.MarketsRefresh(context.Background())

	assert.ElementsMatch(t, []string{"binance", "krakenfutures", "bitstamp"}, s.calls, "enabled exchanges, maintenance included")
	assert.Equal(t, []string{"bitstamp", "krakenfutures"}, report.Succeeded())
	require.Len(t, report.Errors(), 1)
	require.Error(t, report.Err())
	assert.Contains(t, report.Err().Error(), "binance: exchange down")
	assert.Equal(t, int32(1), c.loads.Load())

	// the published snapshot is never modified by a unit
	ex, ok := c.snap.Exchange("binance")
	require.True(t, ok)
	assert.Equal(t, model.ExchangeStatusOK, ex.Status)
}

func TestFanOutRespectsConcurrency(t *testing.T) {
	r, _, s, _ := newTestRunner(t, 1)

	report := r.StatusPoll(context.Background())

	require.NoError(t, report.Err())
	assert.Len(t, s.calls, 3)
	assert.Equal(t, int32(1), s.peak.Load())
}

func TestMarketsRefreshCatalogFailure(t *testing.T) {
	r, c, s, _ := newTestRunner(t, 2)
	c.err = errors.New("db down")

	report := r.MarketsRefresh(context.Background())

	require.Error(t, report.Err())
	assert.Contains(t, report.Errors(), "catalog")
	assert.Empty(t, s.calls)
}

func TestTickersRefreshActiveExchanges(t *testing.T) {
	r, _, _, f := newTestRunner(t, 4)
	f.fail["krakenfutures"] = errors.New("timeout")

	report := r.TickersRefresh(context.Background())

	assert.Equal(t, []string{"binance"}, f.live)
	assert.Equal(t, []string{"binance"}, report.Succeeded())
	assert.Contains(t, report.Errors(), "krakenfutures")
}

func TestCandlesBackfillContinuesAfterMarketFailure(t *testing.T) {
	r, _, _, f := newTestRunner(t, 4)
	f.fail["BTCUSDT"] = errors.New("bad symbol")

	report := r.CandlesBackfill(context.Background())

	assert.ElementsMatch(t, []string{"binance:BTCUSDT", "binance:ETHUSDT", "krakenfutures:PF_XBTUSD"}, f.backfill)
	assert.Equal(t, []string{"krakenfutures"}, report.Succeeded())
	require.Contains(t, report.Errors(), "binance")
	assert.Contains(t, report.Errors()["binance"].Error(), "BTCUSDT: bad symbol")
}

func TestRunAlignedRepeatsUntilCanceled(t *testing.T) {
	r, _, _, _ := newTestRunner(t, 1)

	var runs atomic.Int32
	unit := func(ctx context.Context) *Report {
		runs.Add(1)
		report := newReport("test", time.Now())
		report.record("binance", errors.New("keeps failing"))
		return report
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.runAligned(ctx, "test", unit, func(time.Time) time.Duration { return time.Millisecond })
	}()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
