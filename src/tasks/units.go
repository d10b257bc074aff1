package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketrouter/src/catalog"
	"marketrouter/src/model"
	"marketrouter/src/pricefeed"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	UnitMarkets = "markets_refresh"
	UnitTickers = "tickers_refresh"
	UnitCandles = "candles_backfill"
	UnitStatus  = "status_poll"
)

type CatalogLoader interface {
	Load(ctx context.Context) (*catalog.Snapshot, error)
	Snapshot() *catalog.Snapshot
}

type MarketSyncer interface {
	SyncStatus(ctx context.Context, exchange *model.Exchange) error
	Refresh(ctx context.Context, exchange *model.Exchange) (catalog.SyncResult, error)
}

type CandleFeed interface {
	RefreshTickers(ctx context.Context, exchange *model.Exchange) (map[string]pricefeed.TickerSnapshot, error)
	UpdateLiveCandles(ctx context.Context, exchange *model.Exchange, tickers map[string]pricefeed.TickerSnapshot) (pricefeed.LiveResult, error)
	Backfill(ctx context.Context, exchange *model.Exchange, market *model.Market) (pricefeed.BackfillResult, error)
}

// Unit is one independently invokable, idempotent task.
type Unit func(ctx context.Context) *Report

// Runner fans the units out over the exchanges of the catalog.
type Runner struct {
	Catalog CatalogLoader
	Syncer  MarketSyncer
	Feed    CandleFeed
	Config  Config
	Log     *logger.Entry

	now func() time.Time
}

func NewRunner(c CatalogLoader, syncer MarketSyncer, feed CandleFeed, config Config) *Runner {
	return &Runner{
		Catalog: c,
		Syncer:  syncer,
		Feed:    feed,
		Config:  config,
		Log:     logger.WithField("component", "tasks"),
		now:     time.Now,
	}
}

// Units maps unit names to their functions.
func (r *Runner) Units() map[string]Unit {
	return map[string]Unit{
		UnitMarkets: r.MarketsRefresh,
		UnitTickers: r.TickersRefresh,
		UnitCandles: r.CandlesBackfill,
		UnitStatus:  r.StatusPoll,
	}
}

// fanOut runs fn for every exchange, one goroutine each, at most Config.Concurrency at a time.
// A failing exchange never cancels the others.
func (r *Runner) fanOut(ctx context.Context, unit string, exchanges []*model.Exchange, fn func(ctx context.Context, exchange *model.Exchange) error) *Report {
	report := newReport(unit, r.now())
	log := r.Log.WithField("unit", unit)

	var g errgroup.Group
	if r.Config.Concurrency > 0 {
		g.SetLimit(r.Config.Concurrency)
	}
	for _, e := range exchanges {
		// snapshots are shared, work on a copy
		exchange := *e
		g.Go(func() error {
			err := fn(ctx, &exchange)
			if err != nil {
				log.WithField("exchange", exchange.Name).WithError(err).Error("unit failed on exchange")
			}
			report.record(exchange.Name, err)
			return nil
		})
	}
	_ = g.Wait()

	report.Finished = r.now()
	log.WithFields(map[string]interface{}{
		"exchanges": len(exchanges),
		"failed":    len(report.Errors()),
		"elapsed":   report.Finished.Sub(report.Started).String(),
	}).Info("unit finished")
	return report
}

func (r *Runner) load(ctx context.Context, unit string) (*catalog.Snapshot, *Report) {
	snap, err := r.Catalog.Load(ctx)
	if err != nil {
		report := newReport(unit, r.now())
		report.record("catalog", err)
		report.Finished = r.now()
		return nil, report
	}
	return snap, nil
}

func enabled(snap *catalog.Snapshot) []*model.Exchange {
	var out []*model.Exchange
	for _, e := range snap.Exchanges() {
		if e.Enabled {
			out = append(out, e)
		}
	}
	return out
}

// MarketsRefresh polls status and refreshes currencies and markets of every enabled exchange.
func (r *Runner) MarketsRefresh(ctx context.Context) *Report {
	snap, failed := r.load(ctx, UnitMarkets)
	if failed != nil {
		return failed
	}
	return r.fanOut(ctx, UnitMarkets, enabled(snap), func(ctx context.Context, exchange *model.Exchange) error {
		result, err := r.Syncer.Refresh(ctx, exchange)
		if err != nil {
			return err
		}
		r.Log.WithFields(map[string]interface{}{
			"exchange":    exchange.Name,
			"upserted":    result.Upserted,
			"rejected":    result.Rejected,
			"deactivated": result.Deactivated,
		}).Info("markets refreshed")
		return nil
	})
}

// StatusPoll refreshes the status of every enabled exchange, maintenance included.
func (r *Runner) StatusPoll(ctx context.Context) *Report {
	snap, failed := r.load(ctx, UnitStatus)
	if failed != nil {
		return failed
	}
	report := r.fanOut(ctx, UnitStatus, enabled(snap), r.Syncer.SyncStatus)
	if _, err := r.Catalog.Load(ctx); err != nil {
		report.record("catalog", err)
	}
	return report
}

// TickersRefresh publishes fresh prices of every active exchange and updates the
// provisional candle of the current hour.
func (r *Runner) TickersRefresh(ctx context.Context) *Report {
	exchanges := r.Catalog.Snapshot().ActiveExchanges()
	return r.fanOut(ctx, UnitTickers, exchanges, func(ctx context.Context, exchange *model.Exchange) error {
		tickers, err := r.Feed.RefreshTickers(ctx, exchange)
		if err != nil {
			return err
		}
		result, err := r.Feed.UpdateLiveCandles(ctx, exchange, tickers)
		if err != nil {
			return err
		}
		r.Log.WithFields(map[string]interface{}{
			"exchange": exchange.Name,
			"tickers":  len(tickers),
			"excluded": result.Excluded,
			"skipped":  result.Skipped,
		}).Info("tickers refreshed")
		return nil
	})
}

// CandlesBackfill fills the hourly candle gaps of every tradable market. Markets of one
// exchange run in sequence; a failing market does not stop the rest.
func (r *Runner) CandlesBackfill(ctx context.Context) *Report {
	snap := r.Catalog.Snapshot()
	return r.fanOut(ctx, UnitCandles, snap.ActiveExchanges(), func(ctx context.Context, exchange *model.Exchange) error {
		var errs []error
		inserted := 0
		for _, m := range snap.TradableMarkets(exchange.Name) {
			if err := ctx.Err(); err != nil {
				return err
			}
			result, err := r.Feed.Backfill(ctx, exchange, m)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", m.Symbol, err))
				continue
			}
			inserted += result.Inserted
		}
		r.Log.WithFields(map[string]interface{}{
			"exchange": exchange.Name,
			"inserted": inserted,
			"failed":   len(errs),
		}).Info("candles backfilled")
		return errors.Join(errs...)
	})
}
