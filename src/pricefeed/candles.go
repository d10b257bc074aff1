package pricefeed

import (
	"context"
	"fmt"
	"time"

	"marketrouter/src/connectors"
	"marketrouter/src/credit"
	"marketrouter/src/model"
	"marketrouter/src/utils"

	"github.com/shopspring/decimal"
)

const timeframe = "1h"

var hoursPerDay = decimal.NewFromInt(24)

// LiveResult counts the outcome of one live candle cycle.
type LiveResult struct {
	Created   int
	Corrected int
	Skipped   int
	Excluded  int
}

// UpdateLiveCandles derives a provisional candle for the current hour from the tickers of
// every tradable market. A market missing from the tickers is excluded; a ticker without a
// last price is skipped.
func (f *Feed) UpdateLiveCandles(ctx context.Context, exchange *model.Exchange, tickers map[string]TickerSnapshot) (LiveResult, error) {
	var result LiveResult
	hour := utils.CurrentHour(f.now())

	for _, m := range f.Catalog.Snapshot().TradableMarkets(exchange.Name) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		log := f.Log.WithFields(map[string]interface{}{"exchange": exchange.Name, "market": m.Symbol})

		t, ok := tickers[m.Symbol]
		if !ok {
			if err := f.excludeMarket(ctx, exchange.Name, m, "absent from tickers"); err != nil {
				return result, err
			}
			result.Excluded++
			continue
		}
		if !t.Last.Valid {
			log.Debug("ticker without last price, skipping")
			result.Skipped++
			continue
		}
		if !t.QuoteVolume24h.Valid {
			log.Debug("ticker without volume, skipping")
			result.Skipped++
			continue
		}

		existing, err := f.Candles.FindByHour(ctx, m.ID, hour)
		if err != nil {
			return result, fmt.Errorf("find candle %s: %w", m.Symbol, err)
		}
		if existing != nil && !existing.Provisional {
			continue
		}

		volume := t.QuoteVolume24h.Decimal.Div(hoursPerDay)
		if existing != nil {
			existing.Close = t.Last.Decimal
			existing.Volume = volume
			existing.VolumeAvg = volume
			if err := f.Candles.UpdateProvisional(ctx, existing); err != nil {
				return result, fmt.Errorf("correct candle %s: %w", m.Symbol, err)
			}
			result.Corrected++
			continue
		}

		inserted, err := f.Candles.CreateIfAbsent(ctx, &model.Candle{
			MarketID:    m.ID,
			Hour:        hour,
			Close:       t.Last.Decimal,
			Volume:      volume,
			VolumeAvg:   volume,
			Provisional: true,
		})
		if err != nil {
			return result, fmt.Errorf("create candle %s: %w", m.Symbol, err)
		}
		if inserted {
			result.Created++
		}
	}

	if result.Excluded > 0 {
		if _, err := f.Catalog.Load(ctx); err != nil {
			return result, err
		}
	}
	return result, nil
}

// BackfillResult counts the outcome of one market backfill.
type BackfillResult struct {
	Inserted int
	Batches  int
	Missing  int
	Excluded bool
}

// Backfill inserts the hourly candles missing between the last stored candle (or the
// exchange start date) and the last complete hour. Running it again inserts nothing new.
func (f *Feed) Backfill(ctx context.Context, exchange *model.Exchange, market *model.Market) (BackfillResult, error) {
	var result BackfillResult

	if exchange.OHLCVLimit <= 0 {
		return result, fmt.Errorf("%s: %w", exchange.Name, ErrMissingOHLCVLimit)
	}
	if exchange.StartDate == nil {
		return result, fmt.Errorf("%s: %w", exchange.Name, ErrMissingStartDate)
	}

	cutoff := utils.LastCompleteHour(f.now())
	from, err := f.backfillStart(ctx, exchange, market)
	if err != nil {
		return result, err
	}
	if from.After(cutoff) {
		return result, nil
	}

	missing, err := f.missingHours(ctx, market.ID, from, cutoff)
	if err != nil {
		return result, err
	}
	if len(missing) == 0 {
		return result, nil
	}

	client, err := f.Clients(exchange)
	if err != nil {
		return result, err
	}
	log := f.Log.WithFields(map[string]interface{}{"exchange": exchange.Name, "market": market.Symbol})

	limit := exchange.OHLCVLimit
	end := cutoff
	for len(missing) > 0 && !end.Before(from) {
		since := end.Add(-time.Duration(limit-1) * time.Hour)
		if since.Before(from) {
			since = from
		}

		bars, err := credit.Fetch(ctx, f.Gate, exchange, market.Wallet, 1, func(ctx context.Context) ([]connectors.OHLCV, error) {
			return client.FetchOHLCV(ctx, market.Symbol, timeframe, since, limit)
		})
		if err != nil {
			if connectors.KindOf(err) == connectors.FaultBadSymbol {
				result.Excluded = true
				return result, f.excludeMarket(ctx, exchange.Name, market, "unknown symbol")
			}
			return result, fmt.Errorf("fetch ohlcv %s: %w", market.Symbol, err)
		}
		result.Batches++

		inserted, err := f.insertBars(ctx, exchange.Name, market, bars, cutoff, missing)
		if err != nil {
			return result, err
		}
		result.Inserted += inserted

		log.WithFields(map[string]interface{}{
			"since":    since,
			"bars":     len(bars),
			"inserted": inserted,
			"missing":  len(missing),
		}).Debug("backfill batch")

		if inserted == 0 {
			break
		}
		end = since.Add(-time.Hour)
	}
	result.Missing = len(missing)

	if _, stillMissing := missing[cutoff]; stillMissing && market.Active && !market.Excluded {
		result.Excluded = true
		if err := f.excludeMarket(ctx, exchange.Name, market, "missing expected candle"); err != nil {
			return result, err
		}
	}
	return result, nil
}

// backfillStart is the hour after the last stored candle, or the later of the exchange
// start date and the market listing date.
func (f *Feed) backfillStart(ctx context.Context, exchange *model.Exchange, market *model.Market) (time.Time, error) {
	last, err := f.Candles.LastHour(ctx, market.ID)
	if err != nil {
		return time.Time{}, fmt.Errorf("last candle %s: %w", market.Symbol, err)
	}
	if last != nil {
		return last.Add(time.Hour), nil
	}

	start := utils.CurrentHour(*exchange.StartDate)
	if market.ListingDate != nil {
		listing := utils.CurrentHour(*market.ListingDate)
		if listing.After(start) {
			start = listing
		}
	}
	return start, nil
}

func (f *Feed) missingHours(ctx context.Context, marketID uint, from, to time.Time) (map[time.Time]struct{}, error) {
	have, err := f.Candles.HoursBetween(ctx, marketID, from, to)
	if err != nil {
		return nil, fmt.Errorf("stored candle hours: %w", err)
	}
	stored := make(map[time.Time]struct{}, len(have))
	for _, h := range have {
		stored[h.UTC()] = struct{}{}
	}

	missing := map[time.Time]struct{}{}
	for _, h := range utils.HourRange(from, to) {
		if _, ok := stored[h]; !ok {
			missing[h] = struct{}{}
		}
	}
	return missing, nil
}

// insertBars stores the usable bars of a batch and removes their hours from missing.
func (f *Feed) insertBars(ctx context.Context, exchange string, market *model.Market, bars []connectors.OHLCV, cutoff time.Time, missing map[time.Time]struct{}) (int, error) {
	volumes := map[time.Time]decimal.Decimal{}
	closes := map[time.Time]decimal.Decimal{}
	for _, bar := range bars {
		if !bar.Close.Valid || !bar.Volume.Valid {
			continue
		}
		hour := utils.CurrentHour(bar.Timestamp)
		if hour.After(cutoff) {
			continue
		}
		v, ok, err := f.Normalizer.ConvertVolume(exchange, market, bar)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		volumes[hour] = v
		closes[hour] = bar.Close.Decimal
	}

	inserted := 0
	for hour, volume := range volumes {
		if _, ok := missing[hour]; !ok {
			continue
		}
		created, err := f.Candles.CreateIfAbsent(ctx, &model.Candle{
			MarketID:  market.ID,
			Hour:      hour,
			Close:     closes[hour],
			Volume:    volume,
			VolumeAvg: trailingAverage(volumes, hour),
		})
		if err != nil {
			return inserted, fmt.Errorf("insert candle %s %s: %w", market.Symbol, hour, err)
		}
		delete(missing, hour)
		if created {
			inserted++
		}
	}
	return inserted, nil
}

// trailingAverage is the mean volume of the hours in (hour-24h, hour] present in volumes.
func trailingAverage(volumes map[time.Time]decimal.Decimal, hour time.Time) decimal.Decimal {
	sum := decimal.Zero
	n := 0
	for h := hour.Add(-23 * time.Hour); !h.After(hour); h = h.Add(time.Hour) {
		if v, ok := volumes[h]; ok {
			sum = sum.Add(v)
			n++
		}
	}
	if n == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}
