package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketrouter/src/connectors"
	"marketrouter/src/credit"
	"marketrouter/src/model"

	"golang.org/x/time/rate"
)

var ErrMarketUnavailable = errors.New("market is not tradable")

// FetchBook fetches one order book snapshot through the gate and stores its ladder.
func (f *Feed) FetchBook(ctx context.Context, exchange *model.Exchange, market *model.Market) (*Ladder, error) {
	client, err := f.Clients(exchange)
	if err != nil {
		return nil, err
	}
	book, err := credit.Fetch(ctx, f.Gate, exchange, market.Wallet, 1, func(ctx context.Context) (*connectors.OrderBook, error) {
		return client.FetchOrderBook(ctx, market.Symbol, f.depth())
	})
	if err != nil {
		if connectors.KindOf(err) == connectors.FaultBadSymbol {
			if exErr := f.excludeMarket(ctx, exchange.Name, market, "unknown symbol"); exErr != nil {
				return nil, exErr
			}
		}
		return nil, fmt.Errorf("fetch order book %s: %w", market.Symbol, err)
	}

	ladder := NewLadder(market.ID, *book)
	f.Books.Set(ladder)
	return ladder, nil
}

func (f *Feed) depth() int {
	if f.Config.BookDepth <= 0 {
		return 50
	}
	return f.Config.BookDepth
}

// StreamOrderBook emits the ladder of a market on every book update until ctx is done.
// The stream reconnects on its own after failures, paced by the reconnect rate; exchanges
// without a websocket book are polled through the gate. Every connection reads the exchange
// and market from the latest catalog snapshot, so streams pause while the exchange is
// inactive and resume when it recovers. Consumers that fall behind only see the latest
// ladder. The channel is closed when ctx is done.
func (f *Feed) StreamOrderBook(ctx context.Context, exchange *model.Exchange, market *model.Market) <-chan *Ladder {
	out := make(chan *Ladder, 1)

	go func() {
		defer close(out)
		log := f.Log.WithFields(map[string]interface{}{"exchange": exchange.Name, "market": market.Symbol})

		every := f.Config.ReconnectEvery
		if every <= 0 {
			every = 5 * time.Second
		}
		burst := f.Config.ReconnectBurst
		if burst <= 0 {
			burst = 1
		}
		limiter := rate.NewLimiter(rate.Every(every), burst)

		emit := func(l *Ladder) {
			f.Books.Set(l)
			select {
			case <-out:
			default:
			}
			select {
			case out <- l:
			case <-ctx.Done():
			}
		}

		for {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			err := f.runStream(ctx, exchange.Name, market.ID, emit)
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, credit.ErrExchangeInactive) || errors.Is(err, ErrMarketUnavailable) {
				log.WithError(err).Debug("order book stream paused")
				continue
			}
			log.WithError(err).Warn("order book stream stopped, reconnecting")
		}
	}()

	return out
}

// current returns the latest catalog view of a streamed exchange and market.
func (f *Feed) current(exchange string, marketID uint) (*model.Exchange, *model.Market, error) {
	snap := f.Catalog.Snapshot()
	e, ok := snap.Exchange(exchange)
	if !ok || !e.IsActive() {
		return nil, nil, fmt.Errorf("%s: %w", exchange, credit.ErrExchangeInactive)
	}
	m, ok := snap.MarketByID(marketID)
	if !ok || !m.Tradable() {
		return nil, nil, fmt.Errorf("%s market %d: %w", exchange, marketID, ErrMarketUnavailable)
	}
	return e, m, nil
}

func (f *Feed) runStream(ctx context.Context, exchangeName string, marketID uint, emit func(*Ladder)) error {
	exchange, market, err := f.current(exchangeName, marketID)
	if err != nil {
		return err
	}
	if !exchange.HasWatchOrderBook {
		return f.pollBook(ctx, exchangeName, marketID, emit)
	}

	client, err := f.Clients(exchange)
	if err != nil {
		return err
	}
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	err = client.WatchOrderBook(watchCtx, market.Symbol, f.depth(), func(book connectors.OrderBook) {
		if _, _, err := f.current(exchangeName, marketID); err != nil {
			cancel()
			return
		}
		emit(NewLadder(market.ID, book))
	})
	if ctx.Err() == nil && watchCtx.Err() != nil {
		if _, _, cerr := f.current(exchangeName, marketID); cerr != nil {
			return cerr
		}
	}
	return err
}

// pollBook fetches the book at the poll interval. Denied credit skips a tick.
func (f *Feed) pollBook(ctx context.Context, exchangeName string, marketID uint, emit func(*Ladder)) error {
	interval := f.Config.BookPollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		exchange, market, err := f.current(exchangeName, marketID)
		if err != nil {
			return err
		}
		ladder, err := f.FetchBook(ctx, exchange, market)
		switch {
		case err == nil:
			emit(ladder)
		case errors.Is(err, credit.ErrCreditExhausted):
		default:
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
