package tickers

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"marketrouter/src/app"
	"marketrouter/src/tasks"

	logger "github.com/sirupsen/logrus"
)

type Tickers struct {
	Log *logger.Entry
}

// Start refreshes tickers and live candles now and at every top of the hour.
func (t *Tickers) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Bootstrap()
	if err != nil {
		t.Log.WithError(err).Error("Failed to bootstrap")
		return err
	}
	if _, err := a.Catalog.Load(ctx); err != nil {
		t.Log.WithError(err).Error("Failed to load catalog")
		return err
	}
	return a.Runner.RunNowAndHourly(ctx, tasks.UnitTickers, a.Runner.TickersRefresh)
}
