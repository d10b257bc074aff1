package candles

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"marketrouter/src/app"
	"marketrouter/src/tasks"

	logger "github.com/sirupsen/logrus"
)

type Candles struct {
	Log    *logger.Entry
	Config *Config
}

// Start backfills the hourly candles of every tradable market, once or at every hour.
func (c *Candles) Start() error {
	c.Config = GetConfig()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Bootstrap()
	if err != nil {
		c.Log.WithError(err).Error("Failed to bootstrap")
		return err
	}
	if _, err := a.Catalog.Load(ctx); err != nil {
		c.Log.WithError(err).Error("Failed to load catalog")
		return err
	}

	if c.Config.Hourly {
		return a.Runner.RunNowAndHourly(ctx, tasks.UnitCandles, a.Runner.CandlesBackfill)
	}
	report := a.Runner.CandlesBackfill(ctx)
	c.Log.WithField("exchanges", report.Succeeded()).Info("backfill finished")
	return report.Err()
}
