package markets

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"marketrouter/src/app"
	"marketrouter/src/tasks"

	logger "github.com/sirupsen/logrus"
)

type Markets struct {
	Log    *logger.Entry
	Config *Config
}

// Start seeds the exchanges and refreshes their currencies and markets.
func (m *Markets) Start() error {
	m.Config = GetConfig()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Bootstrap()
	if err != nil {
		m.Log.WithError(err).Error("Failed to bootstrap")
		return err
	}
	if err := a.Seed(ctx); err != nil {
		m.Log.WithError(err).Error("Failed to seed exchanges")
		return err
	}

	if m.Config.Hourly {
		return a.Runner.RunNowAndHourly(ctx, tasks.UnitMarkets, a.Runner.MarketsRefresh)
	}
	return a.Runner.MarketsRefresh(ctx).Err()
}
