package trader

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"marketrouter/src/app"
	"marketrouter/src/auth"
	"marketrouter/src/security"
	"marketrouter/src/server"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Trader struct {
	Log    *logger.Entry
	Config *Config
}

// Start runs the account control loops, and the status API when enabled, until interrupted.
func (t *Trader) Start() error {
	t.Config = GetConfig()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := security.CheckKey(); err != nil {
		t.Log.WithError(err).Error("Exchange credentials key unusable")
		return err
	}
	a, err := app.Bootstrap()
	if err != nil {
		t.Log.WithError(err).Error("Failed to bootstrap")
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.RunTrader(ctx) })
	if t.Config.Serve {
		router := server.NewRouter(server.Deps{Catalog: a.Catalog, Plans: a.Board, Orders: a.Orders}, auth.GetConfig().APITokenHash)
		g.Go(func() error { return server.StartServer(ctx, server.GetConfig().Port, router) })
	}
	if err := g.Wait(); err != nil {
		t.Log.WithError(err).Error("trader stopped")
		return err
	}
	return nil
}
