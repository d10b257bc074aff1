package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketrouter/src/app"
	"marketrouter/src/auth"
	"marketrouter/src/logging"
	"marketrouter/src/security"
	"marketrouter/src/server"
	"marketrouter/src/tasks"

	"github.com/joho/godotenv"
	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// main runs the whole service in one process: catalog and candle tasks, the account control
// loops and the status API.
func main() {
	_ = godotenv.Load()
	closer := logging.Setup(logging.GetConfig())
	defer closer.Close()
	defer handlePanic()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := security.CheckKey(); err != nil {
		logger.WithError(err).Fatal("Exchange credentials key unusable")
	}
	a, err := app.Bootstrap()
	if err != nil {
		logger.WithError(err).Fatal("Failed to bootstrap")
	}
	if err := a.Seed(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to seed exchanges")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Runner.RunNowAndHourly(ctx, tasks.UnitMarkets, a.Runner.MarketsRefresh) })
	g.Go(func() error { return a.Runner.RunNowAndHourly(ctx, tasks.UnitCandles, a.Runner.CandlesBackfill) })
	g.Go(func() error { return a.RunTrader(ctx) })
	g.Go(func() error {
		router := server.NewRouter(server.Deps{Catalog: a.Catalog, Plans: a.Board, Orders: a.Orders}, auth.GetConfig().APITokenHash)
		return server.StartServer(ctx, server.GetConfig().Port, router)
	})
	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("service stopped")
	}
}

func handlePanic() {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error(fmt.Sprintf("Application %s panic", app.GetConfig().ServiceName))
		//nolint
		time.Sleep(time.Second * 5)
	}
}
