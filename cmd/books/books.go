package books

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"marketrouter/src/app"

	logger "github.com/sirupsen/logrus"
)

type Books struct {
	Log *logger.Entry
}

// Start streams the order books listed in BOOK_MARKETS until interrupted.
func (b *Books) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Bootstrap()
	if err != nil {
		b.Log.WithError(err).Error("Failed to bootstrap")
		return err
	}
	if _, err := a.Catalog.Load(ctx); err != nil {
		b.Log.WithError(err).Error("Failed to load catalog")
		return err
	}
	return a.StreamBooks(ctx)
}
