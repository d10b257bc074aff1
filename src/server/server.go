package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"marketrouter/src/auth"
	"marketrouter/src/handler"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"
)

// Deps are the read-only views the status API serves.
type Deps struct {
	Catalog handler.SnapshotSource
	Plans  handler.PlanSource
	Orders handler.OrderSearcher
}

// NewRouter builds the status API routes.
func NewRouter(deps Deps, tokenHash string) http.Handler {
	r := chi.NewRouter()

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/health error")
		}
	})

	// Operator routes
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireToken(tokenHash))
		r.Get("/exchanges", handler.ExchangesHandler(deps.Catalog))
		r.Get("/accounts/{id}/routes", handler.RoutesHandler(deps.Plans))
		r.Get("/accounts/{id}/orders", handler.SearchOrdersHandler(deps.Orders))
	})
	return r
}

// StartServer serves the status API until ctx is done, then shuts down gracefully.
func StartServer(ctx context.Context, port string, h http.Handler) error {
	addr := ":" + port
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("Server crashed")
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
		return err
	}
	return nil
}
