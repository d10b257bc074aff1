package credit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"marketrouter/src/connectors"
	"marketrouter/src/model"

	logger "github.com/sirupsen/logrus"
)

var (
	ErrExchangeInactive = errors.New("exchange is not active")
	ErrCreditExhausted  = errors.New("exchange credit exhausted")
)

// RetryError is returned when every attempt failed with a transient fault.
type RetryError struct {
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

// Gate runs exchange calls under the credit budget, the exchange timeout and the retry policy.
type Gate struct {
	Limiter *Limiter
	Backoff Backoff
	Log     *logger.Entry

	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewGate(limiter *Limiter) *Gate {
	return &Gate{
		Limiter: limiter,
		Backoff: DefaultBackoff(),
		Log:     logger.WithField("component", "credit_gate"),
		sleep:   sleepContext,
		locks:   map[string]*sync.Mutex{},
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Serialize locks the exchange and returns the unlock function.
func (g *Gate) Serialize(exchange string) func() {
	g.mu.Lock()
	m, ok := g.locks[exchange]
	if !ok {
		m = &sync.Mutex{}
		g.locks[exchange] = m
	}
	g.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Call runs fn against an active exchange. Inactive exchanges are rejected without calling fn.
func (g *Gate) Call(ctx context.Context, exchange *model.Exchange, wallet model.Wallet, weight int, fn func(ctx context.Context) error) error {
	if !exchange.IsActive() {
		return fmt.Errorf("%s: %w", exchange.Name, ErrExchangeInactive)
	}
	return g.call(ctx, exchange, wallet, weight, fn)
}

// CallAny is Call without the active check, for status polls.
func (g *Gate) CallAny(ctx context.Context, exchange *model.Exchange, wallet model.Wallet, weight int, fn func(ctx context.Context) error) error {
	return g.call(ctx, exchange, wallet, weight, fn)
}

func (g *Gate) call(ctx context.Context, exchange *model.Exchange, wallet model.Wallet, weight int, fn func(ctx context.Context) error) error {
	g.Limiter.ConfigureExchange(exchange)

	attempts := g.Backoff.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	log := g.Log.WithFields(map[string]interface{}{"exchange": exchange.Name, "wallet": wallet})

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !g.Limiter.TryAcquire(exchange.Name, wallet, weight) {
			if lastErr != nil {
				return fmt.Errorf("%s: %w after %d attempts: %v", exchange.Name, ErrCreditExhausted, attempt-1, lastErr)
			}
			return fmt.Errorf("%s: %w", exchange.Name, ErrCreditExhausted)
		}

		lastErr = g.attempt(ctx, exchange, fn)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !connectors.IsTransient(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		delay := g.Backoff.Delay(attempt - 1)
		log.WithError(lastErr).WithFields(map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("transient exchange fault, retrying")
		if err := g.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return &RetryError{Attempts: attempts, Err: lastErr}
}

func (g *Gate) attempt(ctx context.Context, exchange *model.Exchange, fn func(ctx context.Context) error) error {
	unlock := g.Serialize(exchange.Name)
	defer unlock()

	callCtx, cancel := context.WithTimeout(ctx, exchange.Timeout())
	defer cancel()

	err := fn(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && connectors.KindOf(err) != connectors.FaultTimeout {
		return connectors.NewFault(connectors.FaultTimeout, exchange.Name, "call", err)
	}
	return err
}

// Fetch is Call for functions that return a value.
func Fetch[T any](ctx context.Context, g *Gate, exchange *model.Exchange, wallet model.Wallet, weight int, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := g.Call(ctx, exchange, wallet, weight, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// FetchAny is CallAny for functions that return a value.
func FetchAny[T any](ctx context.Context, g *Gate, exchange *model.Exchange, wallet model.Wallet, weight int, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := g.CallAny(ctx, exchange, wallet, weight, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
