package catalog

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"marketrouter/src/model"
)

type ExchangeStore interface {
	List(ctx context.Context) ([]model.Exchange, error)
	FindByName(ctx context.Context, name string) (*model.Exchange, error)
	Upsert(ctx context.Context, exchange *model.Exchange) error
	UpdateStatus(ctx context.Context, id uint, status model.ExchangeStatus, at time.Time, eta *time.Time) error
}

type CurrencyStore interface {
	List(ctx context.Context) ([]model.Currency, error)
	Upsert(ctx context.Context, currency *model.Currency) error
	LinkExchange(ctx context.Context, currency *model.Currency, exchange *model.Exchange) error
	CountQuoteEligible(ctx context.Context) (int64, error)
}

type MarketStore interface {
	List(ctx context.Context) ([]model.Market, error)
	Upsert(ctx context.Context, market *model.Market) error
	DeactivateMissing(ctx context.Context, exchangeID uint, keepIDs []uint) (int64, error)
	MarkExcluded(ctx context.Context, id uint, reason string) error
}

// Catalog publishes snapshots of the stored exchanges, currencies and markets.
type Catalog struct {
	Exchanges  ExchangeStore
	Currencies CurrencyStore
	Markets    MarketStore

	current atomic.Pointer[Snapshot]
}

func New(exchanges ExchangeStore, currencies CurrencyStore, markets MarketStore) *Catalog {
	return &Catalog{Exchanges: exchanges, Currencies: currencies, Markets: markets}
}

// Load reads the store and publishes a new snapshot.
func (c *Catalog) Load(ctx context.Context) (*Snapshot, error) {
	exchanges, err := c.Exchanges.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load exchanges: %w", err)
	}
	currencies, err := c.Currencies.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load currencies: %w", err)
	}
	markets, err := c.Markets.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load markets: %w", err)
	}

	s := NewSnapshot(exchanges, currencies, markets)
	c.current.Store(s)
	return s, nil
}

// Snapshot returns the latest published snapshot, empty before the first Load.
func (c *Catalog) Snapshot() *Snapshot {
	if s := c.current.Load(); s != nil {
		return s
	}
	return NewSnapshot(nil, nil, nil)
}
