package connectors

import (
	"fmt"
	"sort"
	"sync"

	"marketrouter/src/model"
)

// Factory builds a client for one exchange with optional credentials.
type Factory func(exchange *model.Exchange, creds Credentials) (ExchangeClient, error)

// Registry keeps the client factories keyed by exchange id.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	public    map[string]ExchangeClient
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}, public: map[string]ExchangeClient{}}
}

// DefaultRegistry registers the built-in clients.
func DefaultRegistry(cfg Config) *Registry {
	r := NewRegistry()
	r.Register(BinanceID, func(exchange *model.Exchange, creds Credentials) (ExchangeClient, error) {
		return NewBinanceClient(creds, BinanceOptions{
			SpotURL:    cfg.BinanceSpotURL,
			FuturesURL: cfg.BinanceFuturesURL,
			Testnet:    cfg.BinanceTestnet,
			Timeout:    exchange.Timeout(),
		}), nil
	})
	r.Register(KrakenFuturesID, func(exchange *model.Exchange, creds Credentials) (ExchangeClient, error) {
		return NewKrakenFuturesClient(creds.APIKey, creds.APISecret, KrakenOptions{
			BaseURL:   cfg.KrakenFuturesURL,
			ChartsURL: cfg.KrakenChartsURL,
			WSURL:     cfg.KrakenWSURL,
			Timeout:   exchange.Timeout(),
		}), nil
	})
	return r
}

func (r *Registry) Register(id string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = f
	delete(r.public, id)
}

// NewClient builds the client for exchange. Unknown exchange ids are a configuration error.
func (r *Registry) NewClient(exchange *model.Exchange, creds Credentials) (ExchangeClient, error) {
	r.mu.RLock()
	f, ok := r.factories[exchange.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no client registered for exchange %q", exchange.Name)
	}
	return f(exchange, creds)
}

// Public returns the shared credential-less client of an exchange, building it on first use.
func (r *Registry) Public(exchange *model.Exchange) (ExchangeClient, error) {
	r.mu.RLock()
	c, ok := r.public[exchange.Name]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	c, err := r.NewClient(exchange, Credentials{})
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.public[exchange.Name]; ok {
		return existing, nil
	}
	r.public[exchange.Name] = c
	return c, nil
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
