package catalog

import (
	"context"
	"fmt"
	"os"
	"time"

	"marketrouter/src/model"

	"gopkg.in/yaml.v3"
)

// ExchangeSeed is one exchange definition of the seed file.
type ExchangeSeed struct {
	Name               string         `yaml:"name"`
	Enabled            bool           `yaml:"enabled"`
	HasFetchTickers    bool           `yaml:"has_fetch_tickers"`
	HasFetchOHLCV      bool           `yaml:"has_fetch_ohlcv"`
	HasFetchOpenOrders bool           `yaml:"has_fetch_open_orders"`
	HasFetchPositions  bool           `yaml:"has_fetch_positions"`
	HasTransfer        bool           `yaml:"has_transfer"`
	HasWatchOrderBook  bool           `yaml:"has_watch_order_book"`
	Wallets            []model.Wallet `yaml:"wallets"`
	RateLimit          struct {
		Requests  int           `yaml:"requests"`
		Window    time.Duration `yaml:"window"`
		PerWallet bool          `yaml:"per_wallet"`
	} `yaml:"rate_limit"`
	Timeout    time.Duration `yaml:"timeout"`
	OHLCVLimit int           `yaml:"ohlcv_limit"`
	StartDate  string        `yaml:"start_date"`
}

type seedFile struct {
	Exchanges []ExchangeSeed `yaml:"exchanges"`
}

// LoadSeeds reads the exchange definitions from a YAML file.
func LoadSeeds(path string) ([]ExchangeSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read exchanges file: %w", err)
	}

	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse exchanges file: %w", err)
	}
	return file.Exchanges, nil
}

// Exchange converts the seed into an exchange record.
func (s ExchangeSeed) Exchange() (*model.Exchange, error) {
	if s.Name == "" {
		return nil, &ConfigError{Exchange: "?", Reason: "exchange without name"}
	}
	e := &model.Exchange{
		Name:               s.Name,
		Enabled:            s.Enabled,
		HasFetchTickers:    s.HasFetchTickers,
		HasFetchOHLCV:      s.HasFetchOHLCV,
		HasFetchOpenOrders: s.HasFetchOpenOrders,
		HasFetchPositions:  s.HasFetchPositions,
		HasTransfer:        s.HasTransfer,
		HasWatchOrderBook:  s.HasWatchOrderBook,
		Wallets:            s.Wallets,
		RateLimitRequests:  s.RateLimit.Requests,
		RateLimitWindowMs:  s.RateLimit.Window.Milliseconds(),
		RateLimitPerWallet: s.RateLimit.PerWallet,
		TimeoutMs:          s.Timeout.Milliseconds(),
		OHLCVLimit:         s.OHLCVLimit,
		Status:             model.ExchangeStatusOK,
	}
	if s.StartDate != "" {
		start, err := time.Parse("2006-01-02", s.StartDate)
		if err != nil {
			return nil, &ConfigError{Exchange: s.Name, Reason: fmt.Sprintf("invalid start_date %q", s.StartDate)}
		}
		e.StartDate = &start
	}
	return e, nil
}

// SeedExchanges upserts the exchanges defined in the YAML file at path.
func SeedExchanges(ctx context.Context, store ExchangeStore, path string) ([]*model.Exchange, error) {
	seeds, err := LoadSeeds(path)
	if err != nil {
		return nil, err
	}

	out := make([]*model.Exchange, 0, len(seeds))
	for _, seed := range seeds {
		exchange, err := seed.Exchange()
		if err != nil {
			return out, err
		}
		if err := store.Upsert(ctx, exchange); err != nil {
			return out, fmt.Errorf("seed exchange %s: %w", exchange.Name, err)
		}
		out = append(out, exchange)
	}
	return out, nil
}
