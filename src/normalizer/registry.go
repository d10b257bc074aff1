package normalizer

import (
	"errors"
	"fmt"
	"sync"
)

var ErrNoRules = errors.New("no normalization rules for exchange")

// Registry maps exchange ids to their rules.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]Rules
}

func NewRegistry() *Registry {
	return &Registry{rules: map[string]Rules{}}
}

// DefaultRegistry holds the built-in exchange rules.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("binance", binanceRules{})
	r.Register("okx", okxRules{})
	r.Register("bybit", bybitRules{})
	r.Register("krakenfutures", krakenFuturesRules{})
	return r
}

func (r *Registry) Register(exchange string, rules Rules) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[exchange] = rules
}

func (r *Registry) Rules(exchange string) (Rules, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rules, ok := r.rules[exchange]
	if !ok {
		return nil, fmt.Errorf("%s: %w", exchange, ErrNoRules)
	}
	return rules, nil
}
