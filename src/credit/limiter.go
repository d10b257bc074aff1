package credit

import (
	"sync"
	"time"

	"marketrouter/src/model"
)

// Budget is the number of request credits an exchange grants per rolling window.
type Budget struct {
	Requests  int
	Window    time.Duration
	PerWallet bool
}

func BudgetOf(exchange *model.Exchange) Budget {
	return Budget{
		Requests:  exchange.RateLimitRequests,
		Window:    exchange.RateLimitWindow(),
		PerWallet: exchange.RateLimitPerWallet,
	}
}

type bucketKey struct {
	exchange string
	wallet   model.Wallet
}

type charge struct {
	at     time.Time
	weight int
}

// Limiter tracks a rolling credit budget per exchange, or per exchange and wallet when the
// exchange limits each product type separately. It never blocks.
type Limiter struct {
	mu      sync.Mutex
	now     func() time.Time
	budgets map[string]Budget
	charges map[bucketKey][]charge
}

func NewLimiter() *Limiter {
	return &Limiter{
		now:     time.Now,
		budgets: map[string]Budget{},
		charges: map[bucketKey][]charge{},
	}
}

// Configure sets the budget of an exchange. A budget without requests removes it.
func (l *Limiter) Configure(exchange string, b Budget) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b.Requests <= 0 || b.Window <= 0 {
		delete(l.budgets, exchange)
		return
	}
	l.budgets[exchange] = b
}

// ConfigureExchange takes the budget from the exchange record.
func (l *Limiter) ConfigureExchange(exchange *model.Exchange) {
	l.Configure(exchange.Name, BudgetOf(exchange))
}

// TryAcquire consumes weight credits if they fit in the current window.
// Exchanges without a budget are always denied.
func (l *Limiter) TryAcquire(exchange string, wallet model.Wallet, weight int) bool {
	if weight <= 0 {
		weight = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.budgets[exchange]
	if !ok {
		return false
	}
	key, now := l.key(exchange, wallet, b), l.now()
	used := l.used(key, b, now)
	if used+weight > b.Requests {
		return false
	}
	l.charges[key] = append(l.charges[key], charge{at: now, weight: weight})
	return true
}

// RecordCall charges weight reported after a call, e.g. an endpoint heavier than granted.
// It may push usage past the budget; further acquisitions are denied until the window rolls.
func (l *Limiter) RecordCall(exchange string, wallet model.Wallet, weight int) {
	if weight <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.budgets[exchange]
	if !ok {
		return
	}
	key := l.key(exchange, wallet, b)
	l.charges[key] = append(l.charges[key], charge{at: l.now(), weight: weight})
}

// Available returns the remaining credits in the current window.
func (l *Limiter) Available(exchange string, wallet model.Wallet) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.budgets[exchange]
	if !ok {
		return 0
	}
	left := b.Requests - l.used(l.key(exchange, wallet, b), b, l.now())
	if left < 0 {
		return 0
	}
	return left
}

func (l *Limiter) key(exchange string, wallet model.Wallet, b Budget) bucketKey {
	if !b.PerWallet {
		wallet = ""
	}
	return bucketKey{exchange: exchange, wallet: wallet}
}

// used drops charges that left the window and sums the rest. Callers hold l.mu.
func (l *Limiter) used(key bucketKey, b Budget, now time.Time) int {
	charges := l.charges[key]
	cutoff := now.Add(-b.Window)
	i := 0
	for i < len(charges) && !charges[i].at.After(cutoff) {
		i++
	}
	charges = charges[i:]
	l.charges[key] = charges

	sum := 0
	for _, c := range charges {
		sum += c.weight
	}
	return sum
}
