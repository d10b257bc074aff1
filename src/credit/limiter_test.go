package credit

import (
	"testing"
	"time"

	"marketrouter/src/model"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter() (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)}
	l := NewLimiter()
	l.now = clock.now
	return l, clock
}

func TestLimiterNeverExceedsBudget(t *testing.T) {
	l, clock := newTestLimiter()
	l.Configure("binance", Budget{Requests: 3, Window: time.Minute})

	granted := 0
	for i := 0; i < 10; i++ {
		if l.TryAcquire("binance", model.WalletSpot, 1) {
			granted++
		}
		clock.advance(time.Second)
	}
	assert.Equal(t, 3, granted)
	assert.Equal(t, 0, l.Available("binance", model.WalletSpot))

	// still inside the window of the first grant
	clock.advance(40 * time.Second)
	assert.False(t, l.TryAcquire("binance", model.WalletSpot, 1))

	// the first grant (t=0) leaves the window at t=60s
	clock.advance(10 * time.Second)
	assert.True(t, l.TryAcquire("binance", model.WalletSpot, 1))
}

func TestLimiterWeight(t *testing.T) {
	l, _ := newTestLimiter()
	l.Configure("binance", Budget{Requests: 10, Window: time.Minute})

	assert.True(t, l.TryAcquire("binance", model.WalletSpot, 6))
	assert.False(t, l.TryAcquire("binance", model.WalletSpot, 5))
	assert.True(t, l.TryAcquire("binance", model.WalletSpot, 4))

	l.Configure("okx", Budget{Requests: 10, Window: time.Minute})
	assert.True(t, l.TryAcquire("okx", model.WalletSpot, 2))
	l.RecordCall("okx", model.WalletSpot, 9)
	assert.Equal(t, 0, l.Available("okx", model.WalletSpot))
	assert.False(t, l.TryAcquire("okx", model.WalletSpot, 1))
}

func TestLimiterPerWallet(t *testing.T) {
	l, _ := newTestLimiter()
	l.Configure("binance", Budget{Requests: 1, Window: time.Minute, PerWallet: true})
	l.Configure("kraken", Budget{Requests: 1, Window: time.Minute})

	assert.True(t, l.TryAcquire("binance", model.WalletSpot, 1))
	assert.True(t, l.TryAcquire("binance", model.WalletFuture, 1))
	assert.False(t, l.TryAcquire("binance", model.WalletSpot, 1))

	assert.True(t, l.TryAcquire("kraken", model.WalletSpot, 1))
	assert.False(t, l.TryAcquire("kraken", model.WalletFuture, 1))
}

func TestLimiterUnconfiguredIsDenied(t *testing.T) {
	l, _ := newTestLimiter()
	assert.False(t, l.TryAcquire("unknown", model.WalletSpot, 1))

	l.Configure("binance", Budget{Requests: 5, Window: time.Minute})
	l.Configure("binance", Budget{})
	assert.False(t, l.TryAcquire("binance", model.WalletSpot, 1))
}

func TestBudgetOf(t *testing.T) {
	b := BudgetOf(&model.Exchange{RateLimitRequests: 1200, RateLimitPerWallet: true})
	assert.Equal(t, 1200, b.Requests)
	assert.Equal(t, time.Minute, b.Window)
	assert.True(t, b.PerWallet)
}
