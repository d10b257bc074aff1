package model

import (
	"time"
)

type ExchangeStatus string

const (
	ExchangeStatusOK          ExchangeStatus = "ok"
	ExchangeStatusMaintenance ExchangeStatus = "maintenance"
	ExchangeStatusShutdown    ExchangeStatus = "shutdown"
	ExchangeStatusError       ExchangeStatus = "error"
)

// Wallet is an exchange-side sub-account with independent balances.
type Wallet string

const (
	WalletSpot     Wallet = "spot"
	WalletMargin   Wallet = "margin"
	WalletFuture   Wallet = "future"
	WalletDelivery Wallet = "delivery"
	WalletSwap     Wallet = "swap"
)

// IsDerivative reports whether the wallet holds derivative positions.
func (w Wallet) IsDerivative() bool {
	return w == WalletFuture || w == WalletDelivery || w == WalletSwap
}

const (
	defaultExchangeTimeout = 30 * time.Second
	defaultRateLimitWindow = time.Minute
)

// Exchange holds the capabilities, limits and status of one exchange.
type Exchange struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"size:50;not null;uniqueIndex" json:"name"`

	HasFetchTickers    bool `json:"has_fetch_tickers"`
	HasFetchOHLCV      bool `gorm:"column:has_fetch_ohlcv" json:"has_fetch_ohlcv"`
	HasFetchOpenOrders bool `json:"has_fetch_open_orders"`
	HasFetchPositions  bool `json:"has_fetch_positions"`
	HasTransfer        bool `json:"has_transfer"`
	HasWatchOrderBook  bool `json:"has_watch_order_book"`

	Wallets []Wallet `gorm:"serializer:json;type:text" json:"wallets"`

	RateLimitRequests  int   `json:"rate_limit_requests"`
	RateLimitWindowMs  int64 `json:"rate_limit_window_ms"`
	RateLimitPerWallet bool  `json:"rate_limit_per_wallet"`
	TimeoutMs          int64 `json:"timeout_ms"`
	OHLCVLimit         int   `gorm:"column:ohlcv_limit" json:"ohlcv_limit"`

	// StartDate is the earliest hour the candle backfill goes back to.
	StartDate *time.Time `json:"start_date,omitempty"`

	Enabled   bool           `json:"enabled"`
	Status    ExchangeStatus `gorm:"size:20;not null;default:ok" json:"status"`
	StatusAt  *time.Time     `json:"status_at,omitempty"`
	StatusETA *time.Time     `gorm:"column:status_eta" json:"status_eta,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether new API calls may be scheduled against the exchange.
func (e *Exchange) IsActive() bool {
	return e != nil && e.Enabled && e.Status == ExchangeStatusOK
}

func (e *Exchange) SupportsWallet(w Wallet) bool {
	for _, supported := range e.Wallets {
		if supported == w {
			return true
		}
	}
	return false
}

func (e *Exchange) Timeout() time.Duration {
	if e.TimeoutMs <= 0 {
		return defaultExchangeTimeout
	}
	return time.Duration(e.TimeoutMs) * time.Millisecond
}

func (e *Exchange) RateLimitWindow() time.Duration {
	if e.RateLimitWindowMs <= 0 {
		return defaultRateLimitWindow
	}
	return time.Duration(e.RateLimitWindowMs) * time.Millisecond
}
