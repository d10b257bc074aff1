package connectors

import (
	"context"
	"time"

	"marketrouter/src/model"

	"github.com/shopspring/decimal"
)

// ExchangeClient is the capability the core consumes. Every call may block on the network
// and honours ctx cancellation and deadlines.
type ExchangeClient interface {
	ID() string

	FetchStatus(ctx context.Context) (*Status, error)
	FetchMarkets(ctx context.Context) ([]RawMarket, error)
	FetchCurrencies(ctx context.Context) ([]RawCurrency, error)
	FetchOHLCV(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]OHLCV, error)
	FetchTickers(ctx context.Context) (map[string]Ticker, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error)

	FetchBalance(ctx context.Context, wallet model.Wallet) (*Balance, error)
	// FetchPositions returns the open positions of one derivative wallet.
	FetchPositions(ctx context.Context, wallet model.Wallet) ([]RawPosition, error)
	CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, id, symbol string) error
	FetchOrder(ctx context.Context, id, symbol string) (*OrderResult, error)
	// FetchOrderByClientID finds an order by the client id it was sent with. Orders the
	// exchange does not know fail with FaultOrderNotFound.
	FetchOrderByClientID(ctx context.Context, clientOrderID, symbol string) (*OrderResult, error)
	Transfer(ctx context.Context, currency string, amount decimal.Decimal, from, to model.Wallet) (string, error)

	// WatchOrderBook blocks while the stream is healthy, calling handler on every update.
	// It returns when ctx is done or the connection fails.
	WatchOrderBook(ctx context.Context, symbol string, depth int, handler func(OrderBook)) error
}

// Credentials are the decrypted API credentials of one account.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

type Status struct {
	Status  model.ExchangeStatus
	ETA     *time.Time
	Updated time.Time
}

type MinMax struct {
	Min decimal.NullDecimal
	Max decimal.NullDecimal
}

type MarketLimits struct {
	Amount MinMax
	Price  MinMax
	Cost   MinMax
}

type MarketPrecision struct {
	Amount decimal.NullDecimal
	Price  decimal.NullDecimal
}

// RawMarket is a market as listed by the exchange. Common fields follow the unified
// convention; exchange-native fields stay in Info for the normalizer.
type RawMarket struct {
	ID       string // exchange-native symbol
	Symbol   string // BASE/QUOTE or BASE/QUOTE:SETTLE
	Base     string
	Quote    string
	Settle   string
	Type     string // spot, swap, future
	Spot     bool
	Contract bool
	Linear   bool
	Inverse  bool

	ContractSize decimal.NullDecimal
	Expiry       *time.Time
	Active       bool

	Limits        MarketLimits
	Precision     MarketPrecision
	PrecisionMode string

	Info map[string]interface{}
}

type RawCurrency struct {
	Code   string
	Name   string
	Active bool
	Info   map[string]interface{}
}

// Ticker fields are null when the exchange omitted them.
type Ticker struct {
	Symbol      string
	Last        decimal.NullDecimal
	Bid         decimal.NullDecimal
	Ask         decimal.NullDecimal
	BaseVolume  decimal.NullDecimal
	QuoteVolume decimal.NullDecimal
	FundingRate decimal.NullDecimal
	Timestamp   time.Time
	Info        map[string]interface{}
}

// OHLCV is one bar; Volume is in the unit the exchange reports.
type OHLCV struct {
	Timestamp time.Time
	Open      decimal.NullDecimal
	High      decimal.NullDecimal
	Low       decimal.NullDecimal
	Close     decimal.NullDecimal
	Volume    decimal.NullDecimal
}

type BookLevel struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// OrderBook levels are sorted best first.
type OrderBook struct {
	Symbol    string
	Bids      []BookLevel
	Asks      []BookLevel
	Timestamp time.Time
}

type Balance struct {
	Wallet model.Wallet
	Total  map[string]decimal.Decimal
	Free   map[string]decimal.Decimal
	Used   map[string]decimal.Decimal
	Info   map[string]interface{}
}

type RawPosition struct {
	Symbol           string
	Side             string
	Contracts        decimal.Decimal
	EntryPrice       decimal.Decimal
	Notional         decimal.Decimal
	Leverage         decimal.Decimal
	MarginMode       string
	LiquidationPrice decimal.Decimal
	RealizedPnl      decimal.Decimal
	UnrealizedPnl    decimal.Decimal
	Info             map[string]interface{}
}

type OrderRequest struct {
	Symbol        string
	Side          string // buy, sell
	Type          string // market, limit
	Amount        decimal.Decimal
	Price         decimal.NullDecimal
	ReduceOnly    bool
	ClientOrderID string
	Derivative    bool
}

type OrderResult struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Status        model.OrderStatus
	Amount        decimal.Decimal
	Filled        decimal.Decimal
	Average       decimal.Decimal
	Cost          decimal.Decimal
	Raw           string
}
