// Package connectorstest provides an in-memory exchange client for tests.
package connectorstest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marketrouter/src/connectors"
	"marketrouter/src/model"

	"github.com/shopspring/decimal"
)

// Transfer records one call to Client.Transfer.
type Transfer struct {
	Currency string
	Amount   decimal.Decimal
	From, To model.Wallet
}

// Client is a scriptable ExchangeClient. Unset responses return a FaultNotSupported error;
// Err* fields, when set, are returned instead of the response.
type Client struct {
	Name string

	Status     *connectors.Status
	Markets    []connectors.RawMarket
	Currencies []connectors.RawCurrency
	Tickers    map[string]connectors.Ticker
	Bars       map[string][]connectors.OHLCV
	Books      map[string]*connectors.OrderBook
	Balances   map[model.Wallet]*connectors.Balance
	// Positions answers FetchPositions for the future wallet; WalletPositions for any wallet.
	Positions       []connectors.RawPosition
	WalletPositions map[model.Wallet][]connectors.RawPosition

	// OrderFunc answers CreateOrder; nil fills every order at its price or 100.
	OrderFunc func(req connectors.OrderRequest) (*connectors.OrderResult, error)
	// StatusFunc answers FetchOrder.
	StatusFunc func(id, symbol string) (*connectors.OrderResult, error)
	// ClientStatusFunc answers FetchOrderByClientID.
	ClientStatusFunc func(clientOrderID, symbol string) (*connectors.OrderResult, error)
	// WatchFunc answers WatchOrderBook.
	WatchFunc func(ctx context.Context, symbol string, handler func(connectors.OrderBook)) error

	ErrStatus    error
	ErrMarkets   error
	ErrTickers   error
	ErrOHLCV     error
	ErrBalance   error
	ErrPositions error
	ErrTransfer  error

	mu        sync.Mutex
	calls     map[string]int
	Orders    []connectors.OrderRequest
	Transfers []Transfer
	Canceled  []string
}

func New(name string) *Client {
	return &Client{Name: name, calls: map[string]int{}}
}

func (c *Client) record(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[op]++
}

// Calls returns how many times op was invoked.
func (c *Client) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *Client) unsupported(op string) error {
	return connectors.NewFault(connectors.FaultNotSupported, c.Name, op, fmt.Errorf("not scripted"))
}

func (c *Client) ID() string { return c.Name }

func (c *Client) FetchStatus(ctx context.Context) (*connectors.Status, error) {
	c.record("FetchStatus")
	if c.ErrStatus != nil {
		return nil, c.ErrStatus
	}
	if c.Status == nil {
		return &connectors.Status{Status: model.ExchangeStatusOK, Updated: time.Now().UTC()}, nil
	}
	return c.Status, nil
}

func (c *Client) FetchMarkets(ctx context.Context) ([]connectors.RawMarket, error) {
	c.record("FetchMarkets")
	if c.ErrMarkets != nil {
		return nil, c.ErrMarkets
	}
	return c.Markets, nil
}

func (c *Client) FetchCurrencies(ctx context.Context) ([]connectors.RawCurrency, error) {
	c.record("FetchCurrencies")
	if c.Currencies == nil {
		return nil, c.unsupported("FetchCurrencies")
	}
	return c.Currencies, nil
}

// FetchOHLCV returns the scripted bars of symbol at or after since, oldest first, up to limit.
func (c *Client) FetchOHLCV(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]connectors.OHLCV, error) {
	c.record("FetchOHLCV")
	if c.ErrOHLCV != nil {
		return nil, c.ErrOHLCV
	}
	var out []connectors.OHLCV
	for _, bar := range c.Bars[symbol] {
		if bar.Timestamp.Before(since) {
			continue
		}
		out = append(out, bar)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (c *Client) FetchTickers(ctx context.Context) (map[string]connectors.Ticker, error) {
	c.record("FetchTickers")
	if c.ErrTickers != nil {
		return nil, c.ErrTickers
	}
	return c.Tickers, nil
}

func (c *Client) FetchOrderBook(ctx context.Context, symbol string, depth int) (*connectors.OrderBook, error) {
	c.record("FetchOrderBook")
	book, ok := c.Books[symbol]
	if !ok {
		return nil, connectors.NewFault(connectors.FaultBadSymbol, c.Name, "FetchOrderBook", fmt.Errorf("unknown symbol %s", symbol))
	}
	return book, nil
}

func (c *Client) FetchBalance(ctx context.Context, wallet model.Wallet) (*connectors.Balance, error) {
	c.record("FetchBalance")
	if c.ErrBalance != nil {
		return nil, c.ErrBalance
	}
	b, ok := c.Balances[wallet]
	if !ok {
		return &connectors.Balance{Wallet: wallet}, nil
	}
	return b, nil
}

func (c *Client) FetchPositions(ctx context.Context, wallet model.Wallet) ([]connectors.RawPosition, error) {
	c.record("FetchPositions")
	if c.ErrPositions != nil {
		return nil, c.ErrPositions
	}
	if positions, ok := c.WalletPositions[wallet]; ok {
		return positions, nil
	}
	if wallet == model.WalletFuture {
		return c.Positions, nil
	}
	return nil, c.unsupported("FetchPositions")
}

func (c *Client) CreateOrder(ctx context.Context, req connectors.OrderRequest) (*connectors.OrderResult, error) {
	c.record("CreateOrder")
	c.mu.Lock()
	c.Orders = append(c.Orders, req)
	n := len(c.Orders)
	c.mu.Unlock()

	if c.OrderFunc != nil {
		return c.OrderFunc(req)
	}
	price := decimal.NewFromInt(100)
	if req.Price.Valid {
		price = req.Price.Decimal
	}
	return &connectors.OrderResult{
		ID:            fmt.Sprintf("%s-%d", c.Name, n),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Status:        model.OrderStatusFilled,
		Amount:        req.Amount,
		Filled:        req.Amount,
		Average:       price,
		Cost:          req.Amount.Mul(price),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, id, symbol string) error {
	c.record("CancelOrder")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Canceled = append(c.Canceled, id)
	return nil
}

func (c *Client) FetchOrder(ctx context.Context, id, symbol string) (*connectors.OrderResult, error) {
	c.record("FetchOrder")
	if c.StatusFunc == nil {
		return nil, c.unsupported("FetchOrder")
	}
	return c.StatusFunc(id, symbol)
}

func (c *Client) FetchOrderByClientID(ctx context.Context, clientOrderID, symbol string) (*connectors.OrderResult, error) {
	c.record("FetchOrderByClientID")
	if c.ClientStatusFunc == nil {
		return nil, c.unsupported("FetchOrderByClientID")
	}
	return c.ClientStatusFunc(clientOrderID, symbol)
}

func (c *Client) Transfer(ctx context.Context, currency string, amount decimal.Decimal, from, to model.Wallet) (string, error) {
	c.record("Transfer")
	if c.ErrTransfer != nil {
		return "", c.ErrTransfer
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Transfers = append(c.Transfers, Transfer{Currency: currency, Amount: amount, From: from, To: to})
	return fmt.Sprintf("tx-%d", len(c.Transfers)), nil
}

func (c *Client) WatchOrderBook(ctx context.Context, symbol string, depth int, handler func(connectors.OrderBook)) error {
	c.record("WatchOrderBook")
	if c.WatchFunc == nil {
		return c.unsupported("WatchOrderBook")
	}
	return c.WatchFunc(ctx, symbol, handler)
}

var _ connectors.ExchangeClient = (*Client)(nil)
