package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusCreated         OrderStatus = "created"
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusFailed          OrderStatus = "failed"
	OrderStatusError           OrderStatus = "error"
)

// NonTerminalOrderStatuses are the statuses that still block the order's currency.
var NonTerminalOrderStatuses = []OrderStatus{
	OrderStatusCreated,
	OrderStatusOpen,
	OrderStatusPartiallyFilled,
}

func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusFailed, OrderStatusError:
		return true
	}
	return false
}

const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"

	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

// Order represents an order that the system sends to the exchange.
type Order struct {
	ID              uint    `gorm:"primaryKey" json:"id"`
	AccountID       uint    `gorm:"not null;index:idx_order_account_currency,priority:1" json:"account_id"`
	MarketID        uint    `gorm:"not null;index" json:"market_id"`
	Market          *Market `gorm:"constraint:OnDelete:CASCADE" json:"market,omitempty"`
	ClientOrderID   string  `gorm:"size:64;not null;uniqueIndex" json:"client_order_id"`
	ExchangeOrderID string  `gorm:"size:64;index" json:"exchange_order_id"`

	// Currency is the currency whose exposure the order changes.
	Currency string `gorm:"size:20;not null;index:idx_order_account_currency,priority:2" json:"currency"`

	Side        string              `gorm:"size:10;not null" json:"side"`
	Type        string              `gorm:"size:10;not null" json:"type"`
	Amount      decimal.Decimal     `gorm:"type:numeric;not null" json:"amount"`
	Price       decimal.NullDecimal `gorm:"type:numeric" json:"price"`
	ReduceOnly  bool                `json:"reduce_only"`
	Status      OrderStatus         `gorm:"size:20;not null;default:created;index" json:"status"`
	Filled      decimal.Decimal     `gorm:"type:numeric" json:"filled"`
	Average     decimal.Decimal     `gorm:"type:numeric" json:"average"`
	Cost        decimal.Decimal     `gorm:"type:numeric" json:"cost"`
	Response    string              `gorm:"type:text" json:"response,omitempty"`
	Error       string              `gorm:"type:text" json:"error,omitempty"`
	RouteType   string              `gorm:"size:20" json:"route_type"`
	Instruction string              `gorm:"size:30" json:"instruction"`

	ExecutedAt *time.Time `json:"executed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// TableName allows you to control the exact table name for orders.
func (Order) TableName() string {
	return "orders"
}
