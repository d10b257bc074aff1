package model

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type MarketType string

const (
	MarketTypeSpot       MarketType = "spot"
	MarketTypeDerivative MarketType = "derivative"
)

type DerivativeType string

const (
	DerivativeNone      DerivativeType = ""
	DerivativePerpetual DerivativeType = "perpetual"
	DerivativeFuture    DerivativeType = "future"
)

type PrecisionMode string

const (
	PrecisionDecimalPlaces     PrecisionMode = "decimal_places"
	PrecisionSignificantDigits PrecisionMode = "significant_digits"
	PrecisionTickSize          PrecisionMode = "tick_size"
)

var (
	ErrAmountBelowMin = errors.New("amount below market minimum")
	ErrAmountAboveMax = errors.New("amount above market maximum")
	ErrAmountZero     = errors.New("amount rounds to zero")
)

// MarketKey is the natural key a market is upserted by.
type MarketKey struct {
	Exchange       string
	Symbol         string
	Type           MarketType
	DerivativeType DerivativeType
}

type Market struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ExchangeID     uint      `gorm:"not null;uniqueIndex:ux_market_key,priority:1" json:"exchange_id"`
	Exchange       *Exchange `gorm:"constraint:OnDelete:CASCADE" json:"exchange,omitempty"`
	Symbol         string    `gorm:"size:80;not null;uniqueIndex:ux_market_key,priority:2" json:"symbol"`
	ExchangeSymbol string    `gorm:"size:80" json:"exchange_symbol"`
	Base           string    `gorm:"size:20;not null;index" json:"base"`
	Quote          string    `gorm:"size:20;not null" json:"quote"`
	Wallet         Wallet    `gorm:"size:20;not null" json:"wallet"`

	Type           MarketType     `gorm:"size:20;not null;uniqueIndex:ux_market_key,priority:3" json:"type"`
	DerivativeType DerivativeType `gorm:"size:20;not null;default:'';uniqueIndex:ux_market_key,priority:4" json:"derivative_type"`

	MarginCurrency        string          `gorm:"size:20" json:"margin_currency,omitempty"`
	ContractValue         decimal.Decimal `gorm:"type:numeric" json:"contract_value"`
	ContractValueCurrency string          `gorm:"size:20" json:"contract_value_currency,omitempty"`
	ListingDate           *time.Time      `json:"listing_date,omitempty"`
	DeliveryDate          *time.Time      `json:"delivery_date,omitempty"`

	AmountMin decimal.NullDecimal `gorm:"type:numeric" json:"amount_min"`
	AmountMax decimal.NullDecimal `gorm:"type:numeric" json:"amount_max"`
	PriceMin  decimal.NullDecimal `gorm:"type:numeric" json:"price_min"`
	PriceMax  decimal.NullDecimal `gorm:"type:numeric" json:"price_max"`
	CostMin   decimal.NullDecimal `gorm:"type:numeric" json:"cost_min"`
	CostMax   decimal.NullDecimal `gorm:"type:numeric" json:"cost_max"`

	PrecisionMode   PrecisionMode   `gorm:"size:30" json:"precision_mode"`
	AmountPrecision decimal.Decimal `gorm:"type:numeric" json:"amount_precision"`
	PricePrecision  decimal.Decimal `gorm:"type:numeric" json:"price_precision"`

	Active   bool `json:"active"`
	Excluded bool `gorm:"not null;default:false" json:"excluded"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (m *Market) IsDerivative() bool {
	return m.Type == MarketTypeDerivative
}

func (m *Market) IsPerpetual() bool {
	return m.IsDerivative() && m.DerivativeType == DerivativePerpetual
}

// IsLinear reports whether the contract is margined in its quote currency.
func (m *Market) IsLinear() bool {
	return m.IsDerivative() && strings.EqualFold(m.MarginCurrency, m.Quote)
}

// Tradable reports whether the market may be used for pricing or orders.
func (m *Market) Tradable() bool {
	return m.Active && !m.Excluded
}

// SettlementCurrency is the currency a trade on this market is paid in.
func (m *Market) SettlementCurrency() string {
	if m.IsDerivative() && m.MarginCurrency != "" {
		return m.MarginCurrency
	}
	return m.Quote
}

func (m *Market) Key(exchange string) MarketKey {
	return MarketKey{
		Exchange:       exchange,
		Symbol:         m.Symbol,
		Type:           m.Type,
		DerivativeType: m.DerivativeType,
	}
}

// CheckAmount validates an order amount against the market limits.
// A missing limit does not constrain the amount.
func (m *Market) CheckAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrAmountZero
	}
	if m.AmountMin.Valid && amount.LessThan(m.AmountMin.Decimal) {
		return ErrAmountBelowMin
	}
	if m.AmountMax.Valid && m.AmountMax.Decimal.IsPositive() && amount.GreaterThan(m.AmountMax.Decimal) {
		return ErrAmountAboveMax
	}
	return nil
}

// RoundAmount rounds an amount down to the market amount precision.
func (m *Market) RoundAmount(amount decimal.Decimal) decimal.Decimal {
	return roundDown(amount, m.PrecisionMode, m.AmountPrecision)
}

func (m *Market) RoundPrice(price decimal.Decimal) decimal.Decimal {
	return roundDown(price, m.PrecisionMode, m.PricePrecision)
}

func roundDown(v decimal.Decimal, mode PrecisionMode, precision decimal.Decimal) decimal.Decimal {
	if precision.IsZero() && mode != PrecisionDecimalPlaces {
		return v
	}

	switch mode {
	case PrecisionDecimalPlaces:
		return v.RoundFloor(int32(precision.IntPart()))
	case PrecisionSignificantDigits:
		if v.IsZero() {
			return v
		}
		f, _ := v.Abs().Float64()
		magnitude := int32(math.Floor(math.Log10(f)))
		return v.RoundFloor(int32(precision.IntPart()) - 1 - magnitude)
	case PrecisionTickSize:
		if !precision.IsPositive() {
			return v
		}
		return v.Div(precision).Floor().Mul(precision)
	default:
		return v
	}
}

// BaseQuantity converts a contract count into base currency units at price (quote per base).
// Spot markets trade in base units already.
func (m *Market) BaseQuantity(contracts, price decimal.Decimal) decimal.Decimal {
	if !m.IsDerivative() || !m.ContractValue.IsPositive() {
		return contracts
	}
	units := contracts.Mul(m.ContractValue)
	if strings.EqualFold(m.ContractValueCurrency, m.Quote) {
		if !price.IsPositive() {
			return decimal.Zero
		}
		return units.Div(price)
	}
	return units
}

// Contracts converts a base quantity into the market's order unit at price.
func (m *Market) Contracts(base, price decimal.Decimal) decimal.Decimal {
	if !m.IsDerivative() || !m.ContractValue.IsPositive() {
		return base
	}
	if strings.EqualFold(m.ContractValueCurrency, m.Quote) {
		return base.Mul(price).Div(m.ContractValue)
	}
	return base.Div(m.ContractValue)
}
