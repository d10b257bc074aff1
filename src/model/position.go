package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PositionSideLong  = "long"
	PositionSideShort = "short"

	MarginModeIsolated = "isolated"
	MarginModeCross    = "cross"
)

// Position is an open derivative position. A position whose size reaches zero is deleted.
type Position struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	AccountID        uint            `gorm:"not null;uniqueIndex:ux_position_account_market,priority:1" json:"account_id"`
	MarketID         uint            `gorm:"not null;uniqueIndex:ux_position_account_market,priority:2" json:"market_id"`
	Market           *Market         `gorm:"constraint:OnDelete:CASCADE" json:"market,omitempty"`
	Side             string          `gorm:"size:10;not null" json:"side"`
	Size             decimal.Decimal `gorm:"type:numeric;not null" json:"size"`
	Notional         decimal.Decimal `gorm:"type:numeric" json:"notional"`
	EntryPrice       decimal.Decimal `gorm:"type:numeric" json:"entry_price"`
	Leverage         decimal.Decimal `gorm:"type:numeric" json:"leverage"`
	MarginMode       string          `gorm:"size:10" json:"margin_mode"`
	LiquidationPrice decimal.Decimal `gorm:"type:numeric" json:"liquidation_price"`
	RealizedPnl      decimal.Decimal `gorm:"type:numeric" json:"realized_pnl"`
	UnrealizedPnl    decimal.Decimal `gorm:"type:numeric" json:"unrealized_pnl"`
	Response         string          `gorm:"type:text" json:"response,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// SignedSize returns the size as positive for longs and negative for shorts.
func (p *Position) SignedSize() decimal.Decimal {
	if p.Side == PositionSideShort {
		return p.Size.Abs().Neg()
	}
	return p.Size.Abs()
}
