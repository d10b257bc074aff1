package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is an hourly aggregate for one market. Volume is expressed in quote currency.
type Candle struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	MarketID    uint            `gorm:"not null;uniqueIndex:ux_candle_market_hour,priority:1" json:"market_id"`
	Hour        time.Time       `gorm:"not null;uniqueIndex:ux_candle_market_hour,priority:2;index:idx_candle_hour" json:"hour"`
	Close       decimal.Decimal `gorm:"type:numeric;not null" json:"close"`
	Volume      decimal.Decimal `gorm:"type:numeric;not null" json:"volume"`
	VolumeAvg   decimal.Decimal `gorm:"type:numeric;not null" json:"volume_avg"`
	Provisional bool            `gorm:"not null;default:false" json:"provisional"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
