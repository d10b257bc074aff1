package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fund is a balance snapshot of one wallet taken at polling time. Rows are never updated.
type Fund struct {
	ID        uint                       `gorm:"primaryKey" json:"id"`
	AccountID uint                       `gorm:"not null;index:idx_fund_account_wallet_taken,priority:1" json:"account_id"`
	Wallet    Wallet                     `gorm:"size:20;not null;index:idx_fund_account_wallet_taken,priority:2" json:"wallet"`
	Hour      time.Time                  `gorm:"not null;index" json:"hour"`
	TakenAt   time.Time                  `gorm:"not null;index:idx_fund_account_wallet_taken,priority:3" json:"taken_at"`
	Total     map[string]decimal.Decimal `gorm:"serializer:json;type:text" json:"total"`
	Free      map[string]decimal.Decimal `gorm:"serializer:json;type:text" json:"free"`
	Used      map[string]decimal.Decimal `gorm:"serializer:json;type:text" json:"used"`
	CreatedAt time.Time                  `json:"created_at"`
}
