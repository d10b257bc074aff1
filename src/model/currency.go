package model

import "time"

type Currency struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Code          string     `gorm:"size:20;not null;uniqueIndex" json:"code"`
	Name          string     `gorm:"size:100" json:"name"`
	QuoteEligible bool       `json:"quote_eligible"`
	Stablecoin    bool       `json:"stablecoin"`
	Exchanges     []Exchange `gorm:"many2many:exchange_currencies;" json:"exchanges,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
