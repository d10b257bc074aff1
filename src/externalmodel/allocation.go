package externalmodel

import "time"

// StrategyAllocation is one target weight published by the external strategy service.
type StrategyAllocation struct {
	ID          uint       `gorm:"primaryKey;column:id" json:"id"`
	StrategyKey string     `gorm:"column:strategy_key" json:"strategy_key"`
	Currency    string     `gorm:"column:currency" json:"currency"`
	Percent     float64    `gorm:"column:percent" json:"percent"`
	UpdatedAt   *time.Time `gorm:"column:updated_at" json:"updated_at,omitempty"`
}

// TableName Ensures that GORM uses the exact table name from the database.
func (StrategyAllocation) TableName() string {
	return "strategy_allocations"
}
