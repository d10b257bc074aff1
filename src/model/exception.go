package model

import "time"

// Exception is a persisted system-level error kept for auditing and debugging.
type Exception struct {
	ID uint `gorm:"primaryKey" json:"id"`

	// Where the error happened
	Service string `gorm:"size:100;index" json:"service"` // e.g. "trader"
	Module  string `gorm:"size:100;index" json:"module"`  // e.g. "trade_executor"
	Method  string `gorm:"size:100" json:"method"`        // e.g. "Execute"

	Message string `gorm:"type:text" json:"message"`
	Stack   string `gorm:"type:text" json:"stack"`

	// debug | info | warn | error | fatal
	Level string `gorm:"size:20;index" json:"level"`

	// Extra context as JSON
	Context string `gorm:"type:text" json:"context,omitempty"`

	AccountID *uint `gorm:"index" json:"account_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
