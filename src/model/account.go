package model

import "time"

type Account struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"size:100;not null;uniqueIndex" json:"name"`
	ExchangeID uint      `gorm:"not null;index" json:"exchange_id"`
	Exchange   *Exchange `gorm:"constraint:OnDelete:CASCADE" json:"exchange,omitempty"`

	// StrategyKey selects the target allocation in the strategy source.
	StrategyKey       string `gorm:"size:100;not null" json:"strategy_key"`
	ReferenceCurrency string `gorm:"size:20;not null;default:USDT" json:"reference_currency"`

	APIKeyHash        string `gorm:"column:api_key;type:text" json:"-"`
	APISecretHash     string `gorm:"column:api_secret;type:text" json:"-"`
	APIPassphraseHash string `gorm:"column:api_passphrase;type:text" json:"-"`

	TradingEnabled   bool       `json:"trading_enabled"`
	CredentialsValid bool       `json:"credentials_valid"`
	SuspendedAt      *time.Time `json:"suspended_at,omitempty"`
	SuspendReason    string     `gorm:"type:text" json:"suspend_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanTrade reports whether the control loop may place orders for the account.
func (a *Account) CanTrade() bool {
	return a.TradingEnabled && a.CredentialsValid && a.SuspendedAt == nil
}

func (a *Account) HasCredentials() bool {
	return a.APIKeyHash != "" && a.APISecretHash != ""
}
