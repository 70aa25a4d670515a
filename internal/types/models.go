package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade actions
const (
	ActionBuy  = "buy"
	ActionSell = "sell"
)

// User is an account holding virtual cash
type User struct {
	ID           uint            `gorm:"primaryKey" json:"-"`
	Email        string          `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash []byte          `gorm:"not null" json:"-"`
	CashBalance  decimal.Decimal `gorm:"not null" json:"virtual_balance"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"-"`
}

// Holding is a user's position in one symbol. The table keeps the name the
// dashboard has always used.
type Holding struct {
	ID           uint            `gorm:"primaryKey" json:"-"`
	UserID       uint            `gorm:"not null;uniqueIndex:idx_portfolios_user_symbol" json:"-"`
	Symbol       string          `gorm:"not null;uniqueIndex:idx_portfolios_user_symbol" json:"symbol"`
	Shares       int64           `gorm:"not null" json:"shares"`
	AveragePrice decimal.Decimal `gorm:"not null" json:"average_price"`
	CreatedAt    time.Time       `json:"-"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (Holding) TableName() string {
	return "portfolios"
}

// Transaction is an immutable record of an executed trade
type Transaction struct {
	ID            uint            `gorm:"primaryKey" json:"-"`
	TransactionID string          `gorm:"uniqueIndex;not null" json:"transaction_id"`
	UserID        uint            `gorm:"index;not null" json:"-"`
	Symbol        string          `gorm:"not null" json:"symbol"`
	Action        string          `gorm:"not null" json:"action"`
	Shares        int64           `gorm:"not null" json:"shares"`
	Price         decimal.Decimal `gorm:"not null" json:"price"`
	Total         decimal.Decimal `gorm:"not null" json:"total"`
	Timestamp     time.Time       `gorm:"index;not null" json:"timestamp"`
}

// Company is an entry of the searchable symbol directory
type Company struct {
	Symbol string `gorm:"primaryKey" json:"symbol" yaml:"symbol"`
	Name   string `gorm:"index;not null" json:"name" yaml:"name"`
}

// IdempotencyRecord maps a client supplied key to the transaction it produced
type IdempotencyRecord struct {
	ID             uint            `gorm:"primaryKey"`
	UserID         uint            `gorm:"not null;uniqueIndex:idx_idempotency_user_key"`
	IdempotencyKey string          `gorm:"not null;uniqueIndex:idx_idempotency_user_key"`
	TransactionID  string          `gorm:"not null"`
	BalanceAfter   decimal.Decimal `gorm:"not null"`
	ExpiresAt      time.Time       `gorm:"index"`
	CreatedAt      time.Time
}
