package migrations

import (
	"github.com/ksred/marketracker-api/internal/types"
	"gorm.io/gorm"
)

// CreateTradingTables creates the account, holding and ledger tables
func CreateTradingTables(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.User{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&types.Holding{}, &types.Transaction{}, &types.IdempotencyRecord{}); err != nil {
		return err
	}

	// History is always read per user, newest first
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_transactions_user_timestamp
		ON transactions(user_id, timestamp)`).Error
}
