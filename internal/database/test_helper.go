package database

import (
	"path/filepath"
	"testing"

	"github.com/ksred/marketracker-api/internal/types"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB opens a migrated SQLite database in a temporary directory
func SetupTestDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(Options{Driver: "sqlite", DSN: dsn, LogLevel: logger.Silent})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// CreateTestUser inserts a user with the given balance and returns it
func CreateTestUser(t testing.TB, db *gorm.DB, email string, balance decimal.Decimal) *types.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}

	user := &types.User{
		Email:        email,
		PasswordHash: hash,
		CashBalance:  balance,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return user
}

// CreateTestHolding inserts a holding directly, bypassing the ledger
func CreateTestHolding(t testing.TB, db *gorm.DB, userID uint, symbol string, shares int64, avg decimal.Decimal) {
	t.Helper()

	holding := &types.Holding{
		UserID:       userID,
		Symbol:       symbol,
		Shares:       shares,
		AveragePrice: avg,
	}
	if err := db.Create(holding).Error; err != nil {
		t.Fatalf("Failed to create test holding: %v", err)
	}
}
