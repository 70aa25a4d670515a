package trading

import (
	"errors"
	"time"

	"github.com/ksred/marketracker-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// WithTx returns a Database bound to an open transaction
func (d *Database) WithTx(tx *gorm.DB) *Database {
	return &Database{db: tx}
}

// GetIdempotencyRecord returns the live record for key, or nil when there is none
func (d *Database) GetIdempotencyRecord(userID uint, key string, now time.Time) (*types.IdempotencyRecord, error) {
	var record types.IdempotencyRecord
	err := d.db.
		Where("user_id = ? AND idempotency_key = ? AND expires_at > ?", userID, key, now).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// CreateIdempotencyRecord stores a record. An expired record with the same
// key is replaced.
func (d *Database) CreateIdempotencyRecord(record *types.IdempotencyRecord) error {
	err := d.db.
		Where("user_id = ? AND idempotency_key = ?", record.UserID, record.IdempotencyKey).
		Delete(&types.IdempotencyRecord{}).Error
	if err != nil {
		return err
	}
	return d.db.Create(record).Error
}

// GetTransaction retrieves a user's transaction by its public id
func (d *Database) GetTransaction(userID uint, transactionID string) (*types.Transaction, error) {
	var txn types.Transaction
	err := d.db.
		Where("user_id = ? AND transaction_id = ?", userID, transactionID).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// DeleteExpiredIdempotencyRecords purges records that expired before cutoff
func (d *Database) DeleteExpiredIdempotencyRecords(cutoff time.Time) (int64, error) {
	result := d.db.Where("expires_at <= ?", cutoff).Delete(&types.IdempotencyRecord{})
	return result.RowsAffected, result.Error
}
