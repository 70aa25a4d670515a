package trading

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Janitor periodically purges expired idempotency records
type Janitor struct {
	db       *Database
	interval time.Duration
	now      func() time.Time
}

func NewJanitor(db *gorm.DB, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{
		db:       NewDatabase(db),
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start runs the purge loop until ctx is cancelled
func (j *Janitor) Start(ctx context.Context) {
	logger := log.With().Str("component", "idempotency_janitor").Logger()
	logger.Info().Dur("interval", j.interval).Msg("starting idempotency janitor")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down idempotency janitor")
			return
		case <-ticker.C:
			if _, err := j.Purge(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to purge idempotency records")
			}
		}
	}
}

// Purge deletes every record that has expired and returns how many were removed
func (j *Janitor) Purge(ctx context.Context) (int64, error) {
	n, err := NewDatabase(j.db.db.WithContext(ctx)).DeleteExpiredIdempotencyRecords(j.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().
			Str("component", "idempotency_janitor").
			Int64("purged", n).
			Msg("purged expired idempotency records")
	}
	return n, nil
}
