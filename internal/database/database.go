package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ksred/marketracker-api/internal/config"
	"github.com/ksred/marketracker-api/internal/database/migrations"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Options selects the store to open
type Options struct {
	Driver   string // sqlite or postgres
	DSN      string
	LogLevel logger.LogLevel
}

// NewDatabase opens the configured store and brings its schema up to date
func NewDatabase(cfg *config.Config) (*gorm.DB, error) {
	level := logger.Warn
	if cfg.LogLevel == "debug" {
		level = logger.Info
	}

	db, err := Open(Options{Driver: cfg.DBDriver, DSN: cfg.DatabaseURL, LogLevel: level})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Open connects to the store without touching the schema
func Open(opts Options) (*gorm.DB, error) {
	if opts.LogLevel == 0 {
		opts.LogLevel = logger.Warn
	}
	gormCfg := &gorm.Config{
		Logger:         logger.Default.LogMode(opts.LogLevel),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}

	switch opts.Driver {
	case "postgres":
		return openPostgres(opts.DSN, gormCfg)
	case "sqlite", "":
		return openSQLite(opts.DSN, gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
}

func openPostgres(dsn string, gormCfg *gorm.Config) (*gorm.DB, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), gormCfg)
	if err != nil {
		return nil, err
	}
	log.Info().Str("driver", "postgres").Msg("database connected")
	return db, nil
}

func openSQLite(dsn string, gormCfg *gorm.Config) (*gorm.DB, error) {
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=1"
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormCfg)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite has a single writer; one connection turns lock contention into
	// queueing on the pool instead of SQLITE_BUSY errors.
	sqlDB.SetMaxOpenConns(1)

	log.Info().Str("driver", "sqlite").Str("dsn", dsn).Msg("database connected")
	return db, nil
}

// Migrate runs every migration in order
func Migrate(db *gorm.DB) error {
	if err := migrations.CreateTradingTables(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddCompanyDirectory(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SupportsRowLocks reports whether SELECT ... FOR UPDATE is meaningful
func SupportsRowLocks(db *gorm.DB) bool {
	return db.Dialector.Name() == "postgres"
}
