// Package config loads the server configuration from the environment, an
// optional .env file and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the API server and the data service
type Config struct {
	Port     string `yaml:"port"`
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`

	// Storage
	DBDriver    string `yaml:"db_driver"` // sqlite or postgres
	DatabaseURL string `yaml:"database_url"`

	// Auth
	JWTSecret string        `yaml:"jwt_secret_key"`
	TokenTTL  time.Duration `yaml:"token_ttl"`

	// Trading
	StartingBalance decimal.Decimal `yaml:"starting_balance"`
	PriceTimeout    time.Duration   `yaml:"price_timeout"`
	CommitTimeout   time.Duration   `yaml:"commit_timeout"`
	JanitorInterval time.Duration   `yaml:"janitor_interval"`

	// Market data
	MarketDataProvider string        `yaml:"marketdata_provider"` // yahoo or simulated
	MarketDataBaseURL  string        `yaml:"marketdata_base_url"`
	DataServiceURL     string        `yaml:"datahandle_url"`
	CacheTTL           time.Duration `yaml:"cache_ttl"`
	ForecastTTL        time.Duration `yaml:"forecast_ttl"`
	StreamInterval     time.Duration `yaml:"stream_interval"`

	// HTTP
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Port:               "8080",
		Env:                "development",
		LogLevel:           "info",
		DBDriver:           "sqlite",
		DatabaseURL:        "marketracker.db",
		TokenTTL:           30 * time.Minute,
		StartingBalance:    decimal.NewFromInt(1_000_000),
		PriceTimeout:       8 * time.Second,
		CommitTimeout:      5 * time.Second,
		JanitorInterval:    time.Hour,
		MarketDataProvider: "yahoo",
		MarketDataBaseURL:  "https://query1.finance.yahoo.com",
		CacheTTL:           5 * time.Minute,
		ForecastTTL:        time.Hour,
		StreamInterval:     time.Second,
		AllowedOrigins: []string{
			"http://localhost:3000",
			"http://localhost:5173",
		},
	}
}

// Load builds the configuration. Precedence, lowest first: defaults, the YAML
// file named by CONFIG_FILE, a .env file in the working directory, the process
// environment.
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDataService builds the configuration of the standalone data service,
// which issues no tokens and so needs no JWT secret
func LoadDataService() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(false); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load() (*Config, error) {
	// A missing .env is normal outside development
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("PORT", &c.Port)
	str("ENV", &c.Env)
	str("LOG_LEVEL", &c.LogLevel)
	str("DB_DRIVER", &c.DBDriver)
	str("DATABASE_URL", &c.DatabaseURL)
	str("JWT_SECRET_KEY", &c.JWTSecret)
	str("MARKETDATA_PROVIDER", &c.MarketDataProvider)
	str("MARKETDATA_BASE_URL", &c.MarketDataBaseURL)
	str("DATAHANDLE_URL", &c.DataServiceURL)

	// POSTGRES_URL wins over DATABASE_URL, as on the hosted deployment
	if v := os.Getenv("POSTGRES_URL"); v != "" {
		c.DBDriver = "postgres"
		c.DatabaseURL = v
	}

	if os.Getenv("DEBUG") == "true" {
		c.LogLevel = "debug"
	}

	for key, dst := range map[string]*time.Duration{
		"TOKEN_TTL":        &c.TokenTTL,
		"PRICE_TIMEOUT":    &c.PriceTimeout,
		"COMMIT_TIMEOUT":   &c.CommitTimeout,
		"JANITOR_INTERVAL": &c.JanitorInterval,
		"CACHE_TTL":        &c.CacheTTL,
		"FORECAST_TTL":     &c.ForecastTTL,
		"STREAM_INTERVAL":  &c.StreamInterval,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}

	if v := os.Getenv("STARTING_BALANCE"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("STARTING_BALANCE: %w", err)
		}
		c.StartingBalance = d
	}

	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitCSV(v)
	}
	// The data service calls back into the API from its own origin
	if c.DataServiceURL != "" {
		c.AllowedOrigins = append(c.AllowedOrigins, c.DataServiceURL)
	}
	return nil
}

// ValidationError lists every invalid field
type ValidationError struct {
	Fields []FieldError
}

// FieldError is a single invalid field
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid configuration: " + strings.Join(parts, "; ")
}

// Validate checks the configuration and reports all problems at once
func (c *Config) Validate() error {
	return c.validate(true)
}

func (c *Config) validate(requireSecret bool) error {
	var fields []FieldError
	add := func(field, msg string) {
		fields = append(fields, FieldError{Field: field, Message: msg})
	}

	if _, err := strconv.Atoi(c.Port); err != nil {
		add("port", "must be numeric")
	}
	if c.DBDriver != "sqlite" && c.DBDriver != "postgres" {
		add("db_driver", "must be sqlite or postgres")
	}
	if c.DatabaseURL == "" {
		add("database_url", "is required")
	}
	if requireSecret && c.JWTSecret == "" {
		add("jwt_secret_key", "is required")
	}
	if c.TokenTTL <= 0 {
		add("token_ttl", "must be positive")
	}
	if !c.StartingBalance.IsPositive() {
		add("starting_balance", "must be positive")
	}
	if c.PriceTimeout <= 0 {
		add("price_timeout", "must be positive")
	}
	if c.CommitTimeout <= 0 {
		add("commit_timeout", "must be positive")
	}
	if c.MarketDataProvider != "yahoo" && c.MarketDataProvider != "simulated" {
		add("marketdata_provider", "must be yahoo or simulated")
	}
	if c.CacheTTL < 0 || c.ForecastTTL < 0 {
		add("cache_ttl", "must not be negative")
	}
	if c.StreamInterval <= 0 {
		add("stream_interval", "must be positive")
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// IsProduction reports whether the server runs in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// FieldErrors returns the invalid fields of err, if it is a ValidationError
func FieldErrors(err error) []FieldError {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
