// Package marketdata talks to the upstream market data provider.
package marketdata

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
)

var (
	// ErrUnavailable wraps transport and upstream failures
	ErrUnavailable = errors.New("market data unavailable")
	// ErrNoData is returned when the upstream answered without data
	ErrNoData = errors.New("no market data")
)

// Bar is one OHLCV period
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Info holds the fundamentals and quote fields of a symbol, keyed by the
// upstream field name (regularMarketPrice, currentPrice, longName, ...).
// Absent fields are missing keys or nil values.
type Info map[string]any

// Float returns a numeric field
func (i Info) Float(key string) (float64, bool) {
	switch v := i[key].(type) {
	case float64:
		if math.IsNaN(v) {
			return 0, false
		}
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// String returns a text field
func (i Info) String(key string) (string, bool) {
	s, ok := i[key].(string)
	return s, ok
}

// LineItem is one row of an income statement
type LineItem struct {
	Label string
	Value float64
}

// IncomeStatement is the most recent quarterly income statement
type IncomeStatement struct {
	PeriodEnd time.Time
	Items     []LineItem
}

// Provider is the upstream data source
type Provider interface {
	// Info returns quote and fundamentals fields
	Info(ctx context.Context, symbol string) (Info, error)

	// History returns bars for period (1d, 5d, 1mo, ...) at interval (1m, 5m, 1d, ...)
	History(ctx context.Context, symbol, period, interval string) ([]Bar, error)

	// FastQuote returns the last traded price
	FastQuote(ctx context.Context, symbol string) (float64, error)

	// QuarterlyIncome returns the latest quarterly income statement
	QuarterlyIncome(ctx context.Context, symbol string) (*IncomeStatement, error)

	// Name returns the provider name
	Name() string
}

// NormalizeSymbol trims and upper-cases a ticker
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
