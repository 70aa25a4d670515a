package marketdata

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Venue describes how a simulated upstream behaves
type Venue struct {
	Name        string
	MinLatency  int // in milliseconds
	MaxLatency  int
	SuccessRate float64 // 0-1, probability of a successful response
	Volatility  float64 // per-step standard deviation of returns
}

// DefaultVenue is a well behaved upstream with a little jitter
var DefaultVenue = Venue{
	Name:        "Simulated Exchange",
	MinLatency:  5,
	MaxLatency:  30,
	SuccessRate: 0.98,
	Volatility:  0.002,
}

var seedPrices = map[string]float64{
	"AAPL":  190.25,
	"MSFT":  415.10,
	"GOOGL": 168.40,
	"AMZN":  182.75,
	"NVDA":  121.60,
	"TSLA":  245.30,
	"^GSPC": 5460.00,
}

var seedNames = map[string]string{
	"AAPL":  "Apple Inc.",
	"MSFT":  "Microsoft Corporation",
	"GOOGL": "Alphabet Inc.",
	"AMZN":  "Amazon.com, Inc.",
	"NVDA":  "NVIDIA Corporation",
	"TSLA":  "Tesla, Inc.",
	"^GSPC": "S&P 500",
}

// Simulated is an offline Provider whose prices follow a random walk
type Simulated struct {
	venue Venue

	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
}

// NewSimulated creates a simulated provider seeded with a handful of tickers
func NewSimulated(venue Venue, seed int64) *Simulated {
	prices := make(map[string]float64, len(seedPrices))
	for sym, p := range seedPrices {
		prices[sym] = p
	}
	return &Simulated{
		venue:  venue,
		rng:    rand.New(rand.NewSource(seed)),
		prices: prices,
	}
}

func (s *Simulated) Name() string {
	return "simulated"
}

// Info returns quote and a few fundamentals for a known symbol
func (s *Simulated) Info(ctx context.Context, symbol string) (Info, error) {
	price, err := s.quote(ctx, symbol)
	if err != nil {
		return nil, err
	}

	return Info{
		"symbol":             symbol,
		"longName":           seedNames[symbol],
		"regularMarketPrice": price,
		"currentPrice":       price,
		"previousClose":      round2(price * 0.995),
		"open":               round2(price * 0.997),
		"dayHigh":            round2(price * 1.01),
		"dayLow":             round2(price * 0.99),
		"volume":             float64(1_000_000),
		"marketCap":          price * 15_000_000_000,
		"trailingPE":         28.4,
		"currency":           "USD",
	}, nil
}

// History walks backwards from the current price, one bar per interval
func (s *Simulated) History(ctx context.Context, symbol, period, interval string) ([]Bar, error) {
	price, err := s.quote(ctx, symbol)
	if err != nil {
		return nil, err
	}

	step, ok := intervalDurations[interval]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported interval %q", ErrNoData, interval)
	}
	span, ok := periodDurations[period]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported period %q", ErrNoData, period)
	}

	n := int(span / step)
	if n < 1 {
		n = 1
	}
	if n > 2000 {
		n = 2000
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bars := make([]Bar, n)
	end := time.Now().UTC().Truncate(step)
	closePrice := price
	for i := n - 1; i >= 0; i-- {
		open := closePrice / (1 + s.rng.NormFloat64()*s.venue.Volatility)
		bars[i] = Bar{
			Time:   end.Add(-time.Duration(n-1-i) * step),
			Open:   round2(open),
			High:   round2(math.Max(open, closePrice) * 1.002),
			Low:    round2(math.Min(open, closePrice) * 0.998),
			Close:  round2(closePrice),
			Volume: 10_000 + s.rng.Int63n(90_000),
		}
		closePrice = open
	}
	return bars, nil
}

// FastQuote returns the current simulated price
func (s *Simulated) FastQuote(ctx context.Context, symbol string) (float64, error) {
	return s.quote(ctx, symbol)
}

// QuarterlyIncome returns a fixed statement scaled by the share price
func (s *Simulated) QuarterlyIncome(ctx context.Context, symbol string) (*IncomeStatement, error) {
	price, err := s.quote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	scale := price * 1e8
	return &IncomeStatement{
		PeriodEnd: time.Now().UTC().AddDate(0, -1, 0),
		Items: []LineItem{
			{Label: "Total Revenue", Value: round2(scale * 4)},
			{Label: "Cost Of Revenue", Value: round2(scale * 2.2)},
			{Label: "Gross Profit", Value: round2(scale * 1.8)},
			{Label: "Research Development", Value: round2(scale * 0.4)},
			{Label: "Operating Income", Value: round2(scale * 1.1)},
			{Label: "Net Income", Value: round2(scale * 0.9)},
		},
	}, nil
}

// quote advances the random walk of symbol by one step
func (s *Simulated) quote(ctx context.Context, symbol string) (float64, error) {
	logger := log.With().
		Str("provider", "simulated").
		Str("symbol", symbol).
		Logger()

	if err := s.wait(ctx); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rng.Float64() > s.venue.SuccessRate {
		logger.Warn().
			Float64("success_rate", s.venue.SuccessRate).
			Msg("simulated upstream failure")
		return 0, fmt.Errorf("%w: %s rejected the request", ErrUnavailable, s.venue.Name)
	}

	price, ok := s.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: unknown symbol %s", ErrNoData, symbol)
	}

	next := round2(price * (1 + s.rng.NormFloat64()*s.venue.Volatility))
	if next <= 0 {
		next = price
	}
	s.prices[symbol] = next

	logger.Debug().
		Float64("previous_price", price).
		Float64("price", next).
		Msg("price step applied")
	return next, nil
}

// wait sleeps for a random latency within the venue bounds
func (s *Simulated) wait(ctx context.Context) error {
	if s.venue.MaxLatency <= 0 {
		return ctx.Err()
	}

	s.mu.Lock()
	latency := s.venue.MinLatency + s.rng.Intn(s.venue.MaxLatency-s.venue.MinLatency+1)
	s.mu.Unlock()

	timer := time.NewTimer(time.Duration(latency) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	case <-timer.C:
		return nil
	}
}

var intervalDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"2m":  2 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"90m": 90 * time.Minute,
	"1d":  24 * time.Hour,
	"5d":  5 * 24 * time.Hour,
	"1wk": 7 * 24 * time.Hour,
	"1mo": 30 * 24 * time.Hour,
	"3mo": 91 * 24 * time.Hour,
}

var periodDurations = map[string]time.Duration{
	"1d":  24 * time.Hour,
	"5d":  5 * 24 * time.Hour,
	"1mo": 30 * 24 * time.Hour,
	"3mo": 91 * 24 * time.Hour,
	"6mo": 182 * 24 * time.Hour,
	"1y":  365 * 24 * time.Hour,
	"2y":  730 * 24 * time.Hour,
	"5y":  5 * 365 * 24 * time.Hour,
	"max": 20 * 365 * 24 * time.Hour,
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
