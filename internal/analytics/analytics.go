// Package analytics builds the read-only market views: stock history, the
// symbol dashboard and the benchmark comparison.
package analytics

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/ksred/marketracker-api/internal/cache"
	"github.com/ksred/marketracker-api/internal/marketdata"
	"github.com/ksred/marketracker-api/pkg/apperror"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// BenchmarkSymbol is the index every comparison is made against
const BenchmarkSymbol = "^GSPC"

// DefaultComparisonPeriod is used when the request names none
const DefaultComparisonPeriod = "1y"

// periodIntervals maps a comparison period to its bar interval
var periodIntervals = map[string]string{
	"1d":  "2m",
	"5d":  "30m",
	"1mo": "1h",
	"3mo": "90m",
	"6mo": "1d",
	"1y":  "1d",
	"2y":  "5d",
	"max": "3mo",
}

// dashboardKeys are copied from the provider's info into the dashboard
var dashboardKeys = []string{
	"longName", "sector", "industry", "website", "marketCap",
	"trailingPE", "trailingEps", "dividendYield", "targetMeanPrice",
	"averageAnalystRating", "regularMarketPrice", "regularMarketOpen",
	"regularMarketDayHigh", "regularMarketDayLow", "regularMarketPreviousClose",
	"fiftyTwoWeekHigh", "fiftyTwoWeekLow", "longBusinessSummary",
}

// Options tunes cache lifetimes
type Options struct {
	CacheTTL    time.Duration
	ForecastTTL time.Duration
}

// Service builds analytics views on top of a market data provider
type Service struct {
	provider    marketdata.Provider
	memo        *cache.Memoizer
	cacheTTL    time.Duration
	forecastTTL time.Duration
}

func NewService(provider marketdata.Provider, memo *cache.Memoizer, opts Options) *Service {
	if memo == nil {
		memo = cache.NewMemoizer(nil)
	}
	return &Service{
		provider:    provider,
		memo:        memo,
		cacheTTL:    opts.CacheTTL,
		forecastTTL: opts.ForecastTTL,
	}
}

// StockSeries is the body of GET /stock/:symbol
type StockSeries struct {
	Prices []float64       `json:"prices"`
	Dates  []string        `json:"dates"`
	Info   marketdata.Info `json:"info"`
}

// Dashboard is the body of GET /dashboard/:symbol
type Dashboard map[string]any

// Comparison is the body of GET /comparison/:symbol
type Comparison struct {
	Dates              []string  `json:"dates"`
	StockPrices        []float64 `json:"stock_prices"`
	PriceChange        float64   `json:"price_change"`
	PriceChangePercent float64   `json:"price_change_percent"`
	StockPerformance   []float64 `json:"stock_performance"`
	SP500Performance   []float64 `json:"sp500_performance"`
	EndPrice           float64   `json:"end_price"`
	StockSymbol        string    `json:"stock_symbol"`
	SP500Symbol        string    `json:"sp500_symbol"`
}

// UpstreamError maps a provider failure to the error reported to clients
func UpstreamError(err error) error {
	if _, ok := apperror.As(err); ok {
		return err
	}
	if errors.Is(err, marketdata.ErrNoData) {
		return apperror.ErrNoData.Wrap(err)
	}
	return apperror.ErrServiceUnavailable.Wrap(err)
}

// Stock returns closing prices for period at interval together with the
// symbol's info
func (s *Service) Stock(ctx context.Context, symbol, period, interval string) (*StockSeries, error) {
	symbol = marketdata.NormalizeSymbol(symbol)
	key := "stock:" + symbol + ":" + period + ":" + interval

	return cache.Do(s.memo, key, s.cacheTTL, func() (*StockSeries, error) {
		var (
			bars []marketdata.Bar
			info marketdata.Info
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			bars, err = s.provider.History(gctx, symbol, period, interval)
			return err
		})
		g.Go(func() error {
			var err error
			info, err = s.provider.Info(gctx, symbol)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, UpstreamError(err)
		}
		if len(bars) == 0 {
			return nil, apperror.ErrNoData
		}

		series := &StockSeries{
			Prices: make([]float64, len(bars)),
			Dates:  make([]string, len(bars)),
			Info:   info,
		}
		for i, b := range bars {
			series.Prices[i] = b.Close
			series.Dates[i] = b.Time.UTC().Format("2006-01-02 15:04:05")
		}
		return series, nil
	})
}

// Dashboard returns the headline fundamentals, a next-close forecast and
// the latest quarterly income grid
func (s *Service) Dashboard(ctx context.Context, symbol string) (Dashboard, error) {
	symbol = marketdata.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, apperror.ErrMissingFields.WithMessage("No symbol provided")
	}

	return cache.Do(s.memo, "dashboard:"+symbol, s.cacheTTL, func() (Dashboard, error) {
		logger := log.With().Str("component", "analytics").Str("symbol", symbol).Logger()

		info, err := s.provider.Info(ctx, symbol)
		if err != nil {
			return nil, UpstreamError(err)
		}

		d := make(Dashboard, len(dashboardKeys)+2)
		for _, k := range dashboardKeys {
			d[k] = info[k]
		}

		if marketCap, ok := info.Float("marketCap"); ok {
			d["marketCap"] = IntWord(marketCap)
		} else {
			d["marketCap"] = nil
		}

		if forecast, err := s.Forecast(ctx, symbol); err != nil {
			logger.Warn().Err(err).Msg("forecast unavailable")
			d["forecast_price"] = nil
		} else {
			d["forecast_price"] = forecast
		}

		stmt, err := s.provider.QuarterlyIncome(ctx, symbol)
		switch {
		case errors.Is(err, marketdata.ErrNoData):
			stmt = nil
		case err != nil:
			return nil, UpstreamError(err)
		}
		d["income_grid_items"] = IncomeGrid(stmt)

		logger.Debug().Msg("dashboard built")
		return d, nil
	})
}

// Forecast predicts the next daily close from two years of daily bars.
// Successful forecasts are cached for the forecast TTL.
func (s *Service) Forecast(ctx context.Context, symbol string) (float64, error) {
	symbol = marketdata.NormalizeSymbol(symbol)
	return cache.Do(s.memo, "forecast:"+symbol, s.forecastTTL, func() (float64, error) {
		bars, err := s.provider.History(ctx, symbol, "2y", "1d")
		if err != nil {
			return 0, err
		}
		return fitNextClose(bars)
	})
}

// Comparison reports the percentage performance of symbol against the
// S&P 500 over period
func (s *Service) Comparison(ctx context.Context, symbol, period string) (*Comparison, error) {
	symbol = marketdata.NormalizeSymbol(symbol)
	if period == "" {
		period = DefaultComparisonPeriod
	}
	interval, ok := periodIntervals[period]
	if !ok {
		return nil, apperror.ErrInvalidPeriod
	}

	key := "comparison:" + symbol + ":" + period
	return cache.Do(s.memo, key, s.cacheTTL, func() (*Comparison, error) {
		var stock, bench []marketdata.Bar
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			stock, err = s.provider.History(gctx, symbol, period, interval)
			return err
		})
		g.Go(func() error {
			var err error
			bench, err = s.provider.History(gctx, BenchmarkSymbol, period, interval)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, UpstreamError(err)
		}
		if len(stock) == 0 || len(bench) == 0 {
			return nil, apperror.ErrNoData
		}

		times, stockCloses, benchCloses := align(stock, bench)
		if len(times) == 0 {
			return nil, apperror.ErrNoData
		}

		layout := "2006-01-02"
		if period == "1d" || period == "5d" {
			layout = "01-02 15:04"
		}

		c := &Comparison{
			Dates:            make([]string, len(times)),
			StockPrices:      make([]float64, len(stock)),
			StockPerformance: performance(stockCloses),
			SP500Performance: performance(benchCloses),
			StockSymbol:      symbol,
			SP500Symbol:      "S&P 500",
		}
		for i, t := range times {
			c.Dates[i] = t.UTC().Format(layout)
		}
		for i, b := range stock {
			c.StockPrices[i] = round2(b.Close)
		}

		start, end := stock[0].Close, stock[len(stock)-1].Close
		change := end - start
		c.PriceChange = round2(change)
		if start != 0 {
			c.PriceChangePercent = round2(change / start * 100)
		}
		c.EndPrice = round2(end)
		return c, nil
	})
}

// align joins two bar series on time. Gaps are filled with the previous
// close of the same series; times before both series have a value are
// dropped.
func align(a, b []marketdata.Bar) ([]time.Time, []float64, []float64) {
	av := make(map[int64]float64, len(a))
	bv := make(map[int64]float64, len(b))
	var keys []int64
	for _, bar := range a {
		k := bar.Time.UnixNano()
		if _, seen := av[k]; !seen {
			if _, other := bv[k]; !other {
				keys = append(keys, k)
			}
		}
		av[k] = bar.Close
	}
	for _, bar := range b {
		k := bar.Time.UnixNano()
		if _, seen := bv[k]; !seen {
			if _, other := av[k]; !other {
				keys = append(keys, k)
			}
		}
		bv[k] = bar.Close
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var (
		times        []time.Time
		as, bs       []float64
		lastA, lastB float64
		hasA, hasB   bool
	)
	for _, k := range keys {
		if v, ok := av[k]; ok {
			lastA, hasA = v, true
		}
		if v, ok := bv[k]; ok {
			lastB, hasB = v, true
		}
		if !hasA || !hasB {
			continue
		}
		times = append(times, time.Unix(0, k))
		as = append(as, lastA)
		bs = append(bs, lastB)
	}
	return times, as, bs
}

// performance returns the percentage change of each value from the first
func performance(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 || values[0] == 0 {
		return out
	}
	base := values[0]
	for i, v := range values {
		out[i] = round2((v/base - 1) * 100)
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
