// Package pricing resolves a symbol to the price a trade executes at.
package pricing

import (
	"context"
	"time"

	"github.com/ksred/marketracker-api/internal/marketdata"
	"github.com/ksred/marketracker-api/pkg/apperror"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Source names, in the order they are consulted
const (
	SourceRegularMarketPrice = "regular_market_price"
	SourceCurrentPrice       = "current_price"
	SourceLastClose          = "last_close"
	SourceFastQuote          = "fast_quote"
)

// Resolver looks up tradable prices. It always goes to the provider; cached
// dashboard data is never used for trades.
type Resolver struct {
	provider marketdata.Provider
	timeout  time.Duration
}

// NewResolver creates a Resolver bounded by timeout per resolution
func NewResolver(provider marketdata.Provider, timeout time.Duration) *Resolver {
	return &Resolver{
		provider: provider,
		timeout:  timeout,
	}
}

// Quote is a resolved price and the source that produced it
type Quote struct {
	Symbol string
	Price  decimal.Decimal
	Source string
}

// Resolve returns the first present, non-zero price for symbol
func (r *Resolver) Resolve(ctx context.Context, symbol string) (decimal.Decimal, error) {
	q, err := r.ResolveQuote(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return q.Price, nil
}

// ResolveQuote is Resolve with the winning source attached
func (r *Resolver) ResolveQuote(ctx context.Context, symbol string) (*Quote, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	logger := log.With().
		Str("component", "pricing").
		Str("symbol", symbol).
		Str("provider", r.provider.Name()).
		Logger()

	// regular market price and current price share one info fetch
	var (
		info       marketdata.Info
		infoErr    error
		infoLoaded bool
	)
	loadInfo := func(ctx context.Context) (marketdata.Info, error) {
		if !infoLoaded {
			info, infoErr = r.provider.Info(ctx, symbol)
			infoLoaded = true
		}
		return info, infoErr
	}
	fromInfo := func(key string) func(context.Context) (float64, error) {
		return func(ctx context.Context) (float64, error) {
			info, err := loadInfo(ctx)
			if err != nil {
				return 0, err
			}
			v, _ := info.Float(key)
			return v, nil
		}
	}

	sources := []struct {
		name  string
		fetch func(context.Context) (float64, error)
	}{
		{SourceRegularMarketPrice, fromInfo("regularMarketPrice")},
		{SourceCurrentPrice, fromInfo("currentPrice")},
		{SourceLastClose, func(ctx context.Context) (float64, error) {
			bars, err := r.provider.History(ctx, symbol, "1d", "1d")
			if err != nil {
				return 0, err
			}
			if len(bars) == 0 {
				return 0, nil
			}
			return bars[len(bars)-1].Close, nil
		}},
		{SourceFastQuote, func(ctx context.Context) (float64, error) {
			return r.provider.FastQuote(ctx, symbol)
		}},
	}

	for _, src := range sources {
		if ctx.Err() != nil {
			break
		}
		v, err := src.fetch(ctx)
		if err != nil {
			logger.Debug().Err(err).Str("source", src.name).Msg("price source failed")
			continue
		}
		if v <= 0 {
			logger.Debug().Str("source", src.name).Msg("price source empty")
			continue
		}

		logger.Debug().Str("source", src.name).Float64("price", v).Msg("price resolved")
		return &Quote{
			Symbol: symbol,
			Price:  decimal.NewFromFloat(v),
			Source: src.name,
		}, nil
	}

	if err := ctx.Err(); err != nil {
		logger.Warn().Err(err).Dur("timeout", r.timeout).Msg("price resolution timed out")
		return nil, apperror.ErrPriceUnavailable.
			WithMessage("Timed out fetching a price for %s", symbol).
			Wrap(err)
	}

	logger.Warn().Msg("no price source returned a value")
	return nil, apperror.ErrPriceUnavailable.WithMessage("Could not fetch price for %s", symbol)
}
