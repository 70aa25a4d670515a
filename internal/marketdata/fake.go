package marketdata

import (
	"context"
	"sync/atomic"
)

// Fake is a Provider whose behaviour is set per method. Unset methods
// answer ErrNoData.
type Fake struct {
	InfoFunc            func(ctx context.Context, symbol string) (Info, error)
	HistoryFunc         func(ctx context.Context, symbol, period, interval string) ([]Bar, error)
	FastQuoteFunc       func(ctx context.Context, symbol string) (float64, error)
	QuarterlyIncomeFunc func(ctx context.Context, symbol string) (*IncomeStatement, error)

	InfoCalls    atomic.Int64
	HistoryCalls atomic.Int64
	QuoteCalls   atomic.Int64
}

func (f *Fake) Name() string {
	return "fake"
}

func (f *Fake) Info(ctx context.Context, symbol string) (Info, error) {
	f.InfoCalls.Add(1)
	if f.InfoFunc == nil {
		return nil, ErrNoData
	}
	return f.InfoFunc(ctx, symbol)
}

func (f *Fake) History(ctx context.Context, symbol, period, interval string) ([]Bar, error) {
	f.HistoryCalls.Add(1)
	if f.HistoryFunc == nil {
		return nil, ErrNoData
	}
	return f.HistoryFunc(ctx, symbol, period, interval)
}

func (f *Fake) FastQuote(ctx context.Context, symbol string) (float64, error) {
	f.QuoteCalls.Add(1)
	if f.FastQuoteFunc == nil {
		return 0, ErrNoData
	}
	return f.FastQuoteFunc(ctx, symbol)
}

func (f *Fake) QuarterlyIncome(ctx context.Context, symbol string) (*IncomeStatement, error) {
	if f.QuarterlyIncomeFunc == nil {
		return nil, ErrNoData
	}
	return f.QuarterlyIncomeFunc(ctx, symbol)
}

// FixedPrice returns a Fake that quotes price for every symbol through all sources
func FixedPrice(price float64) *Fake {
	return &Fake{
		InfoFunc: func(ctx context.Context, symbol string) (Info, error) {
			return Info{"regularMarketPrice": price, "currentPrice": price}, nil
		},
		FastQuoteFunc: func(ctx context.Context, symbol string) (float64, error) {
			return price, nil
		},
	}
}
