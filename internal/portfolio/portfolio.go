// Package portfolio values a user's holdings at current prices.
package portfolio

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/ksred/marketracker-api/internal/ledger"
	"github.com/ksred/marketracker-api/pkg/apperror"
	"github.com/ksred/marketracker-api/pkg/middleware"
	"github.com/ksred/marketracker-api/pkg/response"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentQuotes bounds upstream fan-out per request
const maxConcurrentQuotes = 8

// PriceResolver resolves the current price of a symbol
type PriceResolver interface {
	Resolve(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Amount is a money value that renders as "N/A" when unknown
type Amount struct {
	Value decimal.Decimal
	Valid bool
}

func Known(v decimal.Decimal) Amount {
	return Amount{Value: v, Valid: true}
}

func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.Valid {
		return []byte(`"N/A"`), nil
	}
	return json.Marshal(a.Value.Round(2).InexactFloat64())
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	if string(data) == `"N/A"` {
		*a = Amount{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*a = Known(decimal.NewFromFloat(f))
	return nil
}

// Position is one valued holding
type Position struct {
	Symbol       string  `json:"symbol"`
	Shares       int64   `json:"shares"`
	AvgPrice     float64 `json:"avg_price"`
	CurrentPrice Amount  `json:"current_price"`
	Value        Amount  `json:"value"`
	GainLoss     Amount  `json:"gain_loss"`
}

// Summary is the body of GET /portfolio
type Summary struct {
	Portfolio   []Position `json:"portfolio"`
	TotalValue  float64    `json:"total_value"`
	CashBalance float64    `json:"cash_balance"`
}

// Service builds portfolio summaries
type Service struct {
	ledger *ledger.Store
	prices PriceResolver
}

func NewService(store *ledger.Store, prices PriceResolver) *Service {
	return &Service{
		ledger: store,
		prices: prices,
	}
}

// Summary values every holding of userID. Positions whose price cannot be
// resolved are reported as N/A and left out of the total.
func (s *Service) Summary(ctx context.Context, userID uint) (*Summary, error) {
	user, holdings, err := s.ledger.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	prices := make([]Amount, len(holdings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentQuotes)
	for i, h := range holdings {
		i, h := i, h
		g.Go(func() error {
			price, err := s.prices.Resolve(gctx, h.Symbol)
			if err != nil {
				log.Warn().
					Err(err).
					Str("component", "portfolio").
					Str("symbol", h.Symbol).
					Msg("price unavailable for valuation")
				return nil
			}
			prices[i] = Known(price)
			return nil
		})
	}
	// lookups never fail the group
	_ = g.Wait()

	total := user.CashBalance
	positions := make([]Position, 0, len(holdings))
	for i, h := range holdings {
		pos := Position{
			Symbol:   h.Symbol,
			Shares:   h.Shares,
			AvgPrice: h.AveragePrice.Round(2).InexactFloat64(),
		}
		if prices[i].Valid {
			shares := decimal.NewFromInt(h.Shares)
			value := prices[i].Value.Mul(shares)
			pos.CurrentPrice = prices[i]
			pos.Value = Known(value)
			pos.GainLoss = Known(value.Sub(h.AveragePrice.Mul(shares)))
			total = total.Add(value)
		}
		positions = append(positions, pos)
	}

	return &Summary{
		Portfolio:   positions,
		TotalValue:  total.Round(2).InexactFloat64(),
		CashBalance: user.CashBalance.Round(2).InexactFloat64(),
	}, nil
}

// GinHandlers contains HTTP handlers for portfolio endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GetPortfolioHandler handles GET /portfolio
func (h *GinHandlers) GetPortfolioHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserID(c)
		if !ok {
			response.Handle(c, nil, apperror.ErrMissingToken)
			return
		}

		summary, err := h.service.Summary(c.Request.Context(), userID)
		response.Handle(c, summary, err)
	}
}
