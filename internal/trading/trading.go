package trading

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/marketracker-api/internal/ledger"
	"github.com/ksred/marketracker-api/internal/marketdata"
	"github.com/ksred/marketracker-api/internal/types"
	"github.com/ksred/marketracker-api/pkg/apperror"
	"github.com/ksred/marketracker-api/pkg/middleware"
	"github.com/ksred/marketracker-api/pkg/response"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// IdempotencyTTL is how long a key replays its original trade
const IdempotencyTTL = 24 * time.Hour

// PriceResolver resolves the execution price of a symbol
type PriceResolver interface {
	Resolve(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Service executes trades against the ledger
type Service struct {
	ledger *ledger.Store
	prices PriceResolver
	db     *Database
	now    func() time.Time
}

// NewService creates a new trading service
func NewService(store *ledger.Store, prices PriceResolver) *Service {
	return &Service{
		ledger: store,
		prices: prices,
		db:     NewDatabase(store.DB()),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ExecuteTrade validates req, resolves a price and commits the ledger
// mutation and its transaction record as one unit.
// Validation order:
//   - symbol and action present
//   - shares positive
//   - action is buy or sell
//   - price resolvable
//
// A repeated idempotency key returns the original result without trading again.
func (s *Service) ExecuteTrade(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	req.Symbol = marketdata.NormalizeSymbol(req.Symbol)
	req.Action = strings.ToLower(strings.TrimSpace(req.Action))

	logger := log.With().
		Str("service", "trading").
		Uint("user_id", req.UserID).
		Str("symbol", req.Symbol).
		Str("action", req.Action).
		Int64("shares", req.Shares).
		Logger()

	logger.Info().Msg("trade received")

	if err := validate(req); err != nil {
		return nil, reject(logger, err)
	}
	logger.Debug().Msg("trade validated")

	if req.IdempotencyKey != "" {
		result, err := s.replay(NewDatabase(s.ledger.DB().WithContext(ctx)), req)
		if err != nil {
			return nil, reject(logger, apperror.ErrStorage.Wrap(err))
		}
		if result != nil {
			logger.Info().Str("transaction_id", result.TransactionID).Msg("trade replayed")
			return result, nil
		}
	}

	price, err := s.prices.Resolve(ctx, req.Symbol)
	if err != nil {
		return nil, reject(logger, err)
	}
	logger.Debug().Str("price", price.String()).Msg("trade price resolved")

	var result *TradeResult
	err = s.ledger.Run(ctx, req.UserID, func(u *ledger.Unit) error {
		db := s.db.WithTx(u.Tx())

		// a concurrent request with the same key may have committed while we
		// waited for the lock
		if req.IdempotencyKey != "" {
			replayed, err := s.replay(db, req)
			if err != nil {
				return err
			}
			if replayed != nil {
				result = replayed
				return nil
			}
		}

		var mutation *ledger.Mutation
		var err error
		switch req.Action {
		case types.ActionBuy:
			mutation, err = u.ApplyBuy(req.Symbol, req.Shares, price)
		case types.ActionSell:
			mutation, err = u.ApplySell(req.Symbol, req.Shares, price)
		}
		if err != nil {
			return err
		}

		txn, err := u.Append(req.Symbol, req.Action, req.Shares, price, s.now())
		if err != nil {
			return err
		}

		if req.IdempotencyKey != "" {
			record := &types.IdempotencyRecord{
				UserID:         req.UserID,
				IdempotencyKey: req.IdempotencyKey,
				TransactionID:  txn.TransactionID,
				BalanceAfter:   mutation.Balance,
				ExpiresAt:      s.now().Add(IdempotencyTTL),
			}
			if err := db.CreateIdempotencyRecord(record); err != nil {
				return err
			}
		}

		result = newTradeResult(txn, mutation.Balance)
		return nil
	})
	if err != nil {
		return nil, reject(logger, err)
	}

	logger.Info().
		Str("transaction_id", result.TransactionID).
		Str("price", result.Price.String()).
		Str("new_balance", result.NewBalance.String()).
		Bool("replayed", result.Replayed).
		Msg("trade committed")
	return result, nil
}

// Transactions lists a user's trade history, newest first
func (s *Service) Transactions(ctx context.Context, userID uint, limit int) ([]types.Transaction, error) {
	return s.ledger.Transactions(ctx, userID, limit)
}

func (s *Service) replay(db *Database, req TradeRequest) (*TradeResult, error) {
	record, err := db.GetIdempotencyRecord(req.UserID, req.IdempotencyKey, s.now())
	if err != nil || record == nil {
		return nil, err
	}
	txn, err := db.GetTransaction(req.UserID, record.TransactionID)
	if err != nil {
		return nil, err
	}
	result := newTradeResult(txn, record.BalanceAfter)
	result.Replayed = true
	return result, nil
}

func validate(req TradeRequest) error {
	if req.Symbol == "" || req.Action == "" {
		return apperror.ErrMissingFields
	}
	if req.Shares <= 0 {
		return apperror.ErrInvalidShareCount
	}
	if req.Action != types.ActionBuy && req.Action != types.ActionSell {
		return apperror.ErrInvalidAction
	}
	return nil
}

func reject(logger zerolog.Logger, err error) error {
	event := logger.Warn()
	if apperror.KindOf(err) == apperror.KindStorage || apperror.KindOf(err) == apperror.KindInternal {
		event = logger.Error()
	}
	code := "INTERNAL_ERROR"
	if appErr, ok := apperror.As(err); ok {
		code = appErr.Code
	}
	event.Err(err).Str("reason", code).Msg("trade rejected")
	return err
}

// parseShares accepts a JSON integer or a string holding one
func parseShares(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, apperror.ErrMissingFields
	}

	var text string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, apperror.ErrInvalidShareCount
		}
		text = strings.TrimSpace(text)
	} else {
		text = string(raw)
	}

	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		// 10.0 is still a whole number
		f, ferr := strconv.ParseFloat(text, 64)
		if ferr != nil || f != math.Trunc(f) || math.Abs(f) > 1e15 {
			return 0, apperror.ErrInvalidShareCount
		}
		n = int64(f)
	}
	if n <= 0 {
		return 0, apperror.ErrInvalidShareCount
	}
	return n, nil
}

// GinHandlers contains HTTP handlers for trading endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for trading endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// TradeHandler handles POST /trade
// Requires a valid JWT token. An optional Idempotency-Key header makes
// retries safe.
func (h *GinHandlers) TradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserID(c)
		if !ok {
			response.Handle(c, nil, apperror.ErrMissingToken)
			return
		}

		var body tradeRequestBody
		if err := c.ShouldBindJSON(&body); err != nil {
			response.Handle(c, nil, apperror.ErrMissingFields.WithMessage("No data provided"))
			return
		}
		if strings.TrimSpace(body.Symbol) == "" || strings.TrimSpace(body.Action) == "" {
			response.Handle(c, nil, apperror.ErrMissingFields)
			return
		}

		shares, err := parseShares(body.Shares)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		result, err := h.service.ExecuteTrade(c.Request.Context(), TradeRequest{
			UserID:         userID,
			Symbol:         body.Symbol,
			Action:         body.Action,
			Shares:         shares,
			IdempotencyKey: strings.TrimSpace(c.GetHeader("Idempotency-Key")),
		})
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, newTradeResponse(result))
	}
}

// TransactionsHandler handles GET /transactions?limit=N
func (h *GinHandlers) TransactionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := middleware.UserID(c)
		if !ok {
			response.Handle(c, nil, apperror.ErrMissingToken)
			return
		}

		limit := 50
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				response.BadRequest(c, "limit must be a non-negative integer")
				return
			}
			limit = n
		}

		txns, err := h.service.Transactions(c.Request.Context(), userID, limit)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		views := make([]TransactionView, 0, len(txns))
		for _, txn := range txns {
			views = append(views, newTransactionView(txn))
		}
		response.Success(c, gin.H{"transactions": views})
	}
}
