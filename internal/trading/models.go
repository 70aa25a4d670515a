package trading

import (
	"encoding/json"
	"time"

	"github.com/ksred/marketracker-api/internal/types"
	"github.com/shopspring/decimal"
)

// TradeRequest is a validated-on-execute order from a user
type TradeRequest struct {
	UserID         uint
	Symbol         string
	Action         string
	Shares         int64
	IdempotencyKey string
}

// TradeResult describes a committed trade
type TradeResult struct {
	TransactionID string
	Symbol        string
	Action        string
	Shares        int64
	Price         decimal.Decimal
	Total         decimal.Decimal
	NewBalance    decimal.Decimal
	Timestamp     time.Time

	// Replayed is set when an idempotency key matched an earlier trade
	Replayed bool
}

func newTradeResult(txn *types.Transaction, balance decimal.Decimal) *TradeResult {
	return &TradeResult{
		TransactionID: txn.TransactionID,
		Symbol:        txn.Symbol,
		Action:        txn.Action,
		Shares:        txn.Shares,
		Price:         txn.Price,
		Total:         txn.Total,
		NewBalance:    balance,
		Timestamp:     txn.Timestamp,
	}
}

// tradeRequestBody is the POST /trade payload. Shares stays raw so both 5 and
// "5" are accepted while 5.5 is rejected.
type tradeRequestBody struct {
	Symbol string          `json:"symbol"`
	Action string          `json:"action"`
	Shares json.RawMessage `json:"shares"`
}

// TransactionView is the JSON shape of an executed trade
type TransactionView struct {
	TransactionID string    `json:"transaction_id"`
	Symbol        string    `json:"symbol"`
	Action        string    `json:"action"`
	Shares        int64     `json:"shares"`
	Price         float64   `json:"price"`
	Total         float64   `json:"total"`
	NewBalance    *float64  `json:"new_balance,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// TradeResponse is the body of a successful POST /trade
type TradeResponse struct {
	Message     string          `json:"message"`
	Transaction TransactionView `json:"transaction"`
	Replayed    bool            `json:"replayed,omitempty"`
}

func newTradeResponse(r *TradeResult) TradeResponse {
	balance := r.NewBalance.InexactFloat64()
	return TradeResponse{
		Message: "Successfully executed " + r.Action + " order",
		Transaction: TransactionView{
			TransactionID: r.TransactionID,
			Symbol:        r.Symbol,
			Action:        r.Action,
			Shares:        r.Shares,
			Price:         r.Price.InexactFloat64(),
			Total:         r.Total.InexactFloat64(),
			NewBalance:    &balance,
			Timestamp:     r.Timestamp,
		},
		Replayed: r.Replayed,
	}
}

func newTransactionView(txn types.Transaction) TransactionView {
	return TransactionView{
		TransactionID: txn.TransactionID,
		Symbol:        txn.Symbol,
		Action:        txn.Action,
		Shares:        txn.Shares,
		Price:         txn.Price.InexactFloat64(),
		Total:         txn.Total.InexactFloat64(),
		Timestamp:     txn.Timestamp,
	}
}
