// Package ledger owns the mutable trading state: cash balances, holdings and
// the append-only transaction log. Every mutation happens inside a Unit, which
// commits or rolls back as one.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/marketracker-api/internal/database"
	"github.com/ksred/marketracker-api/internal/types"
	"github.com/ksred/marketracker-api/pkg/apperror"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store runs units of work against the database
type Store struct {
	db       *gorm.DB
	locks    *Locks
	timeout  time.Duration
	rowLocks bool
}

// NewStore creates a Store. timeout bounds lock acquisition plus the database
// round trips of a unit; zero means unbounded.
func NewStore(db *gorm.DB, timeout time.Duration) *Store {
	return &Store{
		db:       db,
		locks:    NewLocks(),
		timeout:  timeout,
		rowLocks: database.SupportsRowLocks(db),
	}
}

// Unit is one all-or-nothing set of ledger mutations for a single user
type Unit struct {
	tx   *gorm.DB
	user *types.User
}

// Mutation is the state after a buy or sell. Holding is nil when the
// position was closed.
type Mutation struct {
	Holding *types.Holding
	Balance decimal.Decimal
}

// Run executes fn inside a unit of work for userID. Domain errors returned by
// fn pass through unchanged; timeouts become ErrServiceUnavailable and
// database failures ErrStorage. Nothing is retried.
func (s *Store) Run(ctx context.Context, userID uint, fn func(*Unit) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	logger := log.With().
		Str("component", "ledger").
		Uint("user_id", userID).
		Logger()

	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		logger.Warn().Err(err).Msg("timed out waiting for user lock")
		return apperror.ErrServiceUnavailable.
			WithMessage("Timed out waiting for a previous trade to finish").
			Wrap(err)
	}
	defer unlock()

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return s.classify(ctx, fmt.Errorf("begin transaction: %w", tx.Error))
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	user, err := s.loadUser(tx, userID)
	if err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperror.ErrUserNotFound
		}
		return s.classify(ctx, fmt.Errorf("load user: %w", err))
	}

	if err := fn(&Unit{tx: tx, user: user}); err != nil {
		tx.Rollback()
		if _, ok := apperror.As(err); ok {
			return err
		}
		return s.classify(ctx, err)
	}

	if err := tx.Commit().Error; err != nil {
		logger.Error().Err(err).Msg("commit failed")
		return s.classify(ctx, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *Store) loadUser(tx *gorm.DB, userID uint) (*types.User, error) {
	q := tx
	if s.rowLocks {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var user types.User
	if err := q.First(&user, userID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// classify maps an infrastructure failure onto the domain error taxonomy
func (s *Store) classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperror.ErrServiceUnavailable.
			WithMessage("Timed out committing trade").
			Wrap(err)
	}
	return apperror.ErrStorage.Wrap(err)
}

// Tx exposes the transaction for records that must commit with the unit
func (u *Unit) Tx() *gorm.DB {
	return u.tx
}

// ApplyBuy debits shares*price and adds the lot to the holding at a weighted
// average cost. A cost exactly equal to the balance is allowed.
func (u *Unit) ApplyBuy(symbol string, shares int64, price decimal.Decimal) (*Mutation, error) {
	if err := checkLot(shares, price); err != nil {
		return nil, err
	}
	qty := decimal.NewFromInt(shares)
	cost := price.Mul(qty)
	if cost.GreaterThan(u.user.CashBalance) {
		return nil, apperror.ErrInsufficientFunds.WithMessage(
			"Insufficient funds: cost %s exceeds balance %s",
			cost.StringFixed(2), u.user.CashBalance.StringFixed(2))
	}

	holding, err := u.holding(symbol)
	if err != nil {
		return nil, err
	}

	if holding == nil {
		holding = &types.Holding{
			UserID:       u.user.ID,
			Symbol:       symbol,
			Shares:       shares,
			AveragePrice: price,
		}
		if err := u.tx.Create(holding).Error; err != nil {
			return nil, fmt.Errorf("create holding: %w", err)
		}
	} else {
		held := decimal.NewFromInt(holding.Shares)
		total := held.Add(qty)
		holding.AveragePrice = held.Mul(holding.AveragePrice).Add(cost).Div(total)
		holding.Shares += shares
		if err := u.tx.Save(holding).Error; err != nil {
			return nil, fmt.Errorf("update holding: %w", err)
		}
	}

	if err := u.setBalance(u.user.CashBalance.Sub(cost)); err != nil {
		return nil, err
	}
	return &Mutation{Holding: holding, Balance: u.user.CashBalance}, nil
}

// ApplySell credits shares*price and reduces the holding. Selling every
// share removes the holding; the average cost of the rest is unchanged.
func (u *Unit) ApplySell(symbol string, shares int64, price decimal.Decimal) (*Mutation, error) {
	if err := checkLot(shares, price); err != nil {
		return nil, err
	}
	holding, err := u.holding(symbol)
	if err != nil {
		return nil, err
	}
	if holding == nil {
		return nil, apperror.ErrNoSuchHolding.WithMessage("You do not own any %s", symbol)
	}
	if shares > holding.Shares {
		return nil, apperror.ErrInsufficientShares.WithMessage(
			"Not enough shares to sell: own %d, selling %d", holding.Shares, shares)
	}

	proceeds := price.Mul(decimal.NewFromInt(shares))

	if shares == holding.Shares {
		if err := u.tx.Delete(holding).Error; err != nil {
			return nil, fmt.Errorf("delete holding: %w", err)
		}
		holding = nil
	} else {
		holding.Shares -= shares
		if err := u.tx.Model(holding).Update("shares", holding.Shares).Error; err != nil {
			return nil, fmt.Errorf("update holding: %w", err)
		}
	}

	if err := u.setBalance(u.user.CashBalance.Add(proceeds)); err != nil {
		return nil, err
	}
	return &Mutation{Holding: holding, Balance: u.user.CashBalance}, nil
}

// checkLot keeps every holding strictly positive whoever calls the ledger
func checkLot(shares int64, price decimal.Decimal) error {
	if shares <= 0 {
		return apperror.ErrInvalidShareCount
	}
	if !price.IsPositive() {
		return apperror.ErrInvalidPrice
	}
	return nil
}

// Append records an executed trade and returns its transaction id
func (u *Unit) Append(symbol, action string, shares int64, price decimal.Decimal, ts time.Time) (*types.Transaction, error) {
	txn := &types.Transaction{
		TransactionID: "TXN_" + uuid.New().String(),
		UserID:        u.user.ID,
		Symbol:        symbol,
		Action:        action,
		Shares:        shares,
		Price:         price,
		Total:         price.Mul(decimal.NewFromInt(shares)),
		Timestamp:     ts.UTC(),
	}
	if err := u.tx.Create(txn).Error; err != nil {
		return nil, fmt.Errorf("append transaction: %w", err)
	}
	return txn, nil
}

func (u *Unit) holding(symbol string) (*types.Holding, error) {
	var h types.Holding
	err := u.tx.Where("user_id = ? AND symbol = ?", u.user.ID, symbol).First(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load holding: %w", err)
	}
	return &h, nil
}

func (u *Unit) setBalance(balance decimal.Decimal) error {
	err := u.tx.Model(&types.User{}).
		Where("id = ?", u.user.ID).
		Update("cash_balance", balance).Error
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	u.user.CashBalance = balance
	return nil
}

// Snapshot reads a user and their holdings as one consistent state. It waits
// for any in-flight unit of the user, and on Postgres both reads share one
// repeatable-read transaction so other instances cannot commit in between.
func (s *Store) Snapshot(ctx context.Context, userID uint) (*types.User, []types.Holding, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	unlock, err := s.locks.Lock(ctx, userID)
	if err != nil {
		return nil, nil, apperror.ErrServiceUnavailable.
			WithMessage("Timed out waiting for a previous trade to finish").
			Wrap(err)
	}
	defer unlock()

	var opts *sql.TxOptions
	if s.rowLocks {
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}

	var (
		user     types.User
		holdings []types.Holding
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, userID).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Order("symbol").Find(&holdings).Error
	}, opts)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, apperror.ErrUserNotFound
	}
	if err != nil {
		return nil, nil, s.classify(ctx, fmt.Errorf("read snapshot: %w", err))
	}
	return &user, holdings, nil
}

// Transactions lists a user's trades, newest first. limit <= 0 returns all.
func (s *Store) Transactions(ctx context.Context, userID uint, limit int) ([]types.Transaction, error) {
	q := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var txns []types.Transaction
	if err := q.Find(&txns).Error; err != nil {
		return nil, apperror.ErrStorage.Wrap(err)
	}
	return txns, nil
}

// DB returns the underlying handle for read-only collaborators
func (s *Store) DB() *gorm.DB {
	return s.db
}
