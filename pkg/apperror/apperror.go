// Package apperror defines the typed errors shared by the domain packages.
// Every error carries a Kind, which decides the HTTP status, and a stable Code
// that clients can switch on.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindInvalidToken
	KindNotFound
	KindBusinessRule
	KindUnavailable
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindInvalidToken:
		return "invalid_token"
	case KindNotFound:
		return "not_found"
	case KindBusinessRule:
		return "business_rule"
	case KindUnavailable:
		return "unavailable"
	case KindStorage:
		return "storage"
	default:
		return "internal"
	}
}

// Error is a domain error with a machine readable code
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match on Code, so a sentinel matches every copy derived from it
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMessage returns a copy of e with a more specific human readable message
func (e *Error) WithMessage(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Wrap returns a copy of e that records cause
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// New creates an error of the given kind
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// As extracts the *Error from err's chain
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err, KindInternal when err is not a domain error
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Validation
var (
	ErrMissingFields     = New(KindValidation, "MISSING_FIELDS", "Missing required fields")
	ErrInvalidShareCount = New(KindValidation, "INVALID_SHARE_COUNT", "Number of shares must be a positive integer")
	ErrInvalidAction     = New(KindValidation, "INVALID_ACTION", "Action must be either buy or sell")
	ErrInvalidPeriod     = New(KindValidation, "INVALID_PERIOD", "Invalid period specified")
	ErrInvalidPrice      = New(KindValidation, "INVALID_PRICE", "Price must be positive")
	ErrEmailExists       = New(KindValidation, "EMAIL_EXISTS", "Email already exists")
)

// Auth
var (
	ErrInvalidCredentials = New(KindAuth, "INVALID_CREDENTIALS", "Invalid credentials")
	ErrMissingToken       = New(KindAuth, "MISSING_TOKEN", "Missing authorization token")
	ErrInvalidToken       = New(KindInvalidToken, "INVALID_TOKEN", "Invalid token")
	ErrTokenExpired       = New(KindInvalidToken, "TOKEN_EXPIRED", "Token has expired, please log in again")
)

// Not found
var (
	ErrUserNotFound = New(KindNotFound, "USER_NOT_FOUND", "User not found")
	ErrNoData       = New(KindNotFound, "NO_DATA", "No data available for this period")
)

// Business rules
var (
	ErrInsufficientFunds  = New(KindBusinessRule, "INSUFFICIENT_FUNDS", "Insufficient funds")
	ErrInsufficientShares = New(KindBusinessRule, "INSUFFICIENT_SHARES", "Not enough shares to sell")
	ErrNoSuchHolding      = New(KindBusinessRule, "NO_SUCH_HOLDING", "You do not own this stock")
)

// Dependencies
var (
	ErrPriceUnavailable   = New(KindUnavailable, "PRICE_UNAVAILABLE", "Could not fetch a price for this symbol")
	ErrServiceUnavailable = New(KindUnavailable, "SERVICE_UNAVAILABLE", "Data service unavailable")
	ErrStorage            = New(KindStorage, "STORAGE_ERROR", "Database error while executing trade")
)
