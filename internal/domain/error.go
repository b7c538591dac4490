package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrLedgerInvariant    = errors.New("ledger replay produced a negative bucket")
	ErrUnknownKind        = errors.New("unknown transaction kind")
	ErrLocked             = errors.New("lock is held by another process")

	// Purchase / subscription errors
	ErrInvalidProduct       = errors.New("invalid in-app product")
	ErrInvalidPendingOrder  = errors.New("pending order not found")
	ErrOrderNotPending      = errors.New("pending order already completed")
	ErrInvalidReceipt       = errors.New("store receipt is not valid")
	ErrReceiptProductMatch  = errors.New("store transaction belongs to another product")
	ErrStoreOrderReused     = errors.New("store order identifier already used")
	ErrStoreUnavailable     = errors.New("store validation unavailable")
	ErrInsufficientTokens   = errors.New("insufficient tokens")
	ErrNoActiveSubscription = errors.New("no active subscription")
)

// Machine-readable codes surfaced to clients.
const (
	CodeInvalidProduct        = "InvalidInAppProduct"
	CodeInvalidPendingOrder   = "InvalidPendingOrder"
	CodeCompletedPendingOrder = "CompletedPendingOrder"
	CodeInvalidStoreReceipt   = "InvalidStoreReceipt"
	CodeAnotherProduct        = "STORE_TRANSACTION_FROM_ANOTHER_PRODUCT"
	CodeStoreOrderReused      = "STORE_ORDER_ID_ALREADY_USED"
	CodeStoreUnavailable      = "StoreUnavailable"
	CodeInsufficientTokens    = "InsufficientTokens"
	CodeInvalidArgument       = "InvalidArgument"
)

// AppError carries a stable code next to the underlying sentinel.
type AppError struct {
	Code string
	Err  error
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

func NewAppError(code string, err error) *AppError {
	return &AppError{Code: code, Err: err}
}

// CodeOf returns the client code for err, or "" when err is not an AppError.
func CodeOf(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// IsRetryable reports whether the caller may safely retry the operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
