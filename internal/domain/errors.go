package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// FillError represents a failure inside the fill path. Slippage and
// overspend failures are retriable: the keeper is expected to resubmit
// with corrected parameters. Everything else is terminal for the call.
type FillError struct {
	Op        string // Operation that failed (e.g., "swap", "settle")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *FillError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *FillError) IsRetriable() bool {
	return e.Retriable
}

func (e *FillError) Unwrap() error {
	return e.Err
}

// NewFillError wraps a fill-path failure, marking it retriable when the
// underlying cause is slippage or an overspending payload.
func NewFillError(op string, err error) *FillError {
	retriable := errors.Is(err, ErrTooLittleReceived) || errors.Is(err, ErrOverspend)
	return &FillError{Op: op, Err: err, Retriable: retriable}
}

var (
	// ErrUnauthorized is returned when the caller is not the order's
	// recipient. Revert string in the reference contracts: "only order owner".
	ErrUnauthorized = errors.New("only order owner")

	// ErrInsufficientBalance is returned when a token movement exceeds
	// the payer's balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientAllowance is returned when a transferFrom exceeds
	// the spender's allowance.
	ErrInsufficientAllowance = errors.New("insufficient allowance")

	// ErrOrderNotFound is returned for an unknown or already-terminal
	// order id.
	ErrOrderNotFound = errors.New("order not active")

	// ErrTooLittleReceived is returned when actual swap output falls
	// below the minimum acceptable amount.
	ErrTooLittleReceived = errors.New("Too Little Received")

	// ErrOverspend is returned when a fill payload claims more input
	// than the order has custodied.
	ErrOverspend = errors.New("over spend")

	// ErrOracleNotRegistered is returned when a token has no price source.
	ErrOracleNotRegistered = errors.New("Oracle !exist")

	// ErrMaxPendingOrders is returned when a book's pending set is full.
	ErrMaxPendingOrders = errors.New("Max Order Count Reached")

	// ErrOrderTooSmall is returned when an order's notional is below the
	// configured minimum.
	ErrOrderTooSmall = errors.New("order too small")

	// ErrInvalidBips is returned for slippage or fee values above 100%.
	ErrInvalidBips = errors.New("invalid bips")

	// ErrInvalidUpkeepData is returned when a perform payload does not
	// match current book state.
	ErrInvalidUpkeepData = errors.New("invalid upkeep data")
)
