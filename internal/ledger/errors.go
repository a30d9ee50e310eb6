package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNoSuchPosition      = errors.New("no such position")
	ErrOversizedSell       = errors.New("sell quantity exceeds held amount")
	ErrInvalidAmount       = errors.New("quantity, price and amount must be positive")
	ErrAccountNotFound     = errors.New("account not found")
)

// OpError records the ledger operation and target that failed.
type OpError struct {
	Op        string
	AccountID string
	Symbol    string
	Err       error
}

func (e *OpError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("ledger %s [%s/%s]: %v", e.Op, e.AccountID, e.Symbol, e.Err)
	}
	return fmt.Sprintf("ledger %s [%s]: %v", e.Op, e.AccountID, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func opErr(op, accountID, symbol string, err error) error {
	return &OpError{Op: op, AccountID: accountID, Symbol: symbol, Err: err}
}
