package wallet

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientBalance is returned when a withdrawal exceeds the current balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrLedgerCorrupted means the last entry cannot produce a valid balance.
	ErrLedgerCorrupted = errors.New("ledger in invalid state")

	// ErrOperationFailed matches every failure other than insufficient balance.
	ErrOperationFailed = errors.New("wallet operation failed")
)

// OperationError records which operation failed and why. It matches both
// ErrOperationFailed and its cause under errors.Is.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() []error {
	return []error{ErrOperationFailed, e.Err}
}

// Outcome classifies the result of a wallet operation.
type Outcome string

const (
	OutcomeSuccess             Outcome = "success"
	OutcomeInsufficientBalance Outcome = "insufficient_balance"
	OutcomeFailure             Outcome = "failure"
)

// OutcomeOf maps an operation error to its Outcome.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrInsufficientBalance):
		return OutcomeInsufficientBalance
	default:
		return OutcomeFailure
	}
}
