package wallet

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/onlinewallet/onlinewallet/internal/ledger"
)

// Balance is the derived wallet total.
type Balance struct {
	Amount decimal.Decimal
}

// Deposit requests funds to be added to the wallet.
type Deposit struct {
	Amount decimal.Decimal
}

// Withdrawal requests funds to be taken from the wallet.
type Withdrawal struct {
	Amount decimal.Decimal
}

// LockMode selects how deposits and withdrawals are serialised.
type LockMode string

const (
	// LockUnified serialises every mutation behind one mutex.
	LockUnified LockMode = "unified"
	// LockSplit keeps one mutex per operation kind. A deposit and a
	// withdrawal may interleave and lose an update.
	LockSplit LockMode = "split"
)

// ParseLockMode converts a configuration value into a LockMode.
func ParseLockMode(v string) (LockMode, error) {
	switch LockMode(strings.ToLower(strings.TrimSpace(v))) {
	case "", LockUnified:
		return LockUnified, nil
	case LockSplit:
		return LockSplit, nil
	default:
		return "", fmt.Errorf("unknown lock mode %q", v)
	}
}

// EntryFactory builds new ledger entries.
type EntryFactory interface {
	NewEntry(amount, balanceBefore decimal.Decimal, at time.Time) ledger.Entry
}

// EntryFactoryFunc adapts a function to EntryFactory.
type EntryFactoryFunc func(amount, balanceBefore decimal.Decimal, at time.Time) ledger.Entry

func (f EntryFactoryFunc) NewEntry(amount, balanceBefore decimal.Decimal, at time.Time) ledger.Entry {
	return f(amount, balanceBefore, at)
}
