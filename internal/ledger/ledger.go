package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrStoreUnavailable indicates the store handle itself is missing or closed.
	ErrStoreUnavailable = errors.New("entry store unavailable")

	// ErrCollectionUnavailable indicates the store is reachable but its entry
	// table cannot be used (missing, not migrated, no permissions).
	ErrCollectionUnavailable = errors.New("entry collection unavailable")

	// ErrOverflow is returned by CheckedAdd when the sum leaves the supported range.
	ErrOverflow = errors.New("decimal overflow")
)

// MaxMagnitude bounds every amount and balance the ledger accepts. It is the
// largest 96-bit integer, i.e. the range of a 128-bit fixed-point decimal.
var MaxMagnitude = decimal.RequireFromString("79228162514264337593543950335")

// MaxScale is the largest number of decimal places an amount may carry.
const MaxScale = 28

// maxExponent is the largest exponent a value within MaxMagnitude can have.
const maxExponent = 28

// Entry is one immutable ledger record. Sequence is assigned by the store on
// append and breaks ties between entries sharing an EventTime.
type Entry struct {
	ID            string
	EventTime     time.Time
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	Sequence      int64
}

// BalanceAfter returns BalanceBefore + Amount using checked arithmetic.
func (e Entry) BalanceAfter() (decimal.Decimal, error) {
	return CheckedAdd(e.BalanceBefore, e.Amount)
}

// CheckRange reports ErrOverflow for a value with more than MaxScale decimal
// places or a magnitude above MaxMagnitude. The exponent is checked before any
// arithmetic so oversized values are never rescaled.
func CheckRange(d decimal.Decimal) error {
	if exp := d.Exponent(); exp < -MaxScale || exp > maxExponent {
		return ErrOverflow
	}
	if d.Abs().GreaterThan(MaxMagnitude) {
		return ErrOverflow
	}
	return nil
}

// CheckedAdd adds a and b, reporting ErrOverflow when either operand is out of
// range or the sum leaves [-MaxMagnitude, MaxMagnitude].
func CheckedAdd(a, b decimal.Decimal) (decimal.Decimal, error) {
	if err := CheckRange(a); err != nil {
		return decimal.Zero, err
	}
	if err := CheckRange(b); err != nil {
		return decimal.Zero, err
	}
	sum := a.Add(b)
	if sum.Abs().GreaterThan(MaxMagnitude) {
		return decimal.Zero, ErrOverflow
	}
	return sum, nil
}

// Store is the append-only backend holding ledger entries.
type Store interface {
	// Ping verifies the entry collection can be used.
	Ping(ctx context.Context) error
	// Last returns the most recent entry by EventTime then Sequence, or nil
	// when the store is empty.
	Last(ctx context.Context) (*Entry, error)
	// Append persists one entry in a single atomic write and sets its Sequence.
	Append(ctx context.Context, entry *Entry) error
}
