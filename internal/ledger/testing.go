package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Seed appends a single entry that leaves the store at balance. It is a test
// helper for in-memory stores and does not consult previous entries.
func Seed(store *MemoryStore, balance decimal.Decimal, at time.Time) (Entry, error) {
	entry := Entry{
		ID:            uuid.NewString(),
		EventTime:     at.UTC(),
		Amount:        balance,
		BalanceBefore: decimal.Zero,
	}
	if err := store.Append(context.Background(), &entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}
