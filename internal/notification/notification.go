package notification

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// KindDeposit marks an event produced by a deposit.
	KindDeposit = "deposit"
	// KindWithdrawal marks an event produced by a withdrawal.
	KindWithdrawal = "withdrawal"
)

// Event describes a ledger entry that has just been appended.
type Event struct {
	Kind          string          `json:"kind"`
	EntryID       string          `json:"entry_id"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	Balance       decimal.Decimal `json:"balance"`
	EventTime     time.Time       `json:"event_time"`
}

// Encode renders the event as the JSON payload shared by all transports.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Notifier delivers entry events to downstream systems.
type Notifier interface {
	Send(ctx context.Context, event Event) error
}

// LoggerNotifier writes events to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the event to the structured logger.
func (n *LoggerNotifier) Send(ctx context.Context, event Event) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.InfoContext(ctx, "ledger entry appended",
		slog.String("kind", event.Kind),
		slog.String("entry_id", event.EntryID),
		slog.String("amount", event.Amount.String()),
		slog.String("balance", event.Balance.String()),
	)
	return nil
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
