package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/onlinewallet/onlinewallet/internal/ledger"
	"github.com/onlinewallet/onlinewallet/internal/logging"
	"github.com/onlinewallet/onlinewallet/internal/notification"
)

const (
	opGetBalance = "get_balance"
	opDeposit    = "deposit"
	opWithdraw   = "withdraw"
)

// Ledger is the persistence capability the service needs.
type Ledger interface {
	LastEntry(ctx context.Context) (*ledger.Entry, error)
	InsertEntry(ctx context.Context, entry *ledger.Entry) (bool, error)
}

// Service computes balances from the ledger and appends deposit and
// withdrawal entries. Each mutation is one read-compute-write cycle under
// its lock.
type Service struct {
	ledger     Ledger
	lockMode   LockMode
	depositMu  *sync.Mutex
	withdrawMu *sync.Mutex
	factory    EntryFactory
	clock      func() time.Time
	notifier   notification.Notifier
	metrics    *Metrics
	logger     *slog.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithLockMode selects unified (default) or split locking.
func WithLockMode(mode LockMode) Option {
	return func(s *Service) { s.lockMode = mode }
}

// WithEntryFactory replaces the default uuid-based entry factory.
func WithEntryFactory(f EntryFactory) Option {
	return func(s *Service) { s.factory = f }
}

// WithClock overrides the time source used for entry event times.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithNotifier sets the notifier informed after each appended entry.
func WithNotifier(n notification.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger used for failed operations.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService builds a wallet service on top of the given ledger.
func NewService(l Ledger, opts ...Option) (*Service, error) {
	if l == nil {
		return nil, fmt.Errorf("ledger repository required")
	}

	s := &Service{
		ledger:   l,
		lockMode: LockUnified,
		factory:  EntryFactoryFunc(newEntry),
		clock:    time.Now,
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}

	switch s.lockMode {
	case LockUnified:
		mu := &sync.Mutex{}
		s.depositMu, s.withdrawMu = mu, mu
	case LockSplit:
		s.depositMu, s.withdrawMu = &sync.Mutex{}, &sync.Mutex{}
	default:
		return nil, fmt.Errorf("unknown lock mode %q", s.lockMode)
	}
	if s.factory == nil {
		return nil, fmt.Errorf("entry factory required")
	}
	return s, nil
}

// LockMode reports how mutations are serialised.
func (s *Service) LockMode() LockMode {
	return s.lockMode
}

// GetBalance returns balanceBefore + amount of the most recent entry, or zero
// for an empty ledger.
func (s *Service) GetBalance(ctx context.Context) (Balance, error) {
	start := time.Now()
	amount, _, err := s.currentBalance(ctx)
	if err != nil {
		err = &OperationError{Op: opGetBalance, Err: err}
	}
	s.finish(ctx, opGetBalance, start, err)
	if err != nil {
		return Balance{}, err
	}
	return Balance{Amount: amount}, nil
}

// DepositFunds appends an entry for deposit.Amount and returns the new balance.
func (s *Service) DepositFunds(ctx context.Context, deposit Deposit) (Balance, error) {
	start := time.Now()
	balance, err := s.deposit(ctx, deposit)
	s.finish(ctx, opDeposit, start, err)
	return balance, err
}

// WithdrawFunds appends a negative entry for withdrawal.Amount and returns
// the new balance. It fails with ErrInsufficientBalance, appending nothing,
// when the amount exceeds the current balance.
func (s *Service) WithdrawFunds(ctx context.Context, withdrawal Withdrawal) (Balance, error) {
	start := time.Now()
	balance, err := s.withdraw(ctx, withdrawal)
	s.finish(ctx, opWithdraw, start, err)
	return balance, err
}

func (s *Service) deposit(ctx context.Context, deposit Deposit) (Balance, error) {
	if err := ledger.CheckRange(deposit.Amount); err != nil {
		return Balance{}, &OperationError{Op: opDeposit, Err: err}
	}

	entry, next, err := s.depositLocked(ctx, deposit.Amount)
	if err != nil {
		return Balance{}, &OperationError{Op: opDeposit, Err: err}
	}

	s.notify(ctx, notification.KindDeposit, entry, next)
	return Balance{Amount: next}, nil
}

// depositLocked is the read-compute-append cycle of a deposit. The lock is
// released once the append returns.
func (s *Service) depositLocked(ctx context.Context, amount decimal.Decimal) (ledger.Entry, decimal.Decimal, error) {
	s.acquire(opDeposit, s.depositMu)
	defer s.depositMu.Unlock()

	current, last, err := s.currentBalance(ctx)
	if err != nil {
		return ledger.Entry{}, decimal.Zero, err
	}

	next, err := ledger.CheckedAdd(current, amount)
	if err != nil {
		return ledger.Entry{}, decimal.Zero, err
	}

	entry := s.buildEntry(amount, current, last)
	if err := s.append(ctx, &entry); err != nil {
		return ledger.Entry{}, decimal.Zero, err
	}
	return entry, next, nil
}

func (s *Service) withdraw(ctx context.Context, withdrawal Withdrawal) (Balance, error) {
	if err := ledger.CheckRange(withdrawal.Amount); err != nil {
		return Balance{}, &OperationError{Op: opWithdraw, Err: err}
	}

	entry, next, err := s.withdrawLocked(ctx, withdrawal.Amount)
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			return Balance{}, err
		}
		return Balance{}, &OperationError{Op: opWithdraw, Err: err}
	}

	s.notify(ctx, notification.KindWithdrawal, entry, next)
	return Balance{Amount: next}, nil
}

// withdrawLocked is the read-check-append cycle of a withdrawal.
func (s *Service) withdrawLocked(ctx context.Context, requested decimal.Decimal) (ledger.Entry, decimal.Decimal, error) {
	s.acquire(opWithdraw, s.withdrawMu)
	defer s.withdrawMu.Unlock()

	current, last, err := s.currentBalance(ctx)
	if err != nil {
		return ledger.Entry{}, decimal.Zero, err
	}

	if requested.GreaterThan(current) {
		return ledger.Entry{}, decimal.Zero, fmt.Errorf("%w: requested %s, available %s",
			ErrInsufficientBalance, requested, current)
	}

	amount := requested.Neg()
	next, err := ledger.CheckedAdd(current, amount)
	if err != nil {
		return ledger.Entry{}, decimal.Zero, err
	}

	entry := s.buildEntry(amount, current, last)
	if err := s.append(ctx, &entry); err != nil {
		return ledger.Entry{}, decimal.Zero, err
	}
	return entry, next, nil
}

// currentBalance returns the balance together with the entry it came from.
func (s *Service) currentBalance(ctx context.Context) (decimal.Decimal, *ledger.Entry, error) {
	last, err := s.ledger.LastEntry(ctx)
	if err != nil {
		return decimal.Zero, nil, err
	}
	if last == nil {
		return decimal.Zero, nil, nil
	}

	amount, err := last.BalanceAfter()
	if err != nil {
		return decimal.Zero, nil, fmt.Errorf("%w: entry %s: %w", ErrLedgerCorrupted, last.ID, err)
	}
	return amount, last, nil
}

// buildEntry never stamps an entry earlier than its predecessor, so a clock
// stepping backwards cannot change which entry is the latest.
func (s *Service) buildEntry(amount, before decimal.Decimal, last *ledger.Entry) ledger.Entry {
	at := s.clock().UTC()
	if last != nil && at.Before(last.EventTime) {
		at = last.EventTime
	}
	return s.factory.NewEntry(amount, before, at)
}

func (s *Service) append(ctx context.Context, entry *ledger.Entry) error {
	inserted, err := s.ledger.InsertEntry(ctx, entry)
	if err != nil {
		return err
	}
	if !inserted {
		return fmt.Errorf("entry %s was not appended", entry.ID)
	}
	return nil
}

func (s *Service) acquire(op string, mu *sync.Mutex) {
	start := time.Now()
	mu.Lock()
	s.metrics.ObserveLockWait(op, time.Since(start))
}

func (s *Service) notify(ctx context.Context, kind string, entry ledger.Entry, balance decimal.Decimal) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.Send(ctx, notification.Event{
		Kind:          kind,
		EntryID:       entry.ID,
		Amount:        entry.Amount,
		BalanceBefore: entry.BalanceBefore,
		Balance:       balance,
		EventTime:     entry.EventTime,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "entry notification failed",
			slog.String("entry_id", entry.ID),
			slog.Any("error", err),
		)
	}
}

func (s *Service) finish(ctx context.Context, op string, start time.Time, err error) {
	outcome := OutcomeOf(err)
	s.metrics.ObserveOperation(op, outcome, time.Since(start))

	switch outcome {
	case OutcomeInsufficientBalance:
		s.logger.InfoContext(ctx, "withdrawal rejected", slog.String("op", op), slog.Any("error", err))
	case OutcomeFailure:
		s.logger.ErrorContext(ctx, "wallet operation failed", slog.String("op", op), slog.Any("error", err))
	}
}

func newEntry(amount, balanceBefore decimal.Decimal, at time.Time) ledger.Entry {
	return ledger.Entry{
		ID:            uuid.NewString(),
		EventTime:     at,
		Amount:        amount,
		BalanceBefore: balanceBefore,
	}
}
