package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onlinewallet/onlinewallet/internal/ledger"
	"github.com/onlinewallet/onlinewallet/internal/notification"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, got.Equal(dec(want)), "expected %s, got %s", want, got)
}

func newTestService(t *testing.T, opts ...Option) (*Service, *ledger.MemoryStore) {
	t.Helper()
	store := ledger.NewMemoryStore()
	repo, err := ledger.NewRepository(context.Background(), store)
	require.NoError(t, err)
	svc, err := NewService(repo, opts...)
	require.NoError(t, err)
	return svc, store
}

func seed(t *testing.T, store *ledger.MemoryStore, balance decimal.Decimal, at time.Time) {
	t.Helper()
	_, err := ledger.Seed(store, balance, at)
	require.NoError(t, err)
}

type fakeLedger struct {
	lastFn   func(ctx context.Context) (*ledger.Entry, error)
	insertFn func(ctx context.Context, entry *ledger.Entry) (bool, error)
}

func (f *fakeLedger) LastEntry(ctx context.Context) (*ledger.Entry, error) {
	if f.lastFn != nil {
		return f.lastFn(ctx)
	}
	return nil, nil
}

func (f *fakeLedger) InsertEntry(ctx context.Context, entry *ledger.Entry) (bool, error) {
	if f.insertFn != nil {
		return f.insertFn(ctx, entry)
	}
	return true, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification.Event
	err    error
}

func (r *recordingNotifier) Send(_ context.Context, e notification.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func TestNewService_Validation(t *testing.T) {
	_, err := NewService(nil)
	assert.Error(t, err)

	_, err = NewService(&fakeLedger{}, WithLockMode("optimistic"))
	assert.Error(t, err)

	_, err = NewService(&fakeLedger{}, WithEntryFactory(nil))
	assert.Error(t, err)

	svc, err := NewService(&fakeLedger{})
	require.NoError(t, err)
	assert.Equal(t, LockUnified, svc.LockMode())
}

func TestParseLockMode(t *testing.T) {
	tests := []struct {
		in      string
		want    LockMode
		wantErr bool
	}{
		{in: "", want: LockUnified},
		{in: "unified", want: LockUnified},
		{in: " SPLIT ", want: LockSplit},
		{in: "global", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseLockMode(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestGetBalance_EmptyLedgerIsZero(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		balance, err := svc.GetBalance(ctx)
		require.NoError(t, err)
		assertAmount(t, "0", balance.Amount)
	}
}

func TestGetBalance_IsStableWithoutMutation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.DepositFunds(ctx, Deposit{Amount: dec("42.42")})
	require.NoError(t, err)

	first, err := svc.GetBalance(ctx)
	require.NoError(t, err)
	second, err := svc.GetBalance(ctx)
	require.NoError(t, err)
	assert.True(t, first.Amount.Equal(second.Amount))
}

func TestDeposits_SumToBalance(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	for _, amount := range []string{"10", "20", "56"} {
		_, err := svc.DepositFunds(ctx, Deposit{Amount: dec(amount)})
		require.NoError(t, err)
	}

	balance, err := svc.GetBalance(ctx)
	require.NoError(t, err)
	assertAmount(t, "86", balance.Amount)
	assert.Equal(t, 3, store.Len())
}

func TestDepositThenWithdrawals(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.DepositFunds(ctx, Deposit{Amount: dec("100")})
	require.NoError(t, err)
	for _, amount := range []string{"10", "20", "33"} {
		_, err := svc.WithdrawFunds(ctx, Withdrawal{Amount: dec(amount)})
		require.NoError(t, err)
	}

	balance, err := svc.GetBalance(ctx)
	require.NoError(t, err)
	assertAmount(t, "37", balance.Amount)
}

func TestDepositRoundTrip(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seed(t, store, dec("15.5"), time.Now().Add(-time.Hour))

	got, err := svc.DepositFunds(ctx, Deposit{Amount: dec("4.75")})
	require.NoError(t, err)
	assertAmount(t, "20.25", got.Amount)

	balance, err := svc.GetBalance(ctx)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(balance.Amount))

	entries := store.Entries()
	last := entries[len(entries)-1]
	assertAmount(t, "4.75", last.Amount)
	assertAmount(t, "15.5", last.BalanceBefore)
	assert.NotEmpty(t, last.ID)
}

func TestWithdrawRoundTrip(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seed(t, store, dec("80"), time.Now().Add(-time.Hour))

	got, err := svc.WithdrawFunds(ctx, Withdrawal{Amount: dec("80")})
	require.NoError(t, err)
	assertAmount(t, "0", got.Amount)

	entries := store.Entries()
	last := entries[len(entries)-1]
	assertAmount(t, "-80", last.Amount)
	assertAmount(t, "80", last.BalanceBefore)

	balance, err := svc.GetBalance(ctx)
	require.NoError(t, err)
	assertAmount(t, "0", balance.Amount)
}

func TestWithdraw_InsufficientBalanceAppendsNothing(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	_, err := svc.WithdrawFunds(ctx, Withdrawal{Amount: dec("0.01")})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.NotErrorIs(t, err, ErrOperationFailed)
	assert.Equal(t, OutcomeInsufficientBalance, OutcomeOf(err))
	assert.Zero(t, store.Len())

	seed(t, store, dec("50"), time.Now().Add(-time.Hour))
	_, err = svc.WithdrawFunds(ctx, Withdrawal{Amount: dec("50.01")})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, 1, store.Len())

	balance, err := svc.GetBalance(ctx)
	require.NoError(t, err)
	assertAmount(t, "50", balance.Amount)
}

func TestGetBalance_OverflowIsCorruptedLedger(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, &ledger.Entry{
		ID:            "corrupt",
		EventTime:     time.Now().UTC(),
		Amount:        dec("1"),
		BalanceBefore: ledger.MaxMagnitude,
	}))

	_, err := svc.GetBalance(ctx)
	require.ErrorIs(t, err, ErrLedgerCorrupted)
	assert.ErrorIs(t, err, ErrOperationFailed)
	assert.ErrorIs(t, err, ledger.ErrOverflow)

	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "get_balance", opErr.Op)

	_, err = svc.DepositFunds(ctx, Deposit{Amount: dec("1")})
	assert.ErrorIs(t, err, ErrLedgerCorrupted)
	_, err = svc.WithdrawFunds(ctx, Withdrawal{Amount: dec("1")})
	assert.ErrorIs(t, err, ErrLedgerCorrupted)
	assert.Equal(t, 1, store.Len())
}

func TestDeposit_OverflowAppendsNothing(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seed(t, store, ledger.MaxMagnitude, time.Now().Add(-time.Hour))

	_, err := svc.DepositFunds(ctx, Deposit{Amount: dec("1")})
	require.ErrorIs(t, err, ErrOperationFailed)
	assert.ErrorIs(t, err, ledger.ErrOverflow)
	assert.Equal(t, 1, store.Len())
}

func TestMutations_RepositoryFailureReleasesLock(t *testing.T) {
	boom := errors.New("disk full")
	var failures atomic.Int32
	failures.Store(2)
	store := ledger.NewMemoryStore()

	fake := &fakeLedger{
		lastFn: store.Last,
		insertFn: func(ctx context.Context, e *ledger.Entry) (bool, error) {
			if failures.Add(-1) >= 0 {
				return false, boom
			}
			return true, store.Append(ctx, e)
		},
	}
	svc, err := NewService(fake)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.DepositFunds(ctx, Deposit{Amount: dec("5")})
	require.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrOperationFailed)
	assert.Equal(t, OutcomeFailure, OutcomeOf(err))

	seed(t, store, dec("5"), time.Now().Add(-time.Hour))
	_, err = svc.WithdrawFunds(ctx, Withdrawal{Amount: dec("1")})
	require.ErrorIs(t, err, boom)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := svc.DepositFunds(ctx, Deposit{Amount: dec("1")})
		assert.NoError(t, err)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock was not released after failure")
	}
}

func TestMutations_ReadFailureIsOperationFailure(t *testing.T) {
	boom := errors.New("connection refused")
	svc, err := NewService(&fakeLedger{
		lastFn: func(context.Context) (*ledger.Entry, error) { return nil, boom },
	})
	require.NoError(t, err)

	_, err = svc.GetBalance(context.Background())
	assert.ErrorIs(t, err, boom)
	_, err = svc.WithdrawFunds(context.Background(), Withdrawal{Amount: dec("1")})
	assert.ErrorIs(t, err, ErrOperationFailed)
	assert.NotErrorIs(t, err, ErrInsufficientBalance)
}

func TestMutations_NoopInsertIsFailure(t *testing.T) {
	svc, err := NewService(&fakeLedger{
		insertFn: func(context.Context, *ledger.Entry) (bool, error) { return false, nil },
	})
	require.NoError(t, err)

	_, err = svc.DepositFunds(context.Background(), Deposit{Amount: dec("1")})
	assert.ErrorIs(t, err, ErrOperationFailed)
}

func TestEntryFactoryAndClockAreUsed(t *testing.T) {
	var n int
	factory := EntryFactoryFunc(func(amount, before decimal.Decimal, at time.Time) ledger.Entry {
		n++
		return ledger.Entry{ID: fmt.Sprintf("entry-%d", n), EventTime: at, Amount: amount, BalanceBefore: before}
	})
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	times := []time.Time{base, base.Add(-time.Minute)}
	clock := func() time.Time {
		next := times[0]
		times = times[1:]
		return next
	}

	svc, store := newTestService(t, WithEntryFactory(factory), WithClock(clock))
	ctx := context.Background()

	_, err := svc.DepositFunds(ctx, Deposit{Amount: dec("3")})
	require.NoError(t, err)
	_, err = svc.DepositFunds(ctx, Deposit{Amount: dec("4")})
	require.NoError(t, err)

	entries := store.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "entry-1", entries[0].ID)
	assert.Equal(t, "entry-2", entries[1].ID)
	// The clock stepped back; the second entry keeps the previous event time.
	assert.True(t, entries[1].EventTime.Equal(base))

	balance, err := svc.GetBalance(ctx)
	require.NoError(t, err)
	assertAmount(t, "7", balance.Amount)
}

func TestNotifierReceivesAppendedEntries(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, _ := newTestService(t, WithNotifier(notifier))
	ctx := context.Background()

	_, err := svc.DepositFunds(ctx, Deposit{Amount: dec("30")})
	require.NoError(t, err)
	_, err = svc.WithdrawFunds(ctx, Withdrawal{Amount: dec("12")})
	require.NoError(t, err)
	_, err = svc.WithdrawFunds(ctx, Withdrawal{Amount: dec("100")})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	require.Len(t, notifier.events, 2)
	assert.Equal(t, notification.KindDeposit, notifier.events[0].Kind)
	assertAmount(t, "30", notifier.events[0].Balance)
	assert.Equal(t, notification.KindWithdrawal, notifier.events[1].Kind)
	assertAmount(t, "-12", notifier.events[1].Amount)
	assertAmount(t, "18", notifier.events[1].Balance)
}

func TestNotifierFailureDoesNotFailOperation(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("broker down")}
	svc, store := newTestService(t, WithNotifier(notifier))

	balance, err := svc.DepositFunds(context.Background(), Deposit{Amount: dec("9")})
	require.NoError(t, err)
	assertAmount(t, "9", balance.Amount)
	assert.Equal(t, 1, store.Len())
}

// Unified locking: concurrent deposits and withdrawals form one consistent chain.
func TestUnifiedLock_ConcurrentMixedOperationsStayConsistent(t *testing.T) {
	svc, store := newTestService(t, WithLockMode(LockUnified))
	ctx := context.Background()
	seed(t, store, dec("1000"), time.Now().Add(-time.Hour))

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = svc.DepositFunds(ctx, Deposit{Amount: dec("10")})
			} else {
				_, err = svc.WithdrawFunds(ctx, Withdrawal{Amount: dec("5")})
			}
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	balance, err := svc.GetBalance(ctx)
	require.NoError(t, err)
	assertAmount(t, "1125", balance.Amount)

	entries := store.Entries()
	require.Len(t, entries, workers+1)
	for i := 1; i < len(entries); i++ {
		prev, err := entries[i-1].BalanceAfter()
		require.NoError(t, err)
		assert.Truef(t, entries[i].BalanceBefore.Equal(prev),
			"entry %d balance_before %s does not follow %s", i, entries[i].BalanceBefore, prev)
	}
}

// Split locking still serialises operations of the same kind.
func TestSplitLock_SameKindOperationsAreSerialised(t *testing.T) {
	svc, _ := newTestService(t, WithLockMode(LockSplit))
	ctx := context.Background()

	const workers = 40
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.DepositFunds(ctx, Deposit{Amount: dec("2.5")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	balance, err := svc.GetBalance(ctx)
	require.NoError(t, err)
	assertAmount(t, "100", balance.Amount)
}

// gatedLedger holds the first two balance reads until both have happened,
// forcing a deposit and a withdrawal to observe the same balance.
type gatedLedger struct {
	Ledger
	reads atomic.Int32
	gate  sync.WaitGroup
}

func (g *gatedLedger) LastEntry(ctx context.Context) (*ledger.Entry, error) {
	entry, err := g.Ledger.LastEntry(ctx)
	if g.reads.Add(1) <= 2 {
		g.gate.Done()
		g.gate.Wait()
	}
	return entry, err
}

// Split locking reproduces the source behaviour: a concurrent deposit and
// withdrawal can both build on the same balance and one update is lost.
func TestSplitLock_CrossKindLostUpdate(t *testing.T) {
	store := ledger.NewMemoryStore()
	seed(t, store, dec("100"), time.Now().Add(-time.Hour))
	repo, err := ledger.NewRepository(context.Background(), store)
	require.NoError(t, err)

	gated := &gatedLedger{Ledger: repo}
	gated.gate.Add(2)
	svc, err := NewService(gated, WithLockMode(LockSplit))
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := svc.DepositFunds(ctx, Deposit{Amount: dec("50")})
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := svc.WithdrawFunds(ctx, Withdrawal{Amount: dec("30")})
		assert.NoError(t, err)
	}()
	wg.Wait()

	entries := store.Entries()
	require.Len(t, entries, 3)
	assertAmount(t, "100", entries[1].BalanceBefore)
	assertAmount(t, "100", entries[2].BalanceBefore)

	balance, err := svc.GetBalance(ctx)
	require.NoError(t, err)
	assert.False(t, balance.Amount.Equal(dec("120")), "expected a lost update, got the serialised result")
}

func TestMutations_RejectOutOfRangeAmounts(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seed(t, store, dec("10"), time.Now().Add(-time.Hour))

	for _, amount := range []string{"1e-20000000", "0.00000000000000000000000000001", "1e20000000"} {
		start := time.Now()
		_, err := svc.DepositFunds(ctx, Deposit{Amount: dec(amount)})
		require.ErrorIs(t, err, ledger.ErrOverflow, amount)
		assert.ErrorIs(t, err, ErrOperationFailed)

		_, err = svc.WithdrawFunds(ctx, Withdrawal{Amount: dec(amount)})
		require.ErrorIs(t, err, ledger.ErrOverflow, amount)
		assert.NotErrorIs(t, err, ErrInsufficientBalance)
		assert.Less(t, time.Since(start), time.Second, amount)
	}
	assert.Equal(t, 1, store.Len())

	_, err := svc.DepositFunds(ctx, Deposit{Amount: dec("0.0000000000000000000000000001")})
	require.NoError(t, err)
}

func TestGetBalance_StoredEntryBeyondMaxScaleIsCorrupted(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, &ledger.Entry{
		ID:            "too-precise",
		EventTime:     time.Now().UTC(),
		Amount:        dec("1e-40"),
		BalanceBefore: decimal.Zero,
	}))

	_, err := svc.GetBalance(ctx)
	assert.ErrorIs(t, err, ErrLedgerCorrupted)
}

// blockingNotifier holds the first Send until release is closed.
type blockingNotifier struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (b *blockingNotifier) Send(ctx context.Context, _ notification.Event) error {
	if b.calls.Add(1) == 1 {
		close(b.entered)
		select {
		case <-b.release:
		case <-ctx.Done():
		}
	}
	return nil
}

func TestNotifierRunsOutsideMutationLock(t *testing.T) {
	for _, mode := range []LockMode{LockUnified, LockSplit} {
		t.Run(string(mode), func(t *testing.T) {
			notifier := &blockingNotifier{entered: make(chan struct{}), release: make(chan struct{})}
			svc, store := newTestService(t, WithLockMode(mode), WithNotifier(notifier))
			ctx := context.Background()

			first := make(chan error, 1)
			go func() {
				_, err := svc.DepositFunds(ctx, Deposit{Amount: dec("10")})
				first <- err
			}()
			<-notifier.entered

			done := make(chan struct{})
			go func() {
				defer close(done)
				_, err := svc.DepositFunds(ctx, Deposit{Amount: dec("5")})
				assert.NoError(t, err)
				_, err = svc.WithdrawFunds(ctx, Withdrawal{Amount: dec("3")})
				assert.NoError(t, err)
			}()

			select {
			case <-done:
			case <-time.After(2 * time.Second):
				close(notifier.release)
				t.Fatal("mutations waited for a pending notification")
			}
			assert.Equal(t, 3, store.Len())

			close(notifier.release)
			require.NoError(t, <-first)

			balance, err := svc.GetBalance(ctx)
			require.NoError(t, err)
			assertAmount(t, "12", balance.Amount)
		})
	}
}
