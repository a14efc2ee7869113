package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// EntriesTable is the relation holding ledger entries.
const EntriesTable = "wallet_entries"

// PostgresStore persists ledger entries in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed entry store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Ping checks the pool is usable and the entries table exists.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, EntriesTable).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("table %s does not exist", EntriesTable)
	}
	return nil
}

// Last returns the newest entry, ordered by event time then sequence.
func (s *PostgresStore) Last(ctx context.Context) (*Entry, error) {
	const query = `
        SELECT id::text, event_time, amount::text, balance_before::text, seq
        FROM wallet_entries
        ORDER BY event_time DESC, seq DESC
        LIMIT 1`

	var (
		entry         Entry
		eventTime     time.Time
		amount        string
		balanceBefore string
	)
	if err := s.db.QueryRow(ctx, query).Scan(&entry.ID, &eventTime, &amount, &balanceBefore, &entry.Sequence); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	var err error
	if entry.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("decode amount of entry %s: %w", entry.ID, err)
	}
	if entry.BalanceBefore, err = decimal.NewFromString(balanceBefore); err != nil {
		return nil, fmt.Errorf("decode balance_before of entry %s: %w", entry.ID, err)
	}
	entry.EventTime = eventTime.UTC()
	return &entry, nil
}

// Append inserts one entry row.
func (s *PostgresStore) Append(ctx context.Context, entry *Entry) error {
	const query = `
        INSERT INTO wallet_entries (id, event_time, amount, balance_before)
        VALUES ($1::uuid, $2, $3::numeric, $4::numeric)
        RETURNING seq`

	return s.db.QueryRow(ctx, query,
		entry.ID,
		entry.EventTime.UTC(),
		entry.Amount.String(),
		entry.BalanceBefore.String(),
	).Scan(&entry.Sequence)
}

var _ Store = (*PostgresStore)(nil)
