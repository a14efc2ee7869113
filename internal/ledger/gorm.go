package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type entryRecord struct {
	Seq           int64           `gorm:"column:seq;primaryKey;autoIncrement"`
	EntryID       string          `gorm:"column:id;type:text;not null;uniqueIndex"`
	EventTime     time.Time       `gorm:"column:event_time;not null;index:wallet_entries_event_time_idx"`
	Amount        decimal.Decimal `gorm:"column:amount;type:text;not null"`
	BalanceBefore decimal.Decimal `gorm:"column:balance_before;type:text;not null"`
}

func (entryRecord) TableName() string { return EntriesTable }

// GormStore persists ledger entries through gorm. It backs local SQLite
// deployments; Postgres deployments use PostgresStore.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore returns an entry store bound to the provided gorm connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate creates the entries table when it is missing.
func (s *GormStore) AutoMigrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	return s.db.WithContext(ctx).AutoMigrate(&entryRecord{})
}

func (s *GormStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !s.db.WithContext(ctx).Migrator().HasTable(&entryRecord{}) {
		return fmt.Errorf("table %s does not exist", EntriesTable)
	}
	return nil
}

func (s *GormStore) Last(ctx context.Context) (*Entry, error) {
	var rec entryRecord
	err := s.db.WithContext(ctx).
		Order("event_time DESC").
		Order("seq DESC").
		Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &Entry{
		ID:            rec.EntryID,
		EventTime:     rec.EventTime.UTC(),
		Amount:        rec.Amount,
		BalanceBefore: rec.BalanceBefore,
		Sequence:      rec.Seq,
	}, nil
}

func (s *GormStore) Append(ctx context.Context, entry *Entry) error {
	rec := entryRecord{
		EntryID:       entry.ID,
		EventTime:     entry.EventTime.UTC(),
		Amount:        entry.Amount,
		BalanceBefore: entry.BalanceBefore,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return err
	}
	entry.Sequence = rec.Seq
	return nil
}

var _ Store = (*GormStore)(nil)
