package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Repository adapts a Store for the wallet service. Construction validates the
// store so misconfiguration surfaces at startup rather than on first request.
type Repository struct {
	store Store
}

// NewRepository validates store and wraps it. A missing or closed handle yields
// ErrStoreUnavailable; an unusable entry collection yields ErrCollectionUnavailable.
func NewRepository(ctx context.Context, store Store) (*Repository, error) {
	if store == nil {
		return nil, ErrStoreUnavailable
	}
	if err := store.Ping(ctx); err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrCollectionUnavailable, err)
	}
	return &Repository{store: store}, nil
}

// LastEntry returns the most recent entry, or nil if none has been written.
func (r *Repository) LastEntry(ctx context.Context) (*Entry, error) {
	entry, err := r.store.Last(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch last entry: %w", err)
	}
	return entry, nil
}

// InsertEntry appends entry. A nil entry is a no-op reported as (false, nil).
func (r *Repository) InsertEntry(ctx context.Context, entry *Entry) (bool, error) {
	if entry == nil {
		return false, nil
	}
	if err := r.store.Append(ctx, entry); err != nil {
		return false, fmt.Errorf("append entry %s: %w", entry.ID, err)
	}
	return true, nil
}

// Ping reports whether the underlying store is still usable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}
