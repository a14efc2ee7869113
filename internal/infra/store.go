package infra

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/onlinewallet/onlinewallet/internal/ledger"
)

// Backend names the entry store implementation chosen from a database URL.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite"
)

// BackendFor maps a DATABASE_URL to its backend. An empty url selects the
// in-memory store.
func BackendFor(url string) (Backend, error) {
	switch {
	case url == "":
		return BackendMemory, nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return BackendPostgres, nil
	case strings.HasPrefix(url, "sqlite://"), strings.HasPrefix(url, "file:"):
		return BackendSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database url scheme")
	}
}

// StoreOptions controls OpenEntryStore.
type StoreOptions struct {
	DatabaseURL string
	AutoMigrate bool
	Logger      *slog.Logger
}

// OpenEntryStore opens the ledger entry store selected by opts.DatabaseURL.
// The returned close function releases the underlying connections.
func OpenEntryStore(ctx context.Context, opts StoreOptions) (ledger.Store, func(), error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	backend, err := BackendFor(opts.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	switch backend {
	case BackendPostgres:
		pool, err := NewPostgresPool(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if opts.AutoMigrate {
			if err := Migrate(ctx, pool, "up"); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		logger.Info("entry store ready", slog.String("backend", string(backend)))
		return ledger.NewPostgresStore(pool), pool.Close, nil

	case BackendSQLite:
		db, err := NewSQLite(opts.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := ledger.NewGormStore(db)
		closeFn := func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
		if opts.AutoMigrate {
			if err := store.AutoMigrate(ctx); err != nil {
				closeFn()
				return nil, nil, err
			}
		}
		logger.Info("entry store ready", slog.String("backend", string(backend)))
		return store, closeFn, nil

	default:
		logger.Warn("DATABASE_URL not set, entries are kept in memory")
		return ledger.NewMemoryStore(), func() {}, nil
	}
}
