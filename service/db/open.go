package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brojonat/solwatch/service/config"
	"github.com/brojonat/solwatch/service/ledger"
	"github.com/brojonat/solwatch/service/metrics"
)

// Open returns the ledger store for backend and a function releasing it.
// path is used by the file and sqlite backends, databaseURL by postgres.
func Open(ctx context.Context, backend, path, databaseURL string, m *metrics.Metrics) (ledger.Store, func(), error) {
	switch backend {
	case config.BackendMemory:
		return ledger.NewMemoryStore(), func() {}, nil

	case config.BackendFile:
		store, err := ledger.OpenFileStore(path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil

	case config.BackendSQLite:
		store, err := OpenSQLiteStore(path, m)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil

	case config.BackendPostgres:
		if databaseURL == "" {
			return nil, nil, fmt.Errorf("database url is required for the %s backend", backend)
		}
		pool, err := pgxpool.New(ctx, databaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}
		store := NewPostgresStore(pool, m)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", backend)
	}
}
