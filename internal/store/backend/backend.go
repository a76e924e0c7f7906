// Package backend opens the configured ticket store: Postgres with pgvector for
// deployments, or a single SQLite file for local runs.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"nixo.app/triage/core/config"
	"nixo.app/triage/core/db"
	"nixo.app/triage/internal/store"
	"nixo.app/triage/internal/store/sqlite"
)

type Backend struct {
	Stores store.Provider
	Tx     store.TxRunner
	close  func()
}

func (b *Backend) Close() {
	if b.close != nil {
		b.close()
	}
}

func Open(ctx context.Context, cfg config.Config) (*Backend, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		sdb, err := sqlite.Open(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "sqlite store opened", "path", cfg.Store.SQLitePath)
		return &Backend{
			Stores: sdb,
			Tx:     sdb,
			close: func() {
				if err := sdb.Close(); err != nil {
					slog.ErrorContext(ctx, "closing sqlite store", "error", err)
				}
			},
		}, nil
	case "postgres", "":
		database, err := db.New(ctx, cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		slog.InfoContext(ctx, "database connected")
		return &Backend{
			Stores: store.NewStores(database.Conn()),
			Tx:     store.NewTxRunner(database),
			close:  database.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
