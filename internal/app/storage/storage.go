// Package storage opens the configured store backend.
package storage

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/dannyseiner/web-tools-sub000/internal/app/migrate"
	"github.com/dannyseiner/web-tools-sub000/internal/repository"
	"github.com/dannyseiner/web-tools-sub000/internal/repository/postgres"
	"github.com/dannyseiner/web-tools-sub000/internal/repository/sqlite"
	"github.com/dannyseiner/web-tools-sub000/pkg/config"
)

// Handle couples a store with the database/sql handle migrations run on.
type Handle struct {
	Store   repository.Store
	DB      *sql.DB
	Dialect migrate.Dialect
}

// Open connects to the backend selected by cfg.StoreDriver.
func Open(ctx context.Context, cfg config.APIConfig) (*Handle, error) {
	dialect, err := migrate.ParseDialect(cfg.StoreDriver)
	if err != nil {
		return nil, err
	}
	switch dialect {
	case migrate.DialectSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Handle{Store: sqlite.New(db), DB: db, Dialect: dialect}, nil
	default:
		pool, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &Handle{Store: postgres.New(pool), DB: stdlib.OpenDBFromPool(pool), Dialect: dialect}, nil
	}
}

// Migrator returns a migration runner for the handle.
func (h *Handle) Migrator(log *slog.Logger) (migrate.Runner, error) {
	return migrate.New(h.DB, h.Dialect, log)
}

// Close releases the store and its sql handle.
func (h *Handle) Close() {
	if h.Dialect != migrate.DialectSQLite {
		_ = h.DB.Close()
	}
	h.Store.Close()
}
