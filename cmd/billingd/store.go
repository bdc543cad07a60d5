package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/BitCodeHub/stackaudit-ai-sub001/store"
	"github.com/BitCodeHub/stackaudit-ai-sub001/store/memory"
	"github.com/BitCodeHub/stackaudit-ai-sub001/store/mongo"
	"github.com/BitCodeHub/stackaudit-ai-sub001/store/postgres"
	"github.com/BitCodeHub/stackaudit-ai-sub001/store/sqlite"
)

// Values accepted by store_driver.
const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
	driverMongo    = "mongo"
	driverMemory   = "memory"
)

// newStore opens the backend named by cfg.StoreDriver. The engine
// migrates it on Start.
func newStore(ctx context.Context, cfg *config, logger *slog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case driverPostgres:
		pgdb := pgdriver.New()
		if err := pgdb.Open(ctx, cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db, err := grove.Open(pgdb)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return postgres.New(db), nil

	case driverSQLite:
		sdb := sqlitedriver.New()
		if err := sdb.Open(ctx, cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db, err := grove.Open(sdb)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return sqlite.New(db), nil

	case driverMongo:
		mdb := mongodriver.New()
		if err := mdb.Open(ctx, cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("open mongo: %w", err)
		}
		db, err := grove.Open(mdb)
		if err != nil {
			return nil, fmt.Errorf("open mongo: %w", err)
		}
		return mongo.New(db), nil

	case driverMemory:
		logger.Warn("using in-memory store; all billing state is lost on restart")
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
