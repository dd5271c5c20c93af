// Package database manages the pgx connection pool for the archive writers.
package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"botsync/internal/config"
)

// Connect creates a pgx pool for the archive database and verifies
// connectivity with a ping.
func Connect(ctx context.Context, cfg config.DBConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse archive db config: %w", err)
	}
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create archive db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping archive db: %w", err)
	}

	logger.Info("connected to archive database",
		"host", cfg.Host,
		"database", cfg.Name,
		"max_conns", cfg.MaxConns)

	return pool, nil
}
