package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ilkin0/chunkup/internal/repository/sqlc"
	"github.com/jackc/pgx/v5/pgxpool"
)

const connectTimeout = 10 * time.Second

// Database holds the connection pool and the query set bound to it.
type Database struct {
	Pool    *pgxpool.Pool
	Queries *sqlc.Queries
}

// NewDatabase opens a pool and pings it once before returning.
func NewDatabase(ctx context.Context, dbURL string) (*Database, error) {
	if dbURL == "" {
		return nil, errors.New("database url is empty")
	}

	poolCfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	return &Database{Pool: pool, Queries: sqlc.New(pool)}, nil
}

// Ping backs the readiness check.
func (d *Database) Ping(ctx context.Context) error {
	return d.Pool.Ping(ctx)
}

func (d *Database) Close() {
	d.Pool.Close()
}
