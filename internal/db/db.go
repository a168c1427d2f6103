// Package db holds the optional data-store connections: named Postgres
// pools, the Redis preference cache, and the search client. All of them
// are optional; an empty config yields nothing to connect to.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect establishes a connection pool to one Postgres database.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Pools is the set of named Postgres pools from DB_DSNS.
type Pools map[string]*pgxpool.Pool

// ConnectAll opens every configured pool. On any failure the pools opened
// so far are closed and the error names the offending entry.
func ConnectAll(ctx context.Context, dsns map[string]string) (Pools, error) {
	pools := make(Pools, len(dsns))
	for name, dsn := range dsns {
		pool, err := Connect(ctx, dsn)
		if err != nil {
			pools.Close()
			return nil, fmt.Errorf("db %q: %w", name, err)
		}
		pools[name] = pool
	}
	return pools, nil
}

// Ping verifies every pool within the given context.
func (p Pools) Ping(ctx context.Context) error {
	for name, pool := range p {
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("db %q: %w", name, err)
		}
	}
	return nil
}

func (p Pools) Close() {
	for _, pool := range p {
		pool.Close()
	}
}
