package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alexanderbarati/tensiletester/internal/config"
)

// PostgresClient archives finished test runs. The kernel never depends on
// it being present; the archive is wired in only when the database section
// is enabled.
type PostgresClient struct {
	pool *pgxpool.Pool
}

func NewPostgresClient(cfg config.DatabaseConfig) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{pool: pool}, nil
}

func (p *PostgresClient) Close() {
	p.pool.Close()
}

func (p *PostgresClient) Pool() *pgxpool.Pool {
	return p.pool
}

// EnsureSchema creates the test_runs table if it does not exist yet.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS test_runs (
			id              UUID PRIMARY KEY,
			started_at      TIMESTAMPTZ NOT NULL,
			duration_ms     BIGINT NOT NULL,
			max_force       DOUBLE PRECISION NOT NULL,
			max_extension   DOUBLE PRECISION NOT NULL,
			break_force     DOUBLE PRECISION NOT NULL,
			break_extension DOUBLE PRECISION NOT NULL,
			data_points     INTEGER NOT NULL,
			completed       BOOLEAN NOT NULL,
			specimen_broke  BOOLEAN NOT NULL,
			params          JSONB NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create test_runs table: %w", err)
	}
	return nil
}
