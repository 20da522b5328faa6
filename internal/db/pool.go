package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finguru/finguru-service/internal/common"
)

// PostgresLedger stores entries and users in PostgreSQL through a pgx pool
type PostgresLedger struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            UUID PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	name          TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id                  UUID PRIMARY KEY,
	user_id             TEXT NOT NULL DEFAULT '',
	expense_date        DATE NOT NULL,
	amount              NUMERIC(14,2) NOT NULL,
	category            TEXT NOT NULL,
	tax_rate            NUMERIC(5,2) NOT NULL,
	tax_amount          NUMERIC(14,2) NOT NULL,
	confidence          DOUBLE PRECISION NOT NULL,
	explanation         TEXT NOT NULL,
	needs_confirmation  BOOLEAN NOT NULL DEFAULT false,
	confirmation_reason TEXT NOT NULL DEFAULT '',
	confirmed           BOOLEAN NOT NULL DEFAULT false,
	reasoning_path      TEXT NOT NULL DEFAULT '',
	source              TEXT NOT NULL,
	vendor_name         TEXT NOT NULL DEFAULT '',
	vendor_tax_id       TEXT NOT NULL DEFAULT '',
	media_key           TEXT NOT NULL DEFAULT '',
	raw_text            TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_ledger_entries_user_date ON ledger_entries (user_id, expense_date);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_user_created ON ledger_entries (user_id, created_at DESC);
`

// NewPostgresLedger opens the connection pool, verifies it and ensures the schema
func NewPostgresLedger(ctx context.Context, databaseURL string, logger *slog.Logger) (*PostgresLedger, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("%w: no database configuration", common.ErrInvalidConfig)
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Connection pool settings optimized for PgBouncer
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	log := common.OrDefault(logger)
	log.Info("ledger.postgres.ready", "max_conns", config.MaxConns)
	return &PostgresLedger{pool: pool, log: log}, nil
}

// Ping checks the pool
func (s *PostgresLedger) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the database connection pool
func (s *PostgresLedger) Close() {
	s.pool.Close()
	s.log.Info("ledger.postgres.closed")
}
