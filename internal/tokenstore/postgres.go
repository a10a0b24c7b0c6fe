package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Crosschaser/Protos/internal/config"
	"github.com/Crosschaser/Protos/internal/database"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS device_prefs (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, key)
)`

// pgPool is the subset of pgxpool.Pool used by PostgresStore.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore keeps the token in a Postgres key/value table.
type PostgresStore struct {
	pool pgPool
}

// OpenPostgres connects to cfg and creates the table if needed.
func OpenPostgres(ctx context.Context, cfg config.DBConfig) (*PostgresStore, error) {
	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s, err := NewPostgresStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an existing pool. The store owns the pool and closes
// it on Close.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Get(ctx context.Context) (string, error) {
	var token string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM device_prefs WHERE namespace = $1 AND key = $2`, Namespace, Key,
	).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && token == "") {
		return "", ErrTokenMissing
	}
	if err != nil {
		return "", fmt.Errorf("query token: %w", err)
	}
	return token, nil
}

func (s *PostgresStore) Set(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO device_prefs (namespace, key, value) VALUES ($1, $2, $3)
		 ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		Namespace, Key, token,
	)
	if err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
