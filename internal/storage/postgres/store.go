// Package postgres backs the provider's product-owned data — accounts,
// entitlements, consent grants and client registrations — with PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Store implements the account, license, consent and client directory
// interfaces on one connection pool.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres, verifies the connection and ensures the
// schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		email_verified BOOLEAN NOT NULL DEFAULT FALSE,
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'user',
		password_hash TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_login_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS entitlements (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		license_key TEXT NOT NULL,
		tier TEXT NOT NULL DEFAULT '',
		version TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		activations INTEGER NOT NULL DEFAULT 0,
		max_activations INTEGER NOT NULL DEFAULT 0,
		purchased_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		activated_at TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS idx_entitlements_account ON entitlements(account_id);

	CREATE TABLE IF NOT EXISTS consent_grants (
		id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		scopes TEXT[] NOT NULL DEFAULT '{}',
		resource_scopes JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		revoked_at TIMESTAMPTZ,
		PRIMARY KEY (client_id, account_id)
	);

	CREATE TABLE IF NOT EXISTS oauth_clients (
		id TEXT PRIMARY KEY,
		client_name TEXT NOT NULL DEFAULT '',
		secret_hash TEXT NOT NULL DEFAULT '',
		redirect_uris TEXT[] NOT NULL DEFAULT '{}',
		grant_types TEXT[] NOT NULL DEFAULT '{}',
		response_types TEXT[] NOT NULL DEFAULT '{}',
		scope TEXT NOT NULL DEFAULT '',
		skip_consent BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	`

	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Ping reports whether the database answers, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
