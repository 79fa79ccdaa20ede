package repository

import (
	"context"
	"fmt"
)

// postgres and sqlite share the schema except for the auto-increment columns.
// Timestamps are unix nanoseconds.
var schemas = map[string][]string{
	"postgres": {
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			username TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			account_id TEXT NOT NULL,
			counterparty_id TEXT NOT NULL DEFAULT '',
			correlation_id TEXT NOT NULL,
			amount BIGINT NOT NULL,
			fee BIGINT NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			flagged INTEGER NOT NULL DEFAULT 0,
			fraud_reasons TEXT NOT NULL DEFAULT '',
			memo TEXT NOT NULL DEFAULT '',
			reversal_of TEXT NOT NULL DEFAULT '',
			ts BIGINT NOT NULL,
			signature TEXT NOT NULL DEFAULT ''
		)`,
	},
	"sqlite3": {
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			account_id TEXT NOT NULL,
			counterparty_id TEXT NOT NULL DEFAULT '',
			correlation_id TEXT NOT NULL,
			amount BIGINT NOT NULL,
			fee BIGINT NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			flagged INTEGER NOT NULL DEFAULT 0,
			fraud_reasons TEXT NOT NULL DEFAULT '',
			memo TEXT NOT NULL DEFAULT '',
			reversal_of TEXT NOT NULL DEFAULT '',
			ts BIGINT NOT NULL,
			signature TEXT NOT NULL DEFAULT ''
		)`,
	},
}

var common = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		owner_id BIGINT NOT NULL DEFAULT 0,
		holder_name TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		balance BIGINT NOT NULL DEFAULT 0,
		overdraft_limit BIGINT NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value BIGINT NOT NULL
	)`,
	`INSERT INTO counters (name, value) VALUES ('account', 1000) ON CONFLICT (name) DO NOTHING`,
	`CREATE INDEX IF NOT EXISTS transactions_account_ts ON transactions (account_id, ts, seq)`,
	`CREATE INDEX IF NOT EXISTS accounts_owner ON accounts (owner_id)`,
}

// Migrate creates the tables if they do not exist
func (r *Repository) Migrate(ctx context.Context) error {
	stmts, ok := schemas[r.driver]
	if !ok {
		return fmt.Errorf("no schema for driver %q", r.driver)
	}
	for _, stmt := range append(append([]string{}, stmts...), common...) {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	r.log.Infof("Database schema ready (%s)", r.driver)
	return nil
}
