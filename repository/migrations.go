package repository

import (
	"context"
	"errors"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS signing_tokens (
		id SERIAL PRIMARY KEY,
		token TEXT UNIQUE NOT NULL,
		deal_id TEXT NOT NULL,
		role TEXT NOT NULL,
		signer_email TEXT NOT NULL,
		valid BOOLEAN NOT NULL,
		created_at BIGINT NOT NULL,
		expiration_date BIGINT NOT NULL,
		consumed_at BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS signing_tokens_deal_role_idx ON signing_tokens (deal_id, role)`,
	`CREATE TABLE IF NOT EXISTS signatures (
		id SERIAL PRIMARY KEY,
		deal_id TEXT NOT NULL,
		role TEXT NOT NULL,
		signer_identity TEXT NOT NULL,
		signed BOOLEAN NOT NULL,
		signed_at BIGINT NOT NULL,
		contact TEXT NOT NULL DEFAULT '',
		remote_addr TEXT NOT NULL DEFAULT '',
		client_agent TEXT NOT NULL DEFAULT '',
		contract_version TEXT NOT NULL,
		UNIQUE (deal_id, role, contract_version)
	)`,
	`CREATE TABLE IF NOT EXISTS deals (
		id SERIAL PRIMARY KEY,
		deal_id TEXT UNIQUE NOT NULL,
		stage TEXT NOT NULL,
		contract_version TEXT NOT NULL,
		creator_email TEXT NOT NULL,
		counterparty_email TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
}

// RunMigration creates the tables if they do not exist yet.
// Statements are idempotent so the migration is safe to re-run on start.
func (db DataBase) RunMigration(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := db.inner.ExecContext(ctx, stmt); err != nil {
			return errors.Join(ErrInsertFailed, err)
		}
	}
	return nil
}
