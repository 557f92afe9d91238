package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/countersign/countersign/deal"
	"github.com/countersign/countersign/signature"
	"github.com/countersign/countersign/token"
)

// WriteToken writes a unique signing token to the database.
func (db DataBase) WriteToken(ctx context.Context, t token.Token) error {
	if _, err := db.inner.ExecContext(ctx,
		`INSERT INTO signing_tokens (token, deal_id, role, signer_email, valid, created_at, expiration_date, consumed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.Token, t.DealID, t.Role, t.SignerEmail, t.Valid, t.CreatedAt, t.ExpirationDate, t.ConsumedAt); err != nil {
		return errors.Join(ErrInsertFailed, err)
	}
	return nil
}

// ReadToken reads the signing token by its opaque value.
// Returns ErrNotFound when no token with that value exists.
func (db DataBase) ReadToken(ctx context.Context, tkn string) (token.Token, error) {
	var t token.Token
	if err := db.inner.QueryRowContext(ctx,
		`SELECT token, deal_id, role, signer_email, valid, created_at, expiration_date, consumed_at
			FROM signing_tokens WHERE token = $1`, tkn).
		Scan(&t.Token, &t.DealID, &t.Role, &t.SignerEmail, &t.Valid, &t.CreatedAt, &t.ExpirationDate, &t.ConsumedAt); err != nil {
		if err == sql.ErrNoRows {
			return token.Token{}, ErrNotFound
		}
		return token.Token{}, errors.Join(ErrSelectFailed, err)
	}
	return t, nil
}

// InvalidateToken invalidates a single token by its value.
func (db DataBase) InvalidateToken(ctx context.Context, tkn string) error {
	if _, err := db.inner.ExecContext(ctx,
		`UPDATE signing_tokens SET valid = false WHERE token = $1`, tkn); err != nil {
		return errors.Join(ErrUpdateFailed, err)
	}
	return nil
}

// InvalidateDealTokens invalidates all still valid tokens issued for the
// (deal, role) pair. Issuing a new token supersedes all previous ones.
func (db DataBase) InvalidateDealTokens(ctx context.Context, dealID string, role deal.Role) error {
	if _, err := db.inner.ExecContext(ctx,
		`UPDATE signing_tokens SET valid = false
			WHERE deal_id = $1 AND role = $2 AND valid = true`, dealID, role); err != nil {
		return errors.Join(ErrUpdateFailed, err)
	}
	return nil
}

// RedeemToken marks the token consumed in a single atomic conditional update.
// Exactly one of any number of concurrent calls for the same token wins,
// the returned flag tells if this call was the winner.
func (db DataBase) RedeemToken(ctx context.Context, tkn string, now int64) (bool, error) {
	res, err := db.inner.ExecContext(ctx,
		`UPDATE signing_tokens SET consumed_at = $2, valid = false
			WHERE token = $1 AND valid = true AND consumed_at = 0 AND expiration_date > $2`, tkn, now)
	if err != nil {
		return false, errors.Join(ErrUpdateFailed, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, errors.Join(ErrUpdateFailed, err)
	}
	return rows == 1, nil
}

// RedeemTokenWithSignature consumes the token and writes the holder's
// signature record in one database transaction so redemption and recording
// are applied fully or not at all. The recorded flag is false when a signed
// record for (deal, role, contract version) already existed, which callers
// treat as success.
func (db DataBase) RedeemTokenWithSignature(ctx context.Context, tkn string, now int64, rec signature.Record) (redeemed, recorded bool, err error) {
	tx, err := db.inner.BeginTx(ctx, nil)
	if err != nil {
		return false, false, errors.Join(ErrTrxBeginFailed, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE signing_tokens SET consumed_at = $2, valid = false
			WHERE token = $1 AND valid = true AND consumed_at = 0 AND expiration_date > $2`, tkn, now)
	if err != nil {
		return false, false, errors.Join(ErrUpdateFailed, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, false, errors.Join(ErrUpdateFailed, err)
	}
	if rows != 1 {
		return false, false, nil
	}

	res, err = tx.ExecContext(ctx,
		`INSERT INTO signatures (deal_id, role, signer_identity, signed, signed_at, contact, remote_addr, client_agent, contract_version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (deal_id, role, contract_version) DO NOTHING`,
		rec.DealID, rec.Role, rec.SignerIdentity, rec.Signed, rec.SignedAt,
		rec.Contact, rec.RemoteAddr, rec.ClientAgent, rec.ContractVersion)
	if err != nil {
		return false, false, errors.Join(ErrInsertFailed, err)
	}
	rows, err = res.RowsAffected()
	if err != nil {
		return false, false, errors.Join(ErrInsertFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return false, false, errors.Join(ErrCommitFailed, err)
	}
	return true, rows == 1, nil
}
