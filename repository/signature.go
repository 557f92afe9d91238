package repository

import (
	"context"
	"errors"

	"github.com/countersign/countersign/signature"
)

// WriteSignature writes a signature record unless a record for the same
// (deal, role, contract version) exists. The returned flag tells if the
// record was inserted, a false flag signals the idempotency guard fired.
func (db DataBase) WriteSignature(ctx context.Context, rec signature.Record) (bool, error) {
	res, err := db.inner.ExecContext(ctx,
		`INSERT INTO signatures (deal_id, role, signer_identity, signed, signed_at, contact, remote_addr, client_agent, contract_version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (deal_id, role, contract_version) DO NOTHING`,
		rec.DealID, rec.Role, rec.SignerIdentity, rec.Signed, rec.SignedAt,
		rec.Contact, rec.RemoteAddr, rec.ClientAgent, rec.ContractVersion)
	if err != nil {
		return false, errors.Join(ErrInsertFailed, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, errors.Join(ErrInsertFailed, err)
	}
	return rows == 1, nil
}

// ReadDealSignatures reads all signature records for the deal, all contract versions.
func (db DataBase) ReadDealSignatures(ctx context.Context, dealID string) ([]signature.Record, error) {
	rows, err := db.inner.QueryContext(ctx,
		`SELECT deal_id, role, signer_identity, signed, signed_at, contact, remote_addr, client_agent, contract_version
			FROM signatures WHERE deal_id = $1`, dealID)
	if err != nil {
		return nil, errors.Join(ErrSelectFailed, err)
	}
	defer rows.Close()

	var records []signature.Record
	for rows.Next() {
		var r signature.Record
		if err := rows.Scan(&r.DealID, &r.Role, &r.SignerIdentity, &r.Signed, &r.SignedAt,
			&r.Contact, &r.RemoteAddr, &r.ClientAgent, &r.ContractVersion); err != nil {
			return nil, errors.Join(ErrScanFailed, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Join(ErrSelectFailed, err)
	}
	return records, nil
}
