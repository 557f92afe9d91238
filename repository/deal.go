package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/countersign/countersign/deal"
)

// CreateDeal writes a new deal row with its current stage and contract version.
func (db DataBase) CreateDeal(ctx context.Context, d deal.Deal) error {
	if _, err := db.inner.ExecContext(ctx,
		`INSERT INTO deals (deal_id, stage, contract_version, creator_email, counterparty_email, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
		d.DealID, d.Stage, d.ContractVersion, d.CreatorEmail, d.CounterpartyEmail, d.CreatedAt); err != nil {
		return errors.Join(ErrInsertFailed, err)
	}
	return nil
}

// ReadDeal reads the deal by its identifier.
// Returns ErrNotFound when the deal does not exist.
func (db DataBase) ReadDeal(ctx context.Context, dealID string) (deal.Deal, error) {
	var d deal.Deal
	if err := db.inner.QueryRowContext(ctx,
		`SELECT deal_id, stage, contract_version, creator_email, counterparty_email, created_at
			FROM deals WHERE deal_id = $1`, dealID).
		Scan(&d.DealID, &d.Stage, &d.ContractVersion, &d.CreatorEmail, &d.CounterpartyEmail, &d.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return deal.Deal{}, ErrNotFound
		}
		return deal.Deal{}, errors.Join(ErrSelectFailed, err)
	}
	return d, nil
}

// CasDealStage moves the deal stage from one value to the other in a single
// conditional update. The returned flag tells if the transition was applied,
// a false flag means the deal was no longer in the expected stage so a
// delayed duplicate check never regresses or double applies a transition.
func (db DataBase) CasDealStage(ctx context.Context, dealID string, from, to deal.Stage) (bool, error) {
	res, err := db.inner.ExecContext(ctx,
		`UPDATE deals SET stage = $3 WHERE deal_id = $1 AND stage = $2`, dealID, from, to)
	if err != nil {
		return false, errors.Join(ErrUpdateFailed, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, errors.Join(ErrUpdateFailed, err)
	}
	return rows == 1, nil
}

// DeclineDeal moves the deal to the declined stage from any non terminal stage.
func (db DataBase) DeclineDeal(ctx context.Context, dealID string) (bool, error) {
	res, err := db.inner.ExecContext(ctx,
		`UPDATE deals SET stage = $2 WHERE deal_id = $1 AND stage NOT IN ($3, $4)`,
		dealID, deal.StageDeclined, deal.StageDeclined, deal.StageCompleted)
	if err != nil {
		return false, errors.Join(ErrUpdateFailed, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, errors.Join(ErrUpdateFailed, err)
	}
	return rows == 1, nil
}
