package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/countersign/countersign/deal"
	"github.com/countersign/countersign/logger"
	"github.com/countersign/countersign/signature"
)

// ErrAlreadySigned fires when a signed record already exists for the
// (deal, role, contract version) triple. It is an idempotency guard,
// not a failure, callers treat it as success.
var ErrAlreadySigned = errors.New("party already signed the current contract version")

// SignatureRegister abstracts signature record persistence. The ledger is
// the sole writer of signature entities.
type SignatureRegister interface {
	WriteSignature(ctx context.Context, rec signature.Record) (bool, error)
	ReadDealSignatures(ctx context.Context, dealID string) ([]signature.Record, error)
}

// DealReader abstracts read only access to the deal record.
type DealReader interface {
	ReadDeal(ctx context.Context, dealID string) (deal.Deal, error)
}

// Ledger records signature events per deal and party and exposes the two
// party completion projection. Recording a signature never advances the
// deal stage by itself, the stage machine observes the ledger instead.
type Ledger struct {
	register SignatureRegister
	deals    DealReader
	log      logger.Logger
}

// New creates a new Ledger.
func New(register SignatureRegister, deals DealReader, log logger.Logger) *Ledger {
	return &Ledger{register: register, deals: deals, log: log}
}

// RecordSignature writes a signed record for the deal's current contract
// version. Fails with ErrAlreadySigned when a record for the same
// (deal, role, contract version) exists, guarding against double submission.
func (l *Ledger) RecordSignature(ctx context.Context, dealID string, role deal.Role, identity string, proof signature.Proof) (signature.Record, error) {
	if !role.Valid() {
		return signature.Record{}, fmt.Errorf("unknown signing role %s", role)
	}
	d, err := l.deals.ReadDeal(ctx, dealID)
	if err != nil {
		return signature.Record{}, err
	}

	rec := signature.Record{
		DealID:          dealID,
		Role:            role,
		SignerIdentity:  identity,
		Signed:          true,
		SignedAt:        time.Now().UnixMicro(),
		Contact:         proof.Contact,
		RemoteAddr:      proof.RemoteAddr,
		ClientAgent:     proof.ClientAgent,
		ContractVersion: d.ContractVersion,
	}

	inserted, err := l.register.WriteSignature(ctx, rec)
	if err != nil {
		return signature.Record{}, err
	}
	if !inserted {
		return rec, ErrAlreadySigned
	}

	l.log.Info(fmt.Sprintf("signature recorded for deal %s role %s version %s", dealID, role, d.ContractVersion))
	return rec, nil
}

// SignatureState projects the deal's signature records for its current
// contract version onto the derived two party signing state.
func (l *Ledger) SignatureState(ctx context.Context, dealID string) (signature.State, error) {
	d, err := l.deals.ReadDeal(ctx, dealID)
	if err != nil {
		return signature.State{}, err
	}
	records, err := l.register.ReadDealSignatures(ctx, dealID)
	if err != nil {
		return signature.State{}, err
	}
	return signature.NewState(records, d.ContractVersion), nil
}
