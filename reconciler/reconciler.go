package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/countersign/countersign/deal"
	"github.com/countersign/countersign/esignature"
	"github.com/countersign/countersign/ledger"
	"github.com/countersign/countersign/logger"
	"github.com/countersign/countersign/signature"
	"github.com/countersign/countersign/telemetry"
)

// StatusChecker abstracts the e-signature provider status lookup.
type StatusChecker interface {
	Status(dealID string) (esignature.StatusResponse, error)
}

// SignatureLedger abstracts the local signature ledger the reconciler
// promotes confirmed provider facts into.
type SignatureLedger interface {
	RecordSignature(ctx context.Context, dealID string, role deal.Role, identity string, proof signature.Proof) (signature.Record, error)
	SignatureState(ctx context.Context, dealID string) (signature.State, error)
}

// DealReader abstracts read only access to the deal record.
type DealReader interface {
	ReadDeal(ctx context.Context, dealID string) (deal.Deal, error)
}

// Reconciler merges the locally recorded signatures with the provider's
// asynchronously reported status into one authoritative signing state.
// A signed local record is authoritative, a provider "signed" status is
// promoted into the ledger exactly once, and the resulting state is
// monotonic: once both parties are reported signed no provider outage
// makes the fact false again.
type Reconciler struct {
	provider StatusChecker
	ledger   SignatureLedger
	deals    DealReader
	log      logger.Logger
}

// New creates a new Reconciler.
func New(provider StatusChecker, ledg SignatureLedger, deals DealReader, log logger.Logger) *Reconciler {
	return &Reconciler{provider: provider, ledger: ledg, deals: deals, log: log}
}

// Reconcile produces the deal's signing state. When the counterparty has no
// local signed record the provider is queried and a confirmed remote signing
// event is recorded into the ledger, guarded by the AlreadySigned idempotency
// check so two concurrent reconciliations record it once. A failed provider
// query only suppresses the maybe signed signal for this attempt, the
// returned state carries the Degraded flag instead of an error.
func (r *Reconciler) Reconcile(ctx context.Context, dealID string) (signature.State, error) {
	st, err := r.ledger.SignatureState(ctx, dealID)
	if err != nil {
		return signature.State{}, err
	}
	if !st.AwaitingCounterparty {
		return st, nil
	}

	telemetry.ReconcileAttemptInc()
	resp, err := r.provider.Status(dealID)
	if err != nil {
		telemetry.ReconcileFailureInc()
		r.log.Warn(fmt.Sprintf("reconciliation for deal %s could not reach the provider: %s", dealID, err.Error()))
		st.Degraded = true
		return st, nil
	}

	if resp.Status != esignature.StatusSigned {
		return st, nil
	}

	d, err := r.deals.ReadDeal(ctx, dealID)
	if err != nil {
		return signature.State{}, err
	}
	proof := signature.Proof{
		Contact:   d.CounterpartyEmail,
		Reference: fmt.Sprintf("provider:%d", resp.SignedAt),
	}
	if _, err := r.ledger.RecordSignature(ctx, dealID, deal.RoleCounterparty, d.CounterpartyEmail, proof); err != nil {
		if !errors.Is(err, ledger.ErrAlreadySigned) {
			return signature.State{}, err
		}
	} else {
		telemetry.SignatureRecordedInc()
		r.log.Info(fmt.Sprintf("provider confirmed counterparty signature promoted into the ledger for deal %s", dealID))
	}

	return r.ledger.SignatureState(ctx, dealID)
}
