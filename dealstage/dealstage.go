package dealstage

import (
	"context"
	"fmt"
	"time"

	"github.com/countersign/countersign/deal"
	"github.com/countersign/countersign/logger"
	"github.com/countersign/countersign/signature"
	"github.com/countersign/countersign/telemetry"
)

// Reconciliator produces the authoritative two party signing state of a deal.
type Reconciliator interface {
	Reconcile(ctx context.Context, dealID string) (signature.State, error)
}

// StageRegister abstracts the persisted deal stage field. The machine writes
// the stage through conditional updates only and never mutates tokens or
// signatures, it treats both stores as read only dependencies.
type StageRegister interface {
	ReadDeal(ctx context.Context, dealID string) (deal.Deal, error)
	CasDealStage(ctx context.Context, dealID string, from, to deal.Stage) (bool, error)
	DeclineDeal(ctx context.Context, dealID string) (bool, error)
}

// SignedNotifier is called once after a deal reached the signed stage.
type SignedNotifier interface {
	NotifyDealSigned(dealID string, signedAt time.Time)
}

// Machine drives the deal stage transitions gated by signature completion.
// Every check recomputes the signing state from persisted records and
// applies the stage write with compare and set, so the check is safely
// re-runnable from polling clients, webhooks and retries alike.
type Machine struct {
	reconciler Reconciliator
	register   StageRegister
	notifiers  []SignedNotifier
	log        logger.Logger
}

// New creates a new stage Machine.
func New(reconciler Reconciliator, register StageRegister, log logger.Logger, notifiers ...SignedNotifier) *Machine {
	return &Machine{reconciler: reconciler, register: register, notifiers: notifiers, log: log}
}

// Advance re-evaluates the deal and moves contract_ready to signed when and
// only when both parties signed. It returns the resulting stage and signing
// state. Concurrent or delayed duplicate checks apply the transition at
// most once.
func (m *Machine) Advance(ctx context.Context, dealID string) (deal.Stage, signature.State, error) {
	d, err := m.register.ReadDeal(ctx, dealID)
	if err != nil {
		return "", signature.State{}, err
	}

	st, err := m.reconciler.Reconcile(ctx, dealID)
	if err != nil {
		return d.Stage, signature.State{}, err
	}

	if d.Stage != deal.StageContractReady || !st.BothSigned {
		return d.Stage, st, nil
	}

	moved, err := m.register.CasDealStage(ctx, dealID, deal.StageContractReady, deal.StageSigned)
	if err != nil {
		return d.Stage, st, err
	}
	if !moved {
		// another check won the race, read back the authoritative stage
		d, err = m.register.ReadDeal(ctx, dealID)
		if err != nil {
			return "", signature.State{}, err
		}
		return d.Stage, st, nil
	}

	telemetry.StageTransitionInc()
	m.log.Info(fmt.Sprintf("deal %s advanced to stage %s", dealID, deal.StageSigned))
	signedAt := time.Now()
	for _, n := range m.notifiers {
		n.NotifyDealSigned(dealID, signedAt)
	}
	return deal.StageSigned, st, nil
}

// Decline moves the deal to the declined stage from any non terminal stage
// on explicit party withdrawal.
func (m *Machine) Decline(ctx context.Context, dealID string) (deal.Stage, error) {
	moved, err := m.register.DeclineDeal(ctx, dealID)
	if err != nil {
		return "", err
	}
	if moved {
		telemetry.StageTransitionInc()
		m.log.Info(fmt.Sprintf("deal %s declined", dealID))
	}
	d, err := m.register.ReadDeal(ctx, dealID)
	if err != nil {
		return "", err
	}
	return d.Stage, nil
}

// RaiseDispute moves a signed deal to needs_changes when an issue is raised.
func (m *Machine) RaiseDispute(ctx context.Context, dealID string) (deal.Stage, error) {
	moved, err := m.register.CasDealStage(ctx, dealID, deal.StageSigned, deal.StageNeedsChanges)
	if err != nil {
		return "", err
	}
	if moved {
		telemetry.StageTransitionInc()
		m.log.Info(fmt.Sprintf("dispute raised on deal %s", dealID))
	}
	d, err := m.register.ReadDeal(ctx, dealID)
	if err != nil {
		return "", err
	}
	return d.Stage, nil
}

// MarkContractReady moves the deal from awaiting_details to contract_ready.
// The contract renderer collaborator triggers this once contract content exists.
func (m *Machine) MarkContractReady(ctx context.Context, dealID string) (deal.Stage, error) {
	moved, err := m.register.CasDealStage(ctx, dealID, deal.StageAwaitingDetails, deal.StageContractReady)
	if err != nil {
		return "", err
	}
	if moved {
		telemetry.StageTransitionInc()
		m.log.Info(fmt.Sprintf("deal %s contract is ready for signatures", dealID))
	}
	d, err := m.register.ReadDeal(ctx, dealID)
	if err != nil {
		return "", err
	}
	return d.Stage, nil
}
