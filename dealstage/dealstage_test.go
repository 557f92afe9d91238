package dealstage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/countersign/countersign/deal"
	"github.com/countersign/countersign/signature"
)

type testLogger struct{}

func (testLogger) Debug(string) {}
func (testLogger) Info(string)  {}
func (testLogger) Warn(string)  {}
func (testLogger) Error(string) {}
func (testLogger) Fatal(string) {}

type memoryRegister struct {
	mux   sync.Mutex
	deals map[string]deal.Deal
}

func newMemoryRegister(stage deal.Stage) *memoryRegister {
	return &memoryRegister{deals: map[string]deal.Deal{
		"deal-001": {DealID: "deal-001", Stage: stage, ContractVersion: "v1"},
	}}
}

func (m *memoryRegister) ReadDeal(_ context.Context, dealID string) (deal.Deal, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	d, ok := m.deals[dealID]
	if !ok {
		return deal.Deal{}, assert.AnError
	}
	return d, nil
}

func (m *memoryRegister) CasDealStage(_ context.Context, dealID string, from, to deal.Stage) (bool, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	d, ok := m.deals[dealID]
	if !ok || d.Stage != from {
		return false, nil
	}
	d.Stage = to
	m.deals[dealID] = d
	return true, nil
}

func (m *memoryRegister) DeclineDeal(_ context.Context, dealID string) (bool, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	d, ok := m.deals[dealID]
	if !ok || d.Stage.Terminal() {
		return false, nil
	}
	d.Stage = deal.StageDeclined
	m.deals[dealID] = d
	return true, nil
}

type staticReconciler struct {
	mux   sync.Mutex
	state signature.State
}

func (s *staticReconciler) Reconcile(context.Context, string) (signature.State, error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.state, nil
}

type countingNotifier struct {
	mux   sync.Mutex
	calls int
}

func (c *countingNotifier) NotifyDealSigned(string, time.Time) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.calls++
}

func TestAdvancePartialSignaturesDoNotAdvance(t *testing.T) {
	ctx := context.Background()
	reg := newMemoryRegister(deal.StageContractReady)
	rec := &staticReconciler{state: signature.State{AwaitingCounterparty: true}}

	m := New(rec, reg, testLogger{})
	stage, st, err := m.Advance(ctx, "deal-001")
	assert.Nil(t, err)
	assert.Equal(t, deal.StageContractReady, stage)
	assert.False(t, st.BothSigned)
}

func TestAdvanceBothSigned(t *testing.T) {
	ctx := context.Background()
	reg := newMemoryRegister(deal.StageContractReady)
	rec := &staticReconciler{state: signature.State{BothSigned: true}}
	notifier := &countingNotifier{}

	m := New(rec, reg, testLogger{}, notifier)
	stage, st, err := m.Advance(ctx, "deal-001")
	assert.Nil(t, err)
	assert.Equal(t, deal.StageSigned, stage)
	assert.True(t, st.BothSigned)
	assert.Equal(t, 1, notifier.calls)
}

func TestAdvanceAppliedExactlyOnce(t *testing.T) {
	ctx := context.Background()
	reg := newMemoryRegister(deal.StageContractReady)
	rec := &staticReconciler{state: signature.State{BothSigned: true}}
	notifier := &countingNotifier{}
	m := New(rec, reg, testLogger{}, notifier)

	const checks = 8
	var wg sync.WaitGroup
	wg.Add(checks)
	for i := 0; i < checks; i++ {
		go func() {
			defer wg.Done()
			stage, _, err := m.Advance(ctx, "deal-001")
			assert.Nil(t, err)
			assert.Equal(t, deal.StageSigned, stage)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, notifier.calls)
}

func TestAdvanceIgnoresOtherStages(t *testing.T) {
	ctx := context.Background()
	reg := newMemoryRegister(deal.StageSigned)
	rec := &staticReconciler{state: signature.State{BothSigned: true}}
	notifier := &countingNotifier{}

	m := New(rec, reg, testLogger{}, notifier)
	stage, _, err := m.Advance(ctx, "deal-001")
	assert.Nil(t, err)
	assert.Equal(t, deal.StageSigned, stage)
	assert.Equal(t, 0, notifier.calls)
}

func TestDecline(t *testing.T) {
	ctx := context.Background()
	reg := newMemoryRegister(deal.StageContractReady)
	m := New(&staticReconciler{}, reg, testLogger{})

	stage, err := m.Decline(ctx, "deal-001")
	assert.Nil(t, err)
	assert.Equal(t, deal.StageDeclined, stage)

	// declining a terminal deal changes nothing
	stage, err = m.Decline(ctx, "deal-001")
	assert.Nil(t, err)
	assert.Equal(t, deal.StageDeclined, stage)
}

func TestRaiseDispute(t *testing.T) {
	ctx := context.Background()
	reg := newMemoryRegister(deal.StageSigned)
	m := New(&staticReconciler{}, reg, testLogger{})

	stage, err := m.RaiseDispute(ctx, "deal-001")
	assert.Nil(t, err)
	assert.Equal(t, deal.StageNeedsChanges, stage)
}

func TestMarkContractReady(t *testing.T) {
	ctx := context.Background()
	reg := newMemoryRegister(deal.StageAwaitingDetails)
	m := New(&staticReconciler{}, reg, testLogger{})

	stage, err := m.MarkContractReady(ctx, "deal-001")
	assert.Nil(t, err)
	assert.Equal(t, deal.StageContractReady, stage)
}
