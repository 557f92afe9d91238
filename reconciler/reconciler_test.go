package reconciler

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/countersign/countersign/deal"
	"github.com/countersign/countersign/esignature"
	"github.com/countersign/countersign/ledger"
	"github.com/countersign/countersign/signature"
)

type testLogger struct{}

func (testLogger) Debug(string) {}
func (testLogger) Info(string)  {}
func (testLogger) Warn(string)  {}
func (testLogger) Error(string) {}
func (testLogger) Fatal(string) {}

type memoryLedger struct {
	mux     sync.Mutex
	records []signature.Record
	writes  int
	deals   map[string]deal.Deal
}

func newMemoryLedger() *memoryLedger {
	m := &memoryLedger{deals: make(map[string]deal.Deal)}
	m.deals["deal-001"] = deal.Deal{
		DealID: "deal-001", Stage: deal.StageContractReady, ContractVersion: "v1",
		CreatorEmail: "creator@example.com", CounterpartyEmail: "brand@example.com",
	}
	return m
}

func (m *memoryLedger) RecordSignature(_ context.Context, dealID string, role deal.Role, identity string, _ signature.Proof) (signature.Record, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	version := m.deals[dealID].ContractVersion
	for _, r := range m.records {
		if r.DealID == dealID && r.Role == role && r.ContractVersion == version {
			return r, ledger.ErrAlreadySigned
		}
	}
	m.writes++
	rec := signature.Record{DealID: dealID, Role: role, SignerIdentity: identity, Signed: true, ContractVersion: version}
	m.records = append(m.records, rec)
	return rec, nil
}

func (m *memoryLedger) SignatureState(_ context.Context, dealID string) (signature.State, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	return signature.NewState(m.records, m.deals[dealID].ContractVersion), nil
}

func (m *memoryLedger) ReadDeal(_ context.Context, dealID string) (deal.Deal, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.deals[dealID], nil
}

type fakeProvider struct {
	mux   sync.Mutex
	resp  esignature.StatusResponse
	err   error
	calls int
}

func (f *fakeProvider) Status(string) (esignature.StatusResponse, error) {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.calls++
	return f.resp, f.err
}

func TestReconcileProviderSignedPromotes(t *testing.T) {
	ctx := context.Background()
	ledg := newMemoryLedger()
	ledg.RecordSignature(ctx, "deal-001", deal.RoleCreator, "creator@example.com", signature.Proof{})
	provider := &fakeProvider{resp: esignature.StatusResponse{Status: esignature.StatusSigned, SignedAt: 42}}

	r := New(provider, ledg, ledg, testLogger{})
	st, err := r.Reconcile(ctx, "deal-001")
	assert.Nil(t, err)
	assert.True(t, st.BothSigned)
	assert.False(t, st.Degraded)
	assert.Equal(t, 2, ledg.writes)
}

func TestReconcilePromotesExactlyOnceUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	ledg := newMemoryLedger()
	provider := &fakeProvider{resp: esignature.StatusResponse{Status: esignature.StatusSigned}}
	r := New(provider, ledg, ledg, testLogger{})

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			_, err := r.Reconcile(ctx, "deal-001")
			assert.Nil(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ledg.writes)
}

func TestReconcileProviderPending(t *testing.T) {
	ctx := context.Background()
	ledg := newMemoryLedger()
	provider := &fakeProvider{resp: esignature.StatusResponse{Status: esignature.StatusPending}}

	r := New(provider, ledg, ledg, testLogger{})
	st, err := r.Reconcile(ctx, "deal-001")
	assert.Nil(t, err)
	assert.True(t, st.AwaitingCounterparty)
	assert.False(t, st.Degraded)
	assert.Equal(t, 0, ledg.writes)
}

func TestReconcileProviderUnavailableIsDegradedNotFailed(t *testing.T) {
	ctx := context.Background()
	ledg := newMemoryLedger()
	provider := &fakeProvider{err: esignature.ErrProviderUnavailable}

	r := New(provider, ledg, ledg, testLogger{})
	st, err := r.Reconcile(ctx, "deal-001")
	assert.Nil(t, err)
	assert.True(t, st.Degraded)
	assert.True(t, st.AwaitingCounterparty)
}

func TestReconcileMonotonicAfterProviderOutage(t *testing.T) {
	ctx := context.Background()
	ledg := newMemoryLedger()
	provider := &fakeProvider{resp: esignature.StatusResponse{Status: esignature.StatusSigned}}
	r := New(provider, ledg, ledg, testLogger{})

	ledg.RecordSignature(ctx, "deal-001", deal.RoleCreator, "creator@example.com", signature.Proof{})
	st, err := r.Reconcile(ctx, "deal-001")
	assert.Nil(t, err)
	assert.True(t, st.BothSigned)

	// provider becomes unreachable, the confirmed fact never flips back
	provider.mux.Lock()
	provider.err = esignature.ErrProviderUnavailable
	provider.mux.Unlock()

	for i := 0; i < 3; i++ {
		st, err = r.Reconcile(ctx, "deal-001")
		assert.Nil(t, err)
		assert.True(t, st.BothSigned)
		assert.False(t, st.Degraded)
	}
}

func TestReconcileSkipsProviderWhenCounterpartySignedLocally(t *testing.T) {
	ctx := context.Background()
	ledg := newMemoryLedger()
	ledg.RecordSignature(ctx, "deal-001", deal.RoleCounterparty, "brand@example.com", signature.Proof{})
	provider := &fakeProvider{err: esignature.ErrProviderUnavailable}

	r := New(provider, ledg, ledg, testLogger{})
	st, err := r.Reconcile(ctx, "deal-001")
	assert.Nil(t, err)
	assert.False(t, st.AwaitingCounterparty)
	assert.Equal(t, 0, provider.calls)
}
