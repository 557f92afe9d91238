package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/countersign/countersign/deal"
	"github.com/countersign/countersign/token"
)

type testLogger struct{}

func (testLogger) Debug(string) {}
func (testLogger) Info(string)  {}
func (testLogger) Warn(string)  {}
func (testLogger) Error(string) {}
func (testLogger) Fatal(string) {}

type memoryRegister struct {
	mux    sync.Mutex
	tokens map[string]token.Token
	deals  map[string]deal.Deal
}

func newMemoryRegister() *memoryRegister {
	return &memoryRegister{
		tokens: make(map[string]token.Token),
		deals:  make(map[string]deal.Deal),
	}
}

func (m *memoryRegister) WriteToken(_ context.Context, t token.Token) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.tokens[t.Token] = t
	return nil
}

func (m *memoryRegister) ReadToken(_ context.Context, tkn string) (token.Token, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	t, ok := m.tokens[tkn]
	if !ok {
		return token.Token{}, assert.AnError
	}
	return t, nil
}

func (m *memoryRegister) InvalidateToken(_ context.Context, tkn string) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	t, ok := m.tokens[tkn]
	if ok {
		t.Valid = false
		m.tokens[tkn] = t
	}
	return nil
}

func (m *memoryRegister) InvalidateDealTokens(_ context.Context, dealID string, role deal.Role) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	for k, t := range m.tokens {
		if t.DealID == dealID && t.Role == role && t.Valid {
			t.Valid = false
			m.tokens[k] = t
		}
	}
	return nil
}

func (m *memoryRegister) RedeemToken(_ context.Context, tkn string, now int64) (bool, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	t, ok := m.tokens[tkn]
	if !ok || !t.Valid || t.ConsumedAt != 0 || t.ExpirationDate <= now {
		return false, nil
	}
	t.ConsumedAt = now
	t.Valid = false
	m.tokens[tkn] = t
	return true, nil
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

func newKeeperWithDeal(stage deal.Stage) (*Keeper, *memoryRegister) {
	reg := newMemoryRegister()
	reg.deals["deal-001"] = deal.Deal{
		DealID: "deal-001", Stage: stage, ContractVersion: "v1",
		CreatorEmail: "creator@example.com", CounterpartyEmail: "brand@example.com",
	}
	return New(Config{}, reg, reg, testLogger{}), reg
}

func TestIssueAndValidate(t *testing.T) {
	ctx := context.Background()
	k, _ := newKeeperWithDeal(deal.StageContractReady)

	tkn, err := k.Issue(ctx, "deal-001", deal.RoleCreator)
	assert.Nil(t, err)
	assert.Equal(t, "creator@example.com", tkn.SignerEmail)

	for i := 0; i < 2; i++ {
		tctx, err := k.Validate(ctx, tkn.Token)
		assert.Nil(t, err)
		assert.Equal(t, "deal-001", tctx.DealID)
		assert.Equal(t, deal.RoleCreator, tctx.Role)
		assert.Equal(t, "v1", tctx.ContractVersion)
		assert.Equal(t, deal.StageContractReady, tctx.Deal.Stage)
	}
}

func TestIssueDealNotReady(t *testing.T) {
	ctx := context.Background()
	k, _ := newKeeperWithDeal(deal.StageAwaitingDetails)

	_, err := k.Issue(ctx, "deal-001", deal.RoleCreator)
	assert.ErrorIs(t, err, ErrDealNotReady)
}

func TestIssueInvalidatesPriorTokens(t *testing.T) {
	ctx := context.Background()
	k, _ := newKeeperWithDeal(deal.StageContractReady)

	t1, err := k.Issue(ctx, "deal-001", deal.RoleCreator)
	assert.Nil(t, err)
	t2, err := k.Issue(ctx, "deal-001", deal.RoleCreator)
	assert.Nil(t, err)

	_, err = k.Validate(ctx, t1.Token)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = k.Redeem(ctx, t2.Token)
	assert.Nil(t, err)
}

func TestIssueDifferentRolesDoNotInterfere(t *testing.T) {
	ctx := context.Background()
	k, _ := newKeeperWithDeal(deal.StageContractReady)

	tc, err := k.Issue(ctx, "deal-001", deal.RoleCreator)
	assert.Nil(t, err)
	_, err = k.Issue(ctx, "deal-001", deal.RoleCounterparty)
	assert.Nil(t, err)

	_, err = k.Validate(ctx, tc.Token)
	assert.Nil(t, err)
}

func TestValidateUnknownToken(t *testing.T) {
	ctx := context.Background()
	k, _ := newKeeperWithDeal(deal.StageContractReady)

	_, err := k.Validate(ctx, "no-such-token")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestValidateExpiredToken(t *testing.T) {
	ctx := context.Background()
	k, reg := newKeeperWithDeal(deal.StageContractReady)

	tkn, err := k.Issue(ctx, "deal-001", deal.RoleCreator)
	assert.Nil(t, err)

	expired := reg.tokens[tkn.Token]
	expired.ExpirationDate = time.Now().Add(-time.Hour).UnixMicro()
	reg.tokens[tkn.Token] = expired

	_, err = k.Validate(ctx, tkn.Token)
	assert.ErrorIs(t, err, ErrTokenExpired)

	// the expired token was opportunistically invalidated
	assert.False(t, reg.tokens[tkn.Token].Valid)

	_, err = k.Redeem(ctx, tkn.Token)
	assert.NotNil(t, err)
}

func TestRedeemSingleUse(t *testing.T) {
	ctx := context.Background()
	k, _ := newKeeperWithDeal(deal.StageContractReady)

	tkn, err := k.Issue(ctx, "deal-001", deal.RoleCreator)
	assert.Nil(t, err)

	tctx, err := k.Redeem(ctx, tkn.Token)
	assert.Nil(t, err)
	assert.Equal(t, "deal-001", tctx.DealID)

	_, err = k.Redeem(ctx, tkn.Token)
	assert.ErrorIs(t, err, ErrTokenAlreadyUsed)
}

func TestRedeemConcurrent(t *testing.T) {
	ctx := context.Background()
	k, _ := newKeeperWithDeal(deal.StageContractReady)

	tkn, err := k.Issue(ctx, "deal-001", deal.RoleCreator)
	assert.Nil(t, err)

	const workers = 16
	var wg sync.WaitGroup
	var mux sync.Mutex
	var successes, alreadyUsed int

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := k.Redeem(ctx, tkn.Token)
			mux.Lock()
			defer mux.Unlock()
			switch {
			case err == nil:
				successes++
			case err == ErrTokenAlreadyUsed:
				alreadyUsed++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, alreadyUsed)
}
