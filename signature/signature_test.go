package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/countersign/countersign/deal"
)

func signed(role deal.Role, version string) Record {
	return Record{DealID: "deal-001", Role: role, Signed: true, ContractVersion: version}
}

func TestNewStateEmpty(t *testing.T) {
	st := NewState(nil, "v1")
	assert.True(t, st.AwaitingCreator)
	assert.True(t, st.AwaitingCounterparty)
	assert.False(t, st.BothSigned)
}

func TestNewStateCreatorOnly(t *testing.T) {
	st := NewState([]Record{signed(deal.RoleCreator, "v1")}, "v1")
	assert.False(t, st.AwaitingCreator)
	assert.True(t, st.AwaitingCounterparty)
	assert.False(t, st.BothSigned)
}

func TestNewStateBothSigned(t *testing.T) {
	st := NewState([]Record{
		signed(deal.RoleCreator, "v1"),
		signed(deal.RoleCounterparty, "v1"),
	}, "v1")
	assert.False(t, st.AwaitingCreator)
	assert.False(t, st.AwaitingCounterparty)
	assert.True(t, st.BothSigned)
}

func TestNewStateIgnoresOtherContractVersions(t *testing.T) {
	st := NewState([]Record{
		signed(deal.RoleCreator, "v1"),
		signed(deal.RoleCounterparty, "v2"),
	}, "v2")
	assert.True(t, st.AwaitingCreator)
	assert.False(t, st.AwaitingCounterparty)
	assert.False(t, st.BothSigned)
}

func TestNewStateIgnoresUnsignedRecords(t *testing.T) {
	r := signed(deal.RoleCreator, "v1")
	r.Signed = false
	st := NewState([]Record{r}, "v1")
	assert.True(t, st.AwaitingCreator)
	assert.False(t, st.BothSigned)
}
