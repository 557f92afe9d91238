package deal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleCreator.Valid())
	assert.True(t, RoleCounterparty.Valid())
	assert.False(t, Role("witness").Valid())
	assert.False(t, Role("").Valid())
}

func TestRoleOther(t *testing.T) {
	assert.Equal(t, RoleCounterparty, RoleCreator.Other())
	assert.Equal(t, RoleCreator, RoleCounterparty.Other())
}

func TestStageTerminal(t *testing.T) {
	assert.True(t, StageDeclined.Terminal())
	assert.True(t, StageCompleted.Terminal())
	assert.False(t, StageContractReady.Terminal())
	assert.False(t, StageSigned.Terminal())
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Stage
		allowed  bool
	}{
		{StageAwaitingDetails, StageContractReady, true},
		{StageContractReady, StageSigned, true},
		{StageSigned, StageNeedsChanges, true},
		{StageSigned, StageCompleted, true},
		{StageNeedsChanges, StageContractReady, true},
		{StageAwaitingDetails, StageSigned, false},
		{StageContractReady, StageCompleted, false},
		{StageSigned, StageContractReady, false},
		{StageDeclined, StageContractReady, false},
		{StageCompleted, StageSigned, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.allowed, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}

	for _, from := range []Stage{StageAwaitingDetails, StageContractReady, StageSigned, StageNeedsChanges} {
		assert.True(t, CanTransition(from, StageDeclined), "%s -> declined", from)
	}
	assert.False(t, CanTransition(StageCompleted, StageDeclined))
}

func TestRequiresSignature(t *testing.T) {
	d := Deal{DealID: "deal-001", Stage: StageContractReady}
	assert.True(t, d.RequiresSignature(RoleCreator))
	assert.True(t, d.RequiresSignature(RoleCounterparty))
	assert.False(t, d.RequiresSignature(Role("witness")))

	d.Stage = StageSigned
	assert.False(t, d.RequiresSignature(RoleCreator))
}

func TestSummarize(t *testing.T) {
	d := Deal{DealID: "deal-001", Stage: StageContractReady, ContractVersion: "v2", CreatorEmail: "c@example.com"}
	s := d.Summarize()
	assert.Equal(t, "deal-001", s.DealID)
	assert.Equal(t, "v2", s.ContractVersion)
	assert.Equal(t, StageContractReady, s.Stage)
}
