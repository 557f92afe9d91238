package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/countersign/countersign/deal"
)

func TestToken(t *testing.T) {
	exp := time.Now().Add(time.Hour * 24 * 7).UnixMicro()
	tkn, err := New("deal-001", deal.RoleCreator, "creator@example.com", exp)
	assert.Nil(t, err)
	assert.NotEmpty(t, tkn.Token)
	assert.True(t, tkn.Valid)
	assert.False(t, tkn.Consumed())
	assert.Equal(t, exp, tkn.ExpirationDate)
	assert.Equal(t, deal.RoleCreator, tkn.Role)
}

func TestTokenUnique(t *testing.T) {
	exp := time.Now().Add(time.Hour * 24).UnixMicro()
	t0, err := New("deal-001", deal.RoleCreator, "creator@example.com", exp)
	assert.Nil(t, err)
	t1, err := New("deal-001", deal.RoleCreator, "creator@example.com", exp)
	assert.Nil(t, err)
	assert.NotEqual(t, t0.Token, t1.Token)
}

func TestTokenExpirationInPast(t *testing.T) {
	exp := time.Now().Add(-time.Hour).UnixMicro()
	_, err := New("deal-001", deal.RoleCreator, "creator@example.com", exp)
	assert.NotNil(t, err)
}

func TestTokenUnknownRole(t *testing.T) {
	exp := time.Now().Add(time.Hour * 24).UnixMicro()
	_, err := New("deal-001", deal.Role("witness"), "creator@example.com", exp)
	assert.NotNil(t, err)
}

func TestTokenExpired(t *testing.T) {
	exp := time.Now().Add(time.Hour).UnixMicro()
	tkn, err := New("deal-001", deal.RoleCounterparty, "brand@example.com", exp)
	assert.Nil(t, err)
	assert.False(t, tkn.Expired(time.Now()))
	assert.True(t, tkn.Expired(time.Now().Add(time.Hour*2)))
}

func BenchmarkToken(b *testing.B) {
	exp := time.Now().Add(time.Hour * 24).UnixMicro()
	for n := 0; n < b.N; n++ {
		New("deal-001", deal.RoleCreator, "creator@example.com", exp)
	}
}
