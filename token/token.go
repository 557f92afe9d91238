package token

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/bcrypt"

	"github.com/countersign/countersign/deal"
)

const minLongevity = time.Minute

const (
	size = 32
	cost = bcrypt.DefaultCost
)

// Token holds information about a single issuance of a redeemable signing link.
// The token value is the only credential the signing party presents, there is
// no standing session behind it, so the value carries the full trust and the
// lifecycle keeper enforces single use and expiry on top of it.
type Token struct {
	ID             any       `json:"-"               bson:"_id,omitempty"   db:"id"`
	Token          string    `json:"token"           bson:"token"           db:"token"`
	DealID         string    `json:"deal_id"         bson:"deal_id"         db:"deal_id"`
	Role           deal.Role `json:"role"            bson:"role"            db:"role"`
	SignerEmail    string    `json:"signer_email"    bson:"signer_email"    db:"signer_email"`
	Valid          bool      `json:"valid"           bson:"valid"           db:"valid"`
	CreatedAt      int64     `json:"created_at"      bson:"created_at"      db:"created_at"`
	ExpirationDate int64     `json:"expiration_date" bson:"expiration_date" db:"expiration_date"`
	ConsumedAt     int64     `json:"consumed_at"     bson:"consumed_at"     db:"consumed_at"`
}

// New creates a new valid token for given deal and signing party.
// Expiration is given in unix microseconds and must leave a sane redeem window.
func New(dealID string, role deal.Role, signerEmail string, expiration int64) (Token, error) {
	now := time.Now()
	if time.UnixMicro(expiration).Before(now.Add(minLongevity)) {
		return Token{}, fmt.Errorf("expiration date is in the past or leaves no redeem window")
	}
	if !role.Valid() {
		return Token{}, fmt.Errorf("unknown signing role %s", role)
	}

	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return Token{}, fmt.Errorf("failed to generate token: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword(b, cost)
	if err != nil {
		return Token{}, fmt.Errorf("failed to generate token: %w", err)
	}

	return Token{
		Token:          base58.Encode(hash),
		DealID:         dealID,
		Role:           role,
		SignerEmail:    signerEmail,
		Valid:          true,
		CreatedAt:      now.UnixMicro(),
		ExpirationDate: expiration,
	}, nil
}

// Expired tells if the token expiry instant has passed at given moment.
func (t Token) Expired(now time.Time) bool {
	return t.ExpirationDate < now.UnixMicro()
}

// Consumed tells if the token was already redeemed.
func (t Token) Consumed() bool {
	return t.ConsumedAt != 0
}
