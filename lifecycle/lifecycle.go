package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/countersign/countersign/deal"
	"github.com/countersign/countersign/logger"
	"github.com/countersign/countersign/token"
)

const defaultLongevityHours = 24 * 7

var (
	ErrTokenInvalid     = errors.New("token invalid")
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenAlreadyUsed = errors.New("token already used")
	ErrDealNotReady     = errors.New("deal is not in a stage that requires this signature")
)

// TokenRegister abstracts signing token persistence.
// All writes to the token store go through this interface, the keeper is
// the sole writer of token entities.
type TokenRegister interface {
	WriteToken(ctx context.Context, t token.Token) error
	ReadToken(ctx context.Context, tkn string) (token.Token, error)
	InvalidateToken(ctx context.Context, tkn string) error
	InvalidateDealTokens(ctx context.Context, dealID string, role deal.Role) error
	RedeemToken(ctx context.Context, tkn string, now int64) (bool, error)
}

// DealReader abstracts read only access to the deal record.
type DealReader interface {
	ReadDeal(ctx context.Context, dealID string) (deal.Deal, error)
}

// IssueNotifier is called after a token was issued so the delivery
// collaborator can send out the redeemable link.
type IssueNotifier interface {
	NotifyTokenIssued(t token.Token)
}

// Config contains configuration of the token lifecycle keeper.
type Config struct {
	TokenLongevityHours uint64 `yaml:"token_longevity_hours"` // validity window of issued tokens, default 168 (7 days)
}

// TokenContext is what a valid token resolves to, the deal it belongs to
// and the identity the link was sent to.
type TokenContext struct {
	DealID          string
	Role            deal.Role
	SignerEmail     string
	ContractVersion string
	Deal            deal.Summary
}

// Keeper issues, validates and redeems signing tokens enforcing single use
// and expiry semantics.
type Keeper struct {
	register  TokenRegister
	deals     DealReader
	notifiers []IssueNotifier
	log       logger.Logger
	longevity time.Duration
}

// New creates a new Keeper.
func New(cfg Config, register TokenRegister, deals DealReader, log logger.Logger, notifiers ...IssueNotifier) *Keeper {
	if cfg.TokenLongevityHours == 0 {
		cfg.TokenLongevityHours = defaultLongevityHours
	}
	return &Keeper{
		register:  register,
		deals:     deals,
		notifiers: notifiers,
		log:       log,
		longevity: time.Duration(cfg.TokenLongevityHours) * time.Hour,
	}
}

// Issue creates a new valid token for the (deal, role) pair invalidating all
// previously issued valid tokens for that pair. Fails with ErrDealNotReady
// when the deal is not in a stage that requires this role's signature.
func (k *Keeper) Issue(ctx context.Context, dealID string, role deal.Role) (token.Token, error) {
	d, err := k.deals.ReadDeal(ctx, dealID)
	if err != nil {
		return token.Token{}, err
	}
	if !d.RequiresSignature(role) {
		return token.Token{}, ErrDealNotReady
	}

	if err := k.register.InvalidateDealTokens(ctx, dealID, role); err != nil {
		return token.Token{}, err
	}

	expiration := time.Now().Add(k.longevity).UnixMicro()
	t, err := token.New(dealID, role, d.SignerEmail(role), expiration)
	if err != nil {
		return token.Token{}, err
	}
	if err := k.register.WriteToken(ctx, t); err != nil {
		return token.Token{}, err
	}

	k.log.Info(fmt.Sprintf("token issued for deal %s role %s", dealID, role))
	for _, n := range k.notifiers {
		n.NotifyTokenIssued(t)
	}
	return t, nil
}

// Validate resolves the token to its deal and signer identity without
// consuming it. The call is idempotent and free of externally visible side
// effects, so a signing page load never burns the link. An expired token is
// opportunistically marked invalid.
func (k *Keeper) Validate(ctx context.Context, tkn string) (TokenContext, error) {
	t, err := k.register.ReadToken(ctx, tkn)
	if err != nil {
		return TokenContext{}, ErrTokenInvalid
	}
	if t.Consumed() {
		return TokenContext{}, ErrTokenAlreadyUsed
	}
	if !t.Valid {
		return TokenContext{}, ErrTokenInvalid
	}
	if t.Expired(time.Now()) {
		if err := k.register.InvalidateToken(ctx, tkn); err != nil {
			k.log.Warn(fmt.Sprintf("failed to invalidate expired token for deal %s: %s", t.DealID, err.Error()))
		}
		return TokenContext{}, ErrTokenExpired
	}

	d, err := k.deals.ReadDeal(ctx, t.DealID)
	if err != nil {
		return TokenContext{}, err
	}
	return TokenContext{
		DealID:          t.DealID,
		Role:            t.Role,
		SignerEmail:     t.SignerEmail,
		ContractVersion: d.ContractVersion,
		Deal:            d.Summarize(),
	}, nil
}

// Redeem re-runs validation and atomically marks the token consumed.
// Two concurrent redemptions of the same token resolve to exactly one
// success and one ErrTokenAlreadyUsed. A conditional update losing to pure
// contention is retried once before the loss is accepted as already used.
func (k *Keeper) Redeem(ctx context.Context, tkn string) (TokenContext, error) {
	tctx, err := k.Validate(ctx, tkn)
	if err != nil {
		return TokenContext{}, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		won, err := k.register.RedeemToken(ctx, tkn, time.Now().UnixMicro())
		if err != nil {
			return TokenContext{}, err
		}
		if won {
			k.log.Info(fmt.Sprintf("token redeemed for deal %s role %s", tctx.DealID, tctx.Role))
			return tctx, nil
		}

		t, err := k.register.ReadToken(ctx, tkn)
		if err != nil {
			return TokenContext{}, ErrTokenInvalid
		}
		switch {
		case t.Consumed():
			return TokenContext{}, ErrTokenAlreadyUsed
		case t.Expired(time.Now()):
			return TokenContext{}, ErrTokenExpired
		case !t.Valid:
			return TokenContext{}, ErrTokenInvalid
		}
		// token still looks redeemable, the conditional update lost to
		// contention rather than to a genuine already used state
	}
	return TokenContext{}, ErrTokenAlreadyUsed
}
