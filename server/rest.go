package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/countersign/countersign/deal"
	"github.com/countersign/countersign/ledger"
	"github.com/countersign/countersign/lifecycle"
	"github.com/countersign/countersign/signature"
	"github.com/countersign/countersign/telemetry"
	"github.com/countersign/countersign/webhooks"
)

// Error codes returned in response envelopes so clients can react to the
// token and deal conditions without parsing messages.
const (
	CodeTokenInvalid     = "token_invalid"
	CodeTokenExpired     = "token_expired"
	CodeTokenAlreadyUsed = "token_already_used"
	CodeDealNotReady     = "deal_not_ready"
	CodeAlreadySigned    = "already_signed"
)

func errorCode(err error) string {
	switch {
	case errors.Is(err, lifecycle.ErrTokenExpired):
		return CodeTokenExpired
	case errors.Is(err, lifecycle.ErrTokenAlreadyUsed):
		return CodeTokenAlreadyUsed
	case errors.Is(err, lifecycle.ErrTokenInvalid):
		return CodeTokenInvalid
	case errors.Is(err, lifecycle.ErrDealNotReady):
		return CodeDealNotReady
	case errors.Is(err, ledger.ErrAlreadySigned):
		return CodeAlreadySigned
	default:
		return ""
	}
}

// AliveResponse is a response for alive and version check.
type AliveResponse struct {
	Alive      bool   `json:"alive"`
	APIVersion string `json:"api_version"`
	APIHeader  string `json:"api_header"`
}

func (s *server) alive(c *fiber.Ctx) error {
	return c.JSON(
		AliveResponse{
			Alive:      true,
			APIVersion: ApiVersion,
			APIHeader:  Header,
		})
}

// IssueTokenRequest is a request to issue a signing token for a deal and role.
type IssueTokenRequest struct {
	DealID string    `json:"deal_id"`
	Role   deal.Role `json:"role"`
}

// IssueTokenResponse is a response for token issuance.
type IssueTokenResponse struct {
	Success        bool   `json:"success"`
	ErrorCode      string `json:"error_code,omitempty"`
	Token          string `json:"token,omitempty"`
	ExpirationDate int64  `json:"expiration_date,omitempty"`
}

func (s *server) tokenIssue(c *fiber.Ctx) error {
	var req IssueTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.ErrBadRequest
	}

	t, err := s.keeper.Issue(c.Context(), req.DealID, req.Role)
	if err != nil {
		code := errorCode(err)
		if code == "" {
			s.log.Error(fmt.Sprintf("issue token for deal %s failed: %s", req.DealID, err.Error()))
			return fiber.ErrGone
		}
		return c.JSON(IssueTokenResponse{Success: false, ErrorCode: code})
	}

	telemetry.TokenIssuedInc()
	return c.JSON(IssueTokenResponse{
		Success:        true,
		Token:          t.Token,
		ExpirationDate: t.ExpirationDate,
	})
}

// ValidateTokenResponse resolves a token to the signing page context.
type ValidateTokenResponse struct {
	Valid           bool         `json:"valid"`
	ErrorCode       string       `json:"error_code,omitempty"`
	DealID          string       `json:"deal_id,omitempty"`
	Role            deal.Role    `json:"role,omitempty"`
	SignerEmail     string       `json:"signer_email,omitempty"`
	ContractVersion string       `json:"contract_version,omitempty"`
	Deal            deal.Summary `json:"deal,omitempty"`
}

func (s *server) tokenValidate(c *fiber.Ctx) error {
	tkn := c.Params("token")
	if tkn == "" {
		return fiber.ErrBadRequest
	}

	tctx, err := s.keeper.Validate(c.Context(), tkn)
	if err != nil {
		code := errorCode(err)
		if code == "" {
			s.log.Error(fmt.Sprintf("validate token failed: %s", err.Error()))
			return fiber.ErrGone
		}
		return c.JSON(ValidateTokenResponse{Valid: false, ErrorCode: code})
	}

	return c.JSON(ValidateTokenResponse{
		Valid:           true,
		DealID:          tctx.DealID,
		Role:            tctx.Role,
		SignerEmail:     tctx.SignerEmail,
		ContractVersion: tctx.ContractVersion,
		Deal:            tctx.Deal,
	})
}

// RedeemTokenRequest carries the signer identity confirmed on the signing page.
type RedeemTokenRequest struct {
	SignerIdentity string `json:"signer_identity"`
	Contact        string `json:"contact"`
}

// RedeemTokenResponse is a response for token redemption. The token is
// consumed and the signature recorded as one unit, then the deal stage is
// re-checked so a completing second signature advances the deal in the same
// call.
type RedeemTokenResponse struct {
	Success   bool            `json:"success"`
	ErrorCode string          `json:"error_code,omitempty"`
	DealID    string          `json:"deal_id,omitempty"`
	Stage     deal.Stage      `json:"stage,omitempty"`
	State     signature.State `json:"state,omitempty"`
}

func (s *server) tokenRedeem(c *fiber.Ctx) error {
	tkn := c.Params("token")
	if tkn == "" {
		return fiber.ErrBadRequest
	}
	var req RedeemTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.ErrBadRequest
	}

	var tctx lifecycle.TokenContext
	var redeemed bool
	for attempt := 0; attempt < 2; attempt++ {
		var err error
		tctx, err = s.keeper.Validate(c.Context(), tkn)
		if err != nil {
			code := errorCode(err)
			if code == "" {
				s.log.Error(fmt.Sprintf("redeem token failed: %s", err.Error()))
				return fiber.ErrGone
			}
			return c.JSON(RedeemTokenResponse{Success: false, ErrorCode: code})
		}

		identity := req.SignerIdentity
		if identity == "" {
			identity = tctx.SignerEmail
		}
		rec := signature.Record{
			DealID:          tctx.DealID,
			Role:            tctx.Role,
			SignerIdentity:  identity,
			Signed:          true,
			SignedAt:        time.Now().UnixMicro(),
			Contact:         req.Contact,
			RemoteAddr:      c.IP(),
			ClientAgent:     string(c.Context().UserAgent()),
			ContractVersion: tctx.ContractVersion,
		}

		won, recorded, err := s.redeemer.RedeemTokenWithSignature(c.Context(), tkn, rec.SignedAt, rec)
		if err != nil {
			s.log.Error(fmt.Sprintf("redeem token for deal %s failed: %s", tctx.DealID, err.Error()))
			return fiber.ErrGone
		}
		if won {
			redeemed = true
			telemetry.TokenRedeemedInc()
			if recorded {
				telemetry.SignatureRecordedInc()
			}
			break
		}
		// the conditional update lost, re-validate to classify the loss and
		// retry once in case it was pure contention
	}
	if !redeemed {
		return c.JSON(RedeemTokenResponse{Success: false, ErrorCode: CodeTokenAlreadyUsed})
	}

	stage, st, err := s.machine.Advance(c.Context(), tctx.DealID)
	if err != nil {
		s.log.Error(fmt.Sprintf("stage check for deal %s failed: %s", tctx.DealID, err.Error()))
		return fiber.ErrGone
	}

	return c.JSON(RedeemTokenResponse{
		Success: true,
		DealID:  tctx.DealID,
		Stage:   stage,
		State:   st,
	})
}

// SignatureStateResponse reports the deal stage and the two party signing
// state for polling clients. Every read re-runs the stage check, which is
// safe because the transition applies at most once.
type SignatureStateResponse struct {
	DealID string          `json:"deal_id"`
	Stage  deal.Stage      `json:"stage"`
	State  signature.State `json:"state"`
}

func (s *server) signatureState(c *fiber.Ctx) error {
	dealID := c.Params("deal_id")
	if dealID == "" {
		return fiber.ErrBadRequest
	}

	stage, st, err := s.machine.Advance(c.Context(), dealID)
	if err != nil {
		s.log.Error(fmt.Sprintf("signature state for deal %s failed: %s", dealID, err.Error()))
		return fiber.ErrNotFound
	}

	return c.JSON(SignatureStateResponse{DealID: dealID, Stage: stage, State: st})
}

// ProviderCallbackRequest is the inbound webhook from the e-signature
// provider. Combinable with reconciliation polling, recording is idempotent.
type ProviderCallbackRequest struct {
	DealID         string    `json:"deal_id"`
	Role           deal.Role `json:"role"`
	SignerIdentity string    `json:"signer_identity"`
	Reference      string    `json:"reference"`
}

func (s *server) providerCallback(c *fiber.Ctx) error {
	var req ProviderCallbackRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.ErrBadRequest
	}

	_, err := s.ledger.RecordSignature(c.Context(), req.DealID, req.Role, req.SignerIdentity, signature.Proof{Reference: req.Reference})
	if err != nil && !errors.Is(err, ledger.ErrAlreadySigned) {
		s.log.Error(fmt.Sprintf("provider callback for deal %s failed: %s", req.DealID, err.Error()))
		return fiber.ErrGone
	}
	if err == nil {
		telemetry.SignatureRecordedInc()
	}

	stage, st, err := s.machine.Advance(c.Context(), req.DealID)
	if err != nil {
		s.log.Error(fmt.Sprintf("stage check for deal %s failed: %s", req.DealID, err.Error()))
		return fiber.ErrGone
	}

	return c.JSON(SignatureStateResponse{DealID: req.DealID, Stage: stage, State: st})
}

// CreateDealRequest is a request to create a new deal record. When DealID is
// empty the server assigns one.
type CreateDealRequest struct {
	DealID            string `json:"deal_id"`
	CreatorEmail      string `json:"creator_email"`
	CounterpartyEmail string `json:"counterparty_email"`
	ContractVersion   string `json:"contract_version"`
}

// CreateDealResponse is a response for deal creation.
type CreateDealResponse struct {
	Success bool   `json:"success"`
	DealID  string `json:"deal_id,omitempty"`
}

func (s *server) dealCreate(c *fiber.Ctx) error {
	var req CreateDealRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.ErrBadRequest
	}
	if req.CreatorEmail == "" || req.CounterpartyEmail == "" {
		return fiber.ErrBadRequest
	}
	if req.DealID == "" {
		req.DealID = primitive.NewObjectID().Hex()
	}
	if req.ContractVersion == "" {
		req.ContractVersion = "v1"
	}

	d := deal.Deal{
		DealID:            req.DealID,
		Stage:             deal.StageAwaitingDetails,
		ContractVersion:   req.ContractVersion,
		CreatorEmail:      req.CreatorEmail,
		CounterpartyEmail: req.CounterpartyEmail,
		CreatedAt:         deal.Now(),
	}
	if err := s.deals.CreateDeal(c.Context(), d); err != nil {
		s.log.Error(fmt.Sprintf("create deal %s failed: %s", req.DealID, err.Error()))
		return fiber.ErrConflict
	}

	return c.JSON(CreateDealResponse{Success: true, DealID: req.DealID})
}

// DealStageRequest addresses a deal for an explicit stage action.
type DealStageRequest struct {
	DealID string `json:"deal_id"`
}

// DealStageResponse reports the stage after an explicit stage action.
type DealStageResponse struct {
	Success bool       `json:"success"`
	DealID  string     `json:"deal_id"`
	Stage   deal.Stage `json:"stage"`
}

func (s *server) dealStageAction(c *fiber.Ctx, act func(*fiber.Ctx, string) (deal.Stage, error)) error {
	var req DealStageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.ErrBadRequest
	}
	if req.DealID == "" {
		return fiber.ErrBadRequest
	}
	stage, err := act(c, req.DealID)
	if err != nil {
		s.log.Error(fmt.Sprintf("stage action on deal %s failed: %s", req.DealID, err.Error()))
		return fiber.ErrNotFound
	}
	return c.JSON(DealStageResponse{Success: true, DealID: req.DealID, Stage: stage})
}

func (s *server) dealReady(c *fiber.Ctx) error {
	return s.dealStageAction(c, func(c *fiber.Ctx, dealID string) (deal.Stage, error) {
		return s.machine.MarkContractReady(c.Context(), dealID)
	})
}

func (s *server) dealDecline(c *fiber.Ctx) error {
	return s.dealStageAction(c, func(c *fiber.Ctx, dealID string) (deal.Stage, error) {
		return s.machine.Decline(c.Context(), dealID)
	})
}

func (s *server) dealDispute(c *fiber.Ctx) error {
	return s.dealStageAction(c, func(c *fiber.Ctx, dealID string) (deal.Stage, error) {
		return s.machine.RaiseDispute(c.Context(), dealID)
	})
}

// CreateHookRequest is a request to register a webhook destination for a trigger.
type CreateHookRequest struct {
	Trigger    byte   `json:"trigger"`
	Subscriber string `json:"subscriber"`
	URL        string `json:"url"`
	Token      string `json:"token"`
}

// HookResponse is a response for webhook registry actions.
type HookResponse struct {
	Success bool `json:"success"`
}

func (s *server) hookCreate(c *fiber.Ctx) error {
	var req CreateHookRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.ErrBadRequest
	}
	if req.Subscriber == "" || req.URL == "" {
		return fiber.ErrBadRequest
	}
	if err := s.hooks.CreateWebhook(req.Trigger, req.Subscriber, webhooks.Hook{URL: req.URL, Token: req.Token}); err != nil {
		return fiber.ErrBadRequest
	}
	return c.JSON(HookResponse{Success: true})
}

// RemoveHookRequest is a request to remove a webhook destination.
type RemoveHookRequest struct {
	Trigger    byte   `json:"trigger"`
	Subscriber string `json:"subscriber"`
}

func (s *server) hookRemove(c *fiber.Ctx) error {
	var req RemoveHookRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.ErrBadRequest
	}
	if err := s.hooks.RemoveWebhook(req.Trigger, req.Subscriber); err != nil {
		return fiber.ErrBadRequest
	}
	return c.JSON(HookResponse{Success: true})
}
