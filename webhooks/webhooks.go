package webhooks

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/countersign/countersign/deal"
	"github.com/countersign/countersign/httpclient"
	"github.com/countersign/countersign/logger"
	"github.com/countersign/countersign/token"
)

const (
	TriggerTokenIssued byte = iota // TriggerTokenIssued fires when a new signing token is issued, the delivery service sends the link out-of-band.
	TriggerDealSigned              // TriggerDealSigned fires when both parties signed and the deal advanced to the signed stage.
)

const postTimeout = time.Second * 5

var ErrHookNotImplemented = errors.New("hook not implemented")

// TokenIssuedMessage is sent to hook urls subscribed to token issuance.
// The core only hands over the token value and recipient, the message
// content around the redeemable link belongs to the delivery service.
type TokenIssuedMessage struct {
	Token          string    `json:"token"`           // Token given to the webhook by its creator to validate the message source.
	SigningToken   string    `json:"signing_token"`   // SigningToken is the redeemable token value to deliver.
	DealID         string    `json:"deal_id"`         // DealID the token was issued for.
	Role           deal.Role `json:"role"`            // Role of the signing party the token addresses.
	RecipientEmail string    `json:"recipient_email"` // RecipientEmail is where the delivery service sends the link.
	ExpirationDate int64     `json:"expiration_date"` // ExpirationDate after which the link is dead.
}

// DealSignedMessage is sent to hook urls subscribed to deal signing.
type DealSignedMessage struct {
	Token    string    `json:"token"`     // Token given to the webhook by its creator to validate the message source.
	DealID   string    `json:"deal_id"`   // DealID of the fully countersigned deal.
	SignedAt time.Time `json:"signed_at"` // SignedAt is when the deal advanced to the signed stage.
}

// Hook is a registered webhook destination.
type Hook struct {
	URL   string `json:"url"`   // URL of the webhook destination.
	Token string `json:"token"` // Token added to messages to verify they come from a valid source.
}

type hooks map[string]Hook

// Service provides the webhook registry used to create, remove and post webhooks.
type Service struct {
	mux    sync.RWMutex
	buffer map[byte]hooks
	log    logger.Logger
}

// New creates a new webhook Service.
func New(l logger.Logger) *Service {
	return &Service{
		buffer: make(map[byte]hooks),
		log:    l,
	}
}

// CreateWebhook creates a new webhook or updates an existing one for given trigger.
func (s *Service) CreateWebhook(trigger byte, subscriber string, h Hook) error {
	switch trigger {
	case TriggerTokenIssued, TriggerDealSigned:
		s.insertHook(trigger, subscriber, h)
	default:
		return ErrHookNotImplemented
	}
	return nil
}

// RemoveWebhook removes the webhook for given trigger and subscriber.
func (s *Service) RemoveWebhook(trigger byte, subscriber string) error {
	switch trigger {
	case TriggerTokenIssued, TriggerDealSigned:
		s.removeHook(trigger, subscriber)
	default:
		return ErrHookNotImplemented
	}
	return nil
}

// NotifyTokenIssued posts the issued token to all hooks subscribed to token
// issuance. It satisfies the lifecycle issue notifier abstraction.
func (s *Service) NotifyTokenIssued(t token.Token) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	hs, ok := s.buffer[TriggerTokenIssued]
	if !ok {
		return
	}

	in := make(map[string]any)
	for _, h := range hs {
		msg := TokenIssuedMessage{
			Token:          h.Token,
			SigningToken:   t.Token,
			DealID:         t.DealID,
			Role:           t.Role,
			RecipientEmail: t.SignerEmail,
			ExpirationDate: t.ExpirationDate,
		}
		if err := httpclient.MakePost(postTimeout, h.URL, msg, &in); err != nil {
			s.log.Error(fmt.Sprintf("webhook service error posting issued token to url: %s, %s", h.URL, err.Error()))
		}
	}
}

// NotifyDealSigned posts the signed deal to all hooks subscribed to deal
// signing. It satisfies the stage machine signed notifier abstraction.
func (s *Service) NotifyDealSigned(dealID string, signedAt time.Time) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	hs, ok := s.buffer[TriggerDealSigned]
	if !ok {
		return
	}

	in := make(map[string]any)
	for _, h := range hs {
		msg := DealSignedMessage{
			Token:    h.Token,
			DealID:   dealID,
			SignedAt: signedAt,
		}
		if err := httpclient.MakePost(postTimeout, h.URL, msg, &in); err != nil {
			s.log.Error(fmt.Sprintf("webhook service error posting signed deal to url: %s, %s", h.URL, err.Error()))
		}
	}
}

func (s *Service) insertHook(trigger byte, subscriber string, h Hook) {
	s.mux.Lock()
	defer s.mux.Unlock()
	hs, ok := s.buffer[trigger]
	if !ok {
		hs = make(hooks)
		s.buffer[trigger] = hs
	}
	hs[subscriber] = h
}

func (s *Service) removeHook(trigger byte, subscriber string) {
	s.mux.Lock()
	defer s.mux.Unlock()
	hs, ok := s.buffer[trigger]
	if !ok {
		return
	}
	delete(hs, subscriber)
}
