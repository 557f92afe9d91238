package natsclient

import (
	"encoding/json"
	"time"

	"github.com/countersign/countersign/deal"
	"github.com/countersign/countersign/token"
)

// TokenIssuedMessage announces a freshly issued signing token on the queue.
// The delivery service subscribes to it to send the redeemable link
// out-of-band, the core never composes the message itself.
type TokenIssuedMessage struct {
	SigningToken   string    `json:"signing_token"`
	DealID         string    `json:"deal_id"`
	Role           deal.Role `json:"role"`
	RecipientEmail string    `json:"recipient_email"`
	ExpirationDate int64     `json:"expiration_date"`
}

// DealSignedMessage announces a fully countersigned deal on the queue.
type DealSignedMessage struct {
	DealID   string    `json:"deal_id"`
	SignedAt time.Time `json:"signed_at"`
}

// Publisher provides functionality to push messages to the pub/sub queue.
type Publisher struct {
	*socket
}

// PublisherConnect connects the publisher to the pub/sub queue using provided config.
func PublisherConnect(cfg Config) (*Publisher, error) {
	var p Publisher
	var err error
	p.socket, err = connect(cfg)
	return &p, err
}

// NotifyTokenIssued publishes the issued token to the queue.
// It satisfies the lifecycle issue notifier abstraction, publish failures
// are swallowed on purpose, the webhook path delivers the same fact.
func (p *Publisher) NotifyTokenIssued(t token.Token) {
	msg := TokenIssuedMessage{
		SigningToken:   t.Token,
		DealID:         t.DealID,
		Role:           t.Role,
		RecipientEmail: t.SignerEmail,
		ExpirationDate: t.ExpirationDate,
	}
	raw, err := json.Marshal(&msg)
	if err != nil {
		return
	}
	p.conn.Publish(PubSubTokenIssued, raw)
}

// NotifyDealSigned publishes the signed deal to the queue.
// It satisfies the stage machine signed notifier abstraction.
func (p *Publisher) NotifyDealSigned(dealID string, signedAt time.Time) {
	msg := DealSignedMessage{DealID: dealID, SignedAt: signedAt}
	raw, err := json.Marshal(&msg)
	if err != nil {
		return
	}
	p.conn.Publish(PubSubDealSigned, raw)
}
