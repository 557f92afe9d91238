package natsclient

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
)

// Subscriber provides functionality to pull messages from the pub/sub queue.
type Subscriber struct {
	*socket
	sub *nats.Subscription
}

// SubscriberConnect connects the subscriber to the pub/sub queue using provided config.
func SubscriberConnect(cfg Config) (*Subscriber, error) {
	var s Subscriber
	var err error
	s.socket, err = connect(cfg)
	return &s, err
}

// SubscribeTokenIssued calls the given function for each issued token
// announced on the queue.
func (s *Subscriber) SubscribeTokenIssued(call func(TokenIssuedMessage)) error {
	var err error
	s.sub, err = s.conn.Subscribe(PubSubTokenIssued, func(m *nats.Msg) {
		var msg TokenIssuedMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			return
		}
		call(msg)
	})
	return err
}

// SubscribeDealSigned calls the given function for each countersigned deal
// announced on the queue.
func (s *Subscriber) SubscribeDealSigned(call func(DealSignedMessage)) error {
	var err error
	s.sub, err = s.conn.Subscribe(PubSubDealSigned, func(m *nats.Msg) {
		var msg DealSignedMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			return
		}
		call(msg)
	})
	return err
}
