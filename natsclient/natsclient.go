package natsclient

import (
	"net/url"

	"github.com/nats-io/nats.go"
)

const (
	PubSubTokenIssued string = "countersign_token_issued"
	PubSubDealSigned  string = "countersign_deal_signed"
)

// Config contains all arguments required to connect to the nats service.
type Config struct {
	Address string `yaml:"server_address"`
	Name    string `yaml:"client_name"`
	Token   string `yaml:"token"`
}

type socket struct {
	conn *nats.Conn
}

func connect(cfg Config) (*socket, error) {
	if _, err := url.Parse(cfg.Address); err != nil {
		return nil, err
	}
	var s socket
	var err error
	s.conn, err = nats.Connect(cfg.Address, nats.Name(cfg.Name), nats.Token(cfg.Token))
	return &s, err
}

// Disconnect drains the message queue and disconnects from the pub/sub.
// All subscriptions are immediately put into a drain state and upon
// completion the publishers can not publish any additional messages.
func (s *socket) Disconnect() error {
	return s.conn.Drain()
}
