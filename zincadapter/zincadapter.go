package zincadapter

import (
	"errors"
	"fmt"
	"time"

	"github.com/countersign/countersign/httpclient"
)

const (
	healthz        = "/healthz"
	createDocument = "/api/%s/_doc"
)

const timeout = time.Second * 5

var (
	ErrZincServerNotResponding = errors.New("zinc server not responding on given address")
	ErrZincServerWriteFailed   = errors.New("zinc server write failed")
)

// Config contains configuration for the log search back-end.
type Config struct {
	Address string `yaml:"address"` // logger back-end server address
	Index   string `yaml:"index"`   // unique index per service to search logs by the service
}

type message struct {
	AdditionalProp1 struct {
		Message string `json:"message"`
	} `json:"additionalProp1"`
}

// ZincClient sends logs to the zincsearch back-end. It satisfies io.Writer
// so it plugs into the logging helper next to the stdout writer.
type ZincClient struct {
	address   string
	indexName string
}

// New creates a new ZincClient checking that the back-end responds.
func New(cfg Config) (ZincClient, error) {
	if err := httpclient.MakeGet(timeout, fmt.Sprintf("%s%s", cfg.Address, healthz), nil); err != nil {
		return ZincClient{}, errors.Join(ErrZincServerNotResponding, err)
	}
	return ZincClient{cfg.Address, cfg.Index}, nil
}

// Write satisfies the io.Writer abstraction.
func (z *ZincClient) Write(p []byte) (n int, err error) {
	var msg message
	msg.AdditionalProp1.Message = string(p)
	url := fmt.Sprintf("%s%s", z.address, fmt.Sprintf(createDocument, z.indexName))
	if err := httpclient.MakePost(timeout, url, msg, nil); err != nil {
		return 0, errors.Join(ErrZincServerWriteFailed, err)
	}
	return len(p), nil
}
