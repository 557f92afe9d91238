package esignature

import (
	"errors"
	"fmt"
	"time"

	"github.com/countersign/countersign/httpclient"
)

const defaultTimeoutSeconds = 5

// ErrProviderUnavailable fires when the e-signature provider could not be
// reached this attempt. It is recovered locally, the next reconciliation
// poll retries and it is never surfaced as a signing failure.
var ErrProviderUnavailable = errors.New("e-signature provider unavailable")

// Status is the signing status the provider reports for a deal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSigned   Status = "signed"
	StatusDeclined Status = "declined"
)

// StatusResponse is the provider's reported signing status for a deal.
type StatusResponse struct {
	Status   Status `json:"status"`
	SignedAt int64  `json:"signed_at,omitempty"`
}

// Config contains configuration of the e-signature provider client.
type Config struct {
	URL            string `yaml:"url"`             // provider status endpoint root
	TimeoutSeconds uint64 `yaml:"timeout_seconds"` // per request timeout, default 5
}

// Client looks up the provider's signing status for a deal. The call is
// bounded by a timeout so a slow provider never blocks local operations.
type Client struct {
	url     string
	timeout time.Duration
}

// NewClient creates a new provider client.
func NewClient(cfg Config) Client {
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = defaultTimeoutSeconds
	}
	return Client{url: cfg.URL, timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
}

// Status reads the provider's reported status for the deal's signing session.
func (c Client) Status(dealID string) (StatusResponse, error) {
	var resp StatusResponse
	if err := httpclient.MakeGet(c.timeout, fmt.Sprintf("%s/status/%s", c.url, dealID), &resp); err != nil {
		return StatusResponse{}, errors.Join(ErrProviderUnavailable, err)
	}
	switch resp.Status {
	case StatusPending, StatusSigned, StatusDeclined:
	default:
		return StatusResponse{}, errors.Join(ErrProviderUnavailable,
			fmt.Errorf("provider returned unknown status %q", resp.Status))
	}
	return resp, nil
}
