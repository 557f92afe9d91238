package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/countersign/countersign/deal"
	"github.com/countersign/countersign/httpclient"
	"github.com/countersign/countersign/server"
	"github.com/countersign/countersign/signature"
)

const (
	defaultTimeoutSeconds      = 5
	defaultPollIntervalSeconds = 5
	defaultPollMaxMinutes      = 60
	backoffFactor              = 2
	backoffCapSeconds          = 60
)

// ErrConsensusTimeout fires when the poll loop reached its maximum duration
// before both parties signed.
var ErrConsensusTimeout = errors.New("deal did not reach both signed state within the polling window")

// Config contains configuration of the core REST client.
type Config struct {
	CoreURL             string `yaml:"core_url"`              // URL of the countersign core node.
	TimeoutSeconds      int    `yaml:"timeout_seconds"`       // Timeout of a single REST call.
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"` // Base interval of the consensus poll loop.
	PollMaxMinutes      int    `yaml:"poll_max_minutes"`      // Maximum duration of the consensus poll loop.
}

// Client is a rest client for the core API. It is designed to serve as an
// easy way of building applications that drive deals through signing.
type Client struct {
	apiRoot      string
	timeout      time.Duration
	pollInterval time.Duration
	pollMax      time.Duration
}

// NewClient creates a new rest client.
func NewClient(cfg Config) *Client {
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = defaultTimeoutSeconds
	}
	if cfg.PollIntervalSeconds == 0 {
		cfg.PollIntervalSeconds = defaultPollIntervalSeconds
	}
	if cfg.PollMaxMinutes == 0 {
		cfg.PollMaxMinutes = defaultPollMaxMinutes
	}
	return &Client{
		apiRoot:      cfg.CoreURL,
		timeout:      time.Duration(cfg.TimeoutSeconds) * time.Second,
		pollInterval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
		pollMax:      time.Duration(cfg.PollMaxMinutes) * time.Minute,
	}
}

// ValidateApiVersion makes a call to the API server and validates client and
// server API versions and header correctness. A version mismatch may lead to
// unexpected results, so the client refuses to proceed on it.
func (c *Client) ValidateApiVersion() error {
	var alive server.AliveResponse
	url := fmt.Sprintf("%s%s", c.apiRoot, server.AliveURL)
	if err := httpclient.MakeGet(c.timeout, url, &alive); err != nil {
		return err
	}

	if alive.APIVersion != server.ApiVersion {
		return errors.Join(httpclient.ErrApiVersionMismatch, fmt.Errorf("expected %s but got %s", server.ApiVersion, alive.APIVersion))
	}

	if alive.APIHeader != server.Header {
		return errors.Join(httpclient.ErrApiHeaderMismatch, fmt.Errorf("expected %s but got %s", server.Header, alive.APIHeader))
	}

	return nil
}

// CreateDeal creates a new deal record and returns its assigned id.
func (c *Client) CreateDeal(creatorEmail, counterpartyEmail, contractVersion string) (string, error) {
	req := server.CreateDealRequest{
		CreatorEmail:      creatorEmail,
		CounterpartyEmail: counterpartyEmail,
		ContractVersion:   contractVersion,
	}
	var res server.CreateDealResponse
	url := fmt.Sprintf("%s%s", c.apiRoot, server.CreateDealURL)
	if err := httpclient.MakePost(c.timeout, url, req, &res); err != nil {
		return "", err
	}
	if !res.Success {
		return "", errors.Join(httpclient.ErrRejectedByServer, errors.New("failed to create deal"))
	}
	return res.DealID, nil
}

// MarkContractReady moves the deal to the stage that accepts signatures.
func (c *Client) MarkContractReady(dealID string) (deal.Stage, error) {
	req := server.DealStageRequest{DealID: dealID}
	var res server.DealStageResponse
	url := fmt.Sprintf("%s%s", c.apiRoot, server.DealReadyURL)
	if err := httpclient.MakePost(c.timeout, url, req, &res); err != nil {
		return "", err
	}
	return res.Stage, nil
}

// IssueToken requests a signing token for the deal and role.
func (c *Client) IssueToken(dealID string, role deal.Role) (server.IssueTokenResponse, error) {
	req := server.IssueTokenRequest{DealID: dealID, Role: role}
	var res server.IssueTokenResponse
	url := fmt.Sprintf("%s%s", c.apiRoot, server.IssueTokenURL)
	if err := httpclient.MakePost(c.timeout, url, req, &res); err != nil {
		return server.IssueTokenResponse{}, err
	}
	return res, nil
}

// ValidateToken resolves a signing token without consuming it.
func (c *Client) ValidateToken(tkn string) (server.ValidateTokenResponse, error) {
	var res server.ValidateTokenResponse
	url := fmt.Sprintf("%s/token/validate/%s", c.apiRoot, tkn)
	if err := httpclient.MakeGet(c.timeout, url, &res); err != nil {
		return server.ValidateTokenResponse{}, err
	}
	return res, nil
}

// RedeemToken consumes the signing token recording the signature.
func (c *Client) RedeemToken(tkn, signerIdentity, contact string) (server.RedeemTokenResponse, error) {
	req := server.RedeemTokenRequest{SignerIdentity: signerIdentity, Contact: contact}
	var res server.RedeemTokenResponse
	url := fmt.Sprintf("%s/token/redeem/%s", c.apiRoot, tkn)
	if err := httpclient.MakePost(c.timeout, url, req, &res); err != nil {
		return server.RedeemTokenResponse{}, err
	}
	return res, nil
}

// SignatureState reads the deal stage and two party signing state.
func (c *Client) SignatureState(dealID string) (server.SignatureStateResponse, error) {
	var res server.SignatureStateResponse
	url := fmt.Sprintf("%s/signature/state/%s", c.apiRoot, dealID)
	if err := httpclient.MakeGet(c.timeout, url, &res); err != nil {
		return server.SignatureStateResponse{}, err
	}
	return res, nil
}

// WaitForConsensus polls the deal signing state until both parties signed,
// the context is canceled or the maximum polling duration passed. The poll
// interval backs off while the provider side is degraded and resets once the
// state reads clean again.
func (c *Client) WaitForConsensus(ctx context.Context, dealID string) (signature.State, error) {
	fetch := func() (signature.State, error) {
		res, err := c.SignatureState(dealID)
		if err != nil {
			return signature.State{}, err
		}
		return res.State, nil
	}
	return waitForConsensus(ctx, fetch, c.pollInterval, c.pollMax)
}

func waitForConsensus(ctx context.Context, fetch func() (signature.State, error), interval, max time.Duration) (signature.State, error) {
	deadline := time.Now().Add(max)
	wait := interval
	var st signature.State
	for {
		var err error
		st, err = fetch()
		switch {
		case err != nil || st.Degraded:
			wait *= backoffFactor
			if limit := time.Second * backoffCapSeconds; wait > limit {
				wait = limit
			}
		default:
			if st.BothSigned {
				return st, nil
			}
			wait = interval
		}

		if time.Now().Add(wait).After(deadline) {
			return st, ErrConsensusTimeout
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-time.After(wait):
		}
	}
}
