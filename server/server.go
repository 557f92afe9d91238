package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/countersign/countersign/deal"
	"github.com/countersign/countersign/dealstage"
	"github.com/countersign/countersign/lifecycle"
	"github.com/countersign/countersign/logger"
	"github.com/countersign/countersign/signature"
	"github.com/countersign/countersign/token"
	"github.com/countersign/countersign/webhooks"
)

const (
	ApiVersion = "1.0.0"
	Header     = "Countersign-Core"
)

const (
	tokenGroupURL     = "/token"
	dealGroupURL      = "/deal"
	signatureGroupURL = "/signature"
	providerGroupURL  = "/provider"
	hookGroupURL      = "/hook"
	issueURL          = "/issue"
	validateURL       = "/validate/:token"
	redeemURL         = "/redeem/:token"
	stateURL          = "/state/:deal_id"
	callbackURL       = "/callback"
	createURL         = "/create"
	readyURL          = "/ready"
	declineURL        = "/decline"
	disputeURL        = "/dispute"
	removeURL         = "/remove"
)

const (
	AliveURL            = "/alive"                          // URL to check if the server is alive and the API version.
	IssueTokenURL       = tokenGroupURL + issueURL          // URL to issue a signing token for a deal and role.
	ValidateTokenURL    = tokenGroupURL + validateURL       // URL to resolve a signing token without consuming it.
	RedeemTokenURL      = tokenGroupURL + redeemURL         // URL to redeem a signing token and record the signature.
	SignatureStateURL   = signatureGroupURL + stateURL      // URL to read the two party signing state of a deal.
	ProviderCallbackURL = providerGroupURL + callbackURL    // URL for the e-signature provider inbound webhook.
	CreateDealURL       = dealGroupURL + createURL          // URL to create a new deal record.
	DealReadyURL        = dealGroupURL + readyURL           // URL to mark a deal contract ready for signatures.
	DealDeclineURL      = dealGroupURL + declineURL         // URL to decline a deal.
	DealDisputeURL      = dealGroupURL + disputeURL         // URL to raise a dispute on a signed deal.
	CreateHookURL       = hookGroupURL + createURL          // URL to register a webhook destination.
	RemoveHookURL       = hookGroupURL + removeURL          // URL to remove a webhook destination.
	WsURL               = "/ws"                             // URL to connect to the stage event websocket.
)

var ErrWrongPortSpecified = errors.New("port must be between 1 and 65535")

// TokenKeeper abstracts the token lifecycle operations the REST surface exposes.
type TokenKeeper interface {
	Issue(ctx context.Context, dealID string, role deal.Role) (token.Token, error)
	Validate(ctx context.Context, tkn string) (lifecycle.TokenContext, error)
}

// RedeemRegister abstracts the repository transaction that consumes a token
// and records the signature as one unit.
type RedeemRegister interface {
	RedeemTokenWithSignature(ctx context.Context, tkn string, now int64, rec signature.Record) (redeemed, recorded bool, err error)
}

// SignatureLedger abstracts signature recording for the provider callback.
type SignatureLedger interface {
	RecordSignature(ctx context.Context, dealID string, role deal.Role, identity string, proof signature.Proof) (signature.Record, error)
}

// StageMachine abstracts the deal stage transitions.
type StageMachine interface {
	Advance(ctx context.Context, dealID string) (deal.Stage, signature.State, error)
	Decline(ctx context.Context, dealID string) (deal.Stage, error)
	RaiseDispute(ctx context.Context, dealID string) (deal.Stage, error)
	MarkContractReady(ctx context.Context, dealID string) (deal.Stage, error)
}

// DealRegister abstracts deal record persistence.
type DealRegister interface {
	CreateDeal(ctx context.Context, d deal.Deal) error
	ReadDeal(ctx context.Context, dealID string) (deal.Deal, error)
}

// WebhookRegisterer abstracts the outbound webhook registry.
type WebhookRegisterer interface {
	CreateWebhook(trigger byte, subscriber string, h webhooks.Hook) error
	RemoveWebhook(trigger byte, subscriber string) error
}

// ReactiveSubscriberProvider provides the subscription to applied deal stage
// transitions that the websocket hub streams to connected clients.
type ReactiveSubscriberProvider interface {
	Cancel()
	Channel() <-chan dealstage.Event
}

// Config contains configuration of the server.
type Config struct {
	Port int `yaml:"port"` // Port to listen on.
}

type server struct {
	keeper   TokenKeeper
	redeemer RedeemRegister
	ledger   SignatureLedger
	machine  StageMachine
	deals    DealRegister
	hooks    WebhookRegisterer
	hub      *hub
	log      logger.Logger
	rx       ReactiveSubscriberProvider
}

// Run initializes routing and runs the server. To stop the server cancel the
// context. It blocks until the context is canceled.
func Run(
	ctx context.Context, c Config,
	keeper TokenKeeper, redeemer RedeemRegister, ledger SignatureLedger,
	machine StageMachine, deals DealRegister, hooks WebhookRegisterer,
	log logger.Logger, rx ReactiveSubscriberProvider,
) error {
	var err error
	ctxx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := validateConfig(&c); err != nil {
		return err
	}

	s := &server{
		keeper:   keeper,
		redeemer: redeemer,
		ledger:   ledger,
		machine:  machine,
		deals:    deals,
		hooks:    hooks,
		hub:      newHub(log),
		log:      log,
		rx:       rx,
	}

	router := s.router(ctxx)

	go func() {
		err := router.Listen(fmt.Sprintf("0.0.0.0:%v", c.Port))
		if err != nil {
			cancel()
		}
	}()
	go s.hub.run(ctxx)
	go s.runSubscriber(ctxx)

	<-ctxx.Done()

	if errx := router.Shutdown(); errx != nil {
		err = errors.Join(err, errx)
	}

	return err
}

func (s *server) router(ctx context.Context) *fiber.App {
	router := fiber.New(fiber.Config{
		Prefork:       false,
		CaseSensitive: true,
		StrictRouting: true,
		ReadTimeout:   time.Second * 5,
		WriteTimeout:  time.Second * 5,
		ServerHeader:  Header,
		AppName:       ApiVersion,
		Concurrency:   4096,
	})
	router.Use(recover.New())

	router.Get(AliveURL, s.alive)

	tkn := router.Group(tokenGroupURL)
	tkn.Post(issueURL, s.tokenIssue)
	tkn.Get(validateURL, s.tokenValidate)
	tkn.Post(redeemURL, s.tokenRedeem)

	sig := router.Group(signatureGroupURL)
	sig.Get(stateURL, s.signatureState)

	provider := router.Group(providerGroupURL)
	provider.Post(callbackURL, s.providerCallback)

	dl := router.Group(dealGroupURL)
	dl.Post(createURL, s.dealCreate)
	dl.Post(readyURL, s.dealReady)
	dl.Post(declineURL, s.dealDecline)
	dl.Post(disputeURL, s.dealDispute)

	hook := router.Group(hookGroupURL)
	hook.Post(createURL, s.hookCreate)
	hook.Post(removeURL, s.hookRemove)

	router.Group(WsURL, func(c *fiber.Ctx) error { return s.wsWrapper(ctx, c) })

	return router
}

func validateConfig(c *Config) error {
	if c.Port == 0 || c.Port > 65535 {
		return ErrWrongPortSpecified
	}
	return nil
}

func (s *server) runSubscriber(ctx context.Context) {
	defer s.rx.Cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.rx.Channel():
			s.hub.broadcast <- &Message{
				Command: CommandStageChanged,
				Event:   ev,
			}
		}
	}
}
