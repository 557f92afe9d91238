package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/countersign/countersign/configuration"
	"github.com/countersign/countersign/deal"
	"github.com/countersign/countersign/dealstage"
	"github.com/countersign/countersign/esignature"
	"github.com/countersign/countersign/ledger"
	"github.com/countersign/countersign/lifecycle"
	"github.com/countersign/countersign/logging"
	"github.com/countersign/countersign/logo"
	"github.com/countersign/countersign/natsclient"
	"github.com/countersign/countersign/reactive"
	"github.com/countersign/countersign/reconciler"
	"github.com/countersign/countersign/repository"
	"github.com/countersign/countersign/server"
	"github.com/countersign/countersign/stdoutwriter"
	"github.com/countersign/countersign/telemetry"
	"github.com/countersign/countersign/webhooks"
	"github.com/countersign/countersign/zincadapter"
)

const usage = `Countersign runs the core node driving deals through dual party contract signing.
It issues single use signing tokens, records signatures and advances deal stages.`

const stageEventsBufferSize = 100

func main() {
	logo.Display()

	var file string
	configurator := func() (configuration.Configuration, error) {
		if file == "" {
			return configuration.Configuration{}, errors.New("please specify configuration file path with -c <path to file>")
		}

		cfg, err := configuration.Read(file)
		if err != nil {
			return cfg, err
		}

		return cfg, nil
	}

	app := &cli.App{
		Name:  "countersign",
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Load configuration from `FILE`",
				Destination: &file,
			},
		},
		Action: func(_ *cli.Context) error {
			cfg, err := configurator()
			if err != nil {
				return err
			}
			run(cfg)
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		pterm.Error.Println(err.Error())
	}
}

// stageEmitter bridges applied stage transitions into the reactive stream
// consumed by the websocket hub.
type stageEmitter struct {
	obs *reactive.Observable[dealstage.Event]
}

func (e stageEmitter) NotifyDealSigned(dealID string, signedAt time.Time) {
	e.obs.Publish(dealstage.Event{DealID: dealID, Stage: deal.StageSigned, OccurredAt: signedAt})
}

func run(cfg configuration.Configuration) {
	ctx, cancel := context.WithCancel(context.Background())

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	go func() {
		<-c
		cancel()
	}()

	callbackOnErr := func(err error) {
		fmt.Println("error with logger: ", err)
	}

	callbackOnFatal := func(err error) {
		panic(fmt.Sprintf("error with logger: %s", err))
	}

	zinc, err := zincadapter.New(cfg.ZincLogger)
	if err != nil {
		fmt.Println(err)
		c <- os.Interrupt
		return
	}

	log := logging.New(callbackOnErr, callbackOnFatal, stdoutwriter.Logger{}, &zinc)

	db, err := repository.Connect(ctx, cfg.Database)
	if err != nil {
		log.Error(err.Error())
		c <- os.Interrupt
		return
	}
	defer db.Disconnect(ctx)

	if err := db.RunMigration(ctx); err != nil {
		log.Error(err.Error())
		c <- os.Interrupt
		return
	}

	if err := telemetry.Run(ctx, cancel, 0); err != nil {
		log.Error(err.Error())
		c <- os.Interrupt
		return
	}

	hooks := webhooks.New(log)

	issueNotifiers := []lifecycle.IssueNotifier{hooks}
	signedNotifiers := []dealstage.SignedNotifier{hooks}

	pub, err := natsclient.PublisherConnect(cfg.Nats)
	if err != nil {
		log.Warn(fmt.Sprintf("nats publisher unavailable, continuing without pub/sub: %s", err.Error()))
	} else {
		defer pub.Disconnect()
		issueNotifiers = append(issueNotifiers, pub)
		signedNotifiers = append(signedNotifiers, pub)
	}

	obs := reactive.New[dealstage.Event](stageEventsBufferSize)
	signedNotifiers = append(signedNotifiers, stageEmitter{obs: obs})

	keeper := lifecycle.New(cfg.Lifecycle, db, db, log, issueNotifiers...)
	ledgr := ledger.New(db, db, log)
	provider := esignature.NewClient(cfg.Provider)
	rec := reconciler.New(provider, ledgr, db, log)
	machine := dealstage.New(rec, db, log, signedNotifiers...)

	err = server.Run(ctx, cfg.Server, keeper, db, ledgr, machine, db, hooks, log, obs.Subscribe())
	if err != nil {
		log.Error(err.Error())
	}
}
