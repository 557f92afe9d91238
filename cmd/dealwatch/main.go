package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/pterm/pterm"
	"github.com/urfave/cli/v2"

	"github.com/countersign/countersign/client"
	"github.com/countersign/countersign/configuration"
	"github.com/countersign/countersign/logo"
)

const usage = `Dealwatch polls the countersign core node until the given deal is signed by both parties.`

func main() {
	logo.Display()

	var file string
	var dealID string
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
		Name:  "dealwatch",
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Load configuration from `FILE`",
				Destination: &file,
			},
			&cli.StringFlag{
				Name:        "deal",
				Aliases:     []string{"d"},
				Usage:       "Watch the deal with `ID`",
				Destination: &dealID,
			},
		},
		Action: func(_ *cli.Context) error {
			if dealID == "" {
				return errors.New("please specify the deal to watch with -d <deal id>")
			}
			cfg, err := configurator()
			if err != nil {
				return err
			}
			return run(cfg, dealID)
		},
	}

	if err := app.Run(os.Args); err != nil {
		pterm.Error.Println(err.Error())
	}
}

func run(cfg configuration.Configuration, dealID string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	go func() {
		<-c
		cancel()
	}()

	cl := client.NewClient(cfg.Client)
	if err := cl.ValidateApiVersion(); err != nil {
		return err
	}

	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("waiting for both signatures on deal %s", dealID))
	st, err := cl.WaitForConsensus(ctx, dealID)
	if err != nil {
		spinner.Fail(err.Error())
		return err
	}
	spinner.Success("both parties signed")

	res, err := cl.SignatureState(dealID)
	if err != nil {
		return err
	}

	pterm.DefaultSection.Println("deal state")
	pterm.Info.Println(fmt.Sprintf("deal:  %s", dealID))
	pterm.Info.Println(fmt.Sprintf("stage: %s", res.Stage))
	pterm.Info.Println(fmt.Sprintf("both signed: %v, degraded: %v", st.BothSigned, st.Degraded))
	return nil
}
