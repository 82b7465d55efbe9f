package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	_ "nftmarket/docs"
	"nftmarket/pkg/config"
	"nftmarket/pkg/db"
)

// @title           NFT Market API
// @version         1.0
// @description     Chat-driven NFT marketplace: mint, list and buy assets backed by a chain ledger

// @BasePath  /
// @schemes   http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

var Version = "dev"

func main() {
	app := cli.NewApp()
	app.Name = "nftmarket"
	app.Usage = "NFT marketplace engine"
	app.Version = Version
	app.Commands = []*cli.Command{&serveCommand, &migrateCommand, &reconcileCommand}
	app.DefaultCommand = serveCommand.Name

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("nftmarket exited")
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.SetupLogger()
	return cfg, nil
}

var serveCommand = cli.Command{
	Name:  "serve",
	Usage: "Run the HTTP API and the background reconciler",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(c.Context, cfg)
	},
}

var stepsFlag = &cli.IntFlag{
	Name:  "steps",
	Usage: "number of migrations to roll back",
	Value: 1,
}

var migrateCommand = cli.Command{
	Name:  "migrate",
	Usage: "Apply or roll back the ledger schema",
	Subcommands: []*cli.Command{
		{
			Name:  "up",
			Usage: "Apply every pending migration",
			Action: func(c *cli.Context) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				return db.MigrateUp(cfg.DatabaseURL)
			},
		},
		{
			Name:  "down",
			Usage: "Roll back migrations",
			Flags: []cli.Flag{stepsFlag},
			Action: func(c *cli.Context) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				return db.MigrateDown(cfg.DatabaseURL, c.Int(stepsFlag.Name))
			},
		},
	},
}

var reconcileCommand = cli.Command{
	Name:  "reconcile",
	Usage: "Run a single reconciliation pass and print its report",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApplication(c.Context, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := context.WithTimeout(c.Context, 4*cfg.ChainConfirmTimeout)
		defer cancel()
		rep, err := a.reconciler.RunOnce(ctx)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, rep)
	},
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
