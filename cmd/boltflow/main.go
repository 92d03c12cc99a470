package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "boltflow: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	commonFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "path to a YAML config file",
			Sources: cli.EnvVars("BOLTFLOW_CONFIG"),
		},
		&cli.StringFlag{
			Name:  "env",
			Usage: "path to a .env file loaded before configuration",
			Value: ".env",
		},
	}
	return &cli.Command{
		Name:    "boltflow",
		Usage:   "scrape orchestration service with live progress over WebSockets",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and job orchestrator",
				Flags:  commonFlags,
				Action: serveAction,
			},
			{
				Name:   "migrate",
				Usage:  "apply database migrations and exit",
				Flags:  commonFlags,
				Action: migrateAction,
			},
		},
	}
}
