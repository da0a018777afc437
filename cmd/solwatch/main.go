package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "solwatch",
		Usage: "Solana wallet activity monitor CLI",
		Description: `A command-line tool for the solwatch service.

Use this CLI to track wallets, stream alerts, and inspect the ledger.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			accountCommands(),
			alertCommands(),
			// Ledger inspection commands
			{
				Name:  "db",
				Usage: "Ledger inspection commands",
				Subcommands: []*cli.Command{
					dbAccountsCommand(),
					dbTransactionsCommand(),
					dbHoldingsCommand(),
				},
			},
			// NATS alert streaming commands
			{
				Name:  "nats",
				Usage: "NATS alert streaming commands",
				Subcommands: []*cli.Command{
					subscribeCommand(),
					inspectStreamCommand(),
				},
			},
			// Server utility commands
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "solwatch server URL",
				EnvVars: []string{"SOLWATCH_SERVER_URL", "SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "subscriber",
				Aliases: []string{"u"},
				Usage:   "Subscriber id alerts are delivered to",
				EnvVars: []string{"SOLWATCH_SUBSCRIBER"},
			},
			&cli.StringFlag{
				Name:    "ledger-backend",
				Usage:   "Ledger backend: file, sqlite, postgres or memory",
				EnvVars: []string{"LEDGER_BACKEND"},
				Value:   "file",
			},
			&cli.StringFlag{
				Name:    "ledger-path",
				Usage:   "Ledger file for the file and sqlite backends",
				EnvVars: []string{"LEDGER_PATH"},
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}
}
