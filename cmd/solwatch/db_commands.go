package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/solwatch/service/config"
	"github.com/brojonat/solwatch/service/db"
	"github.com/brojonat/solwatch/service/ledger"
)

func dbAccountsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-accounts",
		Usage:   "List tracked accounts in the ledger",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "for",
				Usage: "Only accounts of this subscriber",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			var accounts []ledger.TrackedAccount
			if s := c.String("for"); s != "" {
				accounts, err = store.ListAccounts(c.Context, s)
			} else {
				accounts, err = store.ListAllAccounts(c.Context)
			}
			if err != nil {
				return fmt.Errorf("failed to list accounts: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, accounts)
			}
			printAccounts(c.App.Writer, accounts)
			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d accounts\n", len(accounts))
			return nil
		},
	}
}

func dbTransactionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-transactions",
		Usage:     "List recorded transactions of an address",
		Aliases:   []string{"txs"},
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of transactions (0 for all)",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			address := c.Args().First()
			records, err := store.ListTransactions(c.Context, address, c.Int("limit"))
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}
			total, err := store.CountTransactions(c.Context, address)
			if err != nil {
				return fmt.Errorf("failed to count transactions: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, records)
			}
			printTransactions(c.App.Writer, records)
			fmt.Fprintf(c.App.ErrWriter, "\nShowing %d of %d transactions\n", len(records), total)
			return nil
		},
	}
}

func dbHoldingsCommand() *cli.Command {
	return &cli.Command{
		Name:      "holdings",
		Usage:     "Show the holdings of an address",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			holdings, err := store.ListHoldings(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to list holdings: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, holdings)
			}
			printHoldings(c.App.Writer, holdings)
			return nil
		},
	}
}

// getStore opens the ledger selected by the global flags.
func getStore(c *cli.Context) (ledger.Store, func(), error) {
	backend := c.String("ledger-backend")
	path := c.String("ledger-path")
	if path == "" {
		switch backend {
		case config.BackendFile:
			path = config.DefaultLedgerPath
		case config.BackendSQLite:
			path = config.DefaultSQLitePath
		}
	}
	if backend == config.BackendPostgres && c.String("database-url") == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return db.Open(ctx, backend, path, c.String("database-url"), nil)
}
