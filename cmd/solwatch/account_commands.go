package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/solwatch/client"
	"github.com/brojonat/solwatch/service/ledger"
)

func accountCommands() *cli.Command {
	return &cli.Command{
		Name:    "accounts",
		Aliases: []string{"acct"},
		Usage:   "Manage tracked accounts through the HTTP API",
		Subcommands: []*cli.Command{
			trackCommand(),
			untrackCommand(),
			listAccountsCommand(),
			statsCommand(),
			transactionsCommand(),
			watchersCommand(),
			replayCommand(),
		},
	}
}

func trackCommand() *cli.Command {
	return &cli.Command{
		Name:      "track",
		Aliases:   []string{"add"},
		Usage:     "Start tracking a wallet",
		ArgsUsage: "ADDRESS [LABEL]",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}
			subscriber, err := requireSubscriber(c)
			if err != nil {
				return err
			}

			label := strings.Join(c.Args().Slice()[1:], " ")
			account, err := newClient(c).Track(c.Context, subscriber, c.Args().First(), label)
			if err != nil {
				return fmt.Errorf("failed to track account: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, account)
			}
			fmt.Fprintf(c.App.Writer, "✓ Tracking %s as %q\n", account.Address, account.Label)
			return nil
		},
	}
}

func untrackCommand() *cli.Command {
	return &cli.Command{
		Name:      "untrack",
		Aliases:   []string{"rm"},
		Usage:     "Stop tracking a wallet",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}
			subscriber, err := requireSubscriber(c)
			if err != nil {
				return err
			}

			address := c.Args().First()
			if err := newClient(c).Untrack(c.Context, subscriber, address); err != nil {
				return fmt.Errorf("failed to untrack account: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "✓ Stopped tracking %s\n", address)
			return nil
		},
	}
}

func listAccountsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List tracked accounts for the subscriber",
		Action: func(c *cli.Context) error {
			subscriber, err := requireSubscriber(c)
			if err != nil {
				return err
			}

			accounts, err := newClient(c).Accounts(c.Context, subscriber)
			if err != nil {
				return fmt.Errorf("failed to list accounts: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, accounts)
			}
			printAccounts(c.App.Writer, accounts)
			return nil
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:      "stats",
		Usage:     "Show transaction count and holdings of a wallet",
		ArgsUsage: "ADDRESS",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}

			stats, err := newClient(c).Stats(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, stats)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Address:      %s\n", stats.Address)
			fmt.Fprintf(w, "Transactions: %s\n", humanize.Comma(stats.TransactionCount))
			fmt.Fprintf(w, "Watching:     %v (%d subscribers)\n", stats.Watching, stats.Subscribers)
			printHoldings(w, stats.Holdings)
			return nil
		},
	}
}

func transactionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "transactions",
		Aliases:   []string{"txs"},
		Usage:     "List recorded transactions for a wallet, newest first",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Value:   20,
				Usage:   "Maximum number of transactions to retrieve (1-1000)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}
			limit := c.Int("limit")
			if limit < 1 || limit > 1000 {
				return fmt.Errorf("limit must be between 1 and 1000")
			}

			records, err := newClient(c).Transactions(c.Context, c.Args().First(), limit)
			if err != nil {
				return fmt.Errorf("failed to list transactions: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, records)
			}
			printTransactions(c.App.Writer, records)
			return nil
		},
	}
}

func watchersCommand() *cli.Command {
	return &cli.Command{
		Name:  "watchers",
		Usage: "List addresses with a live watcher",
		Action: func(c *cli.Context) error {
			addresses, err := newClient(c).Watching(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list watchers: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, addresses)
			}
			for _, a := range addresses {
				fmt.Fprintln(c.App.Writer, a)
			}
			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d watchers\n", len(addresses))
			return nil
		},
	}
}

func replayCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Process one transaction signature for a wallet as if it had just been observed",
		ArgsUsage: "ADDRESS SIGNATURE",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("requires exactly two arguments: wallet address and signature")
			}

			outcome, err := newClient(c).Replay(c.Context, c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("failed to replay transaction: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "%s: %s\n", shorten(c.Args().Get(1)), outcome)
			return nil
		},
	}
}

func newClient(c *cli.Context) *client.Client {
	// Only errors to stderr
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return client.NewClient(c.String("server-url"), nil, logger)
}

func requireSubscriber(c *cli.Context) (string, error) {
	s := c.String("subscriber")
	if s == "" {
		return "", fmt.Errorf("subscriber is required (set SOLWATCH_SUBSCRIBER env var or use --subscriber)")
	}
	return s, nil
}

func printAccounts(out io.Writer, accounts []ledger.TrackedAccount) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tLABEL\tSUBSCRIBER\tTRACKED")
	for _, a := range accounts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.Address, a.Label, a.SubscriberID, humanize.Time(a.CreatedAt))
	}
	w.Flush()
}

func printHoldings(out io.Writer, holdings []ledger.Holding) {
	if len(holdings) == 0 {
		fmt.Fprintln(out, "Holdings:     (none)")
		return
	}
	fmt.Fprintln(out, "Holdings:")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, h := range holdings {
		fmt.Fprintf(w, "  %s\t%s\t%s\n", h.Token, h.Amount.String(), humanize.Time(h.UpdatedAt))
	}
	w.Flush()
}

func printTransactions(out io.Writer, records []ledger.TransactionRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No transactions found")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SIGNATURE\tTYPE\tAMOUNT\tTOKEN\tSLOT\tOBSERVED")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shorten(r.Signature),
			r.Type,
			r.Details.Amount.String(),
			r.Details.Primary().DisplayName(),
			humanize.Comma(int64(r.Slot)),
			humanize.Time(r.ObservedAt),
		)
	}
	w.Flush()
}

func shorten(s string) string {
	if len(s) <= 16 {
		return s
	}
	return s[:8] + "…" + s[len(s)-8:]
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
