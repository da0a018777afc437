package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/solwatch/client"
)

func alertCommands() *cli.Command {
	return &cli.Command{
		Name:  "alerts",
		Usage: "Alert streaming commands (SSE)",
		Subcommands: []*cli.Command{
			streamAlertsCommand(),
			awaitAlertCommand(),
		},
	}
}

func mustJQFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:  "must-jq",
		Usage: "jq expression evaluated against the alert event; all must be truthy (repeatable)",
	}
}

func streamAlertsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stream",
		Usage: "Stream alerts for the subscriber until interrupted",
		Flags: []cli.Flag{mustJQFlag()},
		Action: func(c *cli.Context) error {
			subscriber, err := requireSubscriber(c)
			if err != nil {
				return err
			}
			filter, err := compileFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}
			jsonOutput := c.Bool("json")

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if !jsonOutput {
				fmt.Fprintf(c.App.ErrWriter, "Streaming alerts for %s... (Ctrl+C to stop)\n\n", subscriber)
			}

			err = newClient(c).StreamAlerts(ctx, subscriber, func(a *client.Alert) error {
				if !filter.Match(a.Raw) {
					return nil
				}
				printAlert(c.App.Writer, a, jsonOutput)
				return nil
			})
			if errors.Is(err, context.Canceled) {
				if !jsonOutput {
					fmt.Fprintf(c.App.ErrWriter, "\nDisconnected\n")
				}
				return nil
			}
			return err
		},
	}
}

func awaitAlertCommand() *cli.Command {
	return &cli.Command{
		Name:  "await",
		Usage: "Block until an alert matching criteria arrives",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "address",
				Usage: "Filter by wallet address",
			},
			&cli.StringFlag{
				Name:  "signature",
				Usage: "Filter by exact transaction signature",
			},
			&cli.StringFlag{
				Name:  "type",
				Usage: "Filter by transaction type (transfer, swap, bridge, unknown)",
			},
			mustJQFlag(),
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait for an alert",
			},
		},
		Action: func(c *cli.Context) error {
			subscriber, err := requireSubscriber(c)
			if err != nil {
				return err
			}
			filter, err := compileFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}
			address := c.String("address")
			signature := c.String("signature")
			typ := c.String("type")
			jsonOutput := c.Bool("json")

			matcher := func(a *client.Alert) bool {
				if address != "" && a.Alert.Address != address {
					return false
				}
				if signature != "" && a.Alert.Signature != signature {
					return false
				}
				if typ != "" && string(a.Alert.Type) != typ {
					return false
				}
				return filter.Match(a.Raw)
			}

			if !jsonOutput {
				fmt.Fprintf(c.App.ErrWriter, "Waiting for alert for %s...\n", subscriber)
				fmt.Fprintf(c.App.ErrWriter, "  Timeout: %v\n\n", c.Duration("timeout"))
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			alert, err := newClient(c).Await(ctx, subscriber, matcher)
			if err != nil {
				return fmt.Errorf("failed to await alert: %w", err)
			}
			printAlert(c.App.Writer, alert, jsonOutput)
			return nil
		},
	}
}

func printAlert(w io.Writer, a *client.Alert, jsonOutput bool) {
	if jsonOutput {
		fmt.Fprintln(w, string(a.Raw))
		return
	}
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintln(w, a.Alert.Text)
	for _, l := range a.Alert.Links {
		fmt.Fprintf(w, "  %s: %s\n", l.Label, l.URL)
	}
	fmt.Fprintf(w, "Published: %s\n", a.PublishedAt.Format(time.RFC3339))
}
