package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"

	natspkg "github.com/brojonat/solwatch/service/nats"
)

// subscribeCommand consumes a subscriber's alerts straight from JetStream.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:  "subscribe",
		Usage: "Subscribe to alert events for the subscriber",
		Description: `Subscribe to alert events published to NATS JetStream.

Events are published to the subject: alerts.{subscriber_id}

Example:
  solwatch --subscriber 12345 nats subscribe --json`,
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Stop after this long (0 waits until interrupted)",
			},
		},
		Action: func(c *cli.Context) error {
			subscriber, err := requireSubscriber(c)
			if err != nil {
				return err
			}
			natsURL := c.String("nats-url")
			jsonOutput := c.Bool("json")

			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
			sub, err := natspkg.NewSubscriber(natsURL, logger)
			if err != nil {
				return err
			}
			defer sub.Close()

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if d := c.Duration("timeout"); d > 0 {
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}

			events, err := sub.Subscribe(ctx, subscriber)
			if err != nil {
				return err
			}

			if !jsonOutput {
				fmt.Fprintf(c.App.ErrWriter, "📡 Subscribing to: %s\n", natspkg.Subject(subscriber))
				fmt.Fprintf(c.App.ErrWriter, "   NATS: %s\n\nWaiting for alerts... (Ctrl-C to exit)\n\n", natsURL)
			}

			count := 0
			for ev := range events {
				count++
				printAlertEvent(c.App.Writer, ev, count, jsonOutput)
			}
			if !jsonOutput {
				fmt.Fprintf(c.App.ErrWriter, "\n✅ Received %d alerts\n", count)
			}
			return nil
		},
	}
}

func printAlertEvent(w io.Writer, ev natspkg.AlertEvent, n int, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.Marshal(ev)
		fmt.Fprintln(w, string(data))
		return
	}
	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Alert #%d\n", n)
	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
	fmt.Fprintln(w, ev.Alert.Text)
	fmt.Fprintf(w, "Signature:    %s\n", ev.Alert.Signature)
	fmt.Fprintf(w, "Published:    %s\n\n", ev.PublishedAt.Format(time.RFC3339))
}

// inspectStreamCommand shows information about the alerts JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the ALERTS JetStream stream",
		Description: `Show information about the JetStream stream including:
- Message count
- Consumers
- Storage usage

Example:
  solwatch nats inspect-stream`,
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(c.String("nats-url"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(c.Context, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}
			info, err := stream.Info(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, info)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Stream: %s\n", info.Config.Name)
			fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
			fmt.Fprintf(w, "Subjects:     %v\n", info.Config.Subjects)
			fmt.Fprintf(w, "Messages:     %d\n", info.State.Msgs)
			fmt.Fprintf(w, "Bytes:        %d\n", info.State.Bytes)
			fmt.Fprintf(w, "Consumers:    %d\n", info.State.Consumers)
			fmt.Fprintf(w, "Max Age:      %s\n", info.Config.MaxAge)
			fmt.Fprintf(w, "Duplicates:   %s\n", info.Config.Duplicates)
			return nil
		},
	}
}
