// Package notify renders alerts for recorded transactions and delivers them to
// subscribers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/brojonat/solwatch/service/ledger"
	"github.com/brojonat/solwatch/service/metrics"
)

// DefaultExplorerURL is the Solscan transaction page prefix.
const DefaultExplorerURL = "https://solscan.io/tx/"

// Link is a labelled URL rendered as a button by chat front ends.
type Link struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// Payload is a rendered alert. It does not name a subscriber; the same payload
// is delivered to every subscriber of the address.
type Payload struct {
	Address   string                 `json:"address"`
	Label     string                 `json:"label"`
	Signature string                 `json:"signature"`
	Type      ledger.TransactionType `json:"type"`
	Details   ledger.Details         `json:"details"`
	Timestamp time.Time              `json:"timestamp"`
	Text      string                 `json:"text"`
	Links     []Link                 `json:"links"`
}

// Formatter renders payloads.
type Formatter struct {
	ExplorerURL string
}

var defaultFormatter = Formatter{ExplorerURL: DefaultExplorerURL}

// Format renders an alert with the default explorer.
func Format(address, label string, typ ledger.TransactionType, details ledger.Details, signature string, timestamp time.Time) Payload {
	return defaultFormatter.Format(address, label, typ, details, signature, timestamp)
}

// Format renders an alert. It is pure: the same inputs always give the same payload.
func (f Formatter) Format(address, label string, typ ledger.TransactionType, details ledger.Details, signature string, timestamp time.Time) Payload {
	explorer := f.ExplorerURL
	if explorer == "" {
		explorer = DefaultExplorerURL
	}

	links := []Link{{Label: "View on Solscan", URL: explorer + signature}}
	if details.ChartLink != nil && *details.ChartLink != "" {
		links = append(links, Link{Label: "Chart", URL: *details.ChartLink})
	}

	return Payload{
		Address:   address,
		Label:     label,
		Signature: signature,
		Type:      typ,
		Details:   details,
		Timestamp: timestamp.UTC(),
		Text:      renderText(address, label, typ, details, signature, timestamp),
		Links:     links,
	}
}

func renderText(address, label string, typ ledger.TransactionType, d ledger.Details, signature string, timestamp time.Time) string {
	var b strings.Builder

	wallet := address
	if label != "" && label != address {
		wallet = fmt.Sprintf("%s (%s)", label, address)
	}
	fmt.Fprintf(&b, "*Wallet*: %s\n", wallet)
	fmt.Fprintf(&b, "*Type*: %s\n", typ.Label())
	fmt.Fprintf(&b, "*Amount*: %s\n", amountLine(d))

	coin := "N/A"
	if d.TokenAddress != nil && *d.TokenAddress != "" {
		coin = *d.TokenAddress
	}
	fmt.Fprintf(&b, "*Coin Address*: %s\n", coin)

	mcap := "N/A"
	if d.MarketCapUSD != nil {
		mcap = "$" + humanize.CommafWithDigits(d.MarketCapUSD.InexactFloat64(), 2)
	}
	fmt.Fprintf(&b, "*Market Cap*: %s\n", mcap)
	fmt.Fprintf(&b, "*Time*: %s\n", timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "*Signature*: %s", signature)
	return b.String()
}

func amountLine(d ledger.Details) string {
	if d.Token == "" {
		return "N/A"
	}
	line := d.Amount.String() + " " + d.Primary().DisplayName()
	switch d.Direction {
	case ledger.DirectionIn:
		line += " (in)"
	case ledger.DirectionOut:
		line += " (out)"
	}
	if c := d.Counter; c != nil && c.Token != "" {
		line += fmt.Sprintf(" for %s %s", c.Amount.String(), c.DisplayName())
	}
	return line
}

// Delivery sends a payload to one subscriber.
type Delivery interface {
	Deliver(ctx context.Context, subscriberID string, p Payload) error
}

// LogDelivery writes alerts to the log. It is the fallback channel when no
// broker is configured.
type LogDelivery struct {
	logger *slog.Logger
}

// NewLogDelivery creates a LogDelivery.
func NewLogDelivery(logger *slog.Logger) *LogDelivery {
	return &LogDelivery{logger: logger}
}

func (d *LogDelivery) Deliver(ctx context.Context, subscriberID string, p Payload) error {
	d.logger.InfoContext(ctx, "alert",
		"subscriber", subscriberID,
		"address", p.Address,
		"signature", p.Signature,
		"type", p.Type,
		"text", p.Text,
	)
	return nil
}

// Fanout delivers to every channel and joins their errors. A failing channel
// does not stop the others.
type Fanout struct {
	channels map[string]Delivery
	names    []string
	metrics  *metrics.Metrics
}

// NewFanout creates a Fanout. Channels are attempted in the order added.
func NewFanout(m *metrics.Metrics) *Fanout {
	return &Fanout{channels: make(map[string]Delivery), metrics: m}
}

// Add registers a named channel. Nil channels are ignored.
func (f *Fanout) Add(name string, d Delivery) *Fanout {
	if d == nil {
		return f
	}
	if _, ok := f.channels[name]; !ok {
		f.names = append(f.names, name)
	}
	f.channels[name] = d
	return f
}

func (f *Fanout) Deliver(ctx context.Context, subscriberID string, p Payload) error {
	var errs []error
	for _, name := range f.names {
		err := f.channels[name].Deliver(ctx, subscriberID, p)
		if f.metrics != nil {
			f.metrics.RecordDelivery(name, err)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
