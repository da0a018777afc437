package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/brojonat/solwatch/service/metrics"
	"github.com/brojonat/solwatch/service/notify"
)

// Publisher delivers alerts to NATS. It satisfies notify.Delivery.
type Publisher interface {
	notify.Delivery

	// Close closes the connection to NATS.
	Close() error
}

const (
	// StreamName is the name of the JetStream stream for alerts.
	StreamName = "ALERTS"

	// SubjectPrefix is prepended to the subscriber token.
	SubjectPrefix = "alerts."

	// StreamSubjects is the subject pattern for the stream.
	StreamSubjects = "alerts.*"

	// StreamRetention is how long alerts are retained.
	StreamRetention = 7 * 24 * time.Hour

	// DuplicateWindow is how long JetStream remembers message ids.
	DuplicateWindow = 10 * time.Minute

	// inactiveThreshold removes consumers whose reader went away.
	inactiveThreshold = time.Minute
)

// JetStreamPublisher publishes alerts to NATS JetStream.
type JetStreamPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	logger  *slog.Logger
	metrics *metrics.Metrics
}

var _ Publisher = (*JetStreamPublisher)(nil)

// connect dials NATS and opens a JetStream context.
func connect(natsURL, name string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return nc, js, nil
}

// NewPublisher connects to NATS and ensures the alert stream exists.
func NewPublisher(natsURL string, logger *slog.Logger, m *metrics.Metrics) (*JetStreamPublisher, error) {
	nc, js, err := connect(natsURL, "solwatch-publisher")
	if err != nil {
		return nil, err
	}

	publisher := &JetStreamPublisher{
		nc:      nc,
		js:      js,
		logger:  logger,
		metrics: m,
	}

	if err := ensureStream(js, logger); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}

	logger.Info("NATS publisher initialized",
		"url", natsURL,
		"stream", StreamName,
	)
	return publisher, nil
}

// ensureStream creates the JetStream stream if it doesn't exist.
func ensureStream(js jetstream.JetStream, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := js.Stream(ctx, StreamName)
	if err == nil {
		if info, err := stream.Info(ctx); err == nil {
			logger.Debug("JetStream stream already exists",
				"stream", StreamName,
				"messages", info.State.Msgs,
			)
		}
		return nil
	}

	logger.Info("creating JetStream stream", "stream", StreamName)

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Wallet activity alerts per subscriber",
		Subjects:    []string{StreamSubjects},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      StreamRetention,
		Duplicates:  DuplicateWindow,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	logger.Info("JetStream stream created successfully", "stream", StreamName)
	return nil
}

// Deliver publishes p to the subscriber's subject.
func (p *JetStreamPublisher) Deliver(ctx context.Context, subscriberID string, payload notify.Payload) error {
	start := time.Now()
	subject := Subject(subscriberID)

	data, err := json.Marshal(NewAlertEvent(subscriberID, payload))
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}

	_, err = p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID(subscriberID, payload)))
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordNATSPublish(StreamSubjects, status, time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	p.logger.DebugContext(ctx, "published alert event",
		"subject", subject,
		"signature", payload.Signature,
		"address", payload.Address,
	)
	return nil
}

// Close closes the connection to NATS.
func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("NATS publisher closed")
	}
	return nil
}
