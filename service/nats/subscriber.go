package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// AlertSource streams alerts for one subscriber until ctx is done. The
// returned channel is closed after ctx is cancelled.
type AlertSource interface {
	Subscribe(ctx context.Context, subscriberID string) (<-chan AlertEvent, error)
}

// JetStreamSubscriber reads alerts with one ephemeral consumer per call.
type JetStreamSubscriber struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

var _ AlertSource = (*JetStreamSubscriber)(nil)

// NewSubscriber connects to NATS and ensures the alert stream exists.
func NewSubscriber(natsURL string, logger *slog.Logger) (*JetStreamSubscriber, error) {
	nc, js, err := connect(natsURL, "solwatch-subscriber")
	if err != nil {
		return nil, err
	}
	if err := ensureStream(js, logger); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream exists: %w", err)
	}
	logger.Info("NATS subscriber initialized", "url", natsURL)
	return &JetStreamSubscriber{nc: nc, js: js, logger: logger}, nil
}

// Subscribe delivers alerts published after the call.
func (s *JetStreamSubscriber) Subscribe(ctx context.Context, subscriberID string) (<-chan AlertEvent, error) {
	name := "alerts-" + uuid.NewString()
	cons, err := s.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Name:              name,
		FilterSubject:     Subject(subscriberID),
		AckPolicy:         jetstream.AckExplicitPolicy,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		InactiveThreshold: inactiveThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	out := newEventPipe(ctx)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		var ev AlertEvent
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			s.logger.WarnContext(ctx, "failed to unmarshal alert event", "consumer", name, "error", err)
			_ = msg.Ack()
			return
		}
		// Sanitised subjects can collide; the event carries the exact id.
		if ev.SubscriberID != subscriberID {
			_ = msg.Ack()
			return
		}
		if out.send(ev) {
			_ = msg.Ack()
			return
		}
		_ = msg.Nak()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming alerts: %w", err)
	}

	go func() {
		<-ctx.Done()
		cc.Stop()
		out.close()
		s.logger.Debug("alert consumer stopped", "consumer", name, "subscriber", subscriberID)
	}()
	return out.ch, nil
}

// Close closes the connection to NATS.
func (s *JetStreamSubscriber) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}

// eventPipe is a channel that is safe to close while senders may still run.
type eventPipe struct {
	ctx    context.Context
	mu     sync.Mutex
	closed bool
	ch     chan AlertEvent
}

func newEventPipe(ctx context.Context) *eventPipe {
	return &eventPipe{ctx: ctx, ch: make(chan AlertEvent, 16)}
}

// send blocks until the event is taken or ctx is done.
func (p *eventPipe) send(ev AlertEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.ch <- ev:
		return true
	case <-p.ctx.Done():
		return false
	}
}

func (p *eventPipe) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
}
