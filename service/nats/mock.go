package nats

import (
	"context"
	"sync"

	"github.com/brojonat/solwatch/service/notify"
)

// MockPublisher is an in-process stand-in for the JetStream publisher and
// subscriber. Delivered alerts are recorded and fanned out to live
// subscriptions.
type MockPublisher struct {
	mu           sync.RWMutex
	events       []*AlertEvent
	publishError error
	subs         map[*eventPipe]string
	closed       bool
}

var (
	_ Publisher   = (*MockPublisher)(nil)
	_ AlertSource = (*MockPublisher)(nil)
)

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		events: make([]*AlertEvent, 0),
		subs:   make(map[*eventPipe]string),
	}
}

// Deliver records the alert and returns any configured error.
func (m *MockPublisher) Deliver(ctx context.Context, subscriberID string, p notify.Payload) error {
	m.mu.Lock()
	if m.publishError != nil {
		err := m.publishError
		m.mu.Unlock()
		return err
	}
	ev := NewAlertEvent(subscriberID, p)
	m.events = append(m.events, ev)
	targets := make([]*eventPipe, 0)
	for pipe, id := range m.subs {
		if id == subscriberID {
			targets = append(targets, pipe)
		}
	}
	m.mu.Unlock()

	for _, pipe := range targets {
		pipe.send(*ev)
	}
	return nil
}

// Subscribe streams alerts delivered after the call until ctx is done.
func (m *MockPublisher) Subscribe(ctx context.Context, subscriberID string) (<-chan AlertEvent, error) {
	pipe := newEventPipe(ctx)
	m.mu.Lock()
	m.subs[pipe] = subscriberID
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, pipe)
		m.mu.Unlock()
		pipe.close()
	}()
	return pipe.ch, nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns all published events.
func (m *MockPublisher) GetPublishedEvents() []*AlertEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make([]*AlertEvent, len(m.events))
	copy(events, m.events)
	return events
}

// GetPublishedEventsForSubscriber returns events published for one subscriber.
func (m *MockPublisher) GetPublishedEventsForSubscriber(subscriberID string) []*AlertEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := make([]*AlertEvent, 0)
	for _, ev := range m.events {
		if ev.SubscriberID == subscriberID {
			events = append(events, ev)
		}
	}
	return events
}

// SubscriptionCount returns the number of live subscriptions.
func (m *MockPublisher) SubscriptionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// SetPublishError configures the mock to return an error on Deliver.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
