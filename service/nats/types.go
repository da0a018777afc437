package nats

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brojonat/solwatch/service/notify"
)

// AlertEvent is an alert published to NATS for one subscriber.
// It is published to the subject "alerts.{subscriber}" in JetStream.
type AlertEvent struct {
	ID           string         `json:"id"`
	SubscriberID string         `json:"subscriber_id"`
	Alert        notify.Payload `json:"alert"`
	PublishedAt  time.Time      `json:"published_at"`
}

// NewAlertEvent wraps a formatted payload for publishing.
func NewAlertEvent(subscriberID string, p notify.Payload) *AlertEvent {
	return &AlertEvent{
		ID:           uuid.NewString(),
		SubscriberID: subscriberID,
		Alert:        p,
		PublishedAt:  time.Now().UTC(),
	}
}

// Subject returns the subject alerts for subscriberID are published to.
// Characters NATS reserves in subject tokens are replaced with '_'.
func Subject(subscriberID string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, subscriberID)
	if token == "" {
		token = "_"
	}
	return SubjectPrefix + token
}

// msgID identifies an alert for JetStream duplicate detection, so a retried
// publish of the same alert is stored once.
func msgID(subscriberID string, p notify.Payload) string {
	return subscriberID + ":" + p.Address + ":" + p.Signature
}
