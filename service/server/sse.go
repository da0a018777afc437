package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/solwatch/service/metrics"
	natspkg "github.com/brojonat/solwatch/service/nats"
)

const keepaliveInterval = 10 * time.Second

// handleStreamAlerts streams a subscriber's alerts as Server-Sent Events.
// GET /api/v1/stream/alerts/{subscriber}
func handleStreamAlerts(source natspkg.AlertSource, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subscriberID := r.PathValue("subscriber")
		if err := validateSubscriber(subscriberID); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		ctx := r.Context()
		alerts, err := source.Subscribe(ctx, subscriberID)
		if err != nil {
			logger.ErrorContext(ctx, "failed to subscribe to alerts",
				"subscriber", subscriberID,
				"error", err,
			)
			writeError(w, "failed to subscribe", http.StatusServiceUnavailable)
			return
		}

		// Streams outlive the server write timeout.
		rc := http.NewResponseController(w)
		_ = rc.SetWriteDeadline(time.Time{})

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		if m != nil {
			m.RecordSSEConnectionChange(subscriberID, 1)
			defer m.RecordSSEConnectionChange(subscriberID, -1)
		}
		logger.DebugContext(ctx, "SSE client connected",
			"subscriber", subscriberID,
			"remote_addr", r.RemoteAddr,
		)

		send := func(event string, data []byte) bool {
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
				return false
			}
			if m != nil {
				m.RecordSSEEventSent(subscriberID, event)
			}
			return rc.Flush() == nil
		}

		hello, _ := json.Marshal(map[string]string{"subscriber_id": subscriberID})
		if !send("connected", hello) {
			return
		}

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				if rc.Flush() != nil {
					return
				}

			case ev, ok := <-alerts:
				if !ok {
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					logger.WarnContext(ctx, "failed to marshal alert event", "error", err)
					continue
				}
				if !send("alert", data) {
					return
				}
				logger.DebugContext(ctx, "sent alert event",
					"subscriber", subscriberID,
					"signature", ev.Alert.Signature,
				)

			case <-ctx.Done():
				logger.DebugContext(ctx, "SSE client disconnected",
					"subscriber", subscriberID,
					"remote_addr", r.RemoteAddr,
				)
				return
			}
		}
	})
}
