package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// It is passed explicitly to every component that records metrics; a nil
// *Metrics disables recording at the call site.
type Metrics struct {
	// Solana RPC
	solanaRPCCallsTotal        *prometheus.CounterVec
	solanaRPCCallDuration      *prometheus.HistogramVec
	solanaRPCRateLimitHits     *prometheus.CounterVec
	solanaRPCRetries           *prometheus.CounterVec
	solanaRPCSignaturesPerCall *prometheus.HistogramVec

	// Account watchers
	activeWatchers         prometheus.Gauge
	changeEventsTotal      *prometheus.CounterVec
	subscriptionReconnects *prometheus.CounterVec

	// Transaction pipeline
	transactionsProcessedTotal *prometheus.CounterVec
	transactionProcessDuration *prometheus.HistogramVec
	panicsRecoveredTotal       *prometheus.CounterVec

	// Enrichment
	enrichmentLookupsTotal *prometheus.CounterVec
	enrichmentCacheTotal   *prometheus.CounterVec

	// Ledger
	ledgerQueryDuration   *prometheus.HistogramVec
	ledgerOperationsTotal *prometheus.CounterVec

	// Delivery
	alertsDeliveredTotal *prometheus.CounterVec

	// HTTP
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections *prometheus.GaugeVec
	sseEventsSent        *prometheus.CounterVec

	// NATS
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		solanaRPCRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_rate_limit_hits_total",
				Help: "Total number of Solana RPC rate limit hits (429 errors)",
			},
			[]string{"endpoint"},
		),
		solanaRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_retries_total",
				Help: "Total number of Solana RPC retry attempts",
			},
			[]string{"method", "reason"},
		),
		solanaRPCSignaturesPerCall: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_signatures_per_call",
				Help:    "Number of signatures fetched per GetSignaturesForAddress call",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
			[]string{"endpoint"},
		),

		activeWatchers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "solwatch_active_watchers",
				Help: "Number of addresses with a live account watcher",
			},
		),
		changeEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solwatch_change_events_total",
				Help: "Account change events by outcome (received, dropped, empty, processed, error)",
			},
			[]string{"outcome"},
		),
		subscriptionReconnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solwatch_subscription_reconnects_total",
				Help: "Account subscriptions re-established after the stream ended",
			},
			[]string{"source"},
		),

		transactionsProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solwatch_transactions_processed_total",
				Help: "Transactions processed by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		transactionProcessDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solwatch_transaction_process_duration_seconds",
				Help:    "Time from dequeuing a signature to delivering its alert",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"type"},
		),
		panicsRecoveredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solwatch_panics_recovered_total",
				Help: "Panics recovered inside a pipeline component",
			},
			[]string{"component"},
		),

		enrichmentLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solwatch_enrichment_lookups_total",
				Help: "Symbol and market data lookups by source and status",
			},
			[]string{"lookup", "status"},
		),
		enrichmentCacheTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solwatch_enrichment_cache_total",
				Help: "Enrichment cache lookups by result (hit, miss, error)",
			},
			[]string{"lookup", "result"},
		),

		ledgerQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_query_duration_seconds",
				Help:    "Duration of ledger operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "backend"},
		),
		ledgerOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_operations_total",
				Help: "Total number of ledger operations",
			},
			[]string{"operation", "status"},
		),

		alertsDeliveredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solwatch_alerts_delivered_total",
				Help: "Alerts handed to a delivery channel by status",
			},
			[]string{"channel", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sse_active_connections",
				Help: "Number of active SSE connections",
			},
			[]string{"subscriber"},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sse_events_sent_total",
				Help: "Total number of SSE events sent",
			},
			[]string{"subscriber", "event_type"},
		),

		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.solanaRPCRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.solanaRPCRetries.WithLabelValues(method, reason).Inc()
}

// RecordRPCSignaturesPerCall records the number of signatures fetched.
func (m *Metrics) RecordRPCSignaturesPerCall(endpoint string, count float64) {
	m.solanaRPCSignaturesPerCall.WithLabelValues(endpoint).Observe(count)
}

// Watcher metric helpers

// RecordWatcherChange adjusts the active watcher gauge.
func (m *Metrics) RecordWatcherChange(delta float64) {
	m.activeWatchers.Add(delta)
}

// Change event outcomes.
const (
	EventReceived  = "received"
	EventDropped   = "dropped"
	EventEmpty     = "empty"
	EventProcessed = "processed"
	EventError     = "error"
)

// RecordChangeEvent records what happened to an account change event.
func (m *Metrics) RecordChangeEvent(outcome string) {
	m.changeEventsTotal.WithLabelValues(outcome).Inc()
}

// RecordSubscriptionReconnect records a re-established subscription.
func (m *Metrics) RecordSubscriptionReconnect(source string) {
	m.subscriptionReconnects.WithLabelValues(source).Inc()
}

// Pipeline metric helpers

// RecordTransactionProcessed records the outcome of one signature.
func (m *Metrics) RecordTransactionProcessed(txType, outcome string, duration float64) {
	m.transactionsProcessedTotal.WithLabelValues(txType, outcome).Inc()
	if outcome == "delivered" {
		m.transactionProcessDuration.WithLabelValues(txType).Observe(duration)
	}
}

// RecordPanic records a recovered panic.
func (m *Metrics) RecordPanic(component string) {
	m.panicsRecoveredTotal.WithLabelValues(component).Inc()
}

// Enrichment metric helpers

// RecordEnrichment records a symbol or market data lookup.
func (m *Metrics) RecordEnrichment(lookup string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.enrichmentLookupsTotal.WithLabelValues(lookup, status).Inc()
}

// RecordCacheResult records an enrichment cache hit, miss or error.
func (m *Metrics) RecordCacheResult(lookup, result string) {
	m.enrichmentCacheTotal.WithLabelValues(lookup, result).Inc()
}

// Ledger metric helpers

// RecordLedgerOp records a ledger operation with duration.
func (m *Metrics) RecordLedgerOp(operation, backend string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ledgerQueryDuration.WithLabelValues(operation, backend).Observe(duration)
	m.ledgerOperationsTotal.WithLabelValues(operation, status).Inc()
}

// Delivery metric helpers

// RecordDelivery records an alert delivery attempt.
func (m *Metrics) RecordDelivery(channel string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.alertsDeliveredTotal.WithLabelValues(channel, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(subscriber string, delta float64) {
	m.sseActiveConnections.WithLabelValues(subscriber).Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(subscriber, eventType string) {
	m.sseEventsSent.WithLabelValues(subscriber, eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
