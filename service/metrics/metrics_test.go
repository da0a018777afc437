package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordHelpers(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordTransactionProcessed("transfer", "delivered", 0.2)
	m.RecordTransactionProcessed("transfer", "delivered", 0.3)
	m.RecordTransactionProcessed("swap", "duplicate", 0)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.transactionsProcessedTotal.WithLabelValues("transfer", "delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transactionsProcessedTotal.WithLabelValues("swap", "duplicate")))

	m.RecordWatcherChange(1)
	m.RecordWatcherChange(1)
	m.RecordWatcherChange(-1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeWatchers))

	m.RecordEnrichment("symbol", nil)
	m.RecordEnrichment("symbol", errors.New("boom"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.enrichmentLookupsTotal.WithLabelValues("symbol", "error")))

	m.RecordLedgerOp("record_transaction", "memory", 0.001, nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ledgerOperationsTotal.WithLabelValues("record_transaction", "success")))
}

func TestRecordChangeEvent_Outcomes(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	for _, outcome := range []string{EventReceived, EventReceived, EventDropped, EventEmpty, EventProcessed, EventError} {
		m.RecordChangeEvent(outcome)
	}

	want := `
# HELP solwatch_change_events_total Account change events by outcome (received, dropped, empty, processed, error)
# TYPE solwatch_change_events_total counter
solwatch_change_events_total{outcome="dropped"} 1
solwatch_change_events_total{outcome="empty"} 1
solwatch_change_events_total{outcome="error"} 1
solwatch_change_events_total{outcome="processed"} 1
solwatch_change_events_total{outcome="received"} 2
`
	require.NoError(t, testutil.CollectAndCompare(m.changeEventsTotal, strings.NewReader(want), "solwatch_change_events_total"))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	handler := HTTPMetricsMiddleware(m, "/test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := w.(http.Flusher)
		require.True(t, ok, "wrapped writer must stay flushable")
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/test", "GET", "4xx")))
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	handler := HTTPMetricsMiddleware(nil, "/test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))
	})
}

func TestStatusCodeToString(t *testing.T) {
	assert.Equal(t, "2xx", statusCodeToString(204))
	assert.Equal(t, "3xx", statusCodeToString(301))
	assert.Equal(t, "4xx", statusCodeToString(404))
	assert.Equal(t, "5xx", statusCodeToString(503))
	assert.Equal(t, "unknown", statusCodeToString(0))
}
