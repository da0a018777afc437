package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brojonat/solwatch/service/ledger"
	"github.com/brojonat/solwatch/service/metrics"
	"github.com/brojonat/solwatch/service/monitor"
	natspkg "github.com/brojonat/solwatch/service/nats"
)

// Service is the monitor surface the API exposes. *monitor.Monitor satisfies it.
type Service interface {
	Track(ctx context.Context, subscriberID, address, label string) (ledger.TrackedAccount, error)
	Untrack(ctx context.Context, subscriberID, address string) error
	Accounts(ctx context.Context, subscriberID string) ([]ledger.TrackedAccount, error)
	Stats(ctx context.Context, address string) (monitor.Stats, error)
	Transactions(ctx context.Context, address string, limit int) ([]ledger.TransactionRecord, error)
	Watching() []string
	Process(ctx context.Context, address, signature string) (monitor.Outcome, error)
}

var _ Service = (*monitor.Monitor)(nil)

// Server represents the HTTP server for the monitor API.
type Server struct {
	addr         string
	svc          Service
	alerts       natspkg.AlertSource
	rateLimitRPM int
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// alerts is optional - if nil, the SSE endpoint is not available.
// m is optional - if nil, the metrics endpoint is not available.
func New(addr string, svc Service, alerts natspkg.AlertSource, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:    addr,
		svc:     svc,
		alerts:  alerts,
		metrics: m,
		logger:  logger,
	}
}

// WithRateLimit limits API requests per client IP to rpm per minute. Zero
// disables limiting.
func (s *Server) WithRateLimit(rpm int) *Server {
	s.rateLimitRPM = rpm
	return s
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// One limiter shared by every API route.
	limit := func(h http.Handler) http.Handler { return h }
	if s.rateLimitRPM > 0 {
		limit = httprate.LimitByIP(s.rateLimitRPM, time.Minute)
	}
	api := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, limit(metrics.HTTPMetricsMiddleware(s.metrics, name)(h)))
	}

	api("POST /api/v1/accounts", "/api/v1/accounts", handleTrack(s.svc, s.logger))
	api("GET /api/v1/accounts", "/api/v1/accounts", handleListAccounts(s.svc, s.logger))
	api("DELETE /api/v1/accounts/{address}", "/api/v1/accounts/{address}", handleUntrack(s.svc, s.logger))
	api("GET /api/v1/accounts/{address}/stats", "/api/v1/accounts/{address}/stats", handleStats(s.svc, s.logger))
	api("GET /api/v1/accounts/{address}/transactions", "/api/v1/accounts/{address}/transactions", handleListTransactions(s.svc, s.logger))
	api("POST /api/v1/accounts/{address}/replay", "/api/v1/accounts/{address}/replay", handleReplay(s.svc, s.logger))
	api("GET /api/v1/watchers", "/api/v1/watchers", handleWatchers(s.svc))

	if s.alerts != nil {
		mux.Handle("GET /api/v1/stream/alerts/{subscriber}",
			metrics.HTTPMetricsMiddleware(s.metrics, "/api/v1/stream/alerts")(handleStreamAlerts(s.alerts, s.metrics, s.logger)))
		s.logger.Info("SSE alert stream enabled")
	} else {
		s.logger.Warn("alert source not configured, streaming endpoint disabled")
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
