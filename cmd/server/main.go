package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/brojonat/solwatch/service/classify"
	"github.com/brojonat/solwatch/service/config"
	"github.com/brojonat/solwatch/service/db"
	"github.com/brojonat/solwatch/service/extract"
	"github.com/brojonat/solwatch/service/market"
	"github.com/brojonat/solwatch/service/metrics"
	"github.com/brojonat/solwatch/service/monitor"
	natspkg "github.com/brojonat/solwatch/service/nats"
	"github.com/brojonat/solwatch/service/notify"
	"github.com/brojonat/solwatch/service/server"
	"github.com/brojonat/solwatch/service/solana"
)

const enrichmentTimeout = 10 * time.Second

func main() {
	// Fail fast on missing or invalid configuration.
	cfg := config.MustLoad()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"ledger_backend", cfg.LedgerBackend,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	store, closeStore, err := db.Open(ctx, cfg.LedgerBackend, cfg.LedgerPath, cfg.DatabaseURL, m)
	if err != nil {
		logger.Error("failed to open ledger", "backend", cfg.LedgerBackend, "error", err)
		os.Exit(1)
	}
	defer closeStore()
	logger.Info("opened ledger", "backend", cfg.LedgerBackend, "path", cfg.LedgerPath)

	// For premium RPC endpoints, include the API key in the URL.
	chainOpts := []solana.Option{
		solana.WithPollInterval(cfg.PollInterval),
		solana.WithRetryPolicy(solana.RetryPolicy{
			MaxAttempts: cfg.FetchMaxAttempts,
			Backoff:     cfg.FetchBackoff,
		}),
	}
	if cfg.SolanaWSURL != "" {
		chainOpts = append(chainOpts, solana.WithStreamDialer(solana.NewWSDialer(cfg.SolanaWSURL)))
	}
	chain := solana.NewClient(solana.NewRPCClient(cfg.SolanaRPCURL), cfg.SolanaRPCURL, m, logger, chainOpts...)
	logger.Info("initialized solana client",
		"rpc_url", cfg.SolanaRPCURL,
		"ws_url", cfg.SolanaWSURL,
		"poll_interval", cfg.PollInterval,
	)

	cache, closeCache := setupCache(ctx, cfg, logger)
	defer closeCache()

	symbols := market.NewCachedSymbols(
		market.NewSymbolChain(logger, m,
			market.DefaultStaticSymbols(),
			market.NewTokenListResolver(cfg.TokenListURL, enrichmentTimeout),
		),
		cache, cfg.EnrichmentCacheTTL, logger, m,
	)
	marketData := market.NewCachedMarketData(
		market.NewCoinGecko(cfg.CoinGeckoURL, enrichmentTimeout),
		cache, cfg.EnrichmentCacheTTL, logger, m,
	)
	extractor := extract.New(chain, symbols, marketData, logger, extract.WithChartURL(cfg.ChartURL))

	fanout := notify.NewFanout(m).Add("log", notify.NewLogDelivery(logger))
	var alerts natspkg.AlertSource
	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, logger, m)
		if err != nil {
			logger.Error("failed to connect to NATS", "url", cfg.NATSURL, "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		fanout.Add("nats", publisher)

		subscriber, err := natspkg.NewSubscriber(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to create NATS subscriber", "url", cfg.NATSURL, "error", err)
			os.Exit(1)
		}
		defer subscriber.Close()
		alerts = subscriber
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	} else {
		logger.Warn("NATS_URL not set, alerts are only logged")
	}

	mon := monitor.New(chain, store, classify.NewClassifier(logger, m), extractor, fanout, logger, m,
		monitor.WithConfig(monitor.Config{QueueSize: cfg.EventQueueSize}),
		monitor.WithFormatter(notify.Formatter{ExplorerURL: cfg.ExplorerURL}),
	)

	monitorErrors := make(chan error, 1)
	go func() {
		monitorErrors <- mon.Run(ctx)
	}()

	httpServer := server.New(cfg.ServerAddr, mon, alerts, m, logger).WithRateLimit(cfg.RateLimitRPM)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		exitCode = 1
	case err := <-monitorErrors:
		if err != nil {
			logger.Error("monitor error", "error", err)
			exitCode = 1
		}
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server gracefully", "error", err)
		exitCode = 1
	}

	// Stops watchers and waits for in-flight events.
	cancel()
	mon.Close()

	logger.Info("server shutdown complete")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// setupCache returns Redis when configured and reachable, otherwise an
// in-process cache.
func setupCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (market.Cache, func()) {
	if cfg.RedisAddr == "" {
		logger.Info("using in-memory enrichment cache", "ttl", cfg.EnrichmentCacheTTL)
		return market.NewMemoryCache(), func() {}
	}

	redisCache, err := market.NewRedisCache(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, falling back to in-memory cache", "addr", cfg.RedisAddr, "error", err)
		return market.NewMemoryCache(), func() {}
	}
	logger.Info("using redis enrichment cache", "addr", cfg.RedisAddr, "ttl", cfg.EnrichmentCacheTTL)
	return redisCache, func() { redisCache.Close() }
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
