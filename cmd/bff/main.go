// Package main is the entry point for the OrderDesk BFF server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fensterwerk/orderdesk/internal/catalog"
	"github.com/fensterwerk/orderdesk/internal/config"
	"github.com/fensterwerk/orderdesk/internal/crm"
	"github.com/fensterwerk/orderdesk/internal/observability"
	"github.com/fensterwerk/orderdesk/internal/tracking"
	"github.com/fensterwerk/orderdesk/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "orderdesk-bff", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Build the CRM client.
	crmClient := crm.NewClient(cfg.CRM(), cfg.Identity.SessionCookie, metrics, logger)

	// Step 5: Build the catalog resolver on top of the CRM client.
	catalogs := catalog.NewResolver(crmClient, cfg.Catalog, metrics)

	// Step 6: Initialize idempotency store (optional).
	idempotencyStore, idempotencyCloser, err := buildIdempotencyStore(cfg.Idempotency, logger)
	if err != nil {
		logger.Error("idempotency store initialization failed", zap.Error(err))
		return 1
	}

	// Step 7: Build the tracking service.
	svc := tracking.NewService(crmClient, crmClient, catalogs, cfg.Tracking.NextStatusCount, metrics, logger)

	// Step 8: Build HTTP router.
	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)

	readinessChecks := observability.ReadinessChecks{
		CRMBackend: crmClient,
	}
	if hc, ok := idempotencyStore.(observability.HealthChecker); ok {
		readinessChecks.IdempotencyStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Authenticate: transport.SessionAuthenticator(cfg.Identity, jwks),
		Service:      svc,
		AuthChecker:  crmClient,
		Idempotency:  idempotencyStore,
		Metrics:      metrics,
		Readiness:    readinessChecks,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 9: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("crm_base_url", cfg.CRM().BaseURL),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Close stores.
	if idempotencyCloser != nil {
		idempotencyCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildIdempotencyStore creates the idempotency store based on config.
// Returns a nil store and closer when idempotency is disabled.
func buildIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (crm.IdempotencyStore, func(), error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}

	switch cfg.Store.Driver {
	case "memory", "":
		logger.Info("using in-memory idempotency store")
		return crm.NewMemoryIdempotencyStore(), nil, nil
	case "redis":
		addr := os.Getenv(cfg.Store.AddrEnv)
		if addr == "" {
			if cfg.Store.AddrEnv != "" {
				return nil, nil, fmt.Errorf("idempotency store: %s environment variable not set", cfg.Store.AddrEnv)
			}
			logger.Warn("idempotency store address not configured, using in-memory store")
			return crm.NewMemoryIdempotencyStore(), nil, nil
		}

		client := redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   cfg.Store.DB,
		})
		logger.Info("using redis idempotency store", zap.String("addr", addr))
		return crm.NewRedisIdempotencyStore(client), func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported idempotency store driver: %q", cfg.Store.Driver)
	}
}
