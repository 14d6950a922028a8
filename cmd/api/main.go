// Package main is the entry point for the payment reconciliation API server.
//
// It loads configuration, connects the PostgreSQL pool, wires the provider
// clients and the reconciliation core, builds the HTTP server with the core
// chassis (middleware, routing, health checks), and starts listening.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"polarsync/internal/api/handlers"
	"polarsync/internal/catalog"
	"polarsync/internal/config"
	"polarsync/internal/core"
	"polarsync/internal/db"
	"polarsync/internal/external"
	"polarsync/internal/reconcile"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("polarsync API starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := newPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer pool.Close()

	// Repositories.
	paymentRepo := db.NewPaymentRepository(pool)
	userRepo := db.NewUserRepository(pool)
	eventRepo, err := db.NewWebhookEventRepository(pool)
	if err != nil {
		return fmt.Errorf("creating event repository: %w", err)
	}

	// Provider clients.
	httpClient := &http.Client{Timeout: 30 * time.Second}
	polarClient := external.NewPolarClient(httpClient, external.PolarClientConfig{
		AccessToken: cfg.Polar.AccessToken.Unmask(),
		Server:      cfg.Polar.Server,
		Logger:      logger,
	})

	var emailSender reconcile.EmailSender
	if cfg.Email.Enabled && cfg.Email.SendGridAPIKey.Unmask() != "" {
		emailSender = external.NewSendGridClient(httpClient, external.SendGridClientConfig{
			APIKey:      cfg.Email.SendGridAPIKey.Unmask(),
			FromAddress: cfg.Email.FromAddress,
			FromName:    cfg.Email.FromName,
			TemplateID:  cfg.Email.TemplateID,
			Logger:      logger,
		})
	} else {
		logger.Warn("email delivery disabled; invoice notifications will be skipped")
	}

	var metrics reconcile.MetricsEmitter
	if cfg.Observability.EnableMetrics {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Observability.AWSRegion),
		)
		if err != nil {
			return fmt.Errorf("loading AWS configuration: %w", err)
		}
		metrics = external.NewCloudWatchMetrics(
			cloudwatch.NewFromConfig(awsCfg),
			cfg.Observability.MetricNamespace,
			logger,
		)
	}

	// Reconciliation core.
	products := catalog.NewStaticProductCatalog()
	projector := reconcile.NewProjector(userRepo, products, logger)
	dispatcher := reconcile.NewDispatcher(polarClient, emailSender, metrics, logger)
	processor := reconcile.NewProcessor(paymentRepo, eventRepo, projector, dispatcher, metrics, logger)

	// HTTP layer.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = []core.HealthProbe{
		core.PingProbe{ProbeName: "database", Pinger: pool},
	}

	webhookHandler := handlers.NewPolarWebhookHandler(
		external.NewPolarWebhookVerifier(),
		processor,
		cfg.Polar.WebhookSecret.Unmask(),
		logger,
	)
	srv.WebhookRegistrars = append(srv.WebhookRegistrars, webhookHandler.RegisterRoutes)

	paymentsHandler := handlers.NewPaymentsHandler(
		paymentRepo,
		polarClient,
		polarClient,
		srv.Validator,
		cfg.Server.SuccessURL,
		logger,
	)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		paymentsHandler.RegisterRoutes(r)
	})

	srv.MountRoutes()

	return serveHTTP(ctx, srv, cfg, logger)
}

// newPool builds the pgx connection pool from the database configuration and
// verifies connectivity before the server accepts traffic.
func newPool(ctx context.Context, dbCfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dbCfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	poolCfg.MaxConns = int32(dbCfg.MaxConns)
	poolCfg.MinConns = int32(dbCfg.MinConns)
	poolCfg.MaxConnLifetime = dbCfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = dbCfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, dbCfg.AcquireTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// serveHTTP runs the HTTP server until the context is cancelled by a signal,
// then drains in-flight requests under a deadline.
func serveHTTP(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured JSON logger for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
