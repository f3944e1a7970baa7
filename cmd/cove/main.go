package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/covebase/cove/pkg/api"
	"github.com/covebase/cove/pkg/assistant"
	"github.com/covebase/cove/pkg/audit"
	"github.com/covebase/cove/pkg/auth"
	"github.com/covebase/cove/pkg/billing"
	"github.com/covebase/cove/pkg/config"
	"github.com/covebase/cove/pkg/documents"
	"github.com/covebase/cove/pkg/jobs"
	"github.com/covebase/cove/pkg/limits"
	"github.com/covebase/cove/pkg/middleware"
	"github.com/covebase/cove/pkg/objstore"
	"github.com/covebase/cove/pkg/observability"
	"github.com/covebase/cove/pkg/orgs"
	"github.com/covebase/cove/pkg/plans"
	"github.com/covebase/cove/pkg/search"
	"github.com/covebase/cove/pkg/storage/postgres"
	"github.com/covebase/cove/pkg/usage"
)

const (
	resolverCacheEntries = 1024
	resolverCacheTTL     = 30 * time.Second
	retrievalTopK        = 5
	startupTimeout       = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("cove: %v", err)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting cove")

	var registry *prometheus.Registry
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	sqlDB, err := postgres.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, sqlDB); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	db := postgres.NewDB(sqlDB)
	logger.Info("database ready")

	redisClient, err := postgres.NewRedisClient(cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	objects, err := objstore.New(cfg.ObjectStore)
	if err != nil {
		return fmt.Errorf("failed to initialize object store: %w", err)
	}

	prices, err := plans.NewPriceTable(cfg.PriceTable())
	if err != nil {
		return fmt.Errorf("invalid billing price table: %w", err)
	}

	// Core services.
	orgService := orgs.NewPostgresService(db, logger)
	resolver := orgs.NewResolver(orgService, resolverCacheEntries, resolverCacheTTL, metrics)
	issuer := auth.NewTokenIssuer(cfg.Auth)
	auditLogger := audit.NewLogger(db, logger)
	ledger := usage.NewLedger(db, logger)
	enforcer := limits.NewEnforcer(auditLogger, metrics, logger)

	// Billing.
	provider := billing.NewHTTPProvider(cfg.Billing, logger)
	checkout := billing.NewCheckout(provider, orgService, cfg.Billing, auditLogger, logger)
	processor := billing.NewProcessor(db, orgService, prices, auditLogger, resolver, metrics, logger)
	events := billing.NewHMACEventSource(cfg.Billing.WebhookSecret)

	// Document indexing.
	docStore := documents.NewStore(db, logger)
	chunker, err := documents.NewChunker(cfg.Indexing.ChunkSize, cfg.Indexing.ChunkOverlap)
	if err != nil {
		return fmt.Errorf("invalid chunking configuration: %w", err)
	}
	indexer := search.NewIndexer(db, logger)
	pipeline := documents.NewPipeline(docStore, objects, indexer, chunker, cfg.Indexing.Workers, cfg.Indexing.JobTimeout, metrics, logger)

	// Assistant.
	retriever := search.NewRetriever(db, retrievalTopK, logger)
	conversations := assistant.NewStore(db, logger)
	chatLimiter := assistant.NewRateLimiter(redisClient, cfg.Chat.RateLimitRequests, cfg.Chat.RateLimitWindow, metrics, logger)
	completions := assistant.NewCompletionStreamer(cfg.Chat, logger)
	chat := assistant.NewService(conversations, chatLimiter, resolver, ledger, enforcer, retriever, completions, metrics, logger)

	server := api.NewServer(api.Deps{
		Config:   cfg,
		Logger:   logger,
		Metrics:  metrics,
		Registry: registry,

		Orgs:     orgService,
		Resolver: resolver,
		Issuer:   issuer,
		Ledger:   ledger,
		Enforcer: enforcer,
		Audit:    auditLogger,

		Documents: docStore,
		Pipeline:  pipeline,
		Objects:   objects,

		Assistant:     chat,
		Conversations: conversations,

		Checkout:  checkout,
		Processor: processor,
		Events:    events,

		Health:    observability.NewHealthChecker(sqlDB, redisClient),
		RateLimit: middleware.NewRateLimitMiddleware(redisClient, metrics),
	})

	scheduler, err := jobs.NewScheduler(orgService, docStore, cfg.Indexing.StuckJobAge, logger)
	if err != nil {
		return fmt.Errorf("failed to create job scheduler: %w", err)
	}
	scheduler.Start()

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		scheduler.Stop()
		return nil
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return pipeline.Close()
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return redisClient.Close()
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return sqlDB.Close()
	})

	go func() {
		logger.Infof("listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server stopped unexpectedly")
		}
	}()

	return shutdown.WaitForShutdown()
}
