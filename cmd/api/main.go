// Package main provides the entrypoint for the SAM route API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartautomapper/sam/internal/api"
	"github.com/smartautomapper/sam/internal/api/handler"
	"github.com/smartautomapper/sam/internal/api/middleware"
	"github.com/smartautomapper/sam/internal/config"
	"github.com/smartautomapper/sam/internal/database"
	"github.com/smartautomapper/sam/internal/featureflags"
	"github.com/smartautomapper/sam/internal/provider/resilience"
	"github.com/smartautomapper/sam/internal/provider/samapi"
	"github.com/smartautomapper/sam/internal/routing"
	"github.com/smartautomapper/sam/internal/telemetry"
	"github.com/smartautomapper/sam/internal/tolls"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "sam-api"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting SAM route API")

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Initialize OpenTelemetry
	ctx := context.Background()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TelemetryEnabled,
		SampleRatio:    cfg.TraceSampleRatio,
		Secure:         !cfg.TelemetryInsecure,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.TelemetryEnabled {
		log.Info().
			Str("otlp_endpoint", cfg.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}
	providerMetrics, err := telemetry.NewProviderMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize provider metrics")
		os.Exit(1)
	}
	pipelineMetrics, err := telemetry.NewPipelineMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize pipeline metrics")
		os.Exit(1)
	}

	// Feature flags live in Postgres when a database is configured, in memory otherwise.
	var (
		ffRepo featureflags.Repository = featureflags.NewInMemoryRepository()
		pinger handler.Pinger
	)
	if cfg.DatabaseEnabled {
		pool, dbErr := database.Connect(ctx, cfg.Database, log)
		if dbErr != nil {
			log.Fatal().Err(dbErr).Msg("failed to connect to database")
		}
		defer pool.Close()
		log.Info().
			Str("host", cfg.Database.Host).
			Int("port", cfg.Database.Port).
			Str("database", cfg.Database.Database).
			Msg("database connected")

		pgRepo := featureflags.NewPostgresRepository(pool)
		if dbErr := pgRepo.EnsureSchema(ctx); dbErr != nil {
			log.Fatal().Err(dbErr).Msg("failed to prepare feature flag table")
		}
		ffRepo = pgRepo
		pinger = pool
	} else {
		log.Warn().Msg("DB_HOST not set - feature flags are kept in memory")
	}

	ffService := featureflags.NewService(featureflags.ServiceConfig{
		Repository: ffRepo,
		Logger:     log,
		CacheTTL:   1 * time.Minute,
	})
	log.Info().Msg("feature flags service initialized")

	// Upstream client, shared by routing, tolls and places
	registry := resilience.NewRegistry()
	if cfg.SAMAPIKey == "" {
		log.Warn().Msg("SAM_API_KEY not set - upstream requests are unauthenticated")
	}
	samClient := samapi.NewClient(samapi.ClientConfig{
		APIKey:   cfg.SAMAPIKey,
		BaseURL:  cfg.SAMBaseURL,
		Timeout:  cfg.SAMTimeout,
		Registry: registry,
		Logger:   log,
	})
	log.Info().
		Str("base_url", cfg.SAMBaseURL).
		Msg("SAM upstream client initialized")

	routeService := routing.NewService(routing.ServiceConfig{
		Provider:        samClient,
		FeatureFlags:    ffService,
		ProviderMetrics: providerMetrics,
		PipelineMetrics: pipelineMetrics,
		Logger:          log,
		CacheTTL:        cfg.RouteCacheTTL,
	})
	tollService := tolls.NewService(tolls.ServiceConfig{
		Provider:        samClient,
		FeatureFlags:    ffService,
		ProviderMetrics: providerMetrics,
		PipelineMetrics: pipelineMetrics,
		Logger:          log,
	})

	// Create router with configuration
	router := api.NewRouter(api.RouterConfig{
		Version:               Version,
		BuildTime:             BuildTime,
		Logger:                log,
		ServiceName:           serviceName,
		Metrics:               metrics,
		RequireTLS:            cfg.RequireTLS,
		RouteService:          routeService,
		TollService:           tollService,
		Places:                samClient,
		FeatureFlagService:    ffService,
		Registry:              registry,
		Database:              pinger,
		AutocompleteThreshold: cfg.AutocompleteMinChars,
		AdminToken:            cfg.AdminToken,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}
