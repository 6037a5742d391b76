// Package main provides an interactive route planner for the terminal. It drives the
// same planner, routing and toll pipeline as the API server against the SAM backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartautomapper/sam/internal/config"
	"github.com/smartautomapper/sam/internal/featureflags"
	"github.com/smartautomapper/sam/internal/planner"
	"github.com/smartautomapper/sam/internal/provider/resilience"
	"github.com/smartautomapper/sam/internal/provider/samapi"
	"github.com/smartautomapper/sam/internal/routing"
	"github.com/smartautomapper/sam/internal/telemetry"
	"github.com/smartautomapper/sam/internal/tolls"
)

func main() {
	verbose := flag.Bool("v", false, "log pipeline events to stderr")
	flag.Parse()

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	pipelineMetrics, err := telemetry.NewPipelineMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize pipeline metrics")
	}

	flags := featureflags.NewService(featureflags.ServiceConfig{
		Repository: featureflags.NewInMemoryRepository(),
		Logger:     log,
	})

	client := samapi.NewClient(samapi.ClientConfig{
		APIKey:   cfg.SAMAPIKey,
		BaseURL:  cfg.SAMBaseURL,
		Timeout:  cfg.SAMTimeout,
		Registry: resilience.NewRegistry(),
		Logger:   log,
	})

	routes := routing.NewService(routing.ServiceConfig{
		Provider:        client,
		FeatureFlags:    flags,
		PipelineMetrics: pipelineMetrics,
		Logger:          log,
		CacheTTL:        cfg.RouteCacheTTL,
	})
	tollService := tolls.NewService(tolls.ServiceConfig{
		Provider:        client,
		FeatureFlags:    flags,
		PipelineMetrics: pipelineMetrics,
		Logger:          log,
	})

	sh := newShell(planner.Config{
		Router:    routes,
		Tolls:     tollService,
		Suggester: client,
		Debounce:  cfg.AutocompleteDebounce,
		Threshold: cfg.AutocompleteMinChars,
		Metrics:   pipelineMetrics,
		Logger:    log,
	}, os.Stdout, cfg.AutocompleteDebounce+cfg.SAMTimeout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("SAM route planner, type help for commands")
	if err := sh.run(ctx, os.Stdin); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("reading commands")
		os.Exit(1) //nolint:gocritic // stop() only releases the signal handler
	}
}
