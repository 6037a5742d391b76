package tolls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartautomapper/sam/internal/featureflags"
	"github.com/smartautomapper/sam/internal/geo"
	"github.com/smartautomapper/sam/internal/routing"
	"github.com/smartautomapper/sam/internal/telemetry"
)

// Provider looks up the toll barriers along route geometries.
type Provider interface {
	// LookupTolls returns the raw toll response for the given routes.
	LookupTolls(ctx context.Context, routes []geo.Path) ([]byte, error)
	// Name returns the provider identifier for logging and metrics.
	Name() string
}

// ServiceConfig holds configuration for the toll service.
type ServiceConfig struct {
	// Provider is the toll data provider.
	Provider Provider

	// Reconciler converts responses (default: Lambert-93 reconciler).
	Reconciler *Reconciler

	// FeatureFlags can switch toll lookups off (optional).
	FeatureFlags *featureflags.Service

	// ProviderMetrics records upstream calls (optional).
	ProviderMetrics *telemetry.ProviderMetrics

	// PipelineMetrics records incomplete records (optional).
	PipelineMetrics *telemetry.PipelineMetrics

	// Logger for service operations.
	Logger zerolog.Logger
}

// Service looks up and reconciles the tolls along computed routes.
type Service struct {
	provider        Provider
	reconciler      *Reconciler
	flags           *featureflags.Service
	providerMetrics *telemetry.ProviderMetrics
	pipeline        *telemetry.PipelineMetrics
	logger          zerolog.Logger
}

// NewService creates a new toll service.
func NewService(cfg ServiceConfig) *Service {
	reconciler := cfg.Reconciler
	if reconciler == nil {
		reconciler = NewReconciler(ReconcilerConfig{Logger: cfg.Logger})
	}
	return &Service{
		provider:        cfg.Provider,
		reconciler:      reconciler,
		flags:           cfg.FeatureFlags,
		providerMetrics: cfg.ProviderMetrics,
		pipeline:        cfg.PipelineMetrics,
		logger:          cfg.Logger,
	}
}

// Lookup returns the reconciled tolls along the given routes.
// Routes with no geometry are ignored; with none left, no request is made.
func (s *Service) Lookup(ctx context.Context, routes []geo.Path) (*Result, error) {
	if s.flags.IsTollLookupDisabled(ctx) {
		s.logger.Debug().Msg("toll lookup disabled by feature flag")
		return &Result{Tolls: []TollPoint{}, Disabled: true}, nil
	}

	usable := make([]geo.Path, 0, len(routes))
	for _, r := range routes {
		if len(r) == 0 {
			continue
		}
		if !r.Valid() {
			return nil, &routing.Error{
				Provider: s.provider.Name(),
				Code:     "INVALID_ROUTE",
				Message:  "route geometry has coordinates out of range",
				Err:      routing.ErrInvalidCoordinates,
			}
		}
		usable = append(usable, r)
	}
	if len(usable) == 0 {
		return &Result{Tolls: []TollPoint{}}, nil
	}

	s.logger.Debug().
		Int("routes", len(usable)).
		Str("provider", s.provider.Name()).
		Msg("looking up tolls")

	start := time.Now()
	payload, err := s.provider.LookupTolls(ctx, usable)
	s.providerMetrics.RecordRequest(s.provider.Name(), "tolls", time.Since(start), err)
	if err != nil {
		s.logger.Error().Err(err).Int("routes", len(usable)).Msg("failed to look up tolls")
		return nil, err
	}

	result, err := s.reconciler.Reconcile(payload)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read toll response")
		if errors.Is(err, ErrMalformedTollPayload) {
			return nil, &routing.Error{
				Provider: s.provider.Name(),
				Code:     "MALFORMED_TOLLS",
				Message:  "the toll service returned a response that could not be read",
				Err:      fmt.Errorf("%w: %w", routing.ErrUpstreamRequestFailed, err),
			}
		}
		return nil, err
	}

	s.pipeline.RecordIncompleteTolls(ctx, result.Incomplete)

	s.logger.Debug().
		Int("tolls", len(result.Tolls)).
		Int("incomplete", result.Incomplete).
		Int("duplicates", result.Duplicates).
		Msg("reconciled tolls")

	return result, nil
}
