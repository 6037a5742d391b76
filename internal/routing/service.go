package routing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/smartautomapper/sam/internal/featureflags"
	"github.com/smartautomapper/sam/internal/geo"
	"github.com/smartautomapper/sam/internal/telemetry"
)

// ServiceConfig holds configuration for the routing service.
type ServiceConfig struct {
	// Provider is the routing data provider.
	Provider Provider

	// FeatureFlags selects the dedup mode and smart-route availability (optional).
	FeatureFlags *featureflags.Service

	// ProviderMetrics records upstream calls and cache hits (optional).
	ProviderMetrics *telemetry.ProviderMetrics

	// PipelineMetrics records normalization outcomes (optional).
	PipelineMetrics *telemetry.PipelineMetrics

	// Logger for service operations.
	Logger zerolog.Logger

	// CacheTTL is how long to cache routing data (default: 5 minutes).
	CacheTTL time.Duration

	// CacheGridSize is the size of cache grid cells in degrees (default: 0.001 ~ 110m).
	// Requests whose endpoints fall in the same cells share cached data.
	CacheGridSize float64

	// StaleIfErrorTTL allows serving stale data on provider errors (default: 15 minutes).
	StaleIfErrorTTL time.Duration

	// CleanupInterval is how often to clean up expired entries (default: 5 minutes).
	CleanupInterval time.Duration
}

// Service computes routes through the provider and normalizes the responses, with caching.
type Service struct {
	provider        Provider
	normalizer      *Normalizer
	flags           *featureflags.Service
	providerMetrics *telemetry.ProviderMetrics
	pipeline        *telemetry.PipelineMetrics
	logger          zerolog.Logger
	cacheTTL        time.Duration
	cacheGridSize   float64
	staleIfErrorTTL time.Duration
	cleanupInterval time.Duration

	inflight singleflight.Group

	mu          sync.RWMutex
	cache       map[string]*cachedPlan
	lastCleanup time.Time
}

type cachedPlan struct {
	plan      *Plan
	fetchedAt time.Time
	expiresAt time.Time
}

// NewService creates a new routing service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 5 * time.Minute
	}

	cacheGridSize := cfg.CacheGridSize
	if cacheGridSize == 0 {
		cacheGridSize = 0.001
	}

	staleIfErrorTTL := cfg.StaleIfErrorTTL
	if staleIfErrorTTL == 0 {
		staleIfErrorTTL = 15 * time.Minute
	}

	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = 5 * time.Minute
	}

	return &Service{
		provider: cfg.Provider,
		normalizer: NewNormalizer(NormalizerConfig{
			Provider: cfg.Provider.Name(),
			Logger:   cfg.Logger,
		}),
		flags:           cfg.FeatureFlags,
		providerMetrics: cfg.ProviderMetrics,
		pipeline:        cfg.PipelineMetrics,
		logger:          cfg.Logger,
		cacheTTL:        cacheTTL,
		cacheGridSize:   cacheGridSize,
		staleIfErrorTTL: staleIfErrorTTL,
		cleanupInterval: cleanupInterval,
		cache:           make(map[string]*cachedPlan),
	}
}

// Compute requests a route for the given mode and returns its canonical strategies.
// Uses cached data if available and not expired.
func (s *Service) Compute(ctx context.Context, req Request) (*Plan, error) {
	req, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	var warnings []string
	if req.Mode == ModeTollCount || req.Mode == ModeBudget {
		if s.flags.IsSmartRouteDisabled(ctx) {
			s.logger.Info().Str("mode", string(req.Mode)).Msg("smart routing disabled, falling back to unconstrained route")
			warnings = append(warnings, "Smart routing is currently disabled; showing the standard route.")
			req.Mode = ModeUnconstrained
			req.MaxTolls, req.MaxCostEuros, req.MaxCostPercent = nil, nil, nil
		}
	}

	cacheKey := s.cacheKey(req)
	operation := string(req.Mode)

	// Check cache (read lock)
	s.mu.RLock()
	if cached, ok := s.cache[cacheKey]; ok && time.Now().Before(cached.expiresAt) {
		s.mu.RUnlock()
		s.providerMetrics.RecordCacheHit(s.provider.Name(), operation)
		s.logger.Debug().
			Str("cache_key", cacheKey).
			Msg("cache hit for route plan")
		return withWarnings(cached.plan, warnings), nil
	}
	s.mu.RUnlock()

	s.providerMetrics.RecordCacheMiss(s.provider.Name(), operation)

	plan, err := s.fetchPlan(ctx, req, cacheKey)
	if err != nil {
		return nil, err
	}
	return withWarnings(plan, warnings), nil
}

// fetchPlan fetches a route from the provider and updates the cache. Concurrent
// requests for the same cache key share one upstream call; the cache lock is
// not held while it runs.
func (s *Service) fetchPlan(ctx context.Context, req Request, cacheKey string) (*Plan, error) {
	v, err, shared := s.inflight.Do(cacheKey, func() (any, error) {
		return s.loadPlan(ctx, req, cacheKey)
	})
	if shared {
		s.logger.Debug().Str("cache_key", cacheKey).Msg("joined in-flight route request")
	}
	if err != nil {
		return nil, err
	}
	return v.(*Plan), nil
}

func (s *Service) loadPlan(ctx context.Context, req Request, cacheKey string) (*Plan, error) {
	// Double-check cache: another flight may have filled it.
	s.mu.RLock()
	cached, ok := s.cache[cacheKey]
	s.mu.RUnlock()
	if ok && time.Now().Before(cached.expiresAt) {
		s.logger.Debug().
			Str("cache_key", cacheKey).
			Msg("cache hit after double-check")
		return cached.plan, nil
	}

	s.logger.Debug().
		Stringer("start", req.Start).
		Stringer("end", req.End).
		Str("mode", string(req.Mode)).
		Str("provider", s.provider.Name()).
		Msg("fetching route from provider")

	plan, err := s.request(ctx, req)
	if err != nil {
		s.logger.Error().Err(err).
			Stringer("start", req.Start).
			Stringer("end", req.End).
			Str("mode", string(req.Mode)).
			Msg("failed to compute route")

		// Stale-if-error only covers upstream failures, not payloads we could not read.
		if errors.Is(err, ErrUpstreamRequestFailed) || errors.Is(err, context.DeadlineExceeded) {
			s.mu.RLock()
			cached, ok := s.cache[cacheKey]
			s.mu.RUnlock()
			if ok && time.Now().Before(cached.fetchedAt.Add(s.staleIfErrorTTL)) {
				s.logger.Warn().
					Time("fetched_at", cached.fetchedAt).
					Str("cache_key", cacheKey).
					Msg("serving stale route plan due to provider error")
				return cached.plan, nil
			}
		}

		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(plan.Strategies) > 0 {
		now := time.Now()
		s.cache[cacheKey] = &cachedPlan{
			plan:      plan,
			fetchedAt: now,
			expiresAt: now.Add(s.cacheTTL),
		}

		s.logger.Debug().
			Str("cache_key", cacheKey).
			Int("strategy_count", len(plan.Strategies)).
			Msg("cached route plan")
	}

	// Periodic cleanup
	s.cleanupIfNeeded()

	return plan, nil
}

// request calls the provider operation for the request mode and normalizes the response.
func (s *Service) request(ctx context.Context, req Request) (*Plan, error) {
	coords := []geo.Point{req.Start, req.End}

	start := time.Now()
	var (
		payload []byte
		err     error
	)
	switch req.Mode {
	case ModeTollFree:
		payload, err = s.provider.ComputeRouteTollFree(ctx, coords)
	case ModeTollCount:
		payload, err = s.provider.ComputeSmartRouteByTollCount(ctx, coords, *req.MaxTolls, req.VehicleClass)
	case ModeBudget:
		payload, err = s.provider.ComputeSmartRouteByBudget(ctx, coords, req.MaxCostEuros, req.MaxCostPercent, req.VehicleClass)
	default:
		payload, err = s.provider.ComputeRoute(ctx, req.Start, req.End)
	}
	s.providerMetrics.RecordRequest(s.provider.Name(), string(req.Mode), time.Since(start), err)
	if err != nil {
		return nil, err
	}

	plan, err := s.Normalize(ctx, payload)
	if err != nil {
		return nil, err
	}
	plan.Mode = req.Mode
	if len(plan.Strategies) == 0 {
		plan.Warnings = append(plan.Warnings, "The routing service returned no route.")
	}
	return plan, nil
}

// Normalize converts one raw upstream payload into a deduplicated plan.
// A strategy that fails inside a multi-strategy payload is reported as a warning.
func (s *Service) Normalize(ctx context.Context, payload []byte) (*Plan, error) {
	result, err := s.normalizer.Normalize(payload)
	if err != nil {
		if errors.Is(err, ErrUnrecognizedRouteFormat) {
			s.pipeline.RecordUnrecognized(ctx)
		}
		return nil, err
	}

	s.pipeline.RecordNormalized(ctx, string(result.Shape), len(result.Strategies))
	s.pipeline.RecordSkipped(ctx, len(result.Skipped))

	mode := DedupPointCount
	if s.flags.IsStrictRouteDedup(ctx) {
		mode = DedupGeometryHash
	}
	strategies, removed := Deduplicate(result.Strategies, mode)
	s.pipeline.RecordDedupRemoved(ctx, string(mode), removed)

	if removed > 0 {
		s.logger.Debug().
			Int("removed", removed).
			Str("dedup_mode", string(mode)).
			Msg("removed duplicate route strategies")
	}

	plan := &Plan{
		Shape:      result.Shape,
		Strategies: strategies,
		Skipped:    result.Skipped,
		Duplicates: removed,
		Provider:   s.provider.Name(),
		FetchedAt:  time.Now(),
	}
	for _, sk := range result.Skipped {
		plan.Warnings = append(plan.Warnings, fmt.Sprintf("Route %q could not be read: %s", sk.Key, UserMessage(sk.Err)))
	}
	return plan, nil
}

// validate checks endpoints and constraints, and fills the default vehicle class.
func (s *Service) validate(req Request) (Request, error) {
	if err := req.Start.Validate(); err != nil {
		return req, &Error{
			Provider: s.provider.Name(),
			Code:     "INVALID_ORIGIN",
			Message:  "invalid origin coordinates",
			Err:      ErrInvalidCoordinates,
		}
	}
	if err := req.End.Validate(); err != nil {
		return req, &Error{
			Provider: s.provider.Name(),
			Code:     "INVALID_DESTINATION",
			Message:  "invalid destination coordinates",
			Err:      ErrInvalidCoordinates,
		}
	}

	if req.Mode == "" {
		req.Mode = ModeUnconstrained
	}
	if req.VehicleClass == "" {
		req.VehicleClass = DefaultVehicleClass
	}

	invalid := func(code, msg string) error {
		return &Error{Provider: s.provider.Name(), Code: code, Message: msg, Err: ErrInvalidConstraint}
	}

	switch req.VehicleClass {
	case "c1", "c2", "c3", "c4", "c5":
	default:
		return req, invalid("INVALID_VEHICLE_CLASS", "vehicle class must be one of c1..c5")
	}

	switch req.Mode {
	case ModeUnconstrained, ModeTollFree:
	case ModeTollCount:
		if req.MaxTolls == nil || *req.MaxTolls < 0 {
			return req, invalid("INVALID_MAX_TOLLS", "max tolls must be zero or more")
		}
	case ModeBudget:
		if req.MaxCostEuros == nil && req.MaxCostPercent == nil {
			return req, invalid("MISSING_BUDGET", "a maximum cost or a maximum percentage is required")
		}
		if v := req.MaxCostEuros; v != nil && (*v < 0 || math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return req, invalid("INVALID_MAX_COST", "max cost must be zero or more")
		}
		if v := req.MaxCostPercent; v != nil && (*v < 0 || *v > 100 || math.IsNaN(*v)) {
			return req, invalid("INVALID_MAX_PERCENT", "max cost percentage must be between 0 and 100")
		}
	default:
		return req, invalid("INVALID_MODE", fmt.Sprintf("unknown routing mode %q", req.Mode))
	}

	return req, nil
}

// withWarnings returns plan with extra warnings, leaving the cached plan untouched.
func withWarnings(plan *Plan, warnings []string) *Plan {
	if len(warnings) == 0 {
		return plan
	}
	cp := *plan
	cp.Warnings = append(append([]string{}, warnings...), plan.Warnings...)
	return &cp
}

// cacheKey generates a cache key for a route request.
// Uses grid-based quantization for both endpoints.
// Format: {mode}:{constraint}:{vehicle}:{gridStartLat},{gridStartLon}:{gridEndLat},{gridEndLon}.
func (s *Service) cacheKey(req Request) string {
	grid := func(v float64) float64 {
		return math.Floor(v/s.cacheGridSize) * s.cacheGridSize
	}

	constraint := "-"
	switch req.Mode {
	case ModeTollCount:
		constraint = fmt.Sprintf("t%d", *req.MaxTolls)
	case ModeBudget:
		constraint = fmt.Sprintf("e%s/p%s", optString(req.MaxCostEuros), optString(req.MaxCostPercent))
	}

	return fmt.Sprintf("%s:%s:%s:%.4f,%.4f:%.4f,%.4f",
		req.Mode, constraint, req.VehicleClass,
		grid(req.Start.Lat), grid(req.Start.Lon),
		grid(req.End.Lat), grid(req.End.Lon),
	)
}

func optString(v *float64) string {
	if v == nil {
		return "none"
	}
	return fmt.Sprintf("%g", *v)
}

// cleanupIfNeeded removes expired entries if cleanup interval has passed.
func (s *Service) cleanupIfNeeded() {
	now := time.Now()
	if now.Sub(s.lastCleanup) < s.cleanupInterval {
		return
	}

	s.lastCleanup = now
	expired := 0

	for key, cached := range s.cache {
		// Remove entries that are past the stale-if-error window
		if now.After(cached.fetchedAt.Add(s.staleIfErrorTTL)) {
			delete(s.cache, key)
			expired++
		}
	}

	if expired > 0 {
		s.logger.Debug().
			Int("expired_entries", expired).
			Msg("cleaned up expired routing cache entries")
	}
}

// InvalidateCache clears all cached data.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*cachedPlan)
}

// CacheStats returns cache statistics.
func (s *Service) CacheStats() CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	fresh := 0
	stale := 0

	for _, c := range s.cache {
		if now.Before(c.expiresAt) {
			fresh++
		} else if now.Before(c.fetchedAt.Add(s.staleIfErrorTTL)) {
			stale++
		}
	}

	return CacheStats{
		TotalEntries: len(s.cache),
		FreshEntries: fresh,
		StaleEntries: stale,
		Provider:     s.provider.Name(),
	}
}

// CacheStats contains cache statistics.
type CacheStats struct {
	TotalEntries int
	FreshEntries int
	StaleEntries int
	Provider     string
}

