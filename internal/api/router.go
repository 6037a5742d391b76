// Package api provides the HTTP API for SAM route planning.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/smartautomapper/sam/internal/api/handler"
	"github.com/smartautomapper/sam/internal/api/middleware"
	"github.com/smartautomapper/sam/internal/featureflags"
	"github.com/smartautomapper/sam/internal/provider/resilience"
	"github.com/smartautomapper/sam/internal/routing"
	"github.com/smartautomapper/sam/internal/tolls"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	RequireTLS  bool

	RouteService       *routing.Service
	TollService        *tolls.Service
	Places             handler.PlaceFinder
	FeatureFlagService *featureflags.Service
	Registry           *resilience.Registry
	Database           handler.Pinger

	// AutocompleteThreshold is the longest text that returns no suggestions.
	AutocompleteThreshold int
	// AdminToken guards the feature flag endpoints; empty disables them.
	AdminToken string
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Set default service name if not provided
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "sam-api"
	}

	// Request ID comes first so that spans, logs and problems all carry it.
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName, "/v1/ops/health", "/v1/ops/ready"))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)

	// Initialize handlers
	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:      cfg.Version,
		BuildTime:    cfg.BuildTime,
		Registry:     cfg.Registry,
		FeatureFlags: cfg.FeatureFlagService,
		Routes:       cfg.RouteService,
		Database:     cfg.Database,
	})
	routeHandler := handler.NewRouteHandler(cfg.RouteService, cfg.TollService, cfg.Logger)
	tollHandler := handler.NewTollHandler(cfg.TollService, cfg.Logger)
	placeHandler := handler.NewPlaceHandler(cfg.Places, cfg.AutocompleteThreshold, cfg.Logger)
	featureFlagsHandler := handler.NewFeatureFlagsHandler(cfg.FeatureFlagService, cfg.Logger)

	// Create rate limit middleware for different endpoint categories
	expensiveRateLimit := middleware.RateLimitByEndpoint(middleware.ExpensiveRateLimit) // 30 req/min per endpoint
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)         // 100 req/min
	autocompleteRateLimit := middleware.RateLimitByIP(middleware.AutocompleteRateLimit) // 240 req/min
	adminRateLimit := middleware.RateLimitByIP(middleware.AdminRateLimit)               // 10 req/min

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.With(standardRateLimit).Get("/status", opsHandler.SystemStatus)
		})

		// Route and toll endpoints call the routing backend - strict rate limiting
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireJSON)
			r.Use(expensiveRateLimit)
			r.Post("/routes:compute", routeHandler.ComputeRoutes)
			r.Post("/tolls:lookup", tollHandler.LookupTolls)
		})

		// Normalization is local work on a caller-supplied payload
		r.With(middleware.RequireJSON, standardRateLimit).Post("/routes:normalize", routeHandler.NormalizeRoute)

		// Place endpoints
		r.With(autocompleteRateLimit).Get("/places:autocomplete", placeHandler.Autocomplete)
		r.With(standardRateLimit).Get("/places:search", placeHandler.Search)

		// Admin endpoints (static bearer token) - for internal operations
		r.Route("/admin", func(r chi.Router) {
			r.Use(adminRateLimit)
			r.Use(middleware.AdminAuth(cfg.AdminToken))

			// Feature flags management
			r.Route("/feature-flags", func(r chi.Router) {
				r.Get("/", featureFlagsHandler.ListFeatureFlags)
				r.With(middleware.RequireJSON).Put("/", featureFlagsHandler.UpsertFeatureFlags)
				r.Post("/invalidate", featureFlagsHandler.InvalidateCache)
				r.Delete("/{key}", featureFlagsHandler.ResetFeatureFlag)
			})
		})
	})

	return r
}
