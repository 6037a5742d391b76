// Package samapi provides a client for the SAM routing backend: routes, smart routes,
// toll lookups and geocoding.
package samapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/smartautomapper/sam/internal/geo"
	"github.com/smartautomapper/sam/internal/provider/resilience"
	"github.com/smartautomapper/sam/internal/routing"
)

const (
	// ProviderName identifies this provider.
	ProviderName = "sam-api"

	// DefaultBaseURL is the backend base URL when none is configured.
	DefaultBaseURL = "http://localhost:5000"

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 16 << 20
)

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the backend client.
type ClientConfig struct {
	// APIKey is sent as a bearer token when set (optional).
	APIKey string

	// BaseURL is the backend base URL (optional, defaults to DefaultBaseURL).
	BaseURL string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient HTTPDoer

	// Timeout is the request timeout (optional, defaults to 30s).
	Timeout time.Duration

	// Registry is the provider registry for health tracking (optional).
	Registry *resilience.Registry

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is a SAM backend client. Route and toll operations return the raw response
// body; reading it is left to the routing and toll normalizers.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient HTTPDoer
	logger     zerolog.Logger
}

// NewClient creates a new backend client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultClientConfig(ProviderName)
		clientCfg.Timeout = timeout
		clientCfg.Registry = cfg.Registry
		clientCfg.CircuitBreaker.OnStateChange = resilience.LogStateChanges(cfg.Logger)
		logger := cfg.Logger
		clientCfg.OnRetry = func(attempt int, err error, wait time.Duration) {
			logger.Debug().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("retrying SAM API request")
		}
		httpClient = resilience.NewClient(clientCfg)
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// ComputeRoute requests the default route between two points.
func (c *Client) ComputeRoute(ctx context.Context, start, end geo.Point) ([]byte, error) {
	if err := validatePoints("route", start, end); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("start", start.String())
	q.Set("end", end.String())

	return c.do(ctx, "route", http.MethodGet, "/api/route", q, nil)
}

// ComputeRouteTollFree requests a route through coords that avoids tollways.
func (c *Client) ComputeRouteTollFree(ctx context.Context, coords []geo.Point) ([]byte, error) {
	if err := validatePoints("route_toll_free", coords...); err != nil {
		return nil, err
	}

	return c.do(ctx, "route_toll_free", http.MethodPost, "/api/route/", nil, tollFreeRequest{
		Coordinates: orbPoints(coords),
		Options:     routeOptions{AvoidFeatures: []string{"tollways"}},
	})
}

// ComputeSmartRouteByTollCount requests strategies crossing at most maxTolls toll barriers.
func (c *Client) ComputeSmartRouteByTollCount(ctx context.Context, coords []geo.Point, maxTolls int, vehicleClass string) ([]byte, error) {
	if err := validatePoints("smart_route_tolls", coords...); err != nil {
		return nil, err
	}

	return c.do(ctx, "smart_route_tolls", http.MethodPost, "/api/smart-route/tolls", nil, tollCountRequest{
		Coordinates:  orbPoints(coords),
		MaxTolls:     maxTolls,
		VehicleClass: vehicleClass,
	})
}

// ComputeSmartRouteByBudget requests strategies whose toll cost stays within an absolute
// ceiling in euros, a percentage of the most expensive option, or both.
func (c *Client) ComputeSmartRouteByBudget(ctx context.Context, coords []geo.Point, maxCostEuros, maxCostPercent *float64, vehicleClass string) ([]byte, error) {
	if err := validatePoints("smart_route_budget", coords...); err != nil {
		return nil, err
	}

	return c.do(ctx, "smart_route_budget", http.MethodPost, "/api/smart-route/budget", nil, budgetRequest{
		Coordinates:     orbPoints(coords),
		MaxPrice:        maxCostEuros,
		MaxPricePercent: maxCostPercent,
		VehicleClass:    vehicleClass,
	})
}

// LookupTolls sends each route as a GeoJSON LineString feature and returns the toll response.
func (c *Client) LookupTolls(ctx context.Context, routes []geo.Path) ([]byte, error) {
	features := make([]*geojson.Feature, 0, len(routes))
	for i, r := range routes {
		f := geojson.NewFeature(r.LineString())
		f.Properties["route_index"] = i
		features = append(features, f)
	}

	return c.do(ctx, "tolls", http.MethodPost, "/api/tolls", nil, features)
}

// Autocomplete returns place suggestions for a partial text.
func (c *Client) Autocomplete(ctx context.Context, text string) ([]geo.PlaceFeature, error) {
	return c.geocode(ctx, "autocomplete", text)
}

// Search returns the places matching a full text.
func (c *Client) Search(ctx context.Context, text string) ([]geo.PlaceFeature, error) {
	return c.geocode(ctx, "search", text)
}

func (c *Client) geocode(ctx context.Context, op, text string) ([]geo.PlaceFeature, error) {
	q := url.Values{}
	q.Set("text", text)

	body, err := c.do(ctx, "geocode_"+op, http.MethodGet, "/api/geocode/"+op, q, nil)
	if err != nil {
		return nil, err
	}

	places, err := parsePlaces(body)
	if err != nil {
		return nil, &routing.Error{
			Provider: ProviderName,
			Code:     "MALFORMED_PLACES",
			Message:  "the geocoder returned a response that could not be read",
			Err:      fmt.Errorf("%w: %w", routing.ErrUpstreamRequestFailed, err),
		}
	}

	c.logger.Debug().
		Str("operation", op).
		Int("places", len(places)).
		Msg("received places from backend")

	return places, nil
}

// do performs one request and returns the body of a 2xx response.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, payload any) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader = http.NoBody
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json, application/geo+json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug().
		Str("operation", op).
		Str("method", method).
		Str("path", path).
		Msg("requesting backend")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		code := "REQUEST_FAILED"
		if errors.Is(err, resilience.ErrCircuitOpen) {
			code = "CIRCUIT_OPEN"
		}
		return nil, &routing.Error{
			Provider: ProviderName,
			Code:     code,
			Message:  "failed to reach routing backend",
			Err:      fmt.Errorf("%w: %s", routing.ErrProviderUnavailable, err.Error()),
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &routing.Error{
			Provider: ProviderName,
			Code:     "READ_FAILED",
			Message:  "failed to read routing backend response",
			Err:      fmt.Errorf("%w: %s", routing.ErrUpstreamRequestFailed, err.Error()),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rerr := c.handleErrorResponse(op, resp.StatusCode, respBody)
		c.logger.Warn().
			Err(rerr).
			Str("operation", op).
			Int("status", resp.StatusCode).
			Msg("backend returned an error")
		return nil, rerr
	}

	return respBody, nil
}

// handleErrorResponse maps backend error responses to domain errors,
// keeping the backend's own message when it sent one.
func (c *Client) handleErrorResponse(op string, statusCode int, body []byte) error {
	var parsed errorResponse
	msg := ""
	if err := json.Unmarshal(body, &parsed); err == nil {
		msg = parsed.message()
	}
	orDefault := func(fallback string) string {
		if msg != "" {
			return msg
		}
		return fallback
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return &routing.Error{
			Provider: ProviderName,
			Code:     "RATE_LIMIT",
			Message:  orDefault("API rate limit exceeded, please try again later"),
			Err:      routing.ErrRateLimitExceeded,
		}
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &routing.Error{
			Provider: ProviderName,
			Code:     "FORBIDDEN",
			Message:  "API access denied - check API key configuration",
			Err:      routing.ErrProviderUnavailable,
		}
	case statusCode == http.StatusNotFound && !strings.HasPrefix(op, "geocode"):
		return &routing.Error{
			Provider: ProviderName,
			Code:     "NO_ROUTE",
			Message:  orDefault("no route found between the given points"),
			Err:      routing.ErrNoRouteFound,
		}
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity:
		return &routing.Error{
			Provider: ProviderName,
			Code:     "BAD_REQUEST",
			Message:  orDefault("the routing backend rejected the request"),
			Err:      routing.ErrUpstreamRequestFailed,
		}
	case statusCode >= 500:
		return &routing.Error{
			Provider: ProviderName,
			Code:     fmt.Sprintf("SERVER_%d", statusCode),
			Message:  orDefault("routing backend is temporarily unavailable"),
			Err:      routing.ErrProviderUnavailable,
		}
	default:
		return &routing.Error{
			Provider: ProviderName,
			Code:     fmt.Sprintf("HTTP_%d", statusCode),
			Message:  orDefault(fmt.Sprintf("routing backend returned status %d", statusCode)),
			Err:      routing.ErrUpstreamRequestFailed,
		}
	}
}

// parsePlaces reads a GeoJSON FeatureCollection of points labelled by "label".
// Features without a point geometry or a label are ignored.
func parsePlaces(body []byte) ([]geo.PlaceFeature, error) {
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, err
	}

	places := make([]geo.PlaceFeature, 0, len(fc.Features))
	for _, f := range fc.Features {
		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			continue
		}
		label := strings.TrimSpace(f.Properties.MustString("label", ""))
		if label == "" {
			label = strings.TrimSpace(f.Properties.MustString("name", ""))
		}
		if label == "" {
			continue
		}
		anchor := geo.FromOrb(pt)
		if !anchor.Valid() {
			continue
		}

		places = append(places, geo.PlaceFeature{
			Label:  label,
			Anchor: anchor,
			Kind:   f.Properties.MustString("layer", ""),
			Region: f.Properties.MustString("region", ""),
		})
	}
	return places, nil
}

func orbPoints(points []geo.Point) []orb.Point {
	out := make([]orb.Point, 0, len(points))
	for _, p := range points {
		out = append(out, p.Orb())
	}
	return out
}

// validatePoints checks that at least two waypoints are given and all are in range.
func validatePoints(op string, points ...geo.Point) error {
	if len(points) < 2 {
		return &routing.Error{
			Provider: ProviderName,
			Code:     "INVALID_COORDINATES",
			Message:  op + " needs a departure and a destination",
			Err:      routing.ErrInvalidCoordinates,
		}
	}
	for i, p := range points {
		if err := p.Validate(); err != nil {
			return &routing.Error{
				Provider: ProviderName,
				Code:     "INVALID_COORDINATES",
				Message:  fmt.Sprintf("waypoint %d: %s", i, err.Error()),
				Err:      routing.ErrInvalidCoordinates,
			}
		}
	}
	return nil
}
