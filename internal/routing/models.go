// Package routing turns routing-service responses of any supported shape into
// canonical route strategies, and computes constrained routes with caching.
package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smartautomapper/sam/internal/geo"
)

// Sentinel errors for routing operations.
var (
	// ErrUnrecognizedRouteFormat indicates a response whose shape matches none of the known forms.
	ErrUnrecognizedRouteFormat = errors.New("unrecognized route format")
	// ErrMalformedPolyline indicates an encoded route geometry that could not be decoded.
	ErrMalformedPolyline = errors.New("malformed polyline")
	// ErrUpstreamRequestFailed indicates the routing service request failed or returned an error status.
	ErrUpstreamRequestFailed = errors.New("upstream request failed")
	// ErrProviderUnavailable indicates the routing service is down or the circuit breaker is open.
	ErrProviderUnavailable = fmt.Errorf("routing provider unavailable: %w", ErrUpstreamRequestFailed)
	// ErrNoRouteFound indicates no valid route exists between the given points.
	ErrNoRouteFound = fmt.Errorf("no route found between the given points: %w", ErrUpstreamRequestFailed)
	// ErrRateLimitExceeded indicates the API quota has been exceeded.
	ErrRateLimitExceeded = fmt.Errorf("rate limit exceeded: %w", ErrUpstreamRequestFailed)
	// ErrInvalidCoordinates indicates the provided coordinates are invalid or out of range.
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	// ErrInvalidConstraint indicates a toll-count or budget constraint that cannot be satisfied as given.
	ErrInvalidConstraint = errors.New("invalid route constraint")
)

// Provider is the routing service collaborator. Implementations return the raw
// response body; shape detection is left to the Normalizer.
type Provider interface {
	// ComputeRoute requests the default route between two points.
	ComputeRoute(ctx context.Context, start, end geo.Point) ([]byte, error)
	// ComputeRouteTollFree requests a route that avoids tollways.
	ComputeRouteTollFree(ctx context.Context, coords []geo.Point) ([]byte, error)
	// ComputeSmartRouteByTollCount requests strategies crossing at most maxTolls toll barriers.
	ComputeSmartRouteByTollCount(ctx context.Context, coords []geo.Point, maxTolls int, vehicleClass string) ([]byte, error)
	// ComputeSmartRouteByBudget requests strategies within a cost ceiling, absolute or relative.
	ComputeSmartRouteByBudget(ctx context.Context, coords []geo.Point, maxCostEuros, maxCostPercent *float64, vehicleClass string) ([]byte, error)
	// Name returns the provider identifier for logging and metrics.
	Name() string
}

// StrategyKind labels a route strategy.
type StrategyKind string

const (
	KindFastest  StrategyKind = "fastest"
	KindCheapest StrategyKind = "cheapest"
	KindMinTolls StrategyKind = "min-tolls"
	KindSingle   StrategyKind = "single"
	KindUnknown  StrategyKind = "unknown"
)

// ParseStrategyKind maps a strategy key from a multi-strategy response to its kind.
func ParseStrategyKind(key string) StrategyKind {
	switch key {
	case "fastest":
		return KindFastest
	case "cheapest":
		return KindCheapest
	case "min_tolls", "min-tolls":
		return KindMinTolls
	default:
		return KindUnknown
	}
}

// strategyRank orders known strategy keys; unknown keys sort after them in document order.
func strategyRank(kind StrategyKind) int {
	switch kind {
	case KindFastest:
		return 0
	case KindCheapest:
		return 1
	case KindMinTolls:
		return 2
	default:
		return 3
	}
}

// ManeuverKind is the kind of a turn-by-turn instruction.
type ManeuverKind string

const (
	ManeuverDepart          ManeuverKind = "depart"
	ManeuverArrive          ManeuverKind = "arrive"
	ManeuverTurnLeft        ManeuverKind = "turn-left"
	ManeuverTurnRight       ManeuverKind = "turn-right"
	ManeuverSharpLeft       ManeuverKind = "turn-sharp-left"
	ManeuverSharpRight      ManeuverKind = "turn-sharp-right"
	ManeuverSlightLeft      ManeuverKind = "turn-slight-left"
	ManeuverSlightRight     ManeuverKind = "turn-slight-right"
	ManeuverContinue        ManeuverKind = "continue"
	ManeuverRoundaboutEnter ManeuverKind = "roundabout-enter"
	ManeuverRoundaboutExit  ManeuverKind = "roundabout-exit"
	ManeuverUTurn           ManeuverKind = "u-turn"
	ManeuverKeepLeft        ManeuverKind = "keep-left"
	ManeuverKeepRight       ManeuverKind = "keep-right"
	ManeuverUnknown         ManeuverKind = "unknown"
)

// ManeuverFromCode maps an OpenRouteService instruction type code to a ManeuverKind.
func ManeuverFromCode(code int) ManeuverKind {
	switch code {
	case 0:
		return ManeuverTurnLeft
	case 1:
		return ManeuverTurnRight
	case 2:
		return ManeuverSharpLeft
	case 3:
		return ManeuverSharpRight
	case 4:
		return ManeuverSlightLeft
	case 5:
		return ManeuverSlightRight
	case 6:
		return ManeuverContinue
	case 7:
		return ManeuverRoundaboutEnter
	case 8:
		return ManeuverRoundaboutExit
	case 9:
		return ManeuverUTurn
	case 10:
		return ManeuverArrive
	case 11:
		return ManeuverDepart
	case 12:
		return ManeuverKeepLeft
	case 13:
		return ManeuverKeepRight
	default:
		return ManeuverUnknown
	}
}

// InstructionStep is one turn-by-turn instruction.
// Numeric fields are nil when the upstream step did not carry them.
type InstructionStep struct {
	Kind            ManeuverKind `json:"kind"`
	Instruction     string       `json:"instruction"`
	RoadName        string       `json:"roadName,omitempty"`
	DistanceMeters  *float64     `json:"distanceMeters,omitempty"`
	DurationSeconds *float64     `json:"durationSeconds,omitempty"`
}

// RouteStrategy is one canonical route. It is never modified after the
// normalizer creates it; a new response replaces the whole set.
type RouteStrategy struct {
	Kind StrategyKind `json:"kind"`
	// Key is the strategy key or map key the route was read from, if any.
	Key             string            `json:"key,omitempty"`
	Geometry        geo.Path          `json:"geometry"`
	DistanceMeters  *float64          `json:"distanceMeters,omitempty"`
	DurationSeconds *float64          `json:"durationSeconds,omitempty"`
	CostEuros       *float64          `json:"costEuros,omitempty"`
	TollCount       *int              `json:"tollCount,omitempty"`
	Steps           []InstructionStep `json:"steps"`
}

// Shape names the response form a payload was classified as.
type Shape string

const (
	ShapePolyline    Shape = "polyline"
	ShapeRouteList   Shape = "route_list"
	ShapeSingleRoute Shape = "single_route"
	ShapeGeoJSON     Shape = "geojson"
	ShapeStrategyMap Shape = "strategy_map"
	ShapeGeometryMap Shape = "geometry_map"
)

// SkippedStrategy records one entry of a multi-route response that could not be read.
type SkippedStrategy struct {
	Key string
	Err error
}

// NormalizeResult is the outcome of normalizing one upstream response.
type NormalizeResult struct {
	Shape      Shape
	Strategies []RouteStrategy
	Skipped    []SkippedStrategy
}

// Mode selects which routing operation Compute performs.
type Mode string

const (
	ModeUnconstrained Mode = "unconstrained"
	ModeTollFree      Mode = "toll_free"
	ModeTollCount     Mode = "toll_count"
	ModeBudget        Mode = "budget"
)

// DefaultVehicleClass is the toll vehicle class for passenger cars.
const DefaultVehicleClass = "c1"

// Request is a route computation request.
type Request struct {
	Start geo.Point
	End   geo.Point
	Mode  Mode

	// MaxTolls bounds the toll barriers crossed (ModeTollCount).
	MaxTolls *int
	// MaxCostEuros and MaxCostPercent bound the toll cost (ModeBudget); at least one is required.
	MaxCostEuros   *float64
	MaxCostPercent *float64

	// VehicleClass is the toll vehicle class c1..c5 (default c1).
	VehicleClass string
}

// Plan is the canonical result of one route computation.
type Plan struct {
	Mode       Mode
	Shape      Shape
	Strategies []RouteStrategy
	Skipped    []SkippedStrategy
	// Duplicates is the number of strategies removed as geometric duplicates.
	Duplicates int
	Warnings   []string
	Provider   string
	FetchedAt  time.Time
}

// Geometries returns the geometry of every strategy in order.
func (p *Plan) Geometries() []geo.Path {
	paths := make([]geo.Path, 0, len(p.Strategies))
	for i := range p.Strategies {
		paths = append(paths, p.Strategies[i].Geometry)
	}
	return paths
}

// Error provides detailed error information from the routing provider.
type Error struct {
	Provider string // Provider that generated the error
	Code     string // Error code from the provider
	Message  string // Human-readable error message
	Err      error  // Underlying error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is transient and the request can be retried.
func (e *Error) IsRetryable() bool {
	return errors.Is(e.Err, ErrProviderUnavailable) || errors.Is(e.Err, ErrRateLimitExceeded)
}
