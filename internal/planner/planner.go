// Package planner ties the two place fields, the route request and the toll lookup
// into one view-model that a display can render as plain data.
package planner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartautomapper/sam/internal/autocomplete"
	"github.com/smartautomapper/sam/internal/geo"
	"github.com/smartautomapper/sam/internal/routing"
	"github.com/smartautomapper/sam/internal/telemetry"
	"github.com/smartautomapper/sam/internal/tolls"
)

var (
	// ErrNoRoute indicates an operation that needs a displayed route.
	ErrNoRoute = errors.New("no route is displayed")
	// ErrUnknownStrategy indicates a strategy kind absent from the displayed route.
	ErrUnknownStrategy = errors.New("strategy not in the displayed route")
)

// RouteComputer computes canonical route plans.
type RouteComputer interface {
	Compute(ctx context.Context, req routing.Request) (*routing.Plan, error)
}

// TollLooker finds the tolls along route geometries.
type TollLooker interface {
	Lookup(ctx context.Context, routes []geo.Path) (*tolls.Result, error)
}

// Options selects the route operation of a submission.
type Options struct {
	Mode           routing.Mode
	MaxTolls       *int
	MaxCostEuros   *float64
	MaxCostPercent *float64
	VehicleClass   string

	// WithTolls looks up tolls as soon as the route is displayed.
	WithTolls bool
}

// Snapshot is the full displayable state.
type Snapshot struct {
	Origin      autocomplete.State      `json:"origin"`
	Destination autocomplete.State      `json:"destination"`
	Mode        routing.Mode            `json:"mode,omitempty"`
	Strategies  []routing.RouteStrategy `json:"strategies"`
	Summaries   []routing.Summary       `json:"summaries"`
	// Selected is the index of the displayed strategy, -1 without a route.
	Selected        int               `json:"selected"`
	Tolls           []tolls.TollPoint `json:"tolls"`
	IncompleteTolls int               `json:"incompleteTolls"`
	Warnings        []string          `json:"warnings,omitempty"`
	RouteLoading    bool              `json:"routeLoading"`
	TollsLoading    bool              `json:"tollsLoading"`
	Error           string            `json:"error,omitempty"`
	Bounds          *geo.BoundingBox  `json:"bounds,omitempty"`
	Version         uint64            `json:"version"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// Config holds configuration for a Planner.
type Config struct {
	// Router computes routes (required).
	Router RouteComputer

	// Tolls looks up tolls (required).
	Tolls TollLooker

	// Suggester serves both place fields (required).
	Suggester autocomplete.Suggester

	// Debounce and Threshold configure both fields (defaults: 400ms and 3).
	Debounce  time.Duration
	Threshold int

	// OnChange receives a snapshot after every change, in order (optional).
	OnChange func(Snapshot)

	// Metrics counts discarded stale completions (optional).
	Metrics *telemetry.PipelineMetrics

	// Logger for planner events.
	Logger zerolog.Logger
}

// Planner owns one departure field, one destination field, the displayed route set
// and the displayed toll set.
type Planner struct {
	router   RouteComputer
	tolls    TollLooker
	metrics  *telemetry.PipelineMetrics
	logger   zerolog.Logger
	onChange func(Snapshot)

	origin      *autocomplete.Coordinator
	destination *autocomplete.Coordinator

	mu           sync.Mutex
	plan         *routing.Plan
	summaries    []routing.Summary
	selected     int
	tollResult   *tolls.Result
	warnings     []string
	routeLoading bool
	tollsLoading bool
	errMsg       string
	routeSeq     uint64
	tollSeq      uint64
	version      uint64

	notifyMu sync.Mutex
}

// New creates a Planner with empty fields.
func New(cfg Config) *Planner {
	p := &Planner{
		router:   cfg.Router,
		tolls:    cfg.Tolls,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		onChange: cfg.OnChange,
		selected: -1,
	}

	field := func(name string) *autocomplete.Coordinator {
		return autocomplete.NewCoordinator(autocomplete.Config{
			Field:     name,
			Suggester: cfg.Suggester,
			Debounce:  cfg.Debounce,
			Threshold: cfg.Threshold,
			OnChange:  func(autocomplete.State) { p.changed() },
			Metrics:   cfg.Metrics,
			Logger:    cfg.Logger,
		})
	}
	p.origin = field("origin")
	p.destination = field("destination")

	return p
}

// Origin returns the departure field.
func (p *Planner) Origin() *autocomplete.Coordinator { return p.origin }

// Destination returns the destination field.
func (p *Planner) Destination() *autocomplete.Coordinator { return p.destination }

// Submit requests a route between the resolved places. The displayed route and tolls
// are cleared before the request is made. A result for a superseded submission is
// discarded and reported as autocomplete.ErrStaleResult.
func (p *Planner) Submit(ctx context.Context, opts Options) (*routing.Plan, error) {
	req, err := p.request(opts)
	if err != nil {
		p.mu.Lock()
		p.errMsg = routing.UserMessage(err)
		p.version++
		p.mu.Unlock()
		p.changed()
		return nil, err
	}

	p.mu.Lock()
	p.resetRouteLocked()
	p.routeSeq++
	token := p.routeSeq
	p.routeLoading = true
	p.version++
	p.mu.Unlock()
	p.changed()

	p.logger.Debug().
		Uint64("token", token).
		Str("mode", string(req.Mode)).
		Str("start", req.Start.String()).
		Str("end", req.End.String()).
		Msg("submitting route request")

	plan, err := p.router.Compute(ctx, req)

	p.mu.Lock()
	if token != p.routeSeq {
		p.mu.Unlock()
		p.metrics.RecordStaleResult(ctx, "route")
		p.logger.Debug().Uint64("token", token).Msg("discarding superseded route result")
		return nil, autocomplete.ErrStaleResult
	}
	p.routeLoading = false
	if err != nil {
		p.errMsg = routing.UserMessage(err)
	} else {
		p.plan = plan
		p.summaries = routing.Summarize(plan.Strategies)
		p.warnings = append([]string(nil), plan.Warnings...)
		if len(plan.Strategies) > 0 {
			p.selected = 0
		}
	}
	p.version++
	p.mu.Unlock()
	p.changed()

	if err != nil {
		p.logger.Warn().Err(err).Uint64("token", token).Msg("route request failed")
		return nil, err
	}

	if opts.WithTolls && len(plan.Strategies) > 0 {
		if _, terr := p.ShowTolls(ctx); terr != nil && !errors.Is(terr, autocomplete.ErrStaleResult) {
			p.logger.Warn().Err(terr).Msg("toll lookup after route failed")
		}
	}
	return plan, nil
}

// ShowTolls looks up the tolls along every displayed strategy.
func (p *Planner) ShowTolls(ctx context.Context) (*tolls.Result, error) {
	p.mu.Lock()
	if p.plan == nil || len(p.plan.Strategies) == 0 {
		p.mu.Unlock()
		return nil, ErrNoRoute
	}
	paths := p.plan.Geometries()
	p.tollResult = nil
	p.tollSeq++
	token := p.tollSeq
	p.tollsLoading = true
	p.version++
	p.mu.Unlock()
	p.changed()

	result, err := p.tolls.Lookup(ctx, paths)

	p.mu.Lock()
	if token != p.tollSeq {
		p.mu.Unlock()
		p.metrics.RecordStaleResult(ctx, "tolls")
		p.logger.Debug().Uint64("token", token).Msg("discarding superseded toll result")
		return nil, autocomplete.ErrStaleResult
	}
	p.tollsLoading = false
	if err != nil {
		p.errMsg = routing.UserMessage(err)
	} else {
		p.tollResult = result
		if w := result.Warning(); w != "" {
			p.warnings = append(p.warnings, w)
		}
	}
	p.version++
	p.mu.Unlock()
	p.changed()

	if err != nil {
		p.logger.Warn().Err(err).Msg("toll lookup failed")
		return nil, err
	}
	return result, nil
}

// ClearRoute removes the displayed route and its tolls and drops pending results for them.
func (p *Planner) ClearRoute() {
	p.mu.Lock()
	p.resetRouteLocked()
	p.routeSeq++
	p.version++
	p.mu.Unlock()
	p.changed()
}

// ClearTolls removes the displayed tolls and drops a pending lookup.
func (p *Planner) ClearTolls() {
	p.mu.Lock()
	p.tollResult = nil
	p.tollSeq++
	p.tollsLoading = false
	p.version++
	p.mu.Unlock()
	p.changed()
}

// Select displays the first strategy of the given kind.
func (p *Planner) Select(kind routing.StrategyKind) error {
	p.mu.Lock()
	if p.plan == nil {
		p.mu.Unlock()
		return ErrNoRoute
	}
	idx := -1
	for i := range p.plan.Strategies {
		if p.plan.Strategies[i].Kind == kind {
			idx = i
			break
		}
	}
	if idx < 0 {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownStrategy, kind)
	}
	p.selected = idx
	p.version++
	p.mu.Unlock()
	p.changed()
	return nil
}

// Snapshot returns the current state as plain data.
func (p *Planner) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Close stops both fields.
func (p *Planner) Close() {
	p.origin.Close()
	p.destination.Close()
}

func (p *Planner) request(opts Options) (routing.Request, error) {
	start := p.origin.State().Selected
	end := p.destination.State().Selected
	switch {
	case start == nil:
		return routing.Request{}, fmt.Errorf("%w: no departure selected", routing.ErrInvalidCoordinates)
	case end == nil:
		return routing.Request{}, fmt.Errorf("%w: no destination selected", routing.ErrInvalidCoordinates)
	}

	return routing.Request{
		Start:          start.Anchor,
		End:            end.Anchor,
		Mode:           opts.Mode,
		MaxTolls:       opts.MaxTolls,
		MaxCostEuros:   opts.MaxCostEuros,
		MaxCostPercent: opts.MaxCostPercent,
		VehicleClass:   opts.VehicleClass,
	}, nil
}

func (p *Planner) resetRouteLocked() {
	p.plan = nil
	p.summaries = nil
	p.selected = -1
	p.tollResult = nil
	p.tollSeq++
	p.warnings = nil
	p.errMsg = ""
	p.routeLoading = false
	p.tollsLoading = false
}

func (p *Planner) snapshotLocked() Snapshot {
	snap := Snapshot{
		Origin:       p.origin.State(),
		Destination:  p.destination.State(),
		Strategies:   []routing.RouteStrategy{},
		Summaries:    []routing.Summary{},
		Selected:     p.selected,
		Tolls:        []tolls.TollPoint{},
		Warnings:     append([]string(nil), p.warnings...),
		RouteLoading: p.routeLoading,
		TollsLoading: p.tollsLoading,
		Error:        p.errMsg,
		Version:      p.version,
		UpdatedAt:    time.Now(),
	}

	if p.plan != nil {
		snap.Mode = p.plan.Mode
		snap.Strategies = append(snap.Strategies, p.plan.Strategies...)
		snap.Summaries = append(snap.Summaries, p.summaries...)
		if b, ok := geo.Bounds(p.plan.Geometries()...); ok {
			snap.Bounds = &b
		}
	}
	if p.tollResult != nil {
		snap.Tolls = append(snap.Tolls, p.tollResult.Tolls...)
		snap.IncompleteTolls = p.tollResult.Incomplete
	}
	return snap
}

// changed delivers the current snapshot. Deliveries are serialized and each one reads
// the state at delivery time, so the listener never sees an older state after a newer one.
func (p *Planner) changed() {
	if p.onChange == nil {
		return
	}
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()
	p.onChange(p.Snapshot())
}
