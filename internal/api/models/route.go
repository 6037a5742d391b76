package models

import (
	"github.com/smartautomapper/sam/internal/geo"
	"github.com/smartautomapper/sam/internal/routing"
	"github.com/smartautomapper/sam/internal/tolls"
)

// RouteComputeRequest is the request body for computing routes.
// Points are encoded as [lon, lat].
type RouteComputeRequest struct {
	Origin         *geo.Point   `json:"origin"`
	Destination    *geo.Point   `json:"destination"`
	Mode           routing.Mode `json:"mode,omitempty"`
	MaxTolls       *int         `json:"maxTolls,omitempty"`
	MaxCostEuros   *float64     `json:"maxCostEuros,omitempty"`
	MaxCostPercent *float64     `json:"maxCostPercent,omitempty"`
	VehicleClass   string       `json:"vehicleClass,omitempty"`
	// WithTolls also looks up the tolls along every returned strategy.
	WithTolls bool `json:"withTolls,omitempty"`
}

// Validate returns the field errors of the request, or nil.
func (r *RouteComputeRequest) Validate() []FieldError {
	var errs []FieldError
	if r.Origin == nil {
		errs = append(errs, FieldError{Field: "origin", Message: "required", Code: "required"})
	} else if !r.Origin.Valid() {
		errs = append(errs, FieldError{Field: "origin", Message: "must be [lon, lat] within range", Code: "range"})
	}
	if r.Destination == nil {
		errs = append(errs, FieldError{Field: "destination", Message: "required", Code: "required"})
	} else if !r.Destination.Valid() {
		errs = append(errs, FieldError{Field: "destination", Message: "must be [lon, lat] within range", Code: "range"})
	}

	switch r.Mode {
	case "", routing.ModeUnconstrained, routing.ModeTollFree:
	case routing.ModeTollCount:
		if r.MaxTolls == nil {
			errs = append(errs, FieldError{Field: "maxTolls", Message: "required for toll_count mode", Code: "required"})
		}
	case routing.ModeBudget:
		if r.MaxCostEuros == nil && r.MaxCostPercent == nil {
			errs = append(errs, FieldError{Field: "maxCostEuros", Message: "maxCostEuros or maxCostPercent is required for budget mode", Code: "required"})
		}
	default:
		errs = append(errs, FieldError{Field: "mode", Message: "must be one of unconstrained, toll_free, toll_count, budget", Code: "enum"})
	}
	return errs
}

// RoutingRequest converts the body into a routing service request.
func (r *RouteComputeRequest) RoutingRequest() routing.Request {
	req := routing.Request{
		Mode:           r.Mode,
		MaxTolls:       r.MaxTolls,
		MaxCostEuros:   r.MaxCostEuros,
		MaxCostPercent: r.MaxCostPercent,
		VehicleClass:   r.VehicleClass,
	}
	if req.Mode == "" {
		req.Mode = routing.ModeUnconstrained
	}
	if r.Origin != nil {
		req.Start = *r.Origin
	}
	if r.Destination != nil {
		req.End = *r.Destination
	}
	return req
}

// RouteComputeResponse is the response for route computation and normalization.
type RouteComputeResponse struct {
	ID          string                  `json:"id"`
	GeneratedAt Timestamp               `json:"generatedAt"`
	Mode        routing.Mode            `json:"mode,omitempty"`
	Shape       routing.Shape           `json:"shape"`
	Provider    string                  `json:"provider,omitempty"`
	Strategies  []routing.RouteStrategy `json:"strategies"`
	Summaries   []routing.Summary       `json:"summaries"`
	Skipped     []SkippedStrategy       `json:"skipped,omitempty"`
	Duplicates  int                     `json:"duplicates"`
	Bounds      *geo.BoundingBox        `json:"bounds,omitempty"`
	Tolls       *TollLookupResponse     `json:"tolls,omitempty"`
	Warnings    []Warning               `json:"warnings,omitempty"`
}

// SkippedStrategy is one entry of a multi-route response that could not be read.
type SkippedStrategy struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// Warning represents a non-fatal issue in the response.
type Warning struct {
	Code     string  `json:"code"`
	Message  string  `json:"message"`
	Provider *string `json:"provider,omitempty"`
}

// Warning codes.
const (
	WarningRoute           = "ROUTE_WARNING"
	WarningIncompleteTolls = "INCOMPLETE_TOLLS"
	WarningTollLookup      = "TOLL_LOOKUP_FAILED"
)

// TollLookupRequest is the request body for a toll lookup.
type TollLookupRequest struct {
	Routes []geo.Path `json:"routes"`
}

// Validate returns the field errors of the request, or nil.
func (r *TollLookupRequest) Validate() []FieldError {
	if len(r.Routes) == 0 {
		return []FieldError{{Field: "routes", Message: "at least one route geometry is required", Code: "required"}}
	}
	return nil
}

// TollLookupResponse is the reconciled toll set along one or more routes.
type TollLookupResponse struct {
	Tolls         []tolls.TollPoint `json:"tolls"`
	Incomplete    int               `json:"incomplete"`
	IncompleteIDs []string          `json:"incompleteIds,omitempty"`
	Duplicates    int               `json:"duplicates"`
	Disabled      bool              `json:"disabled,omitempty"`
	Warning       string            `json:"warning,omitempty"`
}

// NewTollLookupResponse builds the response form of a reconciled toll set.
func NewTollLookupResponse(result *tolls.Result) *TollLookupResponse {
	if result == nil {
		return &TollLookupResponse{Tolls: []tolls.TollPoint{}}
	}
	resp := &TollLookupResponse{
		Tolls:         result.Tolls,
		Incomplete:    result.Incomplete,
		IncompleteIDs: result.IncompleteIDs,
		Duplicates:    result.Duplicates,
		Disabled:      result.Disabled,
		Warning:       result.Warning(),
	}
	if resp.Tolls == nil {
		resp.Tolls = []tolls.TollPoint{}
	}
	return resp
}

// PlaceList is the response for place autocomplete and search.
type PlaceList struct {
	Query string             `json:"query"`
	Items []geo.PlaceFeature `json:"items"`
}
