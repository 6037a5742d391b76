// Package handler provides HTTP handlers for the SAM route API.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smartautomapper/sam/internal/api/models"
	"github.com/smartautomapper/sam/internal/api/response"
	"github.com/smartautomapper/sam/internal/geo"
	"github.com/smartautomapper/sam/internal/routing"
	"github.com/smartautomapper/sam/internal/tolls"
)

const (
	// maxComputeBody bounds a route compute request body.
	maxComputeBody = 64 << 10
	// maxPayloadBody bounds a raw upstream payload submitted for normalization.
	maxPayloadBody = 16 << 20
)

// RouteHandler handles routing endpoints.
type RouteHandler struct {
	routes *routing.Service
	tolls  *tolls.Service
	logger zerolog.Logger
}

// NewRouteHandler creates a new RouteHandler.
func NewRouteHandler(routes *routing.Service, tollService *tolls.Service, logger zerolog.Logger) *RouteHandler {
	return &RouteHandler{routes: routes, tolls: tollService, logger: logger}
}

// ComputeRoutes handles POST /v1/routes:compute - compute route strategies.
func (h *RouteHandler) ComputeRoutes(w http.ResponseWriter, r *http.Request) {
	var input models.RouteComputeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxComputeBody)).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	if errs := input.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "invalid route request", errs)
		return
	}

	plan, err := h.routes.Compute(r.Context(), input.RoutingRequest())
	if err != nil {
		h.logger.Warn().Err(err).Str("mode", string(input.Mode)).Msg("route computation failed")
		response.PipelineError(w, r, err)
		return
	}

	resp := planResponse(plan)
	if len(plan.Skipped) > 0 {
		response.Degraded(w, "strategies")
	}
	if input.WithTolls && len(plan.Strategies) > 0 && h.tolls != nil {
		h.attachTolls(w, r, resp, plan)
	}

	w.Header().Set("Cache-Control", "private, max-age=60")
	response.JSON(w, r, http.StatusOK, resp)
}

// attachTolls looks up the tolls along the plan. A failed lookup does not fail
// the route response; it is reported as a warning instead.
func (h *RouteHandler) attachTolls(w http.ResponseWriter, r *http.Request, resp *models.RouteComputeResponse, plan *routing.Plan) {
	result, err := h.tolls.Lookup(r.Context(), plan.Geometries())
	if err != nil {
		h.logger.Warn().Err(err).Msg("toll lookup for computed route failed")
		response.Degraded(w, "tolls")
		resp.Warnings = append(resp.Warnings, models.Warning{
			Code:    models.WarningTollLookup,
			Message: routing.UserMessage(err),
		})
		return
	}

	resp.Tolls = models.NewTollLookupResponse(result)
	markTollDegradation(w, resp.Tolls)
	if msg := resp.Tolls.Warning; msg != "" {
		resp.Warnings = append(resp.Warnings, models.Warning{Code: models.WarningIncompleteTolls, Message: msg})
	}
}

// NormalizeRoute handles POST /v1/routes:normalize - convert a raw upstream
// route payload into canonical strategies.
func (h *RouteHandler) NormalizeRoute(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.BadRequest(w, r, "payload too large", nil)
			return
		}
		response.BadRequest(w, r, "could not read request body", nil)
		return
	}
	if len(payload) == 0 {
		response.BadRequest(w, r, "empty payload", nil)
		return
	}

	plan, err := h.routes.Normalize(r.Context(), payload)
	if err != nil {
		// The payload comes from the caller here, so every failure is a client error.
		response.BadRequest(w, r, routing.UserMessage(err), []models.FieldError{
			{Field: "body", Message: err.Error(), Code: "unreadable"},
		})
		return
	}

	response.JSON(w, r, http.StatusOK, planResponse(plan))
}

// planResponse converts a routing plan into its response form.
func planResponse(plan *routing.Plan) *models.RouteComputeResponse {
	strategies := plan.Strategies
	if strategies == nil {
		strategies = []routing.RouteStrategy{}
	}

	resp := &models.RouteComputeResponse{
		ID:          "plan_" + uuid.New().String()[:12],
		GeneratedAt: models.Timestamp(time.Now()),
		Mode:        plan.Mode,
		Shape:       plan.Shape,
		Provider:    plan.Provider,
		Strategies:  strategies,
		Summaries:   routing.Summarize(strategies),
		Duplicates:  plan.Duplicates,
	}

	for _, sk := range plan.Skipped {
		resp.Skipped = append(resp.Skipped, models.SkippedStrategy{Key: sk.Key, Reason: sk.Err.Error()})
	}
	for _, msg := range plan.Warnings {
		resp.Warnings = append(resp.Warnings, models.Warning{Code: models.WarningRoute, Message: msg})
	}
	if box, ok := geo.Bounds(plan.Geometries()...); ok {
		resp.Bounds = &box
	}
	return resp
}
