package handler

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/smartautomapper/sam/internal/api/models"
	"github.com/smartautomapper/sam/internal/api/response"
	"github.com/smartautomapper/sam/internal/tolls"
)

// maxTollBody bounds a toll lookup body, which carries full route geometries.
const maxTollBody = 8 << 20

// TollHandler handles toll lookup endpoints.
type TollHandler struct {
	tolls  *tolls.Service
	logger zerolog.Logger
}

// NewTollHandler creates a new TollHandler.
func NewTollHandler(service *tolls.Service, logger zerolog.Logger) *TollHandler {
	return &TollHandler{tolls: service, logger: logger}
}

// LookupTolls handles POST /v1/tolls:lookup - reconciled tolls along route geometries.
func (h *TollHandler) LookupTolls(w http.ResponseWriter, r *http.Request) {
	var input models.TollLookupRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTollBody)).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	if errs := input.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "invalid toll lookup request", errs)
		return
	}

	result, err := h.tolls.Lookup(r.Context(), input.Routes)
	if err != nil {
		h.logger.Warn().Err(err).Int("routes", len(input.Routes)).Msg("toll lookup failed")
		response.PipelineError(w, r, err)
		return
	}

	resp := models.NewTollLookupResponse(result)
	markTollDegradation(w, resp)
	response.JSON(w, r, http.StatusOK, resp)
}

// markTollDegradation flags toll sets that were switched off or left incomplete.
func markTollDegradation(w http.ResponseWriter, resp *models.TollLookupResponse) {
	switch {
	case resp.Disabled:
		response.Degraded(w, "tolls")
	case resp.Incomplete > 0:
		response.Degraded(w, "tolls-incomplete")
	}
}
