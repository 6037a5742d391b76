package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/smartautomapper/sam/internal/api/models"
	"github.com/smartautomapper/sam/internal/api/response"
	"github.com/smartautomapper/sam/internal/featureflags"
)

const maxFlagBodyBytes = 64 << 10

// FeatureFlagsHandler serves the operator endpoints for the pipeline switches.
type FeatureFlagsHandler struct {
	service *featureflags.Service
	logger  zerolog.Logger
}

// NewFeatureFlagsHandler creates a new FeatureFlagsHandler.
func NewFeatureFlagsHandler(service *featureflags.Service, logger zerolog.Logger) *FeatureFlagsHandler {
	return &FeatureFlagsHandler{service: service, logger: logger}
}

// ListFeatureFlags handles GET /v1/admin/feature-flags.
func (h *FeatureFlagsHandler) ListFeatureFlags(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, h.service.List(r.Context()))
}

// UpsertFeatureFlags handles PUT /v1/admin/feature-flags. The whole batch is
// rejected if any update is invalid.
func (h *FeatureFlagsHandler) UpsertFeatureFlags(w http.ResponseWriter, r *http.Request) {
	var input featureflags.FlagUpdateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFlagBodyBytes)).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}

	err := h.service.Apply(r.Context(), input)
	var verr *featureflags.ValidationError
	switch {
	case errors.As(err, &verr):
		fields := make([]models.FieldError, 0, len(verr.Problems))
		for _, p := range verr.Problems {
			fields = append(fields, models.FieldError{Field: p.Field, Message: p.Message, Code: p.Code})
		}
		response.BadRequest(w, r, "invalid feature flag update", fields)
		return
	case err != nil:
		h.logger.Error().Err(err).Msg("failed to update feature flags")
		response.InternalError(w, r, "failed to update feature flags")
		return
	}

	response.JSON(w, r, http.StatusOK, h.service.List(r.Context()))
}

// ResetFeatureFlag handles DELETE /v1/admin/feature-flags/{key}.
func (h *FeatureFlagsHandler) ResetFeatureFlag(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	err := h.service.Reset(r.Context(), key)
	switch {
	case errors.Is(err, featureflags.ErrFlagNotFound):
		response.NotFound(w, r, "unknown feature flag "+key)
	case err != nil:
		h.logger.Error().Err(err).Str("flag", key).Msg("failed to reset feature flag")
		response.InternalError(w, r, "failed to reset feature flag")
	default:
		response.NoContent(w, r)
	}
}

// InvalidateCache handles POST /v1/admin/feature-flags/invalidate.
func (h *FeatureFlagsHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	h.service.InvalidateCache()
	h.logger.Info().Msg("feature flag cache invalidated")
	response.NoContent(w, r)
}
