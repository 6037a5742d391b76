package handler

import (
	"context"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/smartautomapper/sam/internal/api/models"
	"github.com/smartautomapper/sam/internal/api/response"
	"github.com/smartautomapper/sam/internal/autocomplete"
	"github.com/smartautomapper/sam/internal/geo"
)

// maxPlaceQuery bounds the text of a place query, in runes.
const maxPlaceQuery = 200

// PlaceFinder resolves free text into place features.
type PlaceFinder interface {
	Autocomplete(ctx context.Context, text string) ([]geo.PlaceFeature, error)
	Search(ctx context.Context, text string) ([]geo.PlaceFeature, error)
}

// PlaceHandler handles place autocomplete and search endpoints.
type PlaceHandler struct {
	finder    PlaceFinder
	threshold int
	logger    zerolog.Logger
}

// NewPlaceHandler creates a new PlaceHandler. Autocomplete texts with at most
// threshold runes return no suggestions without querying the finder.
func NewPlaceHandler(finder PlaceFinder, threshold int, logger zerolog.Logger) *PlaceHandler {
	if threshold <= 0 {
		threshold = autocomplete.DefaultThreshold
	}
	return &PlaceHandler{finder: finder, threshold: threshold, logger: logger}
}

// Autocomplete handles GET /v1/places:autocomplete?text= - place suggestions.
func (h *PlaceHandler) Autocomplete(w http.ResponseWriter, r *http.Request) {
	text, ok := h.queryText(w, r)
	if !ok {
		return
	}

	if utf8.RuneCountInString(text) <= h.threshold {
		response.JSON(w, r, http.StatusOK, models.PlaceList{Query: text, Items: []geo.PlaceFeature{}})
		return
	}

	h.respond(w, r, text, h.finder.Autocomplete)
}

// Search handles GET /v1/places:search?text= - full geocoding search.
func (h *PlaceHandler) Search(w http.ResponseWriter, r *http.Request) {
	text, ok := h.queryText(w, r)
	if !ok {
		return
	}
	if text == "" {
		response.BadRequest(w, r, "text is required", []models.FieldError{
			{Field: "text", Message: "required", Code: "required"},
		})
		return
	}

	h.respond(w, r, text, h.finder.Search)
}

func (h *PlaceHandler) queryText(w http.ResponseWriter, r *http.Request) (string, bool) {
	text := strings.TrimSpace(r.URL.Query().Get("text"))
	if utf8.RuneCountInString(text) > maxPlaceQuery {
		response.BadRequest(w, r, "text is too long", []models.FieldError{
			{Field: "text", Message: "must be at most 200 characters", Code: "max_length"},
		})
		return "", false
	}
	return text, true
}

func (h *PlaceHandler) respond(w http.ResponseWriter, r *http.Request, text string, find func(context.Context, string) ([]geo.PlaceFeature, error)) {
	places, err := find(r.Context(), text)
	if err != nil {
		h.logger.Warn().Err(err).Str("text", text).Msg("place lookup failed")
		response.PipelineError(w, r, err)
		return
	}
	if places == nil {
		places = []geo.PlaceFeature{}
	}

	w.Header().Set("Cache-Control", "private, max-age=300")
	response.JSON(w, r, http.StatusOK, models.PlaceList{Query: text, Items: places})
}
