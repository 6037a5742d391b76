package response_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/smartautomapper/sam/internal/api/models"
	"github.com/smartautomapper/sam/internal/api/response"
	"github.com/smartautomapper/sam/internal/routing"
)

func TestPipelineError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantDetail string
	}{
		{
			name:       "invalid coordinates",
			err:        fmt.Errorf("origin: %w", routing.ErrInvalidCoordinates),
			wantStatus: http.StatusBadRequest,
			wantDetail: "Please choose a valid departure and destination.",
		},
		{
			name:       "invalid constraint",
			err:        routing.ErrInvalidConstraint,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "no route",
			err:        &routing.Error{Provider: "sam-api", Code: "NO_ROUTE", Message: "no route", Err: routing.ErrNoRouteFound},
			wantStatus: http.StatusNotFound,
			wantDetail: "No route was found between these places.",
		},
		{
			name:       "upstream rate limited",
			err:        &routing.Error{Provider: "sam-api", Code: "RATE_LIMIT", Message: "slow down", Err: routing.ErrRateLimitExceeded},
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name:       "provider unavailable",
			err:        &routing.Error{Provider: "sam-api", Code: "SERVER_503", Message: "down", Err: routing.ErrProviderUnavailable},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "upstream message",
			err:        &routing.Error{Provider: "sam-api", Code: "BAD_REQUEST", Message: "Aucun itinéraire trouvé", Err: routing.ErrUpstreamRequestFailed},
			wantStatus: http.StatusBadGateway,
			wantDetail: "Aucun itinéraire trouvé",
		},
		{
			name:       "unrecognized payload",
			err:        routing.ErrUnrecognizedRouteFormat,
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "deadline",
			err:        context.DeadlineExceeded,
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name:       "unknown",
			err:        fmt.Errorf("boom"),
			wantStatus: http.StatusInternalServerError,
			wantDetail: "Something went wrong. Please try again.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := requestWithContext(t, http.MethodPost, "/v1/routes:compute")

			response.PipelineError(rec, req, tt.err)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Errorf("expected problem content type, got %q", ct)
			}

			var problem models.Problem
			if err := json.NewDecoder(rec.Body).Decode(&problem); err != nil {
				t.Fatalf("failed to decode Problem response: %v", err)
			}
			if problem.Detail == "" {
				t.Error("expected a user-facing detail")
			}
			if tt.wantDetail != "" && problem.Detail != tt.wantDetail {
				t.Errorf("expected detail %q, got %q", tt.wantDetail, problem.Detail)
			}
			if problem.Instance != "/v1/routes:compute" {
				t.Errorf("expected instance /v1/routes:compute, got %q", problem.Instance)
			}
			wantRetry := tt.wantStatus == http.StatusTooManyRequests || tt.wantStatus >= http.StatusBadGateway
			if problem.Retryable != wantRetry {
				t.Errorf("expected retryable=%v, got %v", wantRetry, problem.Retryable)
			}
		})
	}
}

func TestPipelineError_RateLimitRetryAfter(t *testing.T) {
	req, rec := requestWithContext(t, http.MethodGet, "/v1/places:autocomplete")

	response.PipelineError(rec, req, fmt.Errorf("autocomplete: %w", routing.ErrRateLimitExceeded))

	if h := rec.Header().Get("Retry-After"); h != "30" {
		t.Errorf("expected Retry-After 30, got %q", h)
	}
}
