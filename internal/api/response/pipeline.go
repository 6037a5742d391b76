package response

import (
	"context"
	"errors"
	"net/http"

	"github.com/smartautomapper/sam/internal/api/models"
	"github.com/smartautomapper/sam/internal/routing"
)

// upstreamRetryAfter is the Retry-After hint sent when the routing backend rate-limits us.
const upstreamRetryAfter = 30

// PipelineError writes the problem response for a route, toll or place lookup failure.
// The detail is the user-facing message for the error.
func PipelineError(w http.ResponseWriter, r *http.Request, err error) {
	detail := routing.UserMessage(err)

	switch {
	case errors.Is(err, routing.ErrInvalidCoordinates), errors.Is(err, routing.ErrInvalidConstraint):
		BadRequest(w, r, detail, nil)
	case errors.Is(err, routing.ErrNoRouteFound):
		Error(w, r, models.NewNoRoute(traceID(r), detail))
	case errors.Is(err, routing.ErrRateLimitExceeded):
		TooManyRequests(w, r, detail, upstreamRetryAfter)
	case errors.Is(err, routing.ErrProviderUnavailable), errors.Is(err, context.Canceled):
		ServiceUnavailable(w, r, detail)
	case errors.Is(err, context.DeadlineExceeded):
		Error(w, r, models.NewGatewayTimeout(traceID(r), detail))
	case errors.Is(err, routing.ErrUpstreamRequestFailed),
		errors.Is(err, routing.ErrUnrecognizedRouteFormat),
		errors.Is(err, routing.ErrMalformedPolyline):
		BadGateway(w, r, detail)
	default:
		InternalError(w, r, detail)
	}
}
