package routing

import (
	"context"
	"errors"

	"github.com/smartautomapper/sam/internal/projection"
)

// UserMessage returns the single human-readable message shown for a failed user action.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	case errors.Is(err, context.DeadlineExceeded):
		return "The routing service took too long to answer. Please try again."
	case errors.Is(err, ErrInvalidCoordinates):
		return "Please choose a valid departure and destination."
	case errors.Is(err, ErrInvalidConstraint):
		return "The route constraint is invalid. Check the toll count or budget."
	case errors.Is(err, ErrUnrecognizedRouteFormat):
		return "The routing service returned a response that could not be read."
	case errors.Is(err, ErrMalformedPolyline):
		return "The route geometry could not be decoded."
	case errors.Is(err, projection.ErrProjectionFailure):
		return "Toll coordinates could not be converted for display."
	case errors.Is(err, ErrRateLimitExceeded):
		return "Too many requests to the routing service. Please wait a moment."
	case errors.Is(err, ErrNoRouteFound):
		return "No route was found between these places."
	case errors.Is(err, ErrProviderUnavailable):
		return "The routing service is unavailable. Please try again later."
	}

	var rerr *Error
	if errors.As(err, &rerr) && rerr.Message != "" {
		return rerr.Message
	}
	if errors.Is(err, ErrUpstreamRequestFailed) {
		return "The routing service request failed."
	}
	return "Something went wrong. Please try again."
}
