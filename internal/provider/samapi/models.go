package samapi

import (
	"encoding/json"
	"strings"

	"github.com/paulmach/orb"
)

// tollFreeRequest is the body of a route request avoiding tollways.
type tollFreeRequest struct {
	Coordinates []orb.Point  `json:"coordinates"`
	Options     routeOptions `json:"options"`
}

type routeOptions struct {
	AvoidFeatures []string `json:"avoid_features,omitempty"`
}

// tollCountRequest is the body of a smart-route request bounded by toll count.
type tollCountRequest struct {
	Coordinates  []orb.Point `json:"coordinates"`
	MaxTolls     int         `json:"max_tolls"`
	VehicleClass string      `json:"vehicle_class"`
}

// budgetRequest is the body of a smart-route request bounded by toll cost.
type budgetRequest struct {
	Coordinates     []orb.Point `json:"coordinates"`
	MaxPrice        *float64    `json:"max_price,omitempty"`
	MaxPricePercent *float64    `json:"max_price_percent,omitempty"`
	VehicleClass    string      `json:"vehicle_class"`
}

// errorResponse covers the error bodies the backend returns:
// {"error": "..."}, {"error": {"code": ..., "message": "..."}}, {"message": "..."} and {"detail": "..."}.
type errorResponse struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
	Detail  string          `json:"detail"`
}

type nestedError struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
}

// message returns the human-readable part of an error body, or "".
func (e *errorResponse) message() string {
	if len(e.Error) > 0 {
		var s string
		if err := json.Unmarshal(e.Error, &s); err == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
		var nested nestedError
		if err := json.Unmarshal(e.Error, &nested); err == nil && strings.TrimSpace(nested.Message) != "" {
			return strings.TrimSpace(nested.Message)
		}
	}
	if m := strings.TrimSpace(e.Message); m != "" {
		return m
	}
	return strings.TrimSpace(e.Detail)
}
