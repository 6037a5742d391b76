// Package tolls reconciles toll-barrier records returned for computed routes into a
// single deduplicated set of geographic toll points.
package tolls

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/smartautomapper/sam/internal/geo"
)

// Sentinel errors for toll reconciliation.
var (
	// ErrIncompleteTollRecord indicates a record without a usable coordinate pair.
	// Such records are counted and dropped, never returned as a failure of the whole lookup.
	ErrIncompleteTollRecord = errors.New("incomplete toll record")
	// ErrMalformedTollPayload indicates a toll response that is neither a list nor a wrapping object.
	ErrMalformedTollPayload = errors.New("malformed toll payload")
)

// BarrierType is the kind of toll barrier.
type BarrierType string

const (
	BarrierOpen    BarrierType = "open"
	BarrierClosed  BarrierType = "closed"
	BarrierUnknown BarrierType = ""
)

// parseBarrierType accepts the French and English barrier names.
func parseBarrierType(s string) BarrierType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ouvert", "open", "o":
		return BarrierOpen
	case "ferme", "fermé", "closed", "f":
		return BarrierClosed
	default:
		return BarrierUnknown
	}
}

// TollPoint is one reconciled toll barrier. Location is always geographic.
type TollPoint struct {
	ID                    string      `json:"id"`
	Name                  string      `json:"name"`
	Highway               string      `json:"highway,omitempty"`
	Operator              string      `json:"operator,omitempty"`
	BarrierType           BarrierType `json:"barrierType,omitempty"`
	Location              geo.Point   `json:"location"`
	DistanceToRouteMeters *float64    `json:"distanceToRouteMeters,omitempty"`
}

// RawRecord is one toll record as sent by the toll service. Member names are
// matched case-insensitively; numeric members may be numbers or numeric strings.
type RawRecord struct {
	ID            string
	Name          string
	Highway       string
	Operator      string
	Type          string
	DistanceRoute *float64

	// Longitude and Latitude hold either degrees or, in the toll dataset,
	// Lambert-93 easting and northing stored under geographic names.
	Longitude *float64
	Latitude  *float64

	// X and Y are explicitly projected coordinates.
	X *float64
	Y *float64

	// Lon and Lat are explicitly geographic coordinates.
	Lon *float64
	Lat *float64
}

// UnmarshalJSON decodes a record, folding member names to lower case.
// When two members fold to the same name, the lower-case spelling wins.
func (r *RawRecord) UnmarshalJSON(data []byte) error {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return err
	}

	folded := make(map[string]json.RawMessage, len(members))
	for k, v := range members {
		key := strings.ToLower(k)
		if _, seen := folded[key]; !seen || k == key {
			folded[key] = v
		}
	}

	*r = RawRecord{
		ID:            idString(folded["id"]),
		Name:          firstString(folded, "nom", "name", "libelle"),
		Highway:       firstString(folded, "autoroute", "highway", "route"),
		Operator:      firstString(folded, "operator", "operateur", "societe"),
		Type:          firstString(folded, "type", "barrier_type"),
		DistanceRoute: firstNumber(folded, "distance_route", "distance_to_route", "distance"),
		Longitude:     number(folded["longitude"]),
		Latitude:      number(folded["latitude"]),
		X:             number(folded["x"]),
		Y:             number(folded["y"]),
		Lon:           firstNumber(folded, "lon", "lng"),
		Lat:           number(folded["lat"]),
	}
	return nil
}

// idString reads an id given as a string or a number.
func idString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == 'n' {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return ""
	}
	return n.String()
}

func firstString(m map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		raw, ok := m[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

func firstNumber(m map[string]json.RawMessage, keys ...string) *float64 {
	for _, key := range keys {
		if v := number(m[key]); v != nil {
			return v
		}
	}
	return nil
}

// number reads a finite number given as a JSON number or a numeric string.
func number(raw json.RawMessage) *float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	var f float64
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(s, ",", ".")), 64)
		if err != nil {
			return nil
		}
		f = v
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil
		}
	default:
		return nil
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// Result is the reconciled toll set for one lookup.
type Result struct {
	Tolls []TollPoint `json:"tolls"`
	// Incomplete counts records dropped for lack of a usable coordinate pair.
	Incomplete    int      `json:"incomplete"`
	IncompleteIDs []string `json:"incompleteIds,omitempty"`
	// Duplicates counts records merged into an earlier record with the same id.
	Duplicates int `json:"duplicates"`
	// Disabled is set when toll lookups are switched off.
	Disabled bool `json:"disabled,omitempty"`
}

// Warning returns the message shown when some toll data was incomplete, or "".
func (r *Result) Warning() string {
	switch {
	case r == nil || r.Incomplete == 0:
		return ""
	case r.Incomplete == 1:
		return "1 toll could not be placed on the map because its location is missing."
	default:
		return fmt.Sprintf("%d tolls could not be placed on the map because their location is missing.", r.Incomplete)
	}
}
