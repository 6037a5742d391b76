package tolls

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/smartautomapper/sam/internal/geo"
	"github.com/smartautomapper/sam/internal/projection"
	"github.com/smartautomapper/sam/internal/routing"
)

// idNamespace derives stable ids for records the toll service sent without one.
var idNamespace = uuid.MustParse("6f1c2a7e-3d4b-5e8f-9a01-b2c3d4e5f607")

// maxNesting bounds how deep lists of lists are followed.
const maxNesting = 8

// ReconcilerConfig holds configuration for the toll reconciler.
type ReconcilerConfig struct {
	// Projection is the projected system toll coordinates may arrive in (default: Lambert-93).
	Projection *projection.Params

	// Logger for dropped and merged records.
	Logger zerolog.Logger
}

// Reconciler turns toll responses into a flat set of geographic toll points.
// It holds no mutable state and is safe for concurrent use.
type Reconciler struct {
	projector *projection.Projector
	logger    zerolog.Logger
}

// NewReconciler creates a new Reconciler.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	params := projection.Lambert93
	if cfg.Projection != nil {
		params = *cfg.Projection
	}
	return &Reconciler{
		projector: projection.New(params),
		logger:    cfg.Logger,
	}
}

// Reconcile decodes a toll response and returns its records as one deduplicated list.
//
// The payload may be a flat list of records, a list of lists (one per route), or an
// object carrying either under "tolls". Records are keyed by id and the first record
// seen for an id wins. Records without a usable coordinate pair are dropped and counted.
func (r *Reconciler) Reconcile(payload []byte) (*Result, error) {
	records, err := collectRecords(payload)
	if err != nil {
		return &Result{Tolls: []TollPoint{}}, err
	}
	return r.ReconcileRecords(records), nil
}

// ReconcileRecords reconciles already-decoded records.
func (r *Reconciler) ReconcileRecords(records []RawRecord) *Result {
	result := &Result{Tolls: make([]TollPoint, 0, len(records))}
	seen := make(map[string]struct{}, len(records))
	incompleteSeen := make(map[string]struct{})

	for i := range records {
		rec := &records[i]

		loc, err := r.locate(rec)
		if err != nil {
			// A toll listed once per route is counted once.
			if rec.ID != "" {
				if _, dup := incompleteSeen[rec.ID]; dup {
					continue
				}
				incompleteSeen[rec.ID] = struct{}{}
				result.IncompleteIDs = append(result.IncompleteIDs, rec.ID)
			}
			result.Incomplete++
			r.logger.Warn().Err(err).
				Str("toll_id", rec.ID).
				Str("toll_name", rec.Name).
				Msg("dropping toll record without usable coordinates")
			continue
		}

		id := rec.ID
		if id == "" {
			id = derivedID(rec.Name, loc)
		}
		if _, dup := seen[id]; dup {
			result.Duplicates++
			r.logger.Debug().Str("toll_id", id).Msg("merged duplicate toll record")
			continue
		}
		seen[id] = struct{}{}

		result.Tolls = append(result.Tolls, TollPoint{
			ID:                    id,
			Name:                  rec.Name,
			Highway:               rec.Highway,
			Operator:              rec.Operator,
			BarrierType:           parseBarrierType(rec.Type),
			Location:              loc,
			DistanceToRouteMeters: rec.DistanceRoute,
		})
	}

	if result.Incomplete > 0 {
		r.logger.Warn().
			Int("incomplete", result.Incomplete).
			Int("kept", len(result.Tolls)).
			Msg("some toll records were incomplete")
	}
	return result
}

// locate returns the geographic location of a record.
//
// x/y are always projected and lon/lat always geographic. longitude/latitude are
// geographic when they fall in range; otherwise they are read as projected
// easting/northing, which is how the toll dataset stores them.
func (r *Reconciler) locate(rec *RawRecord) (geo.Point, error) {
	switch {
	case rec.X != nil && rec.Y != nil:
		return r.project(*rec.X, *rec.Y)
	case rec.Lon != nil && rec.Lat != nil:
		return geographic(*rec.Lon, *rec.Lat)
	case rec.Longitude != nil && rec.Latitude != nil:
		p := geo.Point{Lon: *rec.Longitude, Lat: *rec.Latitude}
		if p.Valid() {
			return p, nil
		}
		return r.project(*rec.Longitude, *rec.Latitude)
	default:
		return geo.Point{}, fmt.Errorf("%w: no coordinate pair", ErrIncompleteTollRecord)
	}
}

func (r *Reconciler) project(x, y float64) (geo.Point, error) {
	p, err := r.projector.Inverse(x, y)
	if err != nil {
		return geo.Point{}, fmt.Errorf("%w: %w", ErrIncompleteTollRecord, err)
	}
	if !p.Valid() {
		return geo.Point{}, fmt.Errorf("%w: projected point %s out of range", ErrIncompleteTollRecord, p)
	}
	return p, nil
}

func geographic(lon, lat float64) (geo.Point, error) {
	p := geo.Point{Lon: lon, Lat: lat}
	if err := p.Validate(); err != nil {
		return geo.Point{}, fmt.Errorf("%w: %w", ErrIncompleteTollRecord, err)
	}
	return p, nil
}

// derivedID builds a stable id from a record's name and location.
func derivedID(name string, loc geo.Point) string {
	key := fmt.Sprintf("%s|%.6f|%.6f", strings.ToLower(strings.TrimSpace(name)), loc.Lon, loc.Lat)
	return uuid.NewSHA1(idNamespace, []byte(key)).String()
}

// collectRecords flattens every supported payload layout into one record list, in order.
func collectRecords(payload []byte) ([]RawRecord, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedTollPayload)
	}

	var records []RawRecord
	if err := collect(payload, 0, true, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func collect(raw json.RawMessage, depth int, top bool, out *[]RawRecord) error {
	if depth > maxNesting {
		return fmt.Errorf("%w: lists nested too deeply", ErrMalformedTollPayload)
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	switch raw[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return fmt.Errorf("%w: %s", ErrMalformedTollPayload, err.Error())
		}
		for _, item := range items {
			if err := collect(item, depth+1, false, out); err != nil {
				return err
			}
		}
		return nil

	case '{':
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return fmt.Errorf("%w: %s", ErrMalformedTollPayload, err.Error())
		}
		for key, v := range wrapper {
			if strings.EqualFold(key, "tolls") {
				return collect(v, depth+1, false, out)
			}
		}
		if top {
			if msg := upstreamMessage(wrapper); msg != "" {
				return &routing.Error{Code: "UPSTREAM_ERROR", Message: msg, Err: routing.ErrUpstreamRequestFailed}
			}
			return fmt.Errorf("%w: object without a tolls list", ErrMalformedTollPayload)
		}

		var rec RawRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("%w: %s", ErrMalformedTollPayload, err.Error())
		}
		*out = append(*out, rec)
		return nil

	case 'n':
		return nil

	default:
		if top {
			return fmt.Errorf("%w: top-level scalar", ErrMalformedTollPayload)
		}
		// Scalars inside a list carry no record.
		return nil
	}
}

// upstreamMessage extracts the message of an {"error": ...} body.
func upstreamMessage(obj map[string]json.RawMessage) string {
	for _, key := range []string{"error", "message", "detail"} {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(raw, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
	}
	return ""
}
