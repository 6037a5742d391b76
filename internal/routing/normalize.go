package routing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/smartautomapper/sam/internal/geo"
	"github.com/smartautomapper/sam/pkg/polyline"
)

// NormalizerConfig holds configuration for the route normalizer.
type NormalizerConfig struct {
	// Provider names the upstream in errors built from error-status payloads.
	Provider string

	// Logger for classification decisions.
	Logger zerolog.Logger
}

// Normalizer converts routing-service responses of any supported shape into RouteStrategies.
// It holds no mutable state and is safe for concurrent use.
type Normalizer struct {
	provider string
	logger   zerolog.Logger
}

// NewNormalizer creates a new Normalizer.
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	provider := cfg.Provider
	if provider == "" {
		provider = "upstream"
	}
	return &Normalizer{
		provider: provider,
		logger:   cfg.Logger,
	}
}

// candidate is a route read from a payload, before it gets its strategy label.
type candidate struct {
	path    geo.Path
	metrics routeMetrics
	steps   stepSources
}

func (c candidate) strategy(kind StrategyKind, key string) RouteStrategy {
	return RouteStrategy{
		Kind:            kind,
		Key:             key,
		Geometry:        c.path,
		DistanceMeters:  c.metrics.distance,
		DurationSeconds: c.metrics.duration,
		CostEuros:       c.metrics.cost,
		TollCount:       c.metrics.tollCount,
		Steps:           c.steps.resolve(),
	}
}

// Normalize classifies one upstream response and returns its route strategies.
//
// Shapes are tried in this order: an object with a routes list; a single route
// object with a top-level geometry; GeoJSON (LineString, Feature, FeatureCollection);
// a status-tagged map of strategy entries; a flat map whose values are line geometries.
// A top-level JSON string is an encoded polyline.
//
// The result is never nil. A payload matching no shape returns an empty result and
// ErrUnrecognizedRouteFormat; a recognized payload with no routes returns an empty
// result and no error. Entries of multi-route payloads that fail are listed in
// Skipped without discarding the others.
func (n *Normalizer) Normalize(data []byte) (*NormalizeResult, error) {
	trimmed := bytes.TrimSpace(data)

	var (
		result *NormalizeResult
		err    error
	)
	switch jsonKind(trimmed) {
	case '"':
		result, err = n.normalizeString(trimmed)
	case '{':
		obj, decErr := decodeObject(trimmed)
		if decErr != nil {
			return &NormalizeResult{}, fmt.Errorf("%w: %s", ErrUnrecognizedRouteFormat, decErr.Error())
		}
		result, err = n.normalizeObject(obj)
	case '[':
		result, err = n.normalizeArray(trimmed)
	case 0:
		return &NormalizeResult{}, fmt.Errorf("%w: empty payload", ErrUnrecognizedRouteFormat)
	default:
		return &NormalizeResult{}, fmt.Errorf("%w: top-level scalar", ErrUnrecognizedRouteFormat)
	}

	if result == nil {
		result = &NormalizeResult{}
	}
	if result.Strategies == nil {
		result.Strategies = []RouteStrategy{}
	}

	if err != nil {
		n.logger.Debug().Err(err).Str("shape", string(result.Shape)).Msg("route response rejected")
		return result, err
	}

	for _, sk := range result.Skipped {
		n.logger.Warn().Err(sk.Err).Str("key", sk.Key).Str("shape", string(result.Shape)).
			Msg("skipping unreadable route strategy")
	}
	n.logger.Debug().
		Str("shape", string(result.Shape)).
		Int("strategies", len(result.Strategies)).
		Int("skipped", len(result.Skipped)).
		Msg("classified route response")

	return result, nil
}

func (n *Normalizer) normalizeString(data []byte) (*NormalizeResult, error) {
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnrecognizedRouteFormat, err.Error())
	}
	path, err := decodePolyline(encoded)
	if err != nil {
		return &NormalizeResult{Shape: ShapePolyline}, err
	}
	c := candidate{path: path}
	return &NormalizeResult{
		Shape:      ShapePolyline,
		Strategies: []RouteStrategy{c.strategy(KindSingle, "")},
	}, nil
}

func (n *Normalizer) normalizeObject(obj *object) (*NormalizeResult, error) {
	if msg, failed := upstreamFailure(obj); failed {
		return nil, &Error{
			Provider: n.provider,
			Code:     "UPSTREAM_ERROR",
			Message:  msg,
			Err:      ErrUpstreamRequestFailed,
		}
	}

	// 1. routes list
	if routes, ok := obj.raw("routes"); ok && jsonKind(routes) == '[' {
		return n.fromRouteList(ShapeRouteList, routes, "routes")
	}

	geoType, _ := obj.str("type")

	// 2. single route object
	if obj.has("geometry") && geoType != "Feature" {
		c, err := readRouteObject(obj)
		if err != nil {
			return &NormalizeResult{Shape: ShapeSingleRoute}, err
		}
		return &NormalizeResult{
			Shape:      ShapeSingleRoute,
			Strategies: []RouteStrategy{c.strategy(KindSingle, "")},
		}, nil
	}

	// 3. GeoJSON passthrough
	if isGeoJSONType(geoType) {
		cands, err := readGeoJSON(obj, geoType)
		if err != nil {
			return &NormalizeResult{Shape: ShapeGeoJSON}, err
		}
		result := &NormalizeResult{Shape: ShapeGeoJSON}
		for _, c := range cands {
			result.Strategies = append(result.Strategies, c.strategy(KindSingle, ""))
		}
		return result, nil
	}

	// 4. status-tagged strategy map
	if obj.has("status") {
		return n.fromStrategyMap(obj)
	}

	// 5. flat map of line geometries
	return n.fromGeometryMap(obj)
}

func (n *Normalizer) normalizeArray(data []byte) (*NormalizeResult, error) {
	return n.fromRouteList(ShapeRouteList, data, "")
}

// fromRouteList reads every element of a route list. Elements that fail are skipped.
func (n *Normalizer) fromRouteList(shape Shape, raw json.RawMessage, prefix string) (*NormalizeResult, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return &NormalizeResult{Shape: shape}, fmt.Errorf("%w: %s", ErrUnrecognizedRouteFormat, err.Error())
	}

	result := &NormalizeResult{Shape: shape}
	for i, item := range items {
		key := fmt.Sprintf("%s[%d]", prefix, i)
		cands, err := readCandidates(item)
		if err == nil && len(cands) == 0 {
			err = fmt.Errorf("%w: no line geometry", ErrUnrecognizedRouteFormat)
		}
		if err != nil {
			result.Skipped = append(result.Skipped, SkippedStrategy{Key: key, Err: err})
			continue
		}
		for _, c := range cands {
			result.Strategies = append(result.Strategies, c.strategy(KindSingle, ""))
		}
	}

	return result, allFailed(result)
}

// fromStrategyMap reads a status-tagged map. Known strategy keys come first in the
// order fastest, cheapest, min_tolls; other entries follow in document order.
func (n *Normalizer) fromStrategyMap(obj *object) (*NormalizeResult, error) {
	type entry struct {
		key  string
		kind StrategyKind
		raw  json.RawMessage
	}

	var entries []entry
	for _, key := range obj.keys {
		if key == "status" {
			continue
		}
		raw, ok := obj.raw(key)
		if !ok || jsonKind(raw) != '{' {
			n.logger.Debug().Str("key", key).Msg("ignoring non-strategy member")
			continue
		}
		kind := ParseStrategyKind(key)
		if kind == KindUnknown && !routeLike(raw) {
			n.logger.Debug().Str("key", key).Msg("ignoring non-strategy member")
			continue
		}
		entries = append(entries, entry{key: key, kind: kind, raw: raw})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return strategyRank(entries[i].kind) < strategyRank(entries[j].kind)
	})

	result := &NormalizeResult{Shape: ShapeStrategyMap}
	for _, e := range entries {
		c, err := readStrategyEntry(e.raw)
		if err != nil {
			result.Skipped = append(result.Skipped, SkippedStrategy{Key: e.key, Err: err})
			continue
		}
		result.Strategies = append(result.Strategies, c.strategy(e.kind, e.key))
	}

	return result, allFailed(result)
}

// fromGeometryMap reads a map whose values are line geometries, in document order.
func (n *Normalizer) fromGeometryMap(obj *object) (*NormalizeResult, error) {
	result := &NormalizeResult{Shape: ShapeGeometryMap}
	for _, key := range obj.keys {
		raw, ok := obj.raw(key)
		if !ok || jsonKind(raw) != '{' {
			continue
		}
		child, err := decodeObject(raw)
		if err != nil {
			continue
		}
		geoType, _ := child.str("type")
		if !isGeoJSONType(geoType) {
			continue
		}

		cands, err := readGeoJSON(child, geoType)
		if err != nil {
			result.Skipped = append(result.Skipped, SkippedStrategy{Key: key, Err: err})
			continue
		}
		if len(cands) == 0 {
			continue
		}
		result.Strategies = append(result.Strategies, cands[0].strategy(KindUnknown, key))
	}

	if len(result.Strategies) == 0 && len(result.Skipped) == 0 {
		return &NormalizeResult{}, fmt.Errorf("%w: no recognizable route in object with keys [%s]",
			ErrUnrecognizedRouteFormat, strings.Join(obj.keys, ", "))
	}
	return result, allFailed(result)
}

// routeLike reports whether an object member of a strategy map carries route data.
// Members under unknown keys without it are metadata.
func routeLike(raw json.RawMessage) bool {
	obj, err := decodeObject(raw)
	if err != nil {
		return false
	}
	for _, key := range []string{"route", "geometry", "routes", "coordinates", "features"} {
		if obj.has(key) {
			return true
		}
	}
	geoType, _ := obj.str("type")
	return isGeoJSONType(geoType)
}

// allFailed returns the first skip error when every entry of a non-empty payload failed.
func allFailed(result *NormalizeResult) error {
	if len(result.Strategies) == 0 && len(result.Skipped) > 0 {
		return result.Skipped[0].Err
	}
	return nil
}

// upstreamFailure detects an error-status payload and extracts its message.
func upstreamFailure(obj *object) (string, bool) {
	status, hasStatus := obj.str("status")
	if hasStatus && !strings.EqualFold(status, "error") {
		return "", false
	}
	if !hasStatus {
		// A bare {"error": ...} body carries no route members.
		if !obj.has("error") || obj.has("routes") || obj.has("geometry") || obj.has("type") {
			return "", false
		}
	}

	for _, key := range []string{"message", "error", "detail"} {
		if msg, ok := obj.str(key); ok && msg != "" {
			return msg, true
		}
		if child, ok := obj.child(key); ok {
			if msg, ok := child.str("message"); ok && msg != "" {
				return msg, true
			}
		}
	}
	return "routing service reported an error", true
}

func isGeoJSONType(t string) bool {
	switch t {
	case "FeatureCollection", "Feature", "LineString", "MultiLineString":
		return true
	default:
		return false
	}
}

// readCandidates reads every route carried by a value: an encoded polyline, a
// coordinate list, a route object, a strategy entry, or GeoJSON.
func readCandidates(raw json.RawMessage) ([]candidate, error) {
	switch jsonKind(raw) {
	case '"':
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnrecognizedRouteFormat, err.Error())
		}
		path, err := decodePolyline(encoded)
		if err != nil {
			return nil, err
		}
		return []candidate{{path: path}}, nil
	case '[':
		path, err := decodeCoordinates(raw)
		if err != nil {
			return nil, err
		}
		return []candidate{{path: path}}, nil
	case '{':
		obj, err := decodeObject(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrUnrecognizedRouteFormat, err.Error())
		}
		return readObjectCandidates(obj)
	default:
		return nil, fmt.Errorf("%w: value is not a route", ErrUnrecognizedRouteFormat)
	}
}

func readObjectCandidates(obj *object) ([]candidate, error) {
	geoType, _ := obj.str("type")
	switch {
	case isGeoJSONType(geoType):
		return readGeoJSON(obj, geoType)
	case obj.has("route"):
		c, err := readStrategyEntryObject(obj)
		if err != nil {
			return nil, err
		}
		return []candidate{c}, nil
	case obj.has("routes"):
		routes, _ := obj.raw("routes")
		var items []json.RawMessage
		if err := json.Unmarshal(routes, &items); err != nil {
			return nil, fmt.Errorf("%w: routes is not a list", ErrUnrecognizedRouteFormat)
		}
		var out []candidate
		for _, item := range items {
			cands, err := readCandidates(item)
			if err != nil {
				return nil, err
			}
			out = append(out, cands...)
		}
		return out, nil
	case obj.has("geometry"):
		c, err := readRouteObject(obj)
		if err != nil {
			return nil, err
		}
		return []candidate{c}, nil
	case obj.has("coordinates"):
		coords, _ := obj.raw("coordinates")
		path, err := decodeCoordinates(coords)
		if err != nil {
			return nil, err
		}
		return []candidate{{path: path}}, nil
	default:
		return nil, fmt.Errorf("%w: object carries no route geometry", ErrUnrecognizedRouteFormat)
	}
}

// readStrategyEntry reads one entry of a status-tagged strategy map.
func readStrategyEntry(raw json.RawMessage) (candidate, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return candidate{}, fmt.Errorf("%w: %s", ErrUnrecognizedRouteFormat, err.Error())
	}
	if obj.has("route") {
		return readStrategyEntryObject(obj)
	}
	cands, err := readObjectCandidates(obj)
	if err != nil {
		return candidate{}, err
	}
	if len(cands) == 0 {
		return candidate{}, fmt.Errorf("%w: strategy has no line geometry", ErrUnrecognizedRouteFormat)
	}
	return cands[0], nil
}

// readStrategyEntryObject reads an entry that wraps its route under "route".
// Entry-level figures override the route's own; entry-level steps are the last fallback.
func readStrategyEntryObject(obj *object) (candidate, error) {
	inner, _ := obj.raw("route")
	cands, err := readCandidates(inner)
	if err != nil {
		return candidate{}, err
	}
	if len(cands) == 0 {
		return candidate{}, fmt.Errorf("%w: strategy route has no line geometry", ErrUnrecognizedRouteFormat)
	}

	c := cands[0]
	metrics := readMetrics(obj)
	metrics.fill(c.metrics)
	c.metrics = metrics
	if steps, ok := obj.raw("steps"); ok {
		c.steps.entry = readSteps(steps)
	}
	return c, nil
}

// readRouteObject reads a route object whose "geometry" is an encoded polyline,
// a GeoJSON line geometry, or a coordinate list.
func readRouteObject(obj *object) (candidate, error) {
	raw, _ := obj.raw("geometry")

	var (
		path geo.Path
		err  error
	)
	switch jsonKind(raw) {
	case '"':
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return candidate{}, fmt.Errorf("%w: %s", ErrUnrecognizedRouteFormat, err.Error())
		}
		path, err = decodePolyline(encoded)
	case '{':
		var isLine bool
		path, isLine, err = decodeLineGeometry(raw)
		if err == nil && !isLine {
			err = fmt.Errorf("%w: route geometry is not a line", ErrUnrecognizedRouteFormat)
		}
	case '[':
		path, err = decodeCoordinates(raw)
	default:
		err = fmt.Errorf("%w: unsupported geometry value", ErrUnrecognizedRouteFormat)
	}
	if err != nil {
		return candidate{}, err
	}

	return candidate{
		path:    path,
		metrics: readMetrics(obj),
		steps:   readStepSources(obj),
	}, nil
}

// readGeoJSON reads the line geometries of a GeoJSON object. Non-line features are ignored.
func readGeoJSON(obj *object, geoType string) ([]candidate, error) {
	switch geoType {
	case "FeatureCollection":
		raw, ok := obj.raw("features")
		if !ok {
			return nil, nil
		}
		var features []json.RawMessage
		if err := json.Unmarshal(raw, &features); err != nil {
			return nil, fmt.Errorf("%w: features is not a list", ErrUnrecognizedRouteFormat)
		}
		var out []candidate
		for _, f := range features {
			fobj, err := decodeObject(f)
			if err != nil {
				return nil, fmt.Errorf("%w: %s", ErrUnrecognizedRouteFormat, err.Error())
			}
			c, isLine, err := readFeature(fobj)
			if err != nil {
				return nil, err
			}
			if isLine {
				out = append(out, c)
			}
		}
		return out, nil

	case "Feature":
		c, isLine, err := readFeature(obj)
		if err != nil || !isLine {
			return nil, err
		}
		return []candidate{c}, nil

	default:
		raw, err := json.Marshal(obj.fields)
		if err != nil {
			return nil, err
		}
		path, isLine, err := decodeLineGeometry(raw)
		if err != nil || !isLine {
			return nil, err
		}
		return []candidate{{path: path}}, nil
	}
}

// readFeature reads a GeoJSON feature. isLine is false for non-line geometries.
func readFeature(obj *object) (c candidate, isLine bool, err error) {
	raw, ok := obj.raw("geometry")
	if !ok {
		return candidate{}, false, nil
	}
	path, isLine, err := decodeLineGeometry(raw)
	if err != nil || !isLine {
		return candidate{}, false, err
	}

	c = candidate{path: path}
	if props, ok := obj.child("properties"); ok {
		c.metrics = readMetrics(props)
		c.steps = readStepSources(props)
	}
	return c, true, nil
}

// decodeLineGeometry decodes a GeoJSON geometry. MultiLineString parts are joined in order.
func decodeLineGeometry(raw []byte) (geo.Path, bool, error) {
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s", ErrUnrecognizedRouteFormat, err.Error())
	}

	var path geo.Path
	switch geom := g.Geometry().(type) {
	case orb.LineString:
		path = geo.PathFromLineString(geom)
	case orb.MultiLineString:
		for _, ls := range geom {
			path = append(path, geo.PathFromLineString(ls)...)
		}
	default:
		return nil, false, nil
	}

	if len(path) == 0 {
		return nil, true, fmt.Errorf("%w: empty line geometry", ErrUnrecognizedRouteFormat)
	}
	if !path.Valid() {
		return nil, true, fmt.Errorf("%w: line coordinates out of range", ErrUnrecognizedRouteFormat)
	}
	return path, true, nil
}

// decodeCoordinates decodes a bare [[lon, lat], ...] list.
func decodeCoordinates(raw []byte) (geo.Path, error) {
	var pairs [][]float64
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, fmt.Errorf("%w: coordinates are not a list of positions", ErrUnrecognizedRouteFormat)
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: empty coordinate list", ErrUnrecognizedRouteFormat)
	}

	path := make(geo.Path, 0, len(pairs))
	for _, p := range pairs {
		if len(p) < 2 {
			return nil, fmt.Errorf("%w: position with %d values", ErrUnrecognizedRouteFormat, len(p))
		}
		path = append(path, geo.Point{Lon: p[0], Lat: p[1]})
	}
	if !path.Valid() {
		return nil, fmt.Errorf("%w: coordinates out of range", ErrUnrecognizedRouteFormat)
	}
	return path, nil
}

// decodePolyline decodes an encoded polyline into a path in (lon, lat) order.
func decodePolyline(encoded string) (geo.Path, error) {
	if encoded == "" {
		return nil, fmt.Errorf("%w: empty geometry", ErrMalformedPolyline)
	}
	coords, err := polyline.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPolyline, err)
	}

	path := make(geo.Path, len(coords))
	for i, c := range coords {
		path[i] = geo.Point{Lon: c.Lon, Lat: c.Lat}
	}
	if !path.Valid() {
		return nil, fmt.Errorf("%w: decoded coordinates out of range", ErrMalformedPolyline)
	}
	return path, nil
}
