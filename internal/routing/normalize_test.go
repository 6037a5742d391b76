package routing

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(NormalizerConfig{Provider: "test-provider", Logger: zerolog.Nop()})
}

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("reading fixture %s: %v", name, err)
	}
	return data
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNormalize_TopLevelPolyline(t *testing.T) {
	n := newTestNormalizer()

	result, err := n.Normalize([]byte("\"_p~iF~ps|U_ulLnnqC_mqNvxq`@\""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Shape != ShapePolyline {
		t.Errorf("expected shape %s, got %s", ShapePolyline, result.Shape)
	}
	if len(result.Strategies) != 1 {
		t.Fatalf("expected 1 strategy, got %d", len(result.Strategies))
	}

	route := result.Strategies[0]
	if route.Kind != KindSingle {
		t.Errorf("expected kind %s, got %s", KindSingle, route.Kind)
	}
	if len(route.Geometry) != 3 {
		t.Fatalf("expected 3 points, got %d", len(route.Geometry))
	}

	expected := [][2]float64{{-120.2, 38.5}, {-120.95, 40.7}, {-126.453, 43.252}}
	for i, want := range expected {
		got := route.Geometry[i]
		if !almostEqual(got.Lon, want[0]) || !almostEqual(got.Lat, want[1]) {
			t.Errorf("point %d: expected (%v, %v), got (%v, %v)", i, want[0], want[1], got.Lon, got.Lat)
		}
	}
	if route.Steps == nil || len(route.Steps) != 0 {
		t.Errorf("expected empty non-nil steps, got %#v", route.Steps)
	}
	if route.DistanceMeters != nil || route.CostEuros != nil || route.TollCount != nil {
		t.Error("expected absent numeric fields for a bare polyline")
	}
}

func TestNormalize_Unrecognized(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "unknown object", payload: `{"foo":"bar"}`},
		{name: "empty payload", payload: ``},
		{name: "whitespace", payload: "  \n "},
		{name: "number", payload: `42`},
		{name: "boolean", payload: `true`},
		{name: "invalid json object", payload: `{"routes": [`},
		{name: "object of scalars", payload: `{"a": 1, "b": [1, 2]}`},
	}

	n := newTestNormalizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := n.Normalize([]byte(tt.payload))
			if !errors.Is(err, ErrUnrecognizedRouteFormat) {
				t.Fatalf("expected ErrUnrecognizedRouteFormat, got %v", err)
			}
			if result == nil {
				t.Fatal("expected non-nil result")
			}
			if len(result.Strategies) != 0 {
				t.Errorf("expected no strategies, got %d", len(result.Strategies))
			}
		})
	}
}

func TestNormalize_RecognizedButEmpty(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		shape   Shape
	}{
		{name: "empty routes list", payload: `{"routes": []}`, shape: ShapeRouteList},
		{name: "empty feature collection", payload: `{"type": "FeatureCollection", "features": []}`, shape: ShapeGeoJSON},
		{name: "status only", payload: `{"status": "success"}`, shape: ShapeStrategyMap},
		{name: "point feature only", payload: `{"type": "Feature", "geometry": {"type": "Point", "coordinates": [2.35, 48.85]}, "properties": {}}`, shape: ShapeGeoJSON},
	}

	n := newTestNormalizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := n.Normalize([]byte(tt.payload))
			if err != nil {
				t.Fatalf("expected no error for a recognized payload, got %v", err)
			}
			if result.Shape != tt.shape {
				t.Errorf("expected shape %s, got %s", tt.shape, result.Shape)
			}
			if len(result.Strategies) != 0 {
				t.Errorf("expected no strategies, got %d", len(result.Strategies))
			}
		})
	}
}

func TestNormalize_RouteList(t *testing.T) {
	n := newTestNormalizer()

	result, err := n.Normalize(loadFixture(t, "ors_directions.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Shape != ShapeRouteList {
		t.Errorf("expected shape %s, got %s", ShapeRouteList, result.Shape)
	}
	if len(result.Strategies) != 1 {
		t.Fatalf("expected 1 strategy, got %d", len(result.Strategies))
	}

	route := result.Strategies[0]
	if len(route.Geometry) != 3 {
		t.Errorf("expected 3 points, got %d", len(route.Geometry))
	}
	if route.DistanceMeters == nil || *route.DistanceMeters != 12345.6 {
		t.Errorf("expected distance 12345.6 from summary, got %v", route.DistanceMeters)
	}
	if route.DurationSeconds == nil || *route.DurationSeconds != 2456.7 {
		t.Errorf("expected duration 2456.7 from summary, got %v", route.DurationSeconds)
	}
	if len(route.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(route.Steps))
	}
	if route.Steps[0].Kind != ManeuverDepart {
		t.Errorf("expected first step kind %s, got %s", ManeuverDepart, route.Steps[0].Kind)
	}
	if route.Steps[1].RoadName != "Rue de Rivoli" {
		t.Errorf("expected road name 'Rue de Rivoli', got %q", route.Steps[1].RoadName)
	}
	if route.Steps[2].Kind != ManeuverArrive || route.Steps[2].RoadName != "" {
		t.Errorf("expected arrive step with placeholder name dropped, got %+v", route.Steps[2])
	}
}

func TestNormalize_RouteListSkipsBrokenEntries(t *testing.T) {
	n := newTestNormalizer()

	payload := `{"routes": [
		{"geometry": "_p~iF~ps|U_ulLnnqC"},
		{"geometry": "_p~iF~ps|"},
		{"geometry": [[2.35, 48.85], [2.36, 48.86], [2.37, 48.87]]}
	]}`

	result, err := n.Normalize([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Strategies) != 2 {
		t.Fatalf("expected 2 strategies, got %d", len(result.Strategies))
	}
	if len(result.Skipped) != 1 {
		t.Fatalf("expected 1 skipped entry, got %d", len(result.Skipped))
	}
	if result.Skipped[0].Key != "routes[1]" {
		t.Errorf("expected skipped key routes[1], got %q", result.Skipped[0].Key)
	}
	if !errors.Is(result.Skipped[0].Err, ErrMalformedPolyline) {
		t.Errorf("expected ErrMalformedPolyline, got %v", result.Skipped[0].Err)
	}
}

func TestNormalize_AllEntriesBroken(t *testing.T) {
	n := newTestNormalizer()

	result, err := n.Normalize([]byte(`{"routes": [{"geometry": ""}, {"geometry": "_p~iF~ps|"}]}`))
	if !errors.Is(err, ErrMalformedPolyline) {
		t.Fatalf("expected ErrMalformedPolyline, got %v", err)
	}
	if len(result.Strategies) != 0 {
		t.Errorf("expected no strategies, got %d", len(result.Strategies))
	}
}

func TestNormalize_SingleRoute(t *testing.T) {
	n := newTestNormalizer()

	payload := `{
		"geometry": {"type": "LineString", "coordinates": [[2.35, 48.85], [2.40, 48.80]]},
		"distance": "1500",
		"duration": 120,
		"toll_count": 2,
		"cost": null,
		"steps": [{"type": 11, "instruction": "Head north", "distance": 10, "duration": 2}]
	}`

	result, err := n.Normalize([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Shape != ShapeSingleRoute {
		t.Errorf("expected shape %s, got %s", ShapeSingleRoute, result.Shape)
	}
	if len(result.Strategies) != 1 {
		t.Fatalf("expected 1 strategy, got %d", len(result.Strategies))
	}

	route := result.Strategies[0]
	if route.DistanceMeters == nil || *route.DistanceMeters != 1500 {
		t.Errorf("expected numeric string distance to be read, got %v", route.DistanceMeters)
	}
	if route.CostEuros != nil {
		t.Errorf("expected null cost to stay absent, got %v", *route.CostEuros)
	}
	if route.TollCount == nil || *route.TollCount != 2 {
		t.Errorf("expected toll count 2, got %v", route.TollCount)
	}
	if len(route.Steps) != 1 || route.Steps[0].Kind != ManeuverDepart {
		t.Errorf("expected one depart step, got %+v", route.Steps)
	}
}

func TestNormalize_GeoJSON(t *testing.T) {
	n := newTestNormalizer()

	tests := []struct {
		name    string
		payload string
		routes  int
		points  int
	}{
		{
			name:    "line string",
			payload: `{"type": "LineString", "coordinates": [[2.35, 48.85], [2.36, 48.86]]}`,
			routes:  1,
			points:  2,
		},
		{
			name:    "multi line string joins parts",
			payload: `{"type": "MultiLineString", "coordinates": [[[2.35, 48.85], [2.36, 48.86]], [[2.36, 48.86], [2.37, 48.87]]]}`,
			routes:  1,
			points:  4,
		},
		{
			name:    "feature",
			payload: `{"type": "Feature", "geometry": {"type": "LineString", "coordinates": [[2.35, 48.85], [2.36, 48.86], [2.37, 48.87]]}, "properties": {}}`,
			routes:  1,
			points:  3,
		},
		{
			name: "feature collection ignores points",
			payload: `{"type": "FeatureCollection", "features": [
				{"type": "Feature", "geometry": {"type": "Point", "coordinates": [2.35, 48.85]}, "properties": {}},
				{"type": "Feature", "geometry": {"type": "LineString", "coordinates": [[2.35, 48.85], [2.36, 48.86]]}, "properties": {}}
			]}`,
			routes: 1,
			points: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := n.Normalize([]byte(tt.payload))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Shape != ShapeGeoJSON {
				t.Errorf("expected shape %s, got %s", ShapeGeoJSON, result.Shape)
			}
			if len(result.Strategies) != tt.routes {
				t.Fatalf("expected %d strategies, got %d", tt.routes, len(result.Strategies))
			}
			if got := len(result.Strategies[0].Geometry); got != tt.points {
				t.Errorf("expected %d points, got %d", tt.points, got)
			}
		})
	}
}

func TestNormalize_ORSGeoJSONSteps(t *testing.T) {
	n := newTestNormalizer()

	result, err := n.Normalize(loadFixture(t, "ors_geojson.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Strategies) != 1 {
		t.Fatalf("expected 1 strategy, got %d", len(result.Strategies))
	}

	route := result.Strategies[0]
	if route.DistanceMeters == nil || *route.DistanceMeters != 8200.5 {
		t.Errorf("expected distance from properties.summary, got %v", route.DistanceMeters)
	}
	// Segment steps win over the flat list carried alongside them.
	if len(route.Steps) != 2 {
		t.Fatalf("expected 2 segment steps, got %d", len(route.Steps))
	}
	if route.Steps[0].Instruction != "Head east on Avenue de France" {
		t.Errorf("unexpected first instruction %q", route.Steps[0].Instruction)
	}
}

func TestNormalize_StrategyMap(t *testing.T) {
	n := newTestNormalizer()

	result, err := n.Normalize(loadFixture(t, "smart_route.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Shape != ShapeStrategyMap {
		t.Errorf("expected shape %s, got %s", ShapeStrategyMap, result.Shape)
	}
	if len(result.Strategies) > 3 {
		t.Fatalf("expected at most 3 strategies, got %d", len(result.Strategies))
	}
	if len(result.Strategies) != 3 {
		t.Fatalf("expected 3 strategies, got %d", len(result.Strategies))
	}

	wantKinds := []StrategyKind{KindFastest, KindCheapest, KindMinTolls}
	for i, want := range wantKinds {
		if result.Strategies[i].Kind != want {
			t.Errorf("strategy %d: expected kind %s, got %s", i, want, result.Strategies[i].Kind)
		}
	}

	fastest := result.Strategies[0]
	if fastest.CostEuros == nil || *fastest.CostEuros != 48.7 {
		t.Errorf("expected fastest cost 48.7, got %v", fastest.CostEuros)
	}
	if fastest.TollCount == nil || *fastest.TollCount != 3 {
		t.Errorf("expected fastest toll count 3, got %v", fastest.TollCount)
	}
	// Entry duration overrides the nested summary.
	if fastest.DurationSeconds == nil || *fastest.DurationSeconds != 12000 {
		t.Errorf("expected entry duration 12000, got %v", fastest.DurationSeconds)
	}
	// Distance falls back to the nested summary.
	if fastest.DistanceMeters == nil || *fastest.DistanceMeters != 320000 {
		t.Errorf("expected summary distance 320000, got %v", fastest.DistanceMeters)
	}
	if len(fastest.Steps) != 2 {
		t.Errorf("expected 2 steps from segments, got %d", len(fastest.Steps))
	}

	minTolls := result.Strategies[2]
	if len(minTolls.Steps) != 1 || minTolls.Steps[0].Instruction != "Arrive at destination" {
		t.Errorf("expected entry-level steps fallback, got %+v", minTolls.Steps)
	}
}

func TestNormalize_StrategyMapOrderAndUnknownKeys(t *testing.T) {
	n := newTestNormalizer()

	payload := `{
		"zeta": {"geometry": [[1, 1], [2, 2]]},
		"min_tolls": {"geometry": [[1, 1], [2, 2], [3, 3]]},
		"status": "success",
		"alpha": {"geometry": [[1, 1], [2, 2], [3, 3], [4, 4]]},
		"fastest": {"geometry": [[1, 1], [2, 2], [3, 3], [4, 4], [5, 5]]},
		"message": "ok"
	}`

	result, err := n.Normalize([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []struct {
		kind StrategyKind
		key  string
	}{
		{KindFastest, "fastest"},
		{KindMinTolls, "min_tolls"},
		{KindUnknown, "zeta"},
		{KindUnknown, "alpha"},
	}
	if len(result.Strategies) != len(want) {
		t.Fatalf("expected %d strategies, got %d", len(want), len(result.Strategies))
	}
	for i, w := range want {
		got := result.Strategies[i]
		if got.Kind != w.kind || got.Key != w.key {
			t.Errorf("strategy %d: expected %s/%s, got %s/%s", i, w.kind, w.key, got.Kind, got.Key)
		}
	}
}

func TestNormalize_StrategyMapPartialFailure(t *testing.T) {
	n := newTestNormalizer()

	payload := `{
		"status": "success",
		"fastest": {"route": "_p~iF~ps|U_ulLnnqC", "cost": 12.5},
		"cheapest": {"route": "not a polyline \u0001"},
		"min_tolls": {"cost": 3}
	}`

	result, err := n.Normalize([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Strategies) != 1 || result.Strategies[0].Kind != KindFastest {
		t.Fatalf("expected only the fastest strategy, got %+v", result.Strategies)
	}
	if len(result.Skipped) != 2 {
		t.Fatalf("expected 2 skipped strategies, got %d", len(result.Skipped))
	}
	if result.Skipped[0].Key != "cheapest" || !errors.Is(result.Skipped[0].Err, ErrMalformedPolyline) {
		t.Errorf("unexpected first skip %+v", result.Skipped[0])
	}
	if result.Skipped[1].Key != "min_tolls" || !errors.Is(result.Skipped[1].Err, ErrUnrecognizedRouteFormat) {
		t.Errorf("unexpected second skip %+v", result.Skipped[1])
	}
}

func TestNormalize_StrategyMapMetadataMembers(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		strategies int
	}{
		{
			name: "metadata beside a strategy",
			payload: `{
				"status": "ok",
				"fastest": {"geometry": [[2.35, 48.85], [4.83, 45.76]]},
				"meta": {"version": "2"},
				"request": {"vehicle": "car", "options": {"avoid": []}}
			}`,
			strategies: 1,
		},
		{
			name:       "metadata only",
			payload:    `{"status": "ok", "meta": {"version": "2"}}`,
			strategies: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := newTestNormalizer().Normalize([]byte(tt.payload))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Shape != ShapeStrategyMap {
				t.Errorf("expected shape %s, got %s", ShapeStrategyMap, result.Shape)
			}
			if len(result.Strategies) != tt.strategies {
				t.Errorf("expected %d strategies, got %d", tt.strategies, len(result.Strategies))
			}
			if len(result.Skipped) != 0 {
				t.Errorf("expected no skipped members, got %+v", result.Skipped)
			}
		})
	}
}

func TestNormalize_GeometryMap(t *testing.T) {
	n := newTestNormalizer()

	payload := `{
		"second": {"type": "LineString", "coordinates": [[2.35, 48.85], [2.36, 48.86]]},
		"label": "ignored",
		"first": {"type": "Feature", "geometry": {"type": "LineString", "coordinates": [[2.35, 48.85], [2.36, 48.86], [2.37, 48.87]]}, "properties": {}}
	}`

	result, err := n.Normalize([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Shape != ShapeGeometryMap {
		t.Errorf("expected shape %s, got %s", ShapeGeometryMap, result.Shape)
	}
	if len(result.Strategies) != 2 {
		t.Fatalf("expected 2 strategies, got %d", len(result.Strategies))
	}
	if result.Strategies[0].Key != "second" || result.Strategies[1].Key != "first" {
		t.Errorf("expected document order [second first], got [%s %s]",
			result.Strategies[0].Key, result.Strategies[1].Key)
	}
	for _, s := range result.Strategies {
		if s.Kind != KindUnknown {
			t.Errorf("expected kind %s, got %s", KindUnknown, s.Kind)
		}
	}
}

func TestNormalize_UpstreamError(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		message string
	}{
		{name: "status error", payload: `{"status": "error", "message": "Aucun itinéraire trouvé"}`, message: "Aucun itinéraire trouvé"},
		{name: "status error upper case", payload: `{"status": "ERROR", "detail": "bad request"}`, message: "bad request"},
		{name: "bare error string", payload: `{"error": "service unavailable"}`, message: "service unavailable"},
		{name: "bare error object", payload: `{"error": {"code": 2010, "message": "Could not find routable point"}}`, message: "Could not find routable point"},
		{name: "status error without message", payload: `{"status": "error"}`, message: "routing service reported an error"},
	}

	n := newTestNormalizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := n.Normalize([]byte(tt.payload))
			if !errors.Is(err, ErrUpstreamRequestFailed) {
				t.Fatalf("expected ErrUpstreamRequestFailed, got %v", err)
			}
			if len(result.Strategies) != 0 {
				t.Errorf("expected no strategies, got %d", len(result.Strategies))
			}

			var rerr *Error
			if !errors.As(err, &rerr) {
				t.Fatalf("expected *Error, got %T", err)
			}
			if rerr.Message != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, rerr.Message)
			}
			if rerr.Provider != "test-provider" {
				t.Errorf("expected provider test-provider, got %q", rerr.Provider)
			}
		})
	}
}

func TestNormalize_OutOfRangeCoordinates(t *testing.T) {
	n := newTestNormalizer()

	_, err := n.Normalize([]byte(`{"type": "LineString", "coordinates": [[704000, 6606000], [705000, 6607000]]}`))
	if !errors.Is(err, ErrUnrecognizedRouteFormat) {
		t.Fatalf("expected ErrUnrecognizedRouteFormat for projected coordinates, got %v", err)
	}
}

func TestNormalize_TopLevelArray(t *testing.T) {
	n := newTestNormalizer()

	result, err := n.Normalize([]byte(`["_p~iF~ps|U_ulLnnqC", [[2.35, 48.85], [2.36, 48.86]]]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Strategies) != 2 {
		t.Fatalf("expected 2 strategies, got %d", len(result.Strategies))
	}
	if result.Skipped != nil {
		t.Errorf("expected nothing skipped, got %+v", result.Skipped)
	}
}

func TestManeuverFromCode(t *testing.T) {
	tests := []struct {
		code int
		want ManeuverKind
	}{
		{0, ManeuverTurnLeft},
		{1, ManeuverTurnRight},
		{6, ManeuverContinue},
		{7, ManeuverRoundaboutEnter},
		{10, ManeuverArrive},
		{11, ManeuverDepart},
		{13, ManeuverKeepRight},
		{14, ManeuverUnknown},
		{-1, ManeuverUnknown},
	}

	for _, tt := range tests {
		if got := ManeuverFromCode(tt.code); got != tt.want {
			t.Errorf("ManeuverFromCode(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func BenchmarkNormalize_StrategyMap(b *testing.B) {
	data, err := os.ReadFile(filepath.Join("testdata", "smart_route.json"))
	if err != nil {
		b.Fatal(err)
	}
	n := newTestNormalizer()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = n.Normalize(data)
	}
}

func TestNormalize_RouteListGooglePolyline(t *testing.T) {
	res, err := newTestNormalizer().Normalize([]byte(`{"routes":[{"geometry":"_p~iF~ps|U_ulLnnqC_mqNvxq` + "`" + `@"}]}`))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(res.Strategies) != 1 {
		t.Fatalf("len(Strategies) = %d, want 1", len(res.Strategies))
	}
	first := res.Strategies[0].Geometry[0]
	if first.Lon != -120.2 || first.Lat != 38.5 {
		t.Errorf("first point = %s, want -120.2,38.5", first)
	}
}

func TestNormalize_StrategyMapThenDeduplicate(t *testing.T) {
	payload := `{
		"status": "ok",
		"fastest": {
			"route": {"type": "LineString", "coordinates": [[2.35, 48.85], [3.5, 47.5], [4.83, 45.76]]},
			"cost": 45.6, "duration": 12600, "toll_count": 3
		},
		"cheapest": {
			"route": {"type": "LineString", "coordinates": [[2.35, 48.85], [3.1, 47.1], [4.83, 45.76]]},
			"cost": 32.4, "duration": 14400, "toll_count": 1
		}
	}`

	res, err := newTestNormalizer().Normalize([]byte(payload))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if len(res.Strategies) != 2 {
		t.Fatalf("len(Strategies) = %d, want 2", len(res.Strategies))
	}

	kept, removed := Deduplicate(res.Strategies, DedupPointCount)
	if removed != 1 || len(kept) != 1 {
		t.Fatalf("Deduplicate() kept %d removed %d, want 1 and 1", len(kept), removed)
	}
	if kept[0].Kind != KindFastest {
		t.Errorf("kept kind = %s, want %s", kept[0].Kind, KindFastest)
	}
	if kept[0].CostEuros == nil || *kept[0].CostEuros != 45.6 {
		t.Errorf("kept cost = %v, want 45.6", kept[0].CostEuros)
	}
}
