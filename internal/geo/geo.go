// Package geo holds the geographic value types shared by the route and toll pipelines.
package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// ErrInvalidPoint indicates a coordinate pair that is not finite or out of range.
var ErrInvalidPoint = errors.New("invalid geographic point")

// Point is a WGS84 position. It is encoded as [lon, lat] on the wire.
type Point struct {
	Lon float64
	Lat float64
}

// Valid reports whether the point is finite and within the geographic range.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lon) || math.IsNaN(p.Lat) || math.IsInf(p.Lon, 0) || math.IsInf(p.Lat, 0) {
		return false
	}
	return p.Lon >= -180 && p.Lon <= 180 && p.Lat >= -90 && p.Lat <= 90
}

// Validate returns ErrInvalidPoint wrapped with the offending values.
func (p Point) Validate() error {
	if !p.Valid() {
		return fmt.Errorf("%w: lon=%v lat=%v", ErrInvalidPoint, p.Lon, p.Lat)
	}
	return nil
}

// Orb converts the point to an orb.Point.
func (p Point) Orb() orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

// FromOrb converts an orb.Point to a Point.
func FromOrb(p orb.Point) Point {
	return Point{Lon: p.Lon(), Lat: p.Lat()}
}

// MarshalJSON encodes the point as [lon, lat].
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Lon, p.Lat})
}

// UnmarshalJSON decodes a point from [lon, lat] or {"lon":..,"lat":..}.
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) < 2 {
			return fmt.Errorf("%w: expected [lon, lat], got %d values", ErrInvalidPoint, len(pair))
		}
		p.Lon, p.Lat = pair[0], pair[1]
		return nil
	}

	var obj struct {
		Lon *float64 `json:"lon"`
		Lat *float64 `json:"lat"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPoint, err.Error())
	}
	if obj.Lon == nil || obj.Lat == nil {
		return fmt.Errorf("%w: missing lon or lat", ErrInvalidPoint)
	}
	p.Lon, p.Lat = *obj.Lon, *obj.Lat
	return nil
}

// String formats the point as "lon,lat", the query form used by the routing backend.
func (p Point) String() string {
	return fmt.Sprintf("%g,%g", p.Lon, p.Lat)
}

// Path is an ordered sequence of points.
type Path []Point

// PathFromLineString converts an orb.LineString to a Path.
func PathFromLineString(ls orb.LineString) Path {
	if len(ls) == 0 {
		return nil
	}
	path := make(Path, len(ls))
	for i, p := range ls {
		path[i] = FromOrb(p)
	}
	return path
}

// LineString converts the path to an orb.LineString.
func (p Path) LineString() orb.LineString {
	ls := make(orb.LineString, len(p))
	for i, pt := range p {
		ls[i] = pt.Orb()
	}
	return ls
}

// Valid reports whether the path is non-empty and every point is in range.
func (p Path) Valid() bool {
	if len(p) == 0 {
		return false
	}
	for _, pt := range p {
		if !pt.Valid() {
			return false
		}
	}
	return true
}

// Length returns the geodesic length of the path in meters.
func (p Path) Length() float64 {
	if len(p) < 2 {
		return 0
	}
	return orbgeo.Length(p.LineString())
}

// Start returns the first point of the path.
func (p Path) Start() (Point, bool) {
	if len(p) == 0 {
		return Point{}, false
	}
	return p[0], true
}

// End returns the last point of the path.
func (p Path) End() (Point, bool) {
	if len(p) == 0 {
		return Point{}, false
	}
	return p[len(p)-1], true
}

// BoundingBox is a geographic bounding box.
type BoundingBox struct {
	MinLon float64 `json:"minLon"`
	MinLat float64 `json:"minLat"`
	MaxLon float64 `json:"maxLon"`
	MaxLat float64 `json:"maxLat"`
}

// Bounds returns the bounding box enclosing all given paths.
// The second result is false when there are no points.
func Bounds(paths ...Path) (BoundingBox, bool) {
	var (
		bound orb.Bound
		seen  bool
	)
	for _, path := range paths {
		for _, pt := range path {
			if !seen {
				bound = orb.Bound{Min: pt.Orb(), Max: pt.Orb()}
				seen = true
				continue
			}
			bound = bound.Extend(pt.Orb())
		}
	}
	if !seen {
		return BoundingBox{}, false
	}
	return BoundingBox{
		MinLon: bound.Min.Lon(),
		MinLat: bound.Min.Lat(),
		MaxLon: bound.Max.Lon(),
		MaxLat: bound.Max.Lat(),
	}, true
}

// PlaceFeature is a geocoded place offered as an autocomplete suggestion.
type PlaceFeature struct {
	Label  string `json:"label"`
	Anchor Point  `json:"anchor"`
	Kind   string `json:"kind,omitempty"`
	Region string `json:"region,omitempty"`
}
