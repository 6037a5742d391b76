// Package projection converts between a Lambert conformal conic projection with two
// standard parallels and geographic coordinates.
package projection

import (
	"errors"
	"fmt"
	"math"

	"github.com/smartautomapper/sam/internal/geo"
)

// ErrProjectionFailure indicates the conversion produced a non-finite result.
var ErrProjectionFailure = errors.New("projection failure")

const (
	// inverse latitude iteration stops once successive estimates differ by less than this (radians).
	inverseTolerance = 1e-12
	inverseMaxIter   = 15
)

// Params describes a Lambert conformal conic projection. Angles are in degrees.
type Params struct {
	Name string

	// StdParallel1 and StdParallel2 are the two standard parallels.
	StdParallel1 float64
	StdParallel2 float64

	// OriginLat and OriginLon locate the projection origin.
	OriginLat float64
	OriginLon float64

	// FalseEasting and FalseNorthing are added to projected x and y, in meters.
	FalseEasting  float64
	FalseNorthing float64

	// SemiMajorAxis of the ellipsoid in meters.
	SemiMajorAxis float64

	// InverseFlattening of the ellipsoid.
	InverseFlattening float64
}

// Lambert93 is the French official projection (RGF93 / Lambert-93, GRS80 ellipsoid).
var Lambert93 = Params{
	Name:              "Lambert-93",
	StdParallel1:      44,
	StdParallel2:      49,
	OriginLat:         46.5,
	OriginLon:         3,
	FalseEasting:      700000,
	FalseNorthing:     6600000,
	SemiMajorAxis:     6378137,
	InverseFlattening: 298.257222101,
}

// Projector converts coordinates for one set of Params.
// The derived constants are computed once at construction.
type Projector struct {
	params Params

	e    float64 // first eccentricity
	n    float64 // cone constant
	aF   float64 // a * F
	rho0 float64 // radius at origin latitude
	lon0 float64 // origin longitude (radians)
}

// New creates a Projector for the given parameters.
func New(p Params) *Projector {
	f := 1 / p.InverseFlattening
	e := math.Sqrt(2*f - f*f)

	phi1 := radians(p.StdParallel1)
	phi2 := radians(p.StdParallel2)
	phi0 := radians(p.OriginLat)

	m1 := mFunc(phi1, e)
	m2 := mFunc(phi2, e)
	t0 := tFunc(phi0, e)
	t1 := tFunc(phi1, e)
	t2 := tFunc(phi2, e)

	var n float64
	if p.StdParallel1 == p.StdParallel2 {
		n = math.Sin(phi1)
	} else {
		n = (math.Log(m1) - math.Log(m2)) / (math.Log(t1) - math.Log(t2))
	}
	aF := p.SemiMajorAxis * m1 / (n * math.Pow(t1, n))

	return &Projector{
		params: p,
		e:      e,
		n:      n,
		aF:     aF,
		rho0:   aF * math.Pow(t0, n),
		lon0:   radians(p.OriginLon),
	}
}

// Params returns the projection parameters.
func (pr *Projector) Params() Params {
	return pr.params
}

// Forward projects a geographic point to planar x (easting) and y (northing).
func (pr *Projector) Forward(pt geo.Point) (x, y float64, err error) {
	if !finite(pt.Lon) || !finite(pt.Lat) {
		return 0, 0, fmt.Errorf("%w: non-finite input lon=%v lat=%v", ErrProjectionFailure, pt.Lon, pt.Lat)
	}

	phi := radians(pt.Lat)
	rho := pr.aF * math.Pow(tFunc(phi, pr.e), pr.n)
	theta := pr.n * (radians(pt.Lon) - pr.lon0)

	x = pr.params.FalseEasting + rho*math.Sin(theta)
	y = pr.params.FalseNorthing + pr.rho0 - rho*math.Cos(theta)

	if !finite(x) || !finite(y) {
		return 0, 0, fmt.Errorf("%w: forward result not finite for lon=%v lat=%v", ErrProjectionFailure, pt.Lon, pt.Lat)
	}
	return x, y, nil
}

// Inverse converts planar x (easting) and y (northing) to a geographic point.
// The result is not range-checked; callers validate it.
func (pr *Projector) Inverse(x, y float64) (geo.Point, error) {
	if !finite(x) || !finite(y) {
		return geo.Point{}, fmt.Errorf("%w: non-finite input x=%v y=%v", ErrProjectionFailure, x, y)
	}

	dx := x - pr.params.FalseEasting
	dy := pr.rho0 - (y - pr.params.FalseNorthing)

	rho := math.Copysign(math.Hypot(dx, dy), pr.n)
	theta := math.Atan2(math.Copysign(1, pr.n)*dx, math.Copysign(1, pr.n)*dy)

	t := math.Pow(rho/pr.aF, 1/pr.n)
	lon := theta/pr.n + pr.lon0

	half := pr.e / 2
	phi := math.Pi/2 - 2*math.Atan(t)
	for i := 0; i < inverseMaxIter; i++ {
		es := pr.e * math.Sin(phi)
		next := math.Pi/2 - 2*math.Atan(t*math.Pow((1-es)/(1+es), half))
		if math.Abs(next-phi) < inverseTolerance {
			phi = next
			break
		}
		phi = next
	}

	pt := geo.Point{Lon: degrees(lon), Lat: degrees(phi)}
	if !finite(pt.Lon) || !finite(pt.Lat) {
		return geo.Point{}, fmt.Errorf("%w: inverse result not finite for x=%v y=%v", ErrProjectionFailure, x, y)
	}
	return pt, nil
}

func mFunc(phi, e float64) float64 {
	s := math.Sin(phi)
	return math.Cos(phi) / math.Sqrt(1-e*e*s*s)
}

func tFunc(phi, e float64) float64 {
	s := e * math.Sin(phi)
	return math.Tan(math.Pi/4-phi/2) / math.Pow((1-s)/(1+s), e/2)
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
