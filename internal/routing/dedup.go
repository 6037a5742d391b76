package routing

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// DedupMode selects how two strategies are judged to be the same route.
type DedupMode string

const (
	// DedupPointCount treats strategies with the same number of geometry points as duplicates.
	DedupPointCount DedupMode = "point_count"
	// DedupGeometryHash treats strategies with identical quantized geometries as duplicates.
	DedupGeometryHash DedupMode = "geometry_hash"
)

// dedupPrecision quantizes coordinates to about one metre before hashing.
const dedupPrecision = 1e5

// Deduplicate removes strategies whose geometry duplicates an earlier one.
// The first occurrence wins, so with strategy-map input the fastest route is kept
// over a cheaper route with the same path. It returns the kept strategies in input
// order and the number removed. The input slice is not modified.
func Deduplicate(routes []RouteStrategy, mode DedupMode) ([]RouteStrategy, int) {
	kept := make([]RouteStrategy, 0, len(routes))
	seen := make(map[uint64]struct{}, len(routes))

	for _, r := range routes {
		var key uint64
		switch mode {
		case DedupGeometryHash:
			key = geometryHash(r)
		default:
			key = uint64(len(r.Geometry))
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, r)
	}

	return kept, len(routes) - len(kept)
}

func geometryHash(r RouteStrategy) uint64 {
	h := xxhash.New()
	var buf [8]byte

	binary.LittleEndian.PutUint64(buf[:], uint64(len(r.Geometry)))
	_, _ = h.Write(buf[:])
	for _, p := range r.Geometry {
		binary.LittleEndian.PutUint64(buf[:], uint64(int64(math.Round(p.Lon*dedupPrecision))))
		_, _ = h.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], uint64(int64(math.Round(p.Lat*dedupPrecision))))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}
