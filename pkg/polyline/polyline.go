// Package polyline provides encoding and decoding utilities for Google's polyline algorithm.
// The polyline algorithm is documented at: https://developers.google.com/maps/documentation/utilities/polylinealgorithm
package polyline

import (
	"errors"
	"fmt"
	"math"
)

// Decoding errors. All of them wrap ErrMalformed.
var (
	// ErrMalformed indicates the input is not a valid encoded polyline.
	ErrMalformed = errors.New("malformed polyline")

	// ErrInvalidByte indicates a character outside the encoding alphabet ('?' to '~').
	ErrInvalidByte = fmt.Errorf("%w: invalid byte", ErrMalformed)

	// ErrUnterminated indicates the string ended in the middle of a value.
	ErrUnterminated = fmt.Errorf("%w: unterminated value", ErrMalformed)

	// ErrOddValues indicates a latitude without its matching longitude.
	ErrOddValues = fmt.Errorf("%w: odd number of values", ErrMalformed)

	// ErrOverflow indicates a value that does not fit in 64 bits.
	ErrOverflow = fmt.Errorf("%w: value overflow", ErrMalformed)
)

const (
	precision = 1e5

	minChar = 63
	maxChar = 126

	// maxShift is the shift of the 13th and last chunk of a 64-bit value.
	maxShift = 60
)

// Coordinate represents a geographic point with latitude and longitude.
type Coordinate struct {
	Lat float64
	Lon float64
}

// Decode decodes a polyline-encoded string into a slice of coordinates.
// The polyline format uses precision of 5 decimal places (standard Google/ORS format).
// An empty string decodes to nil. Malformed input returns an error and no coordinates.
func Decode(encoded string) ([]Coordinate, error) {
	if encoded == "" {
		return nil, nil
	}

	coords := make([]Coordinate, 0, len(encoded)/4)
	index := 0
	var lat, lon int64

	for index < len(encoded) {
		latDelta, next, err := decodeValue(encoded, index)
		if err != nil {
			return nil, err
		}
		if next >= len(encoded) {
			return nil, fmt.Errorf("%w at offset %d", ErrOddValues, index)
		}
		index = next
		lat += latDelta

		lonDelta, next, err := decodeValue(encoded, index)
		if err != nil {
			return nil, err
		}
		index = next
		lon += lonDelta

		coords = append(coords, Coordinate{
			Lat: float64(lat) / precision,
			Lon: float64(lon) / precision,
		})
	}

	return coords, nil
}

// decodeValue decodes a single value from the polyline at the given index.
// Returns the decoded delta value and the new index position.
func decodeValue(encoded string, index int) (int64, int, error) {
	start := index
	var shift uint
	var result uint64

	for {
		if index >= len(encoded) {
			return 0, 0, fmt.Errorf("%w at offset %d", ErrUnterminated, start)
		}
		c := encoded[index]
		if c < minChar || c > maxChar {
			return 0, 0, fmt.Errorf("%w %q at offset %d", ErrInvalidByte, c, index)
		}
		b := uint64(c - minChar)
		// The 13th chunk has room for four bits only.
		if shift > maxShift || (shift == maxShift && b&0x1f > 0x0f) {
			return 0, 0, fmt.Errorf("%w at offset %d", ErrOverflow, start)
		}
		index++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}

	// Apply two's complement for negative values
	if result&1 != 0 {
		return ^int64(result >> 1), index, nil
	}
	return int64(result >> 1), index, nil
}

// Encode encodes a slice of coordinates into a polyline-encoded string.
// The polyline format uses precision of 5 decimal places (standard Google/ORS format).
func Encode(coords []Coordinate) string {
	if len(coords) == 0 {
		return ""
	}

	encoded := make([]byte, 0, len(coords)*4)
	var prevLat, prevLon int64

	for _, coord := range coords {
		lat := int64(math.Round(coord.Lat * precision))
		lon := int64(math.Round(coord.Lon * precision))

		encoded = encodeValue(encoded, lat-prevLat)
		encoded = encodeValue(encoded, lon-prevLon)

		prevLat = lat
		prevLon = lon
	}

	return string(encoded)
}

// encodeValue encodes a single integer value using the polyline algorithm.
func encodeValue(buf []byte, value int64) []byte {
	// Invert if negative
	var u uint64
	if value < 0 {
		u = uint64(^(value << 1))
	} else {
		u = uint64(value << 1)
	}

	// Encode in 5-bit chunks
	for u >= 0x20 {
		buf = append(buf, byte((u&0x1f)|0x20)+minChar)
		u >>= 5
	}
	buf = append(buf, byte(u)+minChar)

	return buf
}
