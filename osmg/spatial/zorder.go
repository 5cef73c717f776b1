// Package spatial assigns locality-preserving identifiers to points. A point's
// latitude and longitude are converted to 32-bit fixed point, biased into
// unsigned range and bit-interleaved into a 64-bit z-order value.
package spatial

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Scale is the number of fixed-point units per degree.
const Scale = 1e7

// bias maps int32 onto uint32 while keeping numeric order.
const bias = 1 << 31

var ErrOverflow = errors.New("coordinate out of fixed-point range")

// FixedPoint converts a decimal degree string to units of 10^-7 degrees. The
// value is scaled first and then truncated toward zero.
func FixedPoint(s string) (int32, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse coordinate %q: %w", s, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrOverflow, s)
	}
	scaled := math.Trunc(v * Scale)
	if scaled < math.MinInt32 || scaled > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %q", ErrOverflow, s)
	}
	return int32(scaled), nil
}

// Interleave merges two 32-bit values. Bit 2k of the result is bit k of lat,
// bit 2k+1 is bit k of lon.
func Interleave(lat, lon uint32) uint64 {
	return spread(lat) | spread(lon)<<1
}

// spread moves bit k of v to bit 2k.
func spread(v uint32) uint64 {
	x := uint64(v)
	x = (x | x<<16) & 0x0000ffff0000ffff
	x = (x | x<<8) & 0x00ff00ff00ff00ff
	x = (x | x<<4) & 0x0f0f0f0f0f0f0f0f
	x = (x | x<<2) & 0x3333333333333333
	x = (x | x<<1) & 0x5555555555555555
	return x
}

// Assign returns the z-order value of a coordinate pair.
func Assign(lat, lon string) (uint64, error) {
	la, err := FixedPoint(lat)
	if err != nil {
		return 0, err
	}
	lo, err := FixedPoint(lon)
	if err != nil {
		return 0, err
	}
	return Interleave(uint32(int64(la)+bias), uint32(int64(lo)+bias)), nil
}
