// Package keyspace embeds public keys as points in a fixed-dimensional real
// vector space and provides the distance and angular primitives the
// neighbour store and search engine are built on (spec section 4.1).
package keyspace

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// Dimensions is the fixed dimensionality of the coordinate cube. Every node
// in the network must agree on this value without coordination, so it is a
// compile-time constant rather than something negotiated on the wire.
const Dimensions = 8

// Coordinate is a point in [-1, 1]^Dimensions.
type Coordinate [Dimensions]float64

// FromKey deterministically derives a key's coordinate from its raw bytes.
// The same input yields the same output on every node and across restarts:
// each axis is an independent SHA-256 stream keyed by the axis index, so the
// distribution over distinct keys is close to uniform over the cube.
func FromKey(keyBytes []byte) Coordinate {
	var c Coordinate
	for axis := 0; axis < Dimensions; axis++ {
		h := sha256.New()
		h.Write(keyBytes)
		var axisBuf [4]byte
		binary.BigEndian.PutUint32(axisBuf[:], uint32(axis))
		h.Write(axisBuf[:])
		sum := h.Sum(nil)
		// Use the first 8 bytes of the digest as a uniform uint64, then map
		// to [-1, 1].
		u := binary.BigEndian.Uint64(sum[:8])
		c[axis] = (float64(u)/float64(math.MaxUint64))*2 - 1
	}
	return c
}

// Distance returns the Euclidean distance between two coordinates.
func Distance(a, b Coordinate) float64 {
	var sumSq float64
	for i := range a {
		d := a[i] - b[i]
		sumSq += d * d
	}
	return math.Sqrt(sumSq)
}

// Angle returns the angle in [0, pi] between the vectors (a - origin) and
// (b - origin). It is undefined (returns false) if either vector has zero
// length — the caller must handle that case, since "closest other
// direction" has no meaning at zero radius.
func Angle(origin, a, b Coordinate) (angle float64, ok bool) {
	va := sub(a, origin)
	vb := sub(b, origin)
	na := norm(va)
	nb := norm(vb)
	if na == 0 || nb == 0 {
		return 0, false
	}
	cos := dot(va, vb) / (na * nb)
	// Clamp for floating point drift outside [-1, 1] before acos.
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return math.Acos(cos), true
}

func sub(a, b Coordinate) Coordinate {
	var out Coordinate
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}

func dot(a, b Coordinate) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func norm(a Coordinate) float64 {
	return math.Sqrt(dot(a, a))
}
