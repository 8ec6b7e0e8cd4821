// Package similarity holds the distance arithmetic shared by every comparison strategy.
package similarity

import (
	"errors"
	"math"

	"golang.org/x/exp/constraints"
)

var (
	ErrDimensionMismatch = errors.New("vectors differ in length or are empty")
	ErrZeroVector        = errors.New("vector has zero magnitude")
)

// Euclidean returns the L2 distance between a and b.
func Euclidean[T constraints.Float](a, b []T) (float64, error) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, ErrDimensionMismatch
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Cosine returns the cosine similarity in [-1, 1].
func Cosine[T constraints.Float](a, b []T) (float64, error) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, ErrDimensionMismatch
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, ErrZeroVector
	}
	c := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// rounding can push identical vectors just past 1
	return math.Max(-1, math.Min(1, c)), nil
}

// CosineDistance is 1 - cosine similarity, in [0, 2].
func CosineDistance[T constraints.Float](a, b []T) (float64, error) {
	c, err := Cosine(a, b)
	if err != nil {
		return 0, err
	}
	return 1 - c, nil
}

// Normalize returns v scaled to unit length. A zero vector is returned unchanged.
func Normalize[T constraints.Float](v []T) []T {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	out := make([]T, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	norm = math.Sqrt(norm)
	for i, x := range v {
		out[i] = T(float64(x) / norm)
	}
	return out
}

// DistanceScore maps a distance onto [0, 100]: 0 scores 100, scale or more scores 0.
func DistanceScore(d, scale float64) float64 {
	if scale <= 0 || math.IsNaN(d) {
		return 0
	}
	s := 100 * (1 - d/scale)
	return math.Max(0, math.Min(100, s))
}
