package similarity

import (
	"errors"
	"math"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var ErrTooFewLandmarks = errors.New("fewer than 3 landmarks shared by both faces")

const (
	LeftEye  = "LEFT_EYE"
	RightEye = "RIGHT_EYE"
)

type Point struct {
	X float64 `json:"x" cbor:"x"`
	Y float64 `json:"y" cbor:"y"`
	Z float64 `json:"z" cbor:"z"`
}

func (p Point) sub(q Point) Point     { return Point{p.X - q.X, p.Y - q.Y, p.Z - q.Z} }
func (p Point) scale(f float64) Point { return Point{p.X * f, p.Y * f, p.Z * f} }
func (p Point) norm() float64         { return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z) }

// LandmarkSet maps landmark names (LEFT_EYE, NOSE_TIP, P07, ...) to positions.
type LandmarkSet map[string]Point

// Normalized removes translation and scale: the centroid moves to the origin and the
// inter-ocular distance (or, without both eyes, the RMS radius) becomes 1.
func (s LandmarkSet) Normalized() LandmarkSet {
	if len(s) == 0 {
		return LandmarkSet{}
	}
	var c Point
	for _, p := range s {
		c.X += p.X
		c.Y += p.Y
		c.Z += p.Z
	}
	c = c.scale(1 / float64(len(s)))

	out := make(LandmarkSet, len(s))
	for k, p := range s {
		out[k] = p.sub(c)
	}

	var unit float64
	l, lok := out[LeftEye]
	r, rok := out[RightEye]
	if lok && rok {
		unit = l.sub(r).norm()
	}
	if unit == 0 {
		var sq float64
		for _, p := range out {
			sq += p.X*p.X + p.Y*p.Y + p.Z*p.Z
		}
		unit = math.Sqrt(sq / float64(len(out)))
	}
	if unit == 0 {
		return out
	}
	for k, p := range out {
		out[k] = p.scale(1 / unit)
	}
	return out
}

// LandmarkDistance compares face geometry: both sets are restricted to their shared landmarks,
// normalised, and the mean point-to-point distance is returned together with the number of
// landmarks used.
func LandmarkDistance(a, b LandmarkSet) (float64, int, error) {
	keys := make([]string, 0, len(a))
	for _, k := range maps.Keys(a) {
		if _, ok := b[k]; ok {
			keys = append(keys, k)
		}
	}
	if len(keys) < 3 {
		return 0, len(keys), ErrTooFewLandmarks
	}
	slices.Sort(keys)

	sa := make(LandmarkSet, len(keys))
	sb := make(LandmarkSet, len(keys))
	for _, k := range keys {
		sa[k] = a[k]
		sb[k] = b[k]
	}
	na, nb := sa.Normalized(), sb.Normalized()

	var sum float64
	for _, k := range keys {
		sum += na[k].sub(nb[k]).norm()
	}
	return sum / float64(len(keys)), len(keys), nil
}
