package similarity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEuclidean(t *testing.T) {
	d, err := Euclidean([]float32{0, 0}, []float32{3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 5, d, 1e-9)

	_, err = Euclidean([]float64{1}, []float64{1, 2})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	_, err = Euclidean([]float64{}, []float64{})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestCosine(t *testing.T) {
	c, err := Cosine([]float64{1, 0}, []float64{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0, c, 1e-9)

	c, err = Cosine([]float64{1, 2, 3}, []float64{2, 4, 6})
	require.NoError(t, err)
	assert.InDelta(t, 1, c, 1e-9)
	assert.LessOrEqual(t, c, 1.0)

	d, err := CosineDistance([]float32{1, 0}, []float32{-1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 2, d, 1e-9)

	_, err = Cosine([]float64{0, 0}, []float64{1, 1})
	assert.ErrorIs(t, err, ErrZeroVector)
}

func TestDistancesAreSymmetric(t *testing.T) {
	a := []float32{0.3, -1.2, 4.5, 0.01}
	b := []float32{1.3, 0.2, -0.5, 2}

	ab, _ := Euclidean(a, b)
	ba, _ := Euclidean(b, a)
	assert.InDelta(t, ab, ba, 1e-12)

	ab, _ = CosineDistance(a, b)
	ba, _ = CosineDistance(b, a)
	assert.InDelta(t, ab, ba, 1e-12)
}

func TestNormalize(t *testing.T) {
	n := Normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, n[0], 1e-6)
	assert.InDelta(t, 0.8, n[1], 1e-6)

	z := []float64{0, 0}
	assert.Equal(t, z, Normalize(z))
}

func TestDistanceScore(t *testing.T) {
	assert.Equal(t, 100.0, DistanceScore(0, 1))
	assert.InDelta(t, 65, DistanceScore(0.35, 1), 1e-9)
	assert.Equal(t, 0.0, DistanceScore(2, 1))
	assert.Equal(t, 0.0, DistanceScore(0.1, 0))
	assert.Equal(t, 0.0, DistanceScore(math.NaN(), 1))

	// monotone: never rewards a larger distance
	prev := 101.0
	for d := 0.0; d <= 1.5; d += 0.01 {
		s := DistanceScore(d, 1.2)
		assert.LessOrEqual(t, s, prev)
		prev = s
	}
}

func face(offsetX, offsetY, scale float64) LandmarkSet {
	base := LandmarkSet{
		LeftEye:       {X: -1, Y: 0},
		RightEye:      {X: 1, Y: 0},
		"NOSE_TIP":    {X: 0, Y: 1},
		"MOUTH_LEFT":  {X: -0.7, Y: 2},
		"MOUTH_RIGHT": {X: 0.7, Y: 2},
	}
	out := make(LandmarkSet, len(base))
	for k, p := range base {
		out[k] = Point{X: p.X*scale + offsetX, Y: p.Y*scale + offsetY}
	}
	return out
}

func TestLandmarkDistanceIgnoresPlacementAndSize(t *testing.T) {
	d, n, err := LandmarkDistance(face(0, 0, 1), face(120, 80, 3.5))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.InDelta(t, 0, d, 1e-9)
}

func TestLandmarkDistanceDetectsGeometry(t *testing.T) {
	wide := face(0, 0, 1)
	wide["MOUTH_LEFT"] = Point{X: -1.5, Y: 2.4}
	wide["MOUTH_RIGHT"] = Point{X: 1.5, Y: 2.4}

	ab, _, err := LandmarkDistance(face(0, 0, 1), wide)
	require.NoError(t, err)
	ba, _, err := LandmarkDistance(wide, face(0, 0, 1))
	require.NoError(t, err)
	assert.Greater(t, ab, 0.1)
	assert.InDelta(t, ab, ba, 1e-9)
}

func TestLandmarkDistanceUsesSharedSubset(t *testing.T) {
	a := face(0, 0, 1)
	b := face(0, 0, 1)
	b["CHIN_GNATHION"] = Point{X: 0, Y: 4}
	delete(b, "NOSE_TIP")

	d, n, err := LandmarkDistance(a, b)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.InDelta(t, 0, d, 1e-9)
}

func TestLandmarkDistanceTooFew(t *testing.T) {
	a := LandmarkSet{"P00": {X: 1}, "P01": {X: 2}}
	_, n, err := LandmarkDistance(a, a)
	assert.ErrorIs(t, err, ErrTooFewLandmarks)
	assert.Equal(t, 2, n)
}

func TestNormalizedWithoutEyesUsesRadius(t *testing.T) {
	s := LandmarkSet{"P00": {X: 0, Y: 0}, "P01": {X: 4, Y: 0}, "P02": {X: 2, Y: 6}}
	n := s.Normalized()
	var sq float64
	for _, p := range n {
		sq += p.X*p.X + p.Y*p.Y
	}
	assert.InDelta(t, 1, sq/3, 1e-9)
}
