// Package dlibface wraps the dlib face recogniser (go-face). It needs cgo and the dlib models, so
// the real implementation is only compiled with the dlib build tag; without it the encoder reports
// itself unavailable.
package dlibface

import (
	"fmt"
	"image"

	"github.com/high-horse/similarity-server/extract"
	"github.com/high-horse/similarity-server/similarity"
)

const Name = "dlib"

// Landmarks names the shape points P00, P01, ... and adds eye centres for the 5 and 68 point
// predictors so normalisation can use the inter-ocular distance.
func Landmarks(shapes []image.Point) similarity.LandmarkSet {
	if len(shapes) == 0 {
		return nil
	}
	set := make(similarity.LandmarkSet, len(shapes)+2)
	for i, p := range shapes {
		set[fmt.Sprintf("P%02d", i)] = similarity.Point{X: float64(p.X), Y: float64(p.Y)}
	}
	switch len(shapes) {
	case 5:
		set[similarity.RightEye] = centre(shapes[0:2])
		set[similarity.LeftEye] = centre(shapes[2:4])
	case 68:
		set[similarity.RightEye] = centre(shapes[36:42])
		set[similarity.LeftEye] = centre(shapes[42:48])
	}
	return set
}

func centre(ps []image.Point) similarity.Point {
	var c similarity.Point
	for _, p := range ps {
		c.X += float64(p.X)
		c.Y += float64(p.Y)
	}
	n := float64(len(ps))
	return similarity.Point{X: c.X / n, Y: c.Y / n}
}

// toFace converts one recognised face. dlib gives no per-face score.
func toFace(rect image.Rectangle, descriptor [128]float32, shapes []image.Point) extract.Face {
	desc := make([]float32, len(descriptor))
	copy(desc, descriptor[:])
	return extract.Face{
		Bounds:     rect,
		Confidence: 1,
		Descriptor: desc,
		Landmarks:  Landmarks(shapes),
	}
}
