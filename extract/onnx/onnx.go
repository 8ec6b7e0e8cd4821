// Package onnx runs a pretrained classification network through the OpenCV DNN module and uses
// an intermediate layer as the image embedding. OpenCV is linked only with the opencv build tag.
package onnx

import (
	"errors"
	"math"

	"github.com/high-horse/similarity-server/similarity"
)

const Name = "onnx"

var errBadOutput = errors.New("network output contains no finite values")

// Embedding L2-normalises a raw layer output so cosine distances stay in [0, 2].
func Embedding(raw []float32) ([]float32, error) {
	out := make([]float32, len(raw))
	finite := false
	for i, v := range raw {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			continue
		}
		out[i] = v
		finite = finite || v != 0
	}
	if !finite {
		return nil, errBadOutput
	}
	return similarity.Normalize(out), nil
}
