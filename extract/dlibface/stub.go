//go:build !dlib

package dlibface

import (
	"context"

	"github.com/high-horse/similarity-server/config"
	"github.com/high-horse/similarity-server/extract"
	"github.com/high-horse/similarity-server/imageio"
)

// Encoder is a placeholder for builds without dlib.
type Encoder struct{}

func New(config.FaceConfig) *Encoder { return &Encoder{} }

func (*Encoder) Name() string    { return Name }
func (*Encoder) Available() bool { return false }
func (*Encoder) Close() error    { return nil }
func (*Encoder) Err() error      { return extract.ErrUnavailable }

func (*Encoder) Encode(context.Context, *imageio.Image) ([]extract.Face, error) {
	return nil, &extract.ExtractionError{Backend: Name, Op: "encode", Err: extract.ErrUnavailable}
}

func (*Encoder) Landmarks(context.Context, *imageio.Image) ([]extract.Face, error) {
	return nil, &extract.ExtractionError{Backend: Name, Op: "landmarks", Err: extract.ErrUnavailable}
}

var (
	_ extract.FaceEncoder      = (*Encoder)(nil)
	_ extract.LandmarkDetector = (*Encoder)(nil)
)
