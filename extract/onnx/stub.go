//go:build !opencv

package onnx

import (
	"context"

	"github.com/high-horse/similarity-server/config"
	"github.com/high-horse/similarity-server/extract"
	"github.com/high-horse/similarity-server/imageio"
)

// Embedder is a placeholder for builds without OpenCV.
type Embedder struct{}

func New(config.EmbeddingConfig) *Embedder { return &Embedder{} }

func (*Embedder) Name() string    { return Name }
func (*Embedder) Available() bool { return false }
func (*Embedder) Close() error    { return nil }
func (*Embedder) Err() error      { return extract.ErrUnavailable }

func (*Embedder) Embed(context.Context, *imageio.Image) ([]float32, error) {
	return nil, &extract.ExtractionError{Backend: Name, Op: "embed", Err: extract.ErrUnavailable}
}

var _ extract.Embedder = (*Embedder)(nil)
