// Package icon is the always-available embedder: a colour thumbnail vector computed in pure Go.
// It has no notion of semantics, so it only stands in when no pretrained network is configured.
package icon

import (
	"context"
	"fmt"

	"github.com/vitali-fedulov/images4"

	"github.com/high-horse/similarity-server/extract"
	"github.com/high-horse/similarity-server/imageio"
)

const Name = "icon"

type Embedder struct{}

func New() *Embedder { return &Embedder{} }

func (*Embedder) Name() string    { return Name }
func (*Embedder) Available() bool { return true }
func (*Embedder) Close() error    { return nil }

// Embed returns the icon pixels centred on their mean, so cosine distance reacts to structure
// rather than overall brightness.
func (*Embedder) Embed(ctx context.Context, img *imageio.Image) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	icon := images4.Icon(img.Pixels)
	if len(icon.Pixels) == 0 {
		return nil, &extract.ExtractionError{Backend: Name, Op: "embed", Err: fmt.Errorf("empty icon for %dx%d image", img.Width(), img.Height())}
	}
	var mean float64
	for _, p := range icon.Pixels {
		mean += float64(p)
	}
	mean /= float64(len(icon.Pixels))

	vec := make([]float32, len(icon.Pixels))
	for i, p := range icon.Pixels {
		vec[i] = float32(float64(p) - mean)
	}
	return vec, nil
}

var _ extract.Embedder = (*Embedder)(nil)
