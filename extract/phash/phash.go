// Package phash provides the perceptual-hash arm of the object comparison.
package phash

import (
	"context"

	"github.com/corona10/goimagehash"

	"github.com/high-horse/similarity-server/extract"
	"github.com/high-horse/similarity-server/imageio"
)

const (
	Name = "phash"
	Bits = 64
)

type Hasher struct{}

func New() *Hasher { return &Hasher{} }

func (*Hasher) Name() string    { return Name }
func (*Hasher) Available() bool { return true }
func (*Hasher) Close() error    { return nil }

func (*Hasher) Hash(ctx context.Context, img *imageio.Image) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	h, err := goimagehash.PerceptionHash(img.Pixels)
	if err != nil {
		return 0, &extract.ExtractionError{Backend: Name, Op: "hash", Err: err}
	}
	return h.GetHash(), nil
}

// Distance is the Hamming distance between two perception hashes, in [0, 64].
func (*Hasher) Distance(a, b uint64) (int, error) {
	ha := goimagehash.NewImageHash(a, goimagehash.PHash)
	hb := goimagehash.NewImageHash(b, goimagehash.PHash)
	return ha.Distance(hb)
}

var _ extract.Hasher = (*Hasher)(nil)
