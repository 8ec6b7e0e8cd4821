package icon

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/high-horse/similarity-server/imageio"
	"github.com/high-horse/similarity-server/similarity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func split(w, h int, left, right color.NRGBA) *imageio.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				img.SetNRGBA(x, y, left)
			} else {
				img.SetNRGBA(x, y, right)
			}
		}
	}
	return &imageio.Image{Pixels: img}
}

var (
	black = color.NRGBA{A: 255}
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
)

func TestEmbedIdenticalImages(t *testing.T) {
	e := New()
	a, err := e.Embed(context.Background(), split(64, 64, black, white))
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), split(64, 64, black, white))
	require.NoError(t, err)

	d, err := similarity.CosineDistance(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 0, d, 1e-6)
}

func TestEmbedSeparatesMirroredImages(t *testing.T) {
	e := New()
	a, err := e.Embed(context.Background(), split(64, 64, black, white))
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), split(64, 64, white, black))
	require.NoError(t, err)

	d, err := similarity.CosineDistance(a, b)
	require.NoError(t, err)
	assert.Greater(t, d, 1.0)
}

func TestEmbedHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Embed(ctx, split(8, 8, black, white))
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, New().Available())
	assert.Equal(t, "icon", New().Name())
}
