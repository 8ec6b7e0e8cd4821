package compare

import (
	"context"
	"image"
	"image/color"
	"sort"
	"sync/atomic"

	"github.com/high-horse/similarity-server/extract"
	"github.com/high-horse/similarity-server/imageio"
	"github.com/high-horse/similarity-server/similarity"
)

var marker = color.NRGBA{R: 255, A: 255}

// drawFace paints 3x3 marker dots on a plain background; the dots stand in for facial features.
func drawFace(bg color.NRGBA, points ...image.Point) *imageio.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			img.SetNRGBA(x, y, bg)
		}
	}
	for _, p := range points {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				img.SetNRGBA(p.X+dx, p.Y+dy, marker)
			}
		}
	}
	return &imageio.Image{Pixels: img, Format: "png", Decoder: "std", Bytes: 1234}
}

func gradient(shift int) *imageio.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8((x*4 + shift) % 256), G: uint8(y * 5), B: uint8((x + y) * 2), A: 255})
		}
	}
	return &imageio.Image{Pixels: img, Format: "png", Decoder: "std", Bytes: 999}
}

// markerEncoder finds marker dots and reports them as one face. Its descriptor is the
// normalised landmark geometry, so two drawings with the same dots encode identically.
type markerEncoder struct {
	name string
}

func (m *markerEncoder) Name() string    { return m.name }
func (m *markerEncoder) Available() bool { return true }
func (m *markerEncoder) Close() error    { return nil }

func (m *markerEncoder) Encode(ctx context.Context, img *imageio.Image) ([]extract.Face, error) {
	return m.detect(img), nil
}

func (m *markerEncoder) Landmarks(ctx context.Context, img *imageio.Image) ([]extract.Face, error) {
	return m.detect(img), nil
}

func (m *markerEncoder) detect(img *imageio.Image) []extract.Face {
	var centres []image.Point
	b := img.Pixels.Bounds()
	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		for x := b.Min.X + 1; x < b.Max.X-1; x++ {
			if isDotCentre(img.Pixels, x, y) {
				centres = append(centres, image.Pt(x, y))
			}
		}
	}
	if len(centres) < 3 {
		return nil
	}
	sort.Slice(centres, func(i, j int) bool {
		if centres[i].Y != centres[j].Y {
			return centres[i].Y < centres[j].Y
		}
		return centres[i].X < centres[j].X
	})

	names := []string{similarity.LeftEye, similarity.RightEye, "NOSE", "MOUTH_LEFT", "MOUTH_RIGHT"}
	set := similarity.LandmarkSet{}
	for i, p := range centres {
		if i == len(names) {
			break
		}
		set[names[i]] = similarity.Point{X: float64(p.X), Y: float64(p.Y)}
	}
	norm := set.Normalized()
	keys := make([]string, 0, len(norm))
	for k := range norm {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var desc []float32
	for _, k := range keys {
		desc = append(desc, float32(norm[k].X), float32(norm[k].Y))
	}
	return []extract.Face{{Bounds: b, Confidence: 1, Descriptor: desc, Landmarks: set}}
}

func isDotCentre(img *image.NRGBA, x, y int) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if img.NRGBAAt(x+dx, y+dy) != marker {
				return false
			}
		}
	}
	return true
}

// failing is a collaborator that is configured but always errors.
type failing struct{ name string }

func (f *failing) Name() string    { return f.name }
func (f *failing) Available() bool { return true }
func (f *failing) Close() error    { return nil }

func (f *failing) err(op string) error {
	return &extract.ExtractionError{Backend: f.name, Op: op, Err: context.DeadlineExceeded}
}

func (f *failing) Embed(context.Context, *imageio.Image) ([]float32, error) {
	return nil, f.err("embed")
}

func (f *failing) Hash(context.Context, *imageio.Image) (uint64, error) { return 0, f.err("hash") }
func (f *failing) Distance(a, b uint64) (int, error)                    { return 0, nil }

func (f *failing) Landmarks(context.Context, *imageio.Image) ([]extract.Face, error) {
	return nil, f.err("landmarks")
}

func (f *failing) Encode(context.Context, *imageio.Image) ([]extract.Face, error) {
	return nil, f.err("encode")
}

// fixedLocator finds the same number of faces everywhere.
type fixedLocator struct{ n int }

func (l *fixedLocator) Name() string    { return "locator" }
func (l *fixedLocator) Available() bool { return true }
func (l *fixedLocator) Close() error    { return nil }

func (l *fixedLocator) Locate(context.Context, *imageio.Image) ([]image.Rectangle, error) {
	return make([]image.Rectangle, l.n), nil
}

// countingEncoder counts how often each role is asked.
type countingEncoder struct {
	markerEncoder
	encodes   atomic.Int32
	landmarks atomic.Int32
}

func (c *countingEncoder) Encode(ctx context.Context, img *imageio.Image) ([]extract.Face, error) {
	c.encodes.Add(1)
	return c.markerEncoder.Encode(ctx, img)
}

func (c *countingEncoder) Landmarks(ctx context.Context, img *imageio.Image) ([]extract.Face, error) {
	c.landmarks.Add(1)
	return c.markerEncoder.Landmarks(ctx, img)
}
