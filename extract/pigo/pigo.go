// Package pigo locates faces with the pure-Go pigo cascade classifier. It finds rectangles only:
// no descriptor, no landmarks.
package pigo

import (
	"context"
	"fmt"
	"image"
	"os"

	pigo "github.com/esimov/pigo/core"

	"github.com/high-horse/similarity-server/config"
	"github.com/high-horse/similarity-server/extract"
	"github.com/high-horse/similarity-server/imageio"
)

const Name = "pigo"

type Locator struct {
	classifier *pigo.Pigo
	cfg        config.PigoConfig
	err        error
}

// New loads the cascade file. A missing or corrupt cascade leaves the locator unavailable; the
// load error is kept for Err.
func New(cfg config.PigoConfig) *Locator {
	l := &Locator{cfg: cfg}
	data, err := os.ReadFile(cfg.CascadeFile)
	if err != nil {
		l.err = fmt.Errorf("error reading the cascade file: %w", err)
		return l
	}
	l.classifier, l.err = Unpack(data)
	return l
}

// Unpack parses a facefinder cascade. pigo indexes into the buffer without bounds checks, so a
// truncated file panics; that panic is reported as an error.
func Unpack(data []byte) (classifier *pigo.Pigo, err error) {
	defer func() {
		if r := recover(); r != nil {
			classifier, err = nil, fmt.Errorf("corrupt cascade file: %v", r)
		}
	}()
	classifier, err = pigo.NewPigo().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("error unpacking the cascade file: %w", err)
	}
	return classifier, nil
}

func (l *Locator) Name() string    { return Name }
func (l *Locator) Available() bool { return l.classifier != nil }
func (l *Locator) Close() error    { return nil }

// Err is the reason the locator is unavailable, if any.
func (l *Locator) Err() error { return l.err }

func (l *Locator) Locate(ctx context.Context, img *imageio.Image) ([]image.Rectangle, error) {
	if l.classifier == nil {
		return nil, &extract.ExtractionError{Backend: Name, Op: "locate", Err: extract.ErrUnavailable}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := img.Pixels
	pixels := pigo.RgbToGrayscale(src)
	cols, rows := src.Bounds().Dx(), src.Bounds().Dy()

	params := pigo.CascadeParams{
		MinSize:     l.cfg.MinSize,
		MaxSize:     l.cfg.MaxSize,
		ShiftFactor: l.cfg.ShiftFactor,
		ScaleFactor: l.cfg.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pixels,
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}
	dets := l.classifier.RunCascade(params, 0.0)
	dets = l.classifier.ClusterDetections(dets, l.cfg.IoU)
	return Rectangles(dets, float32(l.cfg.MinQuality)), nil
}

// Rectangles keeps detections at or above minQuality and converts the centre/scale form to
// rectangles.
func Rectangles(dets []pigo.Detection, minQuality float32) []image.Rectangle {
	var out []image.Rectangle
	for _, d := range dets {
		if d.Q < minQuality {
			continue
		}
		half := d.Scale / 2
		out = append(out, image.Rect(d.Col-half, d.Row-half, d.Col+half, d.Row+half))
	}
	return out
}

var _ extract.FaceLocator = (*Locator)(nil)
