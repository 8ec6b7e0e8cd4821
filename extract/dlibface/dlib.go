//go:build dlib

package dlibface

import (
	"context"
	"fmt"
	"sync"

	"github.com/Kagami/go-face"

	"github.com/high-horse/similarity-server/config"
	"github.com/high-horse/similarity-server/extract"
	"github.com/high-horse/similarity-server/imageio"
)

// Encoder serialises calls into the recogniser; dlib's detector is not safe for concurrent use.
type Encoder struct {
	lock       sync.Mutex
	recognizer *face.Recognizer
	cfg        config.FaceConfig
	err        error
}

// New loads the models from cfg.ModelDir. A load failure leaves the encoder unavailable.
func New(cfg config.FaceConfig) *Encoder {
	e := &Encoder{cfg: cfg}
	if !cfg.Enabled {
		e.err = extract.ErrUnavailable
		return e
	}
	rec, err := face.NewRecognizer(cfg.ModelDir)
	if err != nil {
		e.err = fmt.Errorf("fail to initialize recognizer: %w", err)
		return e
	}
	e.recognizer = rec
	return e
}

func (e *Encoder) Name() string    { return Name }
func (e *Encoder) Available() bool { return e.recognizer != nil }
func (e *Encoder) Err() error      { return e.err }

func (e *Encoder) Close() error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.recognizer != nil {
		e.recognizer.Close()
		e.recognizer = nil
	}
	return nil
}

func (e *Encoder) Encode(ctx context.Context, img *imageio.Image) ([]extract.Face, error) {
	return e.recognize(ctx, img, "encode")
}

// Landmarks returns the same faces as Encode; the shape points are filled on each face.
func (e *Encoder) Landmarks(ctx context.Context, img *imageio.Image) ([]extract.Face, error) {
	return e.recognize(ctx, img, "landmarks")
}

func (e *Encoder) recognize(ctx context.Context, img *imageio.Image, op string) ([]extract.Face, error) {
	if !e.Available() {
		return nil, &extract.ExtractionError{Backend: Name, Op: op, Err: extract.ErrUnavailable}
	}
	jpg, err := imageio.EncodeJPEG(img.Pixels)
	if err != nil {
		return nil, &extract.ExtractionError{Backend: Name, Op: op, Err: err}
	}

	faces, err := extract.Bounded(ctx, e.cfg.Timeout, func(context.Context) ([]face.Face, error) {
		e.lock.Lock()
		defer e.lock.Unlock()
		if e.recognizer == nil {
			return nil, extract.ErrUnavailable
		}
		if e.cfg.CNN {
			return e.recognizer.RecognizeCNN(jpg)
		}
		return e.recognizer.Recognize(jpg)
	})
	if err != nil {
		return nil, &extract.ExtractionError{Backend: Name, Op: op, Err: err}
	}

	out := make([]extract.Face, 0, len(faces))
	for _, f := range faces {
		out = append(out, toFace(f.Rectangle, f.Descriptor, f.Shapes))
	}
	return out, nil
}

var (
	_ extract.FaceEncoder      = (*Encoder)(nil)
	_ extract.LandmarkDetector = (*Encoder)(nil)
)
