//go:build opencv

package onnx

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/high-horse/similarity-server/config"
	"github.com/high-horse/similarity-server/extract"
	"github.com/high-horse/similarity-server/imageio"
)

type Embedder struct {
	lock sync.Mutex
	net  *gocv.Net
	cfg  config.EmbeddingConfig
	err  error
}

// New loads the network from cfg.ModelPath (ONNX, or any format gocv.ReadNet understands).
func New(cfg config.EmbeddingConfig) *Embedder {
	e := &Embedder{cfg: cfg}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		e.err = err
		return e
	}
	net := gocv.ReadNet(cfg.ModelPath, "")
	if net.Empty() {
		e.err = fmt.Errorf("failed to load network from %s", cfg.ModelPath)
		return e
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		e.err = err
		return e
	}
	e.net = &net
	return e
}

func (e *Embedder) Name() string    { return Name }
func (e *Embedder) Available() bool { return e.net != nil }
func (e *Embedder) Err() error      { return e.err }

func (e *Embedder) Close() error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.net == nil {
		return nil
	}
	err := e.net.Close()
	e.net = nil
	return err
}

func (e *Embedder) Embed(ctx context.Context, img *imageio.Image) ([]float32, error) {
	if !e.Available() {
		return nil, &extract.ExtractionError{Backend: Name, Op: "embed", Err: extract.ErrUnavailable}
	}
	raw, err := extract.Bounded(ctx, e.cfg.Timeout, func(context.Context) ([]float32, error) {
		return e.forward(img)
	})
	if err != nil {
		return nil, &extract.ExtractionError{Backend: Name, Op: "embed", Err: err}
	}
	vec, err := Embedding(raw)
	if err != nil {
		return nil, &extract.ExtractionError{Backend: Name, Op: "embed", Err: err}
	}
	return vec, nil
}

func (e *Embedder) forward(img *imageio.Image) ([]float32, error) {
	mat, err := gocv.ImageToMatRGB(img.Pixels)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	size := image.Pt(e.cfg.InputSize, e.cfg.InputSize)
	blob := gocv.BlobFromImage(mat, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	e.lock.Lock()
	defer e.lock.Unlock()
	if e.net == nil {
		return nil, extract.ErrUnavailable
	}
	e.net.SetInput(blob, "")
	out := e.net.Forward(e.cfg.Layer)
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, err
	}
	raw := make([]float32, len(data))
	copy(raw, data)
	return raw, nil
}

var _ extract.Embedder = (*Embedder)(nil)
