package main

import (
	"context"

	"github.com/high-horse/similarity-server/config"
	"github.com/high-horse/similarity-server/extract"
	"github.com/high-horse/similarity-server/extract/cloudvision"
	"github.com/high-horse/similarity-server/extract/deepface"
	"github.com/high-horse/similarity-server/extract/dlibface"
	"github.com/high-horse/similarity-server/extract/icon"
	"github.com/high-horse/similarity-server/extract/onnx"
	"github.com/high-horse/similarity-server/extract/phash"
	"github.com/high-horse/similarity-server/extract/pigo"
	"github.com/high-horse/similarity-server/xlog"
)

// buildBackends creates every collaborator once. A collaborator that cannot load is kept in the
// set as unavailable so /health reports it; the pipelines skip it.
func buildBackends(ctx context.Context, cfg *config.Config) *extract.Set {
	set := &extract.Set{}

	dlib := dlibface.New(cfg.Face)
	report(dlib, dlib.Err())
	set.Faces = dlib

	vision := cloudvision.New(ctx, cfg.Vision)
	report(vision, vision.Err())
	set.Labeler = vision
	if vision.Available() || !dlib.Available() {
		set.Landmarks = vision
	} else {
		set.Landmarks = dlib
	}

	locator := pigo.New(cfg.Pigo)
	report(locator, locator.Err())
	set.Locator = locator

	set.Embedder = embedder(cfg.Embedding)

	if cfg.Hash.Enabled {
		set.Hasher = phash.New()
	}
	return set
}

// embedder returns the configured embedding backend, falling back to icon vectors when it
// cannot load.
func embedder(cfg config.EmbeddingConfig) extract.Embedder {
	switch cfg.Backend {
	case config.EmbeddingONNX:
		e := onnx.New(cfg)
		if e.Available() {
			xlog.Info("backend ready", "backend", e.Name(), "model", cfg.ModelPath)
			return e
		}
		xlog.Warn("embedding backend unavailable, using icon vectors", "backend", e.Name(), "error", e.Err())
	case config.EmbeddingDeepFace:
		e := deepface.New(cfg)
		if e.Available() {
			xlog.Info("backend ready", "backend", e.Name(), "url", cfg.URL, "model", cfg.Model)
			return e
		}
		xlog.Warn("embedding backend unavailable, using icon vectors", "backend", e.Name())
	}
	e := icon.New()
	xlog.Info("backend ready", "backend", e.Name())
	return e
}

func report(b extract.Backend, err error) {
	if b.Available() {
		xlog.Info("backend ready", "backend", b.Name())
		return
	}
	xlog.Warn("backend unavailable", "backend", b.Name(), "error", err)
}
