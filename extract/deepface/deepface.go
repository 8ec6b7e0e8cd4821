// Package deepface gets embeddings from a DeepFace API sidecar (POST /represent).
package deepface

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/high-horse/similarity-server/config"
	"github.com/high-horse/similarity-server/extract"
	"github.com/high-horse/similarity-server/imageio"
)

const Name = "deepface"

var ErrNoEmbedding = errors.New("response carries no embedding")

type Client struct {
	url string
	cfg config.EmbeddingConfig
}

func New(cfg config.EmbeddingConfig) *Client {
	return &Client{url: strings.TrimRight(cfg.URL, "/") + "/represent", cfg: cfg}
}

func (c *Client) Name() string    { return Name }
func (c *Client) Available() bool { return c.cfg.URL != "" }
func (c *Client) Close() error    { return nil }

type representRequest struct {
	ModelName        string `json:"model_name"`
	Img              string `json:"img"`
	EnforceDetection bool   `json:"enforce_detection"`
}

type representResponse struct {
	Results []struct {
		Embedding      []float32 `json:"embedding"`
		FaceConfidence float64   `json:"face_confidence"`
	} `json:"results"`
	Error string `json:"error"`
}

// Embed sends the image as a JPEG data URL. Detection is not enforced, so images without a face
// still get an embedding of the whole frame.
func (c *Client) Embed(ctx context.Context, img *imageio.Image) ([]float32, error) {
	if !c.Available() {
		return nil, &extract.ExtractionError{Backend: Name, Op: "embed", Err: extract.ErrUnavailable}
	}
	jpg, err := imageio.EncodeJPEG(img.Pixels)
	if err != nil {
		return nil, &extract.ExtractionError{Backend: Name, Op: "embed", Err: err}
	}
	req := representRequest{
		ModelName: c.cfg.Model,
		Img:       "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpg),
	}

	vec, err := extract.Bounded(ctx, c.cfg.Timeout, func(context.Context) ([]float32, error) {
		return c.represent(req)
	})
	if err != nil {
		return nil, &extract.ExtractionError{Backend: Name, Op: "embed", Err: err}
	}
	return vec, nil
}

func (c *Client) represent(req representRequest) ([]float32, error) {
	agent := fiber.Post(c.url).JSON(req).Timeout(c.cfg.Timeout)

	var resp representResponse
	code, body, errs := agent.Struct(&resp)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if code != fiber.StatusOK {
		if resp.Error != "" {
			return nil, fmt.Errorf("status %d: %s", code, resp.Error)
		}
		return nil, fmt.Errorf("status %d: %d bytes", code, len(body))
	}
	if len(resp.Results) == 0 || len(resp.Results[0].Embedding) == 0 {
		return nil, ErrNoEmbedding
	}
	return resp.Results[0].Embedding, nil
}

var _ extract.Embedder = (*Client)(nil)
