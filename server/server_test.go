package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/high-horse/similarity-server/config"
	"github.com/high-horse/similarity-server/detect"
	"github.com/high-horse/similarity-server/extract"
	"github.com/high-horse/similarity-server/extract/icon"
	"github.com/high-horse/similarity-server/extract/phash"
	"github.com/high-horse/similarity-server/imageio"
	"github.com/high-horse/similarity-server/transparency"
)

func pngPayload(t *testing.T, shift int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 48, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 48; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x*5 + shift), G: uint8(y * 7), B: uint8(x + y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newApp(t *testing.T, set *extract.Set, opts ...Option) *App {
	t.Helper()
	app, err := NewApp(append([]Option{WithBackends(set)}, opts...)...)
	require.NoError(t, err)
	return app
}

func localSet() *extract.Set {
	return &extract.Set{Embedder: icon.New(), Hasher: phash.New()}
}

func do(t *testing.T, app *App, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://localhost:8081")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func TestHealth(t *testing.T) {
	app := newApp(t, localSet())
	resp, body := do(t, app, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["embedding"])
	assert.Equal(t, false, body["vision_api"])
	assert.Equal(t, false, body["face_encoder"])
	assert.Equal(t, map[string]any{"icon": true, "phash": true}, body["backends"])
	assert.NotEmpty(t, body["timestamp"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestOptionsShortCircuits(t *testing.T) {
	app := newApp(t, localSet())
	req := httptest.NewRequest(http.MethodOptions, "/compare", nil)
	req.Header.Set("Origin", "http://localhost:8081")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
	raw, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))
}

func TestCompareIdentical(t *testing.T) {
	app := newApp(t, localSet())
	img := pngPayload(t, 0)
	resp, body := do(t, app, http.MethodPost, "/compare", CompareRequest{Image1: img, Image2: "data:image/png;base64," + img})

	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, 100.0, body["similarity"])
	assert.Equal(t, true, body["match"])
	assert.Equal(t, "very_high", body["confidence_level"])
	assert.Equal(t, "object", body["analysis_type"])
	assert.Equal(t, "embedding+phash", body["comparison_type"])
	assert.Contains(t, body, "processing_time_ms")

	details, ok := body["analysis_details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 70.0, details["match_threshold"])
	assert.Len(t, details["methods"], 2)
}

func TestCompareIsSymmetric(t *testing.T) {
	app := newApp(t, localSet())
	a, b := pngPayload(t, 0), pngPayload(t, 120)

	_, ab := do(t, app, http.MethodPost, "/compare", CompareRequest{Image1: a, Image2: b})
	_, ba := do(t, app, http.MethodPost, "/compare", CompareRequest{Image1: b, Image2: a})
	assert.InDelta(t, ab["similarity"], ba["similarity"], 1e-9)
}

func TestCompareBadInput(t *testing.T) {
	app := newApp(t, localSet())
	good := pngPayload(t, 0)
	garbage := base64.StdEncoding.EncodeToString([]byte("definitely not an image"))

	for name, req := range map[string]any{
		"missing image2":   CompareRequest{Image1: good},
		"empty body":       map[string]string{},
		"malformed base64": CompareRequest{Image1: good, Image2: "%%%not-base64%%%"},
		"bad data url":     CompareRequest{Image1: "data:image/png," + good, Image2: good},
		"undecodable":      CompareRequest{Image1: garbage, Image2: good},
	} {
		t.Run(name, func(t *testing.T) {
			resp, body := do(t, app, http.MethodPost, "/compare", req)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "error", body["status"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestBadRequestMessages(t *testing.T) {
	app := newApp(t, localSet())
	good := pngPayload(t, 0)

	for _, tt := range []struct {
		name string
		req  CompareRequest
		want string
	}{
		{"missing field", CompareRequest{Image1: good}, "missing image data: image1 and image2 are required"},
		{"empty data url", CompareRequest{Image1: good, Image2: "data:image/png;base64,"}, "image2: invalid base64 payload"},
		{"malformed base64", CompareRequest{Image1: "%%%", Image2: good}, "image1: invalid base64 payload"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, app, http.MethodPost, "/compare", tt.req)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, body["error"], tt.want)
		})
	}
}

// oversizedPNG is a valid 1x1 PNG whose header announces 50000x50000 pixels.
func oversizedPNG(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 1, 1))))
	data := buf.Bytes()
	binary.BigEndian.PutUint32(data[16:20], 50000)
	binary.BigEndian.PutUint32(data[20:24], 50000)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return base64.StdEncoding.EncodeToString(data)
}

func TestOversizedImageIsRejected(t *testing.T) {
	app := newApp(t, localSet())
	huge := oversizedPNG(t)

	resp, body := do(t, app, http.MethodPost, "/compare", CompareRequest{Image1: huge, Image2: huge})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "error", body["status"])
	assert.Contains(t, body["error"], "image1: image rejected")
	assert.Contains(t, body["error"], "50000x50000")

	resp, _ = do(t, app, http.MethodPost, "/detect", DetectRequest{Image: huge})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCompareRejectsNonJSON(t *testing.T) {
	app := newApp(t, localSet())
	req := httptest.NewRequest(http.MethodPost, "/compare", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

type brokenEmbedder struct{}

func (brokenEmbedder) Name() string    { return "broken" }
func (brokenEmbedder) Available() bool { return true }
func (brokenEmbedder) Close() error    { return nil }

func (brokenEmbedder) Embed(context.Context, *imageio.Image) ([]float32, error) {
	return nil, &extract.ExtractionError{Backend: "broken", Op: "embed", Err: context.DeadlineExceeded}
}

func TestCompareAllMethodsFailed(t *testing.T) {
	app := newApp(t, &extract.Set{Embedder: brokenEmbedder{}})
	img := pngPayload(t, 0)
	resp, body := do(t, app, http.MethodPost, "/compare", CompareRequest{Image1: img, Image2: img})

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "error", body["confidence_level"])
	assert.Equal(t, false, body["match"])
	assert.Contains(t, body["error"], "all similarity methods failed")
}

type cloudStub struct {
	ann *extract.Annotations
	err error
}

func (c *cloudStub) Name() string    { return "cloud_vision" }
func (c *cloudStub) Available() bool { return true }
func (c *cloudStub) Close() error    { return nil }

func (c *cloudStub) Annotate(context.Context, *imageio.Image) (*extract.Annotations, error) {
	return c.ann, c.err
}

func (c *cloudStub) Landmarks(context.Context, *imageio.Image) ([]extract.Face, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.ann.Faces, nil
}

func TestDetect(t *testing.T) {
	cloud := &cloudStub{ann: &extract.Annotations{Labels: []extract.Label{{Name: "Dog", Score: 0.95}}}}
	set := &extract.Set{Labeler: cloud, Embedder: icon.New()}
	app := newApp(t, set, WithDetector(detect.New(set, config.Default().Detect)))

	resp, body := do(t, app, http.MethodPost, "/detect", DetectRequest{Image: pngPayload(t, 0)})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "pet", body["primary_type"])

	detected := body["detected"].(map[string]any)
	assert.Len(t, detected["pets"], 1)
	assert.Equal(t, []any{}, detected["faces"])
	assert.Equal(t, []any{}, detected["objects"])
}

func TestCloudOutageStillSucceeds(t *testing.T) {
	cloud := &cloudStub{err: &extract.ExtractionError{Backend: "cloud_vision", Op: "annotate", Err: context.DeadlineExceeded}}
	set := &extract.Set{Labeler: cloud, Landmarks: cloud, Embedder: icon.New(), Hasher: phash.New()}
	app := newApp(t, set)
	img := pngPayload(t, 0)

	resp, body := do(t, app, http.MethodPost, "/detect", DetectRequest{Image: img})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "object", body["primary_type"])

	resp, body = do(t, app, http.MethodPost, "/compare", CompareRequest{Image1: img, Image2: img})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["match"])
}

func TestDetectMissingImage(t *testing.T) {
	app := newApp(t, localSet())
	resp, body := do(t, app, http.MethodPost, "/detect", DetectRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "error", body["status"])
}

func TestTransparencyRecordsRequest(t *testing.T) {
	root := t.TempDir()
	app := newApp(t, localSet(), WithTransparency(transparency.NewDirectory(root, []string{"verdict"})))
	img := pngPayload(t, 0)

	resp, _ := do(t, app, http.MethodPost, "/compare", CompareRequest{Image1: img, Image2: img})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	id := resp.Header.Get("X-Request-ID")
	require.NotEmpty(t, id)
	_, err := os.Stat(filepath.Join(root, id, "verdict.cbor"))
	assert.NoError(t, err)
}

func TestBodyLimit(t *testing.T) {
	app := newApp(t, localSet(), WithBodyLimit(1024))
	img := pngPayload(t, 0)
	resp, _ := do(t, app, http.MethodPost, "/compare", CompareRequest{Image1: img, Image2: strings.Repeat("A", 4096)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}
