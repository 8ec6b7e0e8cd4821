// Package compare runs the comparison pipeline: extract features of both images, decide between
// face and object analysis, turn every available distance into an estimate and let the policy
// combine them.
package compare

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/high-horse/similarity-server/config"
	"github.com/high-horse/similarity-server/extract"
	"github.com/high-horse/similarity-server/imageio"
	"github.com/high-horse/similarity-server/policy"
	"github.com/high-horse/similarity-server/similarity"
	"github.com/high-horse/similarity-server/transparency"
	"github.com/high-horse/similarity-server/xlog"
)

type Mode string

const (
	Face   Mode = "face"
	Object Mode = "object"
)

const (
	MethodFaceEncoding = "face_encoding"
	MethodLandmarks    = "landmarks"
	MethodEmbedding    = "embedding"
	MethodPhash        = "phash"
)

type ImageInfo struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Format     string `json:"format"`
	Decoder    string `json:"decoder"`
	Bytes      int    `json:"bytes"`
	Scaled     bool   `json:"scaled"`
	Faces      int    `json:"faces"`
	FaceSource string `json:"face_source,omitempty"`
}

type Result struct {
	Verdict   policy.Verdict
	Mode      Mode
	Estimates []policy.Estimate
	// Failures maps a method to the reason it produced no estimate.
	Failures map[string]string
	Faces    [2]int
	Images   [2]ImageInfo
	Elapsed  time.Duration
}

type Comparator struct {
	set           *extract.Set
	face          *policy.Policy
	object        *policy.Policy
	faceWeights   config.WeightsConfig
	objectWeights config.WeightsConfig
	scales        config.ScalesConfig
	needEmbedding bool
	needHash      bool
}

// New builds a comparator over the injected collaborators. The set is shared, not copied.
func New(set *extract.Set, cfg config.PolicyConfig) (*Comparator, error) {
	face, err := newPolicy(cfg.Face)
	if err != nil {
		return nil, fmt.Errorf("face policy: %w", err)
	}
	object, err := newPolicy(cfg.Object)
	if err != nil {
		return nil, fmt.Errorf("object policy: %w", err)
	}
	return &Comparator{
		set:           set,
		face:          face,
		object:        object,
		faceWeights:   cfg.Face.Weights,
		objectWeights: cfg.Object.Weights,
		scales:        cfg.Scales,
		needEmbedding: cfg.Face.Weights.Embedding > 0 || cfg.Object.Weights.Embedding > 0,
		needHash:      cfg.Face.Weights.Phash > 0 || cfg.Object.Weights.Phash > 0,
	}, nil
}

func newPolicy(m config.ModeConfig) (*policy.Policy, error) {
	b := m.Bands
	return policy.New(policy.Bands{VeryHigh: b.VeryHigh, High: b.High, Medium: b.Medium, Low: b.Low}, m.MatchThreshold, m.Messages)
}

// Policy returns the decision policy of a mode.
func (c *Comparator) Policy(m Mode) *policy.Policy {
	if m == Face {
		return c.face
	}
	return c.object
}

// Compare scores a against b. When every method fails the result is still returned, with an
// error label, alongside an error wrapping policy.ErrAllMethodsFailed.
func (c *Comparator) Compare(ctx context.Context, a, b *imageio.Image) (*Result, error) {
	start := time.Now()

	var fa, fb *features
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		fa = c.extractFeatures(ctx, a, "image1")
	}()
	go func() {
		defer wg.Done()
		fb = c.extractFeatures(ctx, b, "image2")
	}()
	wg.Wait()

	res := &Result{
		Mode:     Object,
		Failures: make(map[string]string),
		Faces:    [2]int{fa.faces, fb.faces},
		Images:   [2]ImageInfo{info(a, fa), info(b, fb)},
	}
	if fa.faces > 0 && fb.faces > 0 {
		res.Mode = Face
	}

	if res.Mode == Face {
		w := c.faceWeights
		c.arm(res, MethodFaceEncoding, w.FaceEncoding, c.scales.FaceEncoding, func() (float64, error) {
			return encodingDistance(fa, fb)
		})
		c.arm(res, MethodLandmarks, w.Landmarks, c.scales.Landmarks, func() (float64, error) {
			return landmarkDistance(fa, fb)
		})
		c.arm(res, MethodEmbedding, w.Embedding, c.scales.Embedding, func() (float64, error) {
			return embeddingDistance(fa, fb)
		})
		c.arm(res, MethodPhash, w.Phash, c.scales.Phash, func() (float64, error) {
			return c.hashDistance(fa, fb)
		})
		if len(res.Estimates) == 0 {
			xlog.Debug("face mode produced no estimate, comparing as objects", "failures", res.Failures)
			res.Mode = Object
		}
	}
	if res.Mode == Object {
		w := c.objectWeights
		c.arm(res, MethodEmbedding, w.Embedding, c.scales.Embedding, func() (float64, error) {
			return embeddingDistance(fa, fb)
		})
		c.arm(res, MethodPhash, w.Phash, c.scales.Phash, func() (float64, error) {
			return c.hashDistance(fa, fb)
		})
	}

	res.Verdict = c.Policy(res.Mode).Decide(res.Estimates)
	res.Elapsed = time.Since(start)

	tl := transparency.FromContext(ctx)
	logRecord(tl, "estimates", res.Estimates)
	logRecord(tl, "verdict", res.Verdict)

	if res.Verdict.Err != nil {
		xlog.Warn("every similarity method failed",
			"mode", res.Mode,
			"image1_bytes", a.Bytes, "image1_size", fmt.Sprintf("%dx%d", a.Width(), a.Height()),
			"image2_bytes", b.Bytes, "image2_size", fmt.Sprintf("%dx%d", b.Width(), b.Height()),
			"failures", res.Failures)
		return res, fmt.Errorf("%w: %s", res.Verdict.Err, res.failureSummary())
	}
	return res, nil
}

// arm turns one distance into an estimate. Methods without weight are not computed at all.
func (c *Comparator) arm(res *Result, method string, weight, scale float64, distance func() (float64, error)) {
	if weight <= 0 {
		return
	}
	d, err := distance()
	if err != nil {
		res.Failures[method] = err.Error()
		return
	}
	res.Estimates = append(res.Estimates, policy.Estimate{
		Method:   method,
		Score:    similarity.DistanceScore(d, scale),
		Distance: d,
		Weight:   weight,
	})
}

func (r *Result) failureSummary() string {
	if len(r.Failures) == 0 {
		return "no method configured"
	}
	methods := maps.Keys(r.Failures)
	slices.Sort(methods)
	parts := make([]string, len(methods))
	for i, m := range methods {
		parts[i] = m + ": " + r.Failures[m]
	}
	return strings.Join(parts, "; ")
}

func info(img *imageio.Image, f *features) ImageInfo {
	return ImageInfo{
		Width:      img.Width(),
		Height:     img.Height(),
		Format:     img.Format,
		Decoder:    img.Decoder,
		Bytes:      img.Bytes,
		Scaled:     img.Scaled,
		Faces:      f.faces,
		FaceSource: f.faceSource,
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func encodingDistance(fa, fb *features) (float64, error) {
	if err := firstErr(fa.encodeErr, fb.encodeErr); err != nil {
		return 0, err
	}
	hasDescriptor := func(f extract.Face) bool { return len(f.Descriptor) > 0 }
	pa, err := primaryFace(fa.encoded, hasDescriptor)
	if err != nil {
		return 0, fmt.Errorf("image1: %w", err)
	}
	pb, err := primaryFace(fb.encoded, hasDescriptor)
	if err != nil {
		return 0, fmt.Errorf("image2: %w", err)
	}
	d, err := similarity.Euclidean(pa.Descriptor, pb.Descriptor)
	if err != nil {
		return 0, fmt.Errorf("descriptors of length %d and %d: %w", len(pa.Descriptor), len(pb.Descriptor), err)
	}
	return d, nil
}

func landmarkDistance(fa, fb *features) (float64, error) {
	if err := firstErr(fa.markErr, fb.markErr); err != nil {
		return 0, err
	}
	hasLandmarks := func(f extract.Face) bool { return len(f.Landmarks) >= 3 }
	pa, err := primaryFace(fa.marked, hasLandmarks)
	if err != nil {
		return 0, fmt.Errorf("image1: %w", err)
	}
	pb, err := primaryFace(fb.marked, hasLandmarks)
	if err != nil {
		return 0, fmt.Errorf("image2: %w", err)
	}
	d, _, err := similarity.LandmarkDistance(pa.Landmarks, pb.Landmarks)
	return d, err
}

func embeddingDistance(fa, fb *features) (float64, error) {
	if err := firstErr(fa.embedErr, fb.embedErr); err != nil {
		return 0, err
	}
	d, err := similarity.CosineDistance(fa.embedding, fb.embedding)
	if err != nil {
		return 0, fmt.Errorf("embeddings of length %d and %d: %w", len(fa.embedding), len(fb.embedding), err)
	}
	return d, nil
}

func (c *Comparator) hashDistance(fa, fb *features) (float64, error) {
	if err := firstErr(fa.hashErr, fb.hashErr); err != nil {
		return 0, err
	}
	if c.set.Hasher == nil {
		return 0, errors.New("no hasher configured")
	}
	d, err := c.set.Hasher.Distance(fa.hash, fb.hash)
	return float64(d), err
}
