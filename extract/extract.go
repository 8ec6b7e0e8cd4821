// Package extract defines the contracts of the external collaborators that turn an image into
// something comparable: face descriptors, landmark sets, embeddings, perceptual hashes and
// labels. Implementations live in the sub-packages; none of them is reimplemented here.
package extract

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/high-horse/similarity-server/imageio"
	"github.com/high-horse/similarity-server/similarity"
)

var (
	// ErrUnavailable means the backend is disabled or failed to load. Callers move on to the
	// next strategy.
	ErrUnavailable = errors.New("backend unavailable")
	ErrNoFace      = errors.New("no face detected")
)

// ExtractionError wraps a collaborator failure with the backend and the operation it ran.
type ExtractionError struct {
	Backend string
	Op      string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Backend is the part every collaborator shares. Backends are built once at start-up and are
// safe for concurrent use afterwards.
type Backend interface {
	Name() string
	Available() bool
	Close() error
}

// Face is one detected face. Descriptor and Landmarks are filled when the backend provides
// them.
type Face struct {
	Bounds     image.Rectangle        `json:"bounds" cbor:"bounds"`
	Confidence float64                `json:"confidence" cbor:"confidence"`
	Descriptor []float32              `json:"descriptor,omitempty" cbor:"descriptor,omitempty"`
	Landmarks  similarity.LandmarkSet `json:"landmarks,omitempty" cbor:"landmarks,omitempty"`
}

// FaceEncoder detects faces and computes a fixed-length descriptor for each.
type FaceEncoder interface {
	Backend
	Encode(ctx context.Context, img *imageio.Image) ([]Face, error)
}

// LandmarkDetector detects faces and their named landmarks.
type LandmarkDetector interface {
	Backend
	Landmarks(ctx context.Context, img *imageio.Image) ([]Face, error)
}

// FaceLocator only finds face rectangles.
type FaceLocator interface {
	Backend
	Locate(ctx context.Context, img *imageio.Image) ([]image.Rectangle, error)
}

// Embedder computes a whole-image embedding vector.
type Embedder interface {
	Backend
	Embed(ctx context.Context, img *imageio.Image) ([]float32, error)
}

// Hasher computes a perceptual hash; Distance is the number of differing bits.
type Hasher interface {
	Backend
	Hash(ctx context.Context, img *imageio.Image) (uint64, error)
	Distance(a, b uint64) (int, error)
}

type Label struct {
	Name  string  `json:"name" cbor:"name"`
	Score float64 `json:"score" cbor:"score"`
}

// Annotations is what a general-purpose labeller says about an image.
type Annotations struct {
	Labels  []Label `json:"labels" cbor:"labels"`
	Objects []Label `json:"objects" cbor:"objects"`
	Faces   []Face  `json:"faces" cbor:"faces"`
}

// Labeler classifies image content.
type Labeler interface {
	Backend
	Annotate(ctx context.Context, img *imageio.Image) (*Annotations, error)
}

// Bounded runs fn under a deadline. Collaborators that do not watch their context (cgo calls)
// are abandoned when the deadline passes: the caller gets context.DeadlineExceeded and the
// goroutine finishes on its own.
func Bounded[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- result{zero, fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Usable reports whether b is non-nil and available.
func Usable(b Backend) bool {
	return b != nil && b.Available()
}
