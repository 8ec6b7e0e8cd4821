package compare

import (
	"context"
	"fmt"
	"sync"

	"github.com/high-horse/similarity-server/extract"
	"github.com/high-horse/similarity-server/imageio"
	"github.com/high-horse/similarity-server/transparency"
	"github.com/high-horse/similarity-server/xlog"
)

// features is everything the collaborators said about one image. Each field pair is either a
// value or the reason there is none.
type features struct {
	encoded    []extract.Face
	encodeErr  error
	marked     []extract.Face
	markErr    error
	embedding  []float32
	embedErr   error
	hash       uint64
	hashErr    error
	faces      int
	faceSource string
}

func unavailable(name, op string) error {
	return &extract.ExtractionError{Backend: name, Op: op, Err: extract.ErrUnavailable}
}

// extractFeatures asks every configured collaborator about img concurrently, then runs the face
// gate.
func (c *Comparator) extractFeatures(ctx context.Context, img *imageio.Image, label string) *features {
	f := &features{}
	var wg sync.WaitGroup

	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	run(func() {
		if !extract.Usable(c.set.Faces) {
			f.encodeErr = unavailable("face_encoder", "encode")
			return
		}
		f.encoded, f.encodeErr = c.set.Faces.Encode(ctx, img)
	})
	shared := sameBackend(c.set.Faces, c.set.Landmarks)
	run(func() {
		if shared {
			return
		}
		if !extract.Usable(c.set.Landmarks) {
			f.markErr = unavailable("landmarks", "landmarks")
			return
		}
		f.marked, f.markErr = c.set.Landmarks.Landmarks(ctx, img)
	})
	if c.needEmbedding {
		run(func() {
			if !extract.Usable(c.set.Embedder) {
				f.embedErr = unavailable("embedder", "embed")
				return
			}
			f.embedding, f.embedErr = c.set.Embedder.Embed(ctx, img)
		})
	}
	if c.needHash {
		run(func() {
			if !extract.Usable(c.set.Hasher) {
				f.hashErr = unavailable("hasher", "hash")
				return
			}
			f.hash, f.hashErr = c.set.Hasher.Hash(ctx, img)
		})
	}
	wg.Wait()
	if shared {
		f.marked, f.markErr = f.encoded, f.encodeErr
	}

	f.faces, f.faceSource = c.countFaces(ctx, img, f)

	for _, err := range []error{f.encodeErr, f.markErr, f.embedErr, f.hashErr} {
		if err != nil {
			xlog.Debug("extraction failed", "image", label, "width", img.Width(), "height", img.Height(), "bytes", img.Bytes, "error", err)
		}
	}

	tl := transparency.FromContext(ctx)
	logRecord(tl, label+".faces", f.encoded)
	logRecord(tl, label+".landmarks", f.marked)
	logRecord(tl, label+".embedding", f.embedding)
	if f.hashErr == nil && c.needHash {
		logRecord(tl, label+".hash", f.hash)
	}
	return f
}

// sameBackend reports whether one collaborator fills both face roles; its single answer then
// serves both.
func sameBackend(faces extract.FaceEncoder, marks extract.LandmarkDetector) bool {
	if faces == nil || marks == nil {
		return false
	}
	return extract.Backend(faces) == extract.Backend(marks)
}

// countFaces is the face gate: the first strategy that answers decides the count, whether or not
// it found a face.
func (c *Comparator) countFaces(ctx context.Context, img *imageio.Image, f *features) (int, string) {
	if f.encodeErr == nil {
		return len(f.encoded), c.set.Faces.Name()
	}
	if f.markErr == nil {
		return len(f.marked), c.set.Landmarks.Name()
	}
	if extract.Usable(c.set.Locator) {
		rects, err := c.set.Locator.Locate(ctx, img)
		if err == nil {
			return len(rects), c.set.Locator.Name()
		}
		xlog.Debug("face locator failed", "width", img.Width(), "height", img.Height(), "error", err)
	}
	return 0, ""
}

func logRecord(tl *transparency.Logger, key string, v any) {
	if err := tl.Log(key, v); err != nil {
		xlog.Warn("transparency record dropped", "key", key, "error", err)
	}
}

// primaryFace picks the largest face that satisfies ok.
func primaryFace(faces []extract.Face, ok func(extract.Face) bool) (extract.Face, error) {
	var best extract.Face
	area := -1
	for _, face := range faces {
		if !ok(face) {
			continue
		}
		if a := face.Bounds.Dx() * face.Bounds.Dy(); a > area {
			best, area = face, a
		}
	}
	if area < 0 {
		return extract.Face{}, fmt.Errorf("%w among %d candidates", extract.ErrNoFace, len(faces))
	}
	return best, nil
}
