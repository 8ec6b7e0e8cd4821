// Package transparency records the intermediate data of a comparison (decoded image sizes,
// feature vectors, estimates, the verdict) for offline inspection. Nothing is recorded unless a
// Contents sink is configured.
package transparency

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
)

const MimeCBOR = "application/cbor"

// Contents receives the records. Accepts is asked first so that data nobody wants is never
// serialised.
type Contents interface {
	Accepts(key string) bool
	Accept(key, mime string, data []byte) error
}

// Logger encodes records as CBOR. A nil *Logger discards everything.
type Logger struct {
	contents Contents
}

func NewLogger(contents Contents) *Logger {
	return &Logger{contents: contents}
}

func (l *Logger) Accepts(key string) bool {
	return l != nil && l.contents != nil && l.contents.Accepts(key)
}

func (l *Logger) Log(key string, v any) error {
	if !l.Accepts(key) {
		return nil
	}
	data, err := cbor.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return l.contents.Accept(key, MimeCBOR, data)
}

type ctxKey struct{}

func WithLogger(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the request's logger, or nil.
func FromContext(ctx context.Context) *Logger {
	l, _ := ctx.Value(ctxKey{}).(*Logger)
	return l
}

// Directory writes each request's records to <root>/<session>/<key>.cbor. An empty key filter
// accepts every key.
type Directory struct {
	root string
	keys map[string]bool
}

func NewDirectory(root string, keys []string) *Directory {
	d := &Directory{root: root}
	if len(keys) > 0 {
		d.keys = make(map[string]bool, len(keys))
		for _, k := range keys {
			d.keys[k] = true
		}
	}
	return d
}

// Session returns the sink for one request.
func (d *Directory) Session(id string) *Session {
	return &Session{dir: filepath.Join(d.root, filepath.Base(id)), keys: d.keys}
}

type Session struct {
	dir  string
	keys map[string]bool
}

func (s *Session) Dir() string { return s.dir }

func (s *Session) Accepts(key string) bool {
	return s.keys == nil || s.keys[key]
}

func (s *Session) Accept(key, mime string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	ext := ".bin"
	if mime == MimeCBOR {
		ext = ".cbor"
	}
	return os.WriteFile(filepath.Join(s.dir, filepath.Base(key)+ext), data, 0o644)
}
