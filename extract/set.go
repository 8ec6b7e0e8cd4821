package extract

import (
	"errors"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Set is the process-wide collection of collaborators, built once by main and handed to the
// comparison and detection pipelines. Unset fields are simply absent strategies.
type Set struct {
	Faces     FaceEncoder
	Landmarks LandmarkDetector
	Locator   FaceLocator
	Embedder  Embedder
	Hasher    Hasher
	Labeler   Labeler
}

func (s *Set) backends() []Backend {
	var out []Backend
	for _, b := range []Backend{s.Faces, s.Landmarks, s.Locator, s.Embedder, s.Hasher, s.Labeler} {
		if b != nil {
			out = append(out, b)
		}
	}
	return out
}

// Availability maps backend names to whether they can serve requests.
func (s *Set) Availability() map[string]bool {
	out := make(map[string]bool)
	for _, b := range s.backends() {
		out[b.Name()] = out[b.Name()] || b.Available()
	}
	return out
}

// Names lists the configured backends in a stable order.
func (s *Set) Names() []string {
	names := maps.Keys(s.Availability())
	slices.Sort(names)
	return names
}

// Close releases every backend once, even when one value fills several roles.
func (s *Set) Close() error {
	seen := make(map[Backend]bool)
	var errs []error
	for _, b := range s.backends() {
		if seen[b] {
			continue
		}
		seen[b] = true
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
