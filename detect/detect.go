// Package detect classifies a single image as a human face, a pet or a generic object.
package detect

import (
	"context"
	"image"
	"strings"
	"time"

	"github.com/high-horse/similarity-server/config"
	"github.com/high-horse/similarity-server/extract"
	"github.com/high-horse/similarity-server/imageio"
	"github.com/high-horse/similarity-server/xlog"
)

type Type string

const (
	HumanFace Type = "human_face"
	Pet       Type = "pet"
	Object    Type = "object"
)

// DefaultAnimals is matched word by word against labels and object names.
var DefaultAnimals = []string{
	"animal", "pet", "mammal", "vertebrate", "dog", "puppy", "cat", "kitten", "bird", "parrot",
	"horse", "rabbit", "hamster", "fish", "reptile", "turtle", "snake", "canidae", "felidae",
	"carnivore", "rodent", "cow", "sheep", "goat",
}

type Face struct {
	Bounds     image.Rectangle `json:"bounds"`
	Confidence float64         `json:"confidence"`
	Source     string          `json:"source"`
}

type Detection struct {
	PrimaryType Type
	Faces       []Face
	Pets        []extract.Label
	Objects     []extract.Label
	Labels      []extract.Label
	Failures    map[string]string
	Elapsed     time.Duration
}

type Detector struct {
	set      *extract.Set
	animals  map[string]bool
	minScore float64
}

func New(set *extract.Set, cfg config.DetectConfig) *Detector {
	words := cfg.Animals
	if len(words) == 0 {
		words = DefaultAnimals
	}
	d := &Detector{set: set, animals: make(map[string]bool, len(words)), minScore: cfg.MinScore}
	for _, w := range words {
		d.animals[strings.ToLower(strings.TrimSpace(w))] = true
	}
	return d
}

// Detect never fails because a collaborator is missing: each absent strategy is recorded in
// Failures and the next one is tried.
func (d *Detector) Detect(ctx context.Context, img *imageio.Image) *Detection {
	start := time.Now()
	det := &Detection{Failures: make(map[string]string)}

	var ann *extract.Annotations
	if extract.Usable(d.set.Labeler) {
		var err error
		ann, err = d.set.Labeler.Annotate(ctx, img)
		if err != nil {
			det.Failures["labels"] = err.Error()
			xlog.Warn("labeller failed", "width", img.Width(), "height", img.Height(), "bytes", img.Bytes, "error", err)
			ann = nil
		}
	}

	det.Faces = d.faces(ctx, img, ann, det.Failures)

	if ann != nil {
		det.Labels = d.filter(ann.Labels)
		det.Objects = d.filter(ann.Objects)
		for _, l := range append(append([]extract.Label{}, det.Labels...), det.Objects...) {
			if d.isAnimal(l.Name) {
				det.Pets = append(det.Pets, l)
			}
		}
	}

	switch {
	case len(det.Faces) > 0:
		det.PrimaryType = HumanFace
	case len(det.Pets) > 0:
		det.PrimaryType = Pet
	default:
		det.PrimaryType = Object
	}
	det.Elapsed = time.Since(start)
	return det
}

// faces tries the face encoder, the labeller's own face annotations, then the locator; the first
// that answers wins.
func (d *Detector) faces(ctx context.Context, img *imageio.Image, ann *extract.Annotations, failures map[string]string) []Face {
	if extract.Usable(d.set.Faces) {
		found, err := d.set.Faces.Encode(ctx, img)
		if err == nil {
			return convert(found, d.set.Faces.Name())
		}
		failures["face_encoder"] = err.Error()
	}
	if ann != nil {
		return convert(ann.Faces, d.set.Labeler.Name())
	}
	if extract.Usable(d.set.Locator) {
		rects, err := d.set.Locator.Locate(ctx, img)
		if err == nil {
			out := make([]Face, 0, len(rects))
			for _, r := range rects {
				out = append(out, Face{Bounds: r, Source: d.set.Locator.Name()})
			}
			return out
		}
		failures["face_locator"] = err.Error()
	}
	return nil
}

func convert(faces []extract.Face, source string) []Face {
	out := make([]Face, 0, len(faces))
	for _, f := range faces {
		out = append(out, Face{Bounds: f.Bounds, Confidence: f.Confidence, Source: source})
	}
	return out
}

func (d *Detector) filter(labels []extract.Label) []extract.Label {
	var out []extract.Label
	for _, l := range labels {
		if l.Score >= d.minScore {
			out = append(out, l)
		}
	}
	return out
}

func (d *Detector) isAnimal(name string) bool {
	for _, w := range strings.Fields(strings.ToLower(name)) {
		if d.animals[w] {
			return true
		}
	}
	return false
}
