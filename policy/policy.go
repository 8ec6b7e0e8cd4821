// Package policy turns similarity estimates into a verdict: one combined score, a confidence
// label, a match flag and a human message.
package policy

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
)

type Label string

const (
	VeryHigh Label = "very_high"
	High     Label = "high"
	Medium   Label = "medium"
	Low      Label = "low"
	VeryLow  Label = "very_low"
	Error    Label = "error"
)

// Labels lists the confidence labels from weakest to strongest.
var Labels = []Label{VeryLow, Low, Medium, High, VeryHigh}

// Rank orders labels; error ranks below every real label.
func Rank(l Label) int {
	for i, x := range Labels {
		if x == l {
			return i
		}
	}
	return -1
}

var (
	ErrNoEstimates      = errors.New("no similarity estimates")
	ErrAllMethodsFailed = errors.New("all similarity methods failed")
)

// Estimate is one independent similarity measurement.
type Estimate struct {
	Method   string  `json:"method" cbor:"method"`
	Score    float64 `json:"score" cbor:"score"`
	Distance float64 `json:"distance" cbor:"distance"`
	Weight   float64 `json:"weight" cbor:"weight"`
}

// Combine returns the weighted mean of the estimates' scores. Estimates with a non-positive
// weight do not take part, and the remaining weights are renormalised to sum to 1, so a missing
// method never drags the score towards zero. The normalised weights are returned by method.
func Combine(estimates []Estimate) (float64, map[string]float64, error) {
	var total float64
	for _, e := range estimates {
		if e.Weight > 0 {
			total += e.Weight
		}
	}
	if total == 0 {
		return 0, nil, ErrNoEstimates
	}
	var score float64
	weights := make(map[string]float64, len(estimates))
	for _, e := range estimates {
		if e.Weight <= 0 {
			continue
		}
		w := e.Weight / total
		weights[e.Method] += w
		score += w * e.Score
	}
	return math.Max(0, math.Min(100, score)), weights, nil
}

// Bands are inclusive lower bounds on the 0-100 score.
type Bands struct {
	VeryHigh float64
	High     float64
	Medium   float64
	Low      float64
}

type Policy struct {
	bands    *treemap.Map
	match    float64
	messages map[Label]*template.Template
}

// New builds a policy. Messages are text/template sources keyed by label; the template data
// has Score, Label and Matched. Labels without a message fall back to a generic one.
func New(bands Bands, matchThreshold float64, messages map[string]string) (*Policy, error) {
	if !(bands.VeryHigh > bands.High && bands.High > bands.Medium && bands.Medium > bands.Low) {
		return nil, fmt.Errorf("bands must be strictly decreasing: %+v", bands)
	}
	m := treemap.NewWith(utils.Float64Comparator)
	m.Put(bands.VeryHigh, VeryHigh)
	m.Put(bands.High, High)
	m.Put(bands.Medium, Medium)
	m.Put(bands.Low, Low)

	p := &Policy{bands: m, match: matchThreshold, messages: make(map[Label]*template.Template)}
	for _, l := range Labels {
		src, ok := messages[string(l)]
		if !ok {
			src = fallbackMessage
		}
		tmpl, err := template.New(string(l)).Funcs(sprig.TxtFuncMap()).Parse(src)
		if err != nil {
			return nil, fmt.Errorf("invalid message template for %s: %w", l, err)
		}
		p.messages[l] = tmpl
	}
	return p, nil
}

const fallbackMessage = `Similarity {{ printf "%.2f" .Score }}% ({{ .Label }}).`

const errorMessage = "Analysis failed: every similarity method was unavailable."

// Label is the band the score falls into.
func (p *Policy) Label(score float64) Label {
	_, v := p.bands.Floor(score)
	if v == nil {
		return VeryLow
	}
	return v.(Label)
}

func (p *Policy) MatchThreshold() float64 { return p.match }

// Verdict is the outcome of a comparison.
type Verdict struct {
	Score   float64            `json:"score" cbor:"score"`
	Matched bool               `json:"matched" cbor:"matched"`
	Label   Label              `json:"label" cbor:"label"`
	Message string             `json:"message" cbor:"message"`
	Weights map[string]float64 `json:"weights" cbor:"weights"`
	Err     error              `json:"-" cbor:"-"`
}

// Decide combines the estimates and applies the thresholds. Without any usable estimate the
// verdict carries the error label and ErrAllMethodsFailed instead of a made-up score.
func (p *Policy) Decide(estimates []Estimate) Verdict {
	score, weights, err := Combine(estimates)
	if err != nil {
		return Verdict{Label: Error, Message: errorMessage, Err: ErrAllMethodsFailed}
	}
	score = math.Round(score*100) / 100
	v := Verdict{
		Score:   score,
		Matched: score >= p.match,
		Label:   p.Label(score),
		Weights: weights,
	}
	v.Message = p.message(v)
	return v
}

func (p *Policy) message(v Verdict) string {
	var buf bytes.Buffer
	data := struct {
		Score   float64
		Label   string
		Matched bool
	}{v.Score, string(v.Label), v.Matched}
	if err := p.messages[v.Label].Execute(&buf, data); err != nil {
		return fmt.Sprintf("Similarity %.2f%% (%s).", v.Score, v.Label)
	}
	return buf.String()
}
