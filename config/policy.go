package config

// PolicyConfig carries the empirical cut points of the decision policy. None of these numbers is
// derived from data; they are tuning knobs.
type PolicyConfig struct {
	Face   ModeConfig   `toml:"face"`
	Object ModeConfig   `toml:"object"`
	Scales ScalesConfig `toml:"scales"`
}

type ModeConfig struct {
	MatchThreshold float64           `toml:"match_threshold"`
	Bands          BandsConfig       `toml:"bands"`
	Weights        WeightsConfig     `toml:"weights"`
	Messages       map[string]string `toml:"messages"`
}

// BandsConfig holds the lower bound (inclusive) of each confidence band on the 0-100 score.
// Anything under Low is very_low.
type BandsConfig struct {
	VeryHigh float64 `toml:"very_high"`
	High     float64 `toml:"high"`
	Medium   float64 `toml:"medium"`
	Low      float64 `toml:"low"`
}

type WeightsConfig struct {
	FaceEncoding float64 `toml:"face_encoding"`
	Landmarks    float64 `toml:"landmarks"`
	Embedding    float64 `toml:"embedding"`
	Phash        float64 `toml:"phash"`
}

func (w WeightsConfig) sum() float64 {
	return w.FaceEncoding + w.Landmarks + w.Embedding + w.Phash
}

// ScalesConfig maps raw distances onto the 0-100 score: a distance equal to the scale scores 0.
type ScalesConfig struct {
	FaceEncoding float64 `toml:"face_encoding"`
	Landmarks    float64 `toml:"landmarks"`
	Embedding    float64 `toml:"embedding"`
	Phash        float64 `toml:"phash"`
}

var defaultMessages = map[string]string{
	"very_high": `Exceptional match! Very strong similarities detected with {{ printf "%.2f" .Score }}% confidence.`,
	"high":      `Strong match! Significant similarities detected with {{ printf "%.2f" .Score }}% confidence.`,
	"medium":    `Good match. Notable similarities found with {{ printf "%.2f" .Score }}% confidence.`,
	"low":       `Moderate match. Some similarities detected with {{ printf "%.2f" .Score }}% confidence ({{ .Label | replace "_" " " }}).`,
	"very_low":  `Low match. Limited similarities detected with {{ printf "%.2f" .Score }}% confidence ({{ .Label | replace "_" " " }}).`,
}

func defaultPolicy() PolicyConfig {
	bands := BandsConfig{VeryHigh: 85, High: 75, Medium: 60, Low: 40}
	p := PolicyConfig{
		Face: ModeConfig{
			MatchThreshold: 65,
			Bands:          bands,
			Weights:        WeightsConfig{FaceEncoding: 0.5, Landmarks: 0.2, Embedding: 0.3},
		},
		Object: ModeConfig{
			MatchThreshold: 70,
			Bands:          bands,
			Weights:        WeightsConfig{Embedding: 0.8, Phash: 0.2},
		},
		Scales: ScalesConfig{FaceEncoding: 1.0, Landmarks: 0.6, Embedding: 1.0, Phash: 32},
	}
	p.fillMessages()
	return p
}

func (p *PolicyConfig) fillMessages() {
	for _, m := range []*ModeConfig{&p.Face, &p.Object} {
		if m.Messages == nil {
			m.Messages = make(map[string]string, len(defaultMessages))
		}
		for label, tmpl := range defaultMessages {
			if _, ok := m.Messages[label]; !ok {
				m.Messages[label] = tmpl
			}
		}
	}
}

func (m ModeConfig) validate(name string) error {
	b := m.Bands
	if !(b.VeryHigh > b.High && b.High > b.Medium && b.Medium > b.Low) {
		return invalid("%s.bands must be strictly decreasing from very_high to low", name)
	}
	if b.Low < 0 || b.VeryHigh > 100 {
		return invalid("%s.bands must lie within [0,100]", name)
	}
	if m.MatchThreshold < 0 || m.MatchThreshold > 100 {
		return invalid("%s.match_threshold must lie within [0,100]", name)
	}
	w := m.Weights
	if w.FaceEncoding < 0 || w.Landmarks < 0 || w.Embedding < 0 || w.Phash < 0 {
		return invalid("%s.weights must not be negative", name)
	}
	if w.sum() == 0 {
		return invalid("%s.weights are all zero", name)
	}
	return nil
}

func (s ScalesConfig) validate() error {
	if s.FaceEncoding <= 0 || s.Landmarks <= 0 || s.Embedding <= 0 || s.Phash <= 0 {
		return invalid("policy.scales must be positive")
	}
	return nil
}
