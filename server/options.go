package server

import (
	"time"

	"github.com/high-horse/similarity-server/compare"
	"github.com/high-horse/similarity-server/detect"
	"github.com/high-horse/similarity-server/extract"
	"github.com/high-horse/similarity-server/imageio"
	"github.com/high-horse/similarity-server/transparency"
)

type Config struct {
	Backends       *extract.Set
	Comparator     *compare.Comparator
	Detector       *detect.Detector
	Decoder        *imageio.Chain
	Transparency   *transparency.Directory
	BodyLimit      int
	RequestTimeout time.Duration
}

type Option func(*Config)

// WithBackends sets the collaborators reported by /health. Comparator and detector default to
// ones built over the same set.
func WithBackends(set *extract.Set) Option {
	return func(c *Config) {
		c.Backends = set
	}
}

func WithComparator(cmp *compare.Comparator) Option {
	return func(c *Config) {
		c.Comparator = cmp
	}
}

func WithDetector(d *detect.Detector) Option {
	return func(c *Config) {
		c.Detector = d
	}
}

func WithDecoder(chain *imageio.Chain) Option {
	return func(c *Config) {
		c.Decoder = chain
	}
}

// WithTransparency records every request's intermediate data under dir.
func WithTransparency(dir *transparency.Directory) Option {
	return func(c *Config) {
		c.Transparency = dir
	}
}

func WithBodyLimit(bytes int) Option {
	return func(c *Config) {
		c.BodyLimit = bytes
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.RequestTimeout = d
	}
}

func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

func NewConfig(opts ...Option) *Config {
	c := &Config{
		BodyLimit:      32 << 20,
		RequestTimeout: time.Minute,
	}
	c.Apply(opts...)
	return c
}
