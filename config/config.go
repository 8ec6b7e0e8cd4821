// Package config holds the runtime configuration of the similarity server.
//
// Values are resolved in three layers: struct defaults (the `default` tags), an optional TOML
// file, and finally environment variables for the credential and binding surface.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mcuadros/go-defaults"
)

type Config struct {
	Server       ServerConfig       `toml:"server"`
	Log          LogConfig          `toml:"log"`
	Decode       DecodeConfig       `toml:"decode"`
	Vision       VisionConfig       `toml:"vision"`
	Face         FaceConfig         `toml:"face"`
	Pigo         PigoConfig         `toml:"pigo"`
	Embedding    EmbeddingConfig    `toml:"embedding"`
	Hash         HashConfig         `toml:"hash"`
	Detect       DetectConfig       `toml:"detect"`
	Policy       PolicyConfig       `toml:"policy"`
	Transparency TransparencyConfig `toml:"transparency"`
}

type ServerConfig struct {
	Host           string        `toml:"host" default:"0.0.0.0"`
	Port           int           `toml:"port" default:"5000"`
	BodyLimitMB    int           `toml:"body_limit_mb" default:"32"`
	RequestTimeout time.Duration `toml:"request_timeout" default:"60s"`
}

func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

type LogConfig struct {
	Level        string        `toml:"level" default:"info"`
	Format       string        `toml:"format" default:"text"`
	File         string        `toml:"file"`
	RotationTime time.Duration `toml:"rotation_time" default:"24h"`
	MaxAge       time.Duration `toml:"max_age" default:"168h"`
}

type DecodeConfig struct {
	// MaxSide bounds the longest edge of a decoded image; larger inputs are downscaled.
	MaxSide int `toml:"max_side" default:"1600"`
	// MaxPixels rejects payloads whose header announces a larger width*height, before any
	// pixel buffer is allocated.
	MaxPixels int `toml:"max_pixels" default:"40000000"`
	// ConvertBinary enables the ImageMagick fallback decoder when set.
	ConvertBinary  string        `toml:"convert_binary"`
	ConvertTimeout time.Duration `toml:"convert_timeout" default:"10s"`
}

type VisionConfig struct {
	Enabled         bool          `toml:"enabled" default:"true"`
	CredentialsFile string        `toml:"credentials_file"`
	APIKey          string        `toml:"api_key"`
	Timeout         time.Duration `toml:"timeout" default:"30s"`
	MaxResults      int           `toml:"max_results" default:"10"`
}

type FaceConfig struct {
	Enabled  bool          `toml:"enabled" default:"true"`
	ModelDir string        `toml:"model_dir" default:"models/dlib"`
	CNN      bool          `toml:"cnn"`
	Timeout  time.Duration `toml:"timeout" default:"20s"`
}

type PigoConfig struct {
	CascadeFile string  `toml:"cascade_file" default:"models/pigo/facefinder"`
	MinSize     int     `toml:"min_size" default:"20"`
	MaxSize     int     `toml:"max_size" default:"1000"`
	ShiftFactor float64 `toml:"shift_factor" default:"0.1"`
	ScaleFactor float64 `toml:"scale_factor" default:"1.1"`
	IoU         float64 `toml:"iou_threshold" default:"0.2"`
	MinQuality  float64 `toml:"min_quality" default:"5.0"`
}

const (
	EmbeddingIcon     = "icon"
	EmbeddingONNX     = "onnx"
	EmbeddingDeepFace = "deepface"
)

type EmbeddingConfig struct {
	Backend   string        `toml:"backend" default:"icon"`
	ModelPath string        `toml:"model_path" default:"models/resnet50.onnx"`
	InputSize int           `toml:"input_size" default:"224"`
	Layer     string        `toml:"layer"`
	URL       string        `toml:"url" default:"http://127.0.0.1:5005"`
	Model     string        `toml:"model" default:"Facenet512"`
	Timeout   time.Duration `toml:"timeout" default:"20s"`
}

type HashConfig struct {
	Enabled bool `toml:"enabled" default:"true"`
}

type DetectConfig struct {
	// Animals replaces the built-in pet vocabulary when set.
	Animals []string `toml:"animals"`
	// MinScore drops labels and objects the labeller is less sure about.
	MinScore float64 `toml:"min_score" default:"0.5"`
}

type TransparencyConfig struct {
	Dir  string   `toml:"dir"`
	Keys []string `toml:"keys"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := new(Config)
	defaults.SetDefaults(cfg)
	cfg.Policy = defaultPolicy()
	return cfg
}

// Load reads a TOML file on top of the defaults and applies environment overrides.
// An empty path yields the defaults plus the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
		cfg.Policy.fillMessages()
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); v != "" {
		c.Vision.CredentialsFile = v
	}
	if v := os.Getenv("GOOGLE_VISION_API_KEY"); v != "" {
		c.Vision.APIKey = v
	}
	if v := os.Getenv("SIMILARITY_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("SIMILARITY_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SIMILARITY_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	return nil
}

var ErrInvalid = errors.New("invalid configuration")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks value ranges. Errors wrap ErrInvalid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return invalid("server.port %d out of range", c.Server.Port)
	}
	if c.Server.BodyLimitMB <= 0 {
		return invalid("server.body_limit_mb must be positive")
	}
	if c.Decode.MaxPixels <= 0 {
		return invalid("decode.max_pixels must be positive")
	}
	switch c.Embedding.Backend {
	case EmbeddingIcon, EmbeddingONNX, EmbeddingDeepFace:
	default:
		return invalid("unknown embedding.backend %q", c.Embedding.Backend)
	}
	for name, d := range map[string]time.Duration{
		"server.request_timeout": c.Server.RequestTimeout,
		"vision.timeout":         c.Vision.Timeout,
		"face.timeout":           c.Face.Timeout,
		"embedding.timeout":      c.Embedding.Timeout,
		"decode.convert_timeout": c.Decode.ConvertTimeout,
	} {
		if d <= 0 {
			return invalid("%s must be positive", name)
		}
	}
	if c.Detect.MinScore < 0 || c.Detect.MinScore > 1 {
		return invalid("detect.min_score must lie within [0,1]")
	}
	if err := c.Policy.Face.validate("policy.face"); err != nil {
		return err
	}
	if err := c.Policy.Object.validate("policy.object"); err != nil {
		return err
	}
	return c.Policy.Scales.validate()
}
