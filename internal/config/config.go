// Package config loads ringside settings from a YAML file, a .env file and
// RINGSIDE_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ringside/internal/annotate"
	"ringside/internal/auth"
	"ringside/internal/capture"
	"ringside/internal/codec"
	"ringside/internal/detection"
	"ringside/internal/emitter"
)

// DefaultPath is read when no -config flag is given; it may be absent
const DefaultPath = "ringside.yaml"

// Config represents the complete ringside configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Source    SourceConfig    `yaml:"source"`
	Inference InferenceConfig `yaml:"inference"`
	Annotator AnnotatorConfig `yaml:"annotator"`
	Encoder   EncoderConfig   `yaml:"encoder"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
}

// ServerConfig contains HTTP listener settings
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Debug           bool          `yaml:"debug"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SourceConfig describes the video input every session opens
type SourceConfig struct {
	URL         string `yaml:"url"`
	FPS         int    `yaml:"fps"`
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	Follow      bool   `yaml:"follow"`       // dir:// sources keep watching for new files
	MaxFailures int    `yaml:"max_failures"` // Snapshot polling failures before giving up
	FFmpegPath  string `yaml:"ffmpeg_path"`
	DropStale   *bool  `yaml:"drop_stale"` // Defaults to true for live inputs
}

// InferenceConfig contains detection service settings
type InferenceConfig struct {
	Transport   string        `yaml:"transport"` // http, grpc
	Endpoint    string        `yaml:"endpoint"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Version     int           `yaml:"version"`
	Confidence  int           `yaml:"confidence"`
	Overlap     int           `yaml:"overlap"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	GRPCMethod  string        `yaml:"grpc_method"`
}

// AnnotatorConfig contains overlay settings
type AnnotatorConfig struct {
	Origin    string  `yaml:"origin"` // center, corner
	LineWidth float64 `yaml:"line_width"`
	FontSize  float64 `yaml:"font_size"`
}

// EncoderConfig contains JPEG settings
type EncoderConfig struct {
	Quality int `yaml:"quality"`
}

// DatabaseConfig contains the sqlite location
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig contains admin credentials
type AuthConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	JWTSecret   string `yaml:"jwt_secret"`
	TokenExpiry string `yaml:"token_expiry"`
}

// MQTTConfig contains broker settings; an empty broker disables publishing
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			ShutdownTimeout: 30 * time.Second,
		},
		Source: SourceConfig{
			URL:         "/dev/video0",
			FPS:         15,
			MaxFailures: capture.DefaultMaxFailures,
			FFmpegPath:  "ffmpeg",
		},
		Inference: InferenceConfig{
			Transport:   "http",
			Model:       detection.DefaultModel,
			Version:     detection.DefaultVersion,
			Confidence:  40,
			Overlap:     30,
			Timeout:     10 * time.Second,
			MaxAttempts: 1,
		},
		Annotator: AnnotatorConfig{
			Origin:    string(annotate.OriginCenter),
			LineWidth: 2,
			FontSize:  14,
		},
		Encoder: EncoderConfig{
			Quality: codec.DefaultQuality,
		},
		Database: DatabaseConfig{
			Path: "ringside.db",
		},
		Auth: AuthConfig{
			Username: "admin",
		},
		MQTT: MQTTConfig{
			Topic: "ringside/events",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies .env
// and environment overrides. A missing file is only an error when
// required is set.
func Load(path string, required bool) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist) && !required:
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// A missing .env file is fine
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

type envVar struct {
	name  string
	apply func(string) error
}

func str(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func integer(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func boolean(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func duration(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

func (c *Config) envVars() []envVar {
	return []envVar{
		{"RINGSIDE_HOST", str(&c.Server.Host)},
		{"RINGSIDE_HTTP_PORT", integer(&c.Server.Port)},
		{"RINGSIDE_DEBUG", boolean(&c.Server.Debug)},
		{"RINGSIDE_SOURCE_URL", str(&c.Source.URL)},
		{"RINGSIDE_SOURCE_FPS", integer(&c.Source.FPS)},
		{"RINGSIDE_SOURCE_FOLLOW", boolean(&c.Source.Follow)},
		{"RINGSIDE_FFMPEG_PATH", str(&c.Source.FFmpegPath)},
		{"RINGSIDE_INFERENCE_TRANSPORT", str(&c.Inference.Transport)},
		{"RINGSIDE_INFERENCE_ENDPOINT", str(&c.Inference.Endpoint)},
		{"ROBOFLOW_API_KEY", str(&c.Inference.APIKey)},
		{"RINGSIDE_INFERENCE_API_KEY", str(&c.Inference.APIKey)},
		{"RINGSIDE_INFERENCE_MODEL", str(&c.Inference.Model)},
		{"RINGSIDE_INFERENCE_VERSION", integer(&c.Inference.Version)},
		{"RINGSIDE_INFERENCE_CONFIDENCE", integer(&c.Inference.Confidence)},
		{"RINGSIDE_INFERENCE_OVERLAP", integer(&c.Inference.Overlap)},
		{"RINGSIDE_INFERENCE_TIMEOUT", duration(&c.Inference.Timeout)},
		{"RINGSIDE_INFERENCE_MAX_ATTEMPTS", integer(&c.Inference.MaxAttempts)},
		{"RINGSIDE_ANNOTATOR_ORIGIN", str(&c.Annotator.Origin)},
		{"RINGSIDE_ENCODER_QUALITY", integer(&c.Encoder.Quality)},
		{"RINGSIDE_DATABASE_PATH", str(&c.Database.Path)},
		{"RINGSIDE_AUTH_ENABLED", boolean(&c.Auth.Enabled)},
		{"RINGSIDE_AUTH_USERNAME", str(&c.Auth.Username)},
		{"RINGSIDE_AUTH_PASSWORD", str(&c.Auth.Password)},
		{"RINGSIDE_JWT_SECRET", str(&c.Auth.JWTSecret)},
		{"RINGSIDE_JWT_EXPIRY", str(&c.Auth.TokenExpiry)},
		{"RINGSIDE_MQTT_BROKER", str(&c.MQTT.Broker)},
		{"RINGSIDE_MQTT_TOPIC", str(&c.MQTT.Topic)},
		{"RINGSIDE_MQTT_USERNAME", str(&c.MQTT.Username)},
		{"RINGSIDE_MQTT_PASSWORD", str(&c.MQTT.Password)},
	}
}

func (c *Config) applyEnv() error {
	for _, v := range c.envVars() {
		value, ok := os.LookupEnv(v.name)
		if !ok || value == "" {
			continue
		}
		if err := v.apply(strings.TrimSpace(value)); err != nil {
			return fmt.Errorf("invalid %s: %w", v.name, err)
		}
	}
	return nil
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	if c.Source.URL == "" {
		errs = append(errs, errors.New("source.url is required"))
	}
	if c.Source.FPS < 0 {
		errs = append(errs, errors.New("source.fps must not be negative"))
	}
	switch c.Inference.Transport {
	case "http", "grpc":
	default:
		errs = append(errs, fmt.Errorf("inference.transport %q (valid: http, grpc)", c.Inference.Transport))
	}
	if c.Inference.Transport == "grpc" && c.Inference.Endpoint == "" {
		errs = append(errs, errors.New("inference.endpoint is required for grpc"))
	}
	if c.Inference.Confidence < 0 || c.Inference.Confidence > 100 {
		errs = append(errs, errors.New("inference.confidence must be within 0-100"))
	}
	if c.Inference.Overlap < 0 || c.Inference.Overlap > 100 {
		errs = append(errs, errors.New("inference.overlap must be within 0-100"))
	}
	if c.Inference.Timeout <= 0 {
		errs = append(errs, errors.New("inference.timeout must be positive"))
	}
	if c.Inference.MaxAttempts < 1 || c.Inference.MaxAttempts > detection.MaxAttempts {
		errs = append(errs, fmt.Errorf("inference.max_attempts must be within 1-%d", detection.MaxAttempts))
	}
	if _, err := annotate.ParseOrigin(c.Annotator.Origin); err != nil {
		errs = append(errs, err)
	}
	if c.Encoder.Quality < 1 || c.Encoder.Quality > 100 {
		errs = append(errs, errors.New("encoder.quality must be within 1-100"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Auth.Enabled && c.Auth.Password == "" {
		errs = append(errs, errors.New("auth.password is required when auth is enabled"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, errors.New("mqtt.qos must be 0, 1 or 2"))
	}

	return errors.Join(errs...)
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// CaptureConfig converts the source section
func (c *Config) CaptureConfig() capture.Config {
	dropStale := capture.IsLive(c.Source.URL)
	if c.Source.DropStale != nil {
		dropStale = *c.Source.DropStale
	}
	return capture.Config{
		URL:         c.Source.URL,
		FPS:         c.Source.FPS,
		Width:       c.Source.Width,
		Height:      c.Source.Height,
		Follow:      c.Source.Follow,
		MaxFailures: c.Source.MaxFailures,
		FFmpegPath:  c.Source.FFmpegPath,
		DropStale:   dropStale,
	}
}

// DetectionConfig converts the inference section
func (c *Config) DetectionConfig() detection.Config {
	return detection.Config{
		Transport:   c.Inference.Transport,
		Endpoint:    c.Inference.Endpoint,
		APIKey:      c.Inference.APIKey,
		Model:       c.Inference.Model,
		Version:     c.Inference.Version,
		Confidence:  c.Inference.Confidence,
		Overlap:     c.Inference.Overlap,
		Timeout:     c.Inference.Timeout,
		MaxAttempts: c.Inference.MaxAttempts,
		GRPCMethod:  c.Inference.GRPCMethod,
	}
}

// AnnotateConfig converts the annotator section
func (c *Config) AnnotateConfig() annotate.Config {
	origin, _ := annotate.ParseOrigin(c.Annotator.Origin)
	return annotate.Config{
		Origin:    origin,
		LineWidth: c.Annotator.LineWidth,
		FontSize:  c.Annotator.FontSize,
	}
}

// AuthConfig converts the auth section
func (c *Config) AuthConfig() auth.Config {
	return auth.Config{
		Enabled:     c.Auth.Enabled,
		Username:    c.Auth.Username,
		Password:    c.Auth.Password,
		JWTSecret:   c.Auth.JWTSecret,
		TokenExpiry: c.Auth.TokenExpiry,
	}
}

// EmitterConfig converts the mqtt section
func (c *Config) EmitterConfig() emitter.Config {
	return emitter.Config{
		Broker:   c.MQTT.Broker,
		Topic:    c.MQTT.Topic,
		ClientID: c.MQTT.ClientID,
		QoS:      c.MQTT.QoS,
		Username: c.MQTT.Username,
		Password: c.MQTT.Password,
	}
}
