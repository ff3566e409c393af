// Package config loads the echo configuration file.
//
// A file only needs the keys it changes; everything else keeps the value
// from Default, which matches the deployed board and model.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/afero"

	"github.com/LCH-chanho/ECHO/pkg/audio/gammatone"
	"github.com/LCH-chanho/ECHO/pkg/audio/portaudio"
	"github.com/LCH-chanho/ECHO/pkg/audio/segment"
	"github.com/LCH-chanho/ECHO/pkg/classify"
	"github.com/LCH-chanho/ECHO/pkg/debounce"
	"github.com/LCH-chanho/ECHO/pkg/seriallink"
)

// Config is the complete configuration.
type Config struct {
	Capture  CaptureConfig  `yaml:"capture" json:"capture"`
	Model    ModelConfig    `yaml:"model" json:"model"`
	Features FeaturesConfig `yaml:"features" json:"features"`
	Decision DecisionConfig `yaml:"decision" json:"decision"`
	Serial   SerialConfig   `yaml:"serial" json:"serial"`
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`
	Journal  JournalConfig  `yaml:"journal" json:"journal"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
	Log      LogConfig      `yaml:"log" json:"log"`
}

// CaptureConfig selects the input device and sample conversion.
type CaptureConfig struct {
	Device          string  `yaml:"device" json:"device"`
	SampleRate      int     `yaml:"sample_rate" json:"sample_rate"`
	Channels        int     `yaml:"channels" json:"channels"`
	Channel         int     `yaml:"channel" json:"channel"`
	Gain            float64 `yaml:"gain" json:"gain"`
	FramesPerBuffer int     `yaml:"frames_per_buffer" json:"frames_per_buffer"`
}

// ModelConfig describes the classifier artifact.
type ModelConfig struct {
	Path           string   `yaml:"path" json:"path"`
	SampleRate     int      `yaml:"sample_rate" json:"sample_rate"`
	Labels         []string `yaml:"labels" json:"labels"`
	InputName      string   `yaml:"input_name" json:"input_name"`
	OutputName     string   `yaml:"output_name" json:"output_name"`
	IntraOpThreads int      `yaml:"intra_op_threads" json:"intra_op_threads"`
}

// FeaturesConfig controls segmentation and the gammatone front end.
type FeaturesConfig struct {
	SegmentSeconds float64 `yaml:"segment_seconds" json:"segment_seconds"`
	WindowSeconds  float64 `yaml:"window_seconds" json:"window_seconds"`
	HopSeconds     float64 `yaml:"hop_seconds" json:"hop_seconds"`
	Filters        int     `yaml:"filters" json:"filters"`
	MinFreq        float64 `yaml:"min_freq" json:"min_freq"`
	TargetFrames   int     `yaml:"target_frames" json:"target_frames"`
}

// DecisionConfig holds the confirmation thresholds.
type DecisionConfig struct {
	DefaultThreshold float32            `yaml:"default_threshold" json:"default_threshold"`
	Thresholds       map[string]float32 `yaml:"thresholds" json:"thresholds"`
}

// SerialConfig describes the peer board.
type SerialConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	Port              string        `yaml:"port" json:"port"`
	Baud              int           `yaml:"baud" json:"baud"`
	OpenSettle        time.Duration `yaml:"open_settle" json:"open_settle"`
	HandshakeAttempts int           `yaml:"handshake_attempts" json:"handshake_attempts"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`
	HandshakeInterval time.Duration `yaml:"handshake_interval" json:"handshake_interval"`
	InitSettle        time.Duration `yaml:"init_settle" json:"init_settle"`
}

// PipelineConfig tunes the main loop.
type PipelineConfig struct {
	IdleInterval time.Duration `yaml:"idle_interval" json:"idle_interval"`
}

// JournalConfig locates the event journal. An empty Dir without InMemory
// disables it.
type JournalConfig struct {
	Dir      string `yaml:"dir" json:"dir"`
	InMemory bool   `yaml:"in_memory" json:"in_memory"`
}

// Enabled reports whether a journal should be opened.
func (c JournalConfig) Enabled() bool {
	return c.InMemory || c.Dir != ""
}

// MetricsConfig enables the Prometheus endpoint when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen" json:"listen"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the configuration of the deployed system.
func Default() *Config {
	ser := seriallink.DefaultConfig()
	feat := gammatone.DefaultConfig()
	return &Config{
		Capture: CaptureConfig{
			SampleRate: 48000,
			Channels:   2,
			Channel:    0,
			Gain:       0.1,
		},
		Model: ModelConfig{
			Path:       "model.onnx",
			SampleRate: feat.SampleRate,
			Labels:     []string{"Horn", "None", "Siren"},
		},
		Features: FeaturesConfig{
			SegmentSeconds: 0.6,
			WindowSeconds:  feat.WindowTime,
			HopSeconds:     feat.HopTime,
			Filters:        feat.NumFilters,
			MinFreq:        feat.MinFreq,
			TargetFrames:   feat.TargetFrames,
		},
		Decision: DecisionConfig{
			DefaultThreshold: debounce.DefaultThreshold,
			Thresholds: map[string]float32{
				"Horn":  0.94,
				"Siren": 0.94,
				"None":  0.85,
			},
		},
		Serial: SerialConfig{
			Enabled:           true,
			Port:              ser.Port,
			Baud:              ser.Baud,
			OpenSettle:        ser.OpenSettle,
			HandshakeAttempts: ser.MaxAttempts,
			HandshakeTimeout:  ser.AttemptTimeout,
			HandshakeInterval: ser.RetryInterval,
			InitSettle:        ser.InitSettle,
		},
		Pipeline: PipelineConfig{
			IdleInterval: 10 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path from fs over the defaults and validates the result.
func Load(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}
	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model config: %w", err)
	}
	if err := c.Features.Validate(c.Model.SampleRate); err != nil {
		return fmt.Errorf("features config: %w", err)
	}
	if err := c.Decision.Validate(); err != nil {
		return fmt.Errorf("decision config: %w", err)
	}
	if c.Serial.Enabled {
		if err := c.Serial.Link().Validate(); err != nil {
			return fmt.Errorf("serial config: %w", err)
		}
	}
	if c.Pipeline.IdleInterval <= 0 {
		return fmt.Errorf("pipeline config: idle_interval must be positive, got %s", c.Pipeline.IdleInterval)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log config: unknown format %q", c.Log.Format)
	}
	return nil
}

// Validate checks the capture section.
func (c CaptureConfig) Validate() error {
	return c.Stream().Validate()
}

// Stream converts the section to a PortAudio stream configuration.
func (c CaptureConfig) Stream() portaudio.StreamConfig {
	return portaudio.StreamConfig{
		Device:          c.Device,
		SampleRate:      c.SampleRate,
		Channels:        c.Channels,
		Channel:         c.Channel,
		Gain:            c.Gain,
		FramesPerBuffer: c.FramesPerBuffer,
	}
}

// Validate checks the model section.
func (c ModelConfig) Validate() error {
	if c.Path == "" {
		return errors.New("path is required")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", c.SampleRate)
	}
	if c.IntraOpThreads < 0 {
		return fmt.Errorf("invalid intra_op_threads %d", c.IntraOpThreads)
	}
	_, err := c.ClassLabels()
	return err
}

// ClassLabels parses the label list.
func (c ModelConfig) ClassLabels() (classify.Labels, error) {
	return classify.ParseLabels(c.Labels)
}

// Validate checks the features section against the model rate.
func (c FeaturesConfig) Validate(modelRate int) error {
	if c.SegmentSeconds <= 0 {
		return fmt.Errorf("segment_seconds must be positive, got %v", c.SegmentSeconds)
	}
	return c.Gammatone(modelRate).Validate()
}

// Gammatone converts the section to an extractor configuration.
func (c FeaturesConfig) Gammatone(modelRate int) gammatone.Config {
	return gammatone.Config{
		SampleRate:   modelRate,
		WindowTime:   c.WindowSeconds,
		HopTime:      c.HopSeconds,
		NumFilters:   c.Filters,
		MinFreq:      c.MinFreq,
		TargetFrames: c.TargetFrames,
	}
}

// SegmentSamples returns the segment length at the capture rate.
func (c *Config) SegmentSamples() int {
	return segment.Samples(c.Features.SegmentSeconds, c.Capture.SampleRate)
}

// Validate checks the decision section.
func (c DecisionConfig) Validate() error {
	if !validProbability(c.DefaultThreshold) {
		return fmt.Errorf("default_threshold %v out of range (0, 1]", c.DefaultThreshold)
	}
	for name, p := range c.Thresholds {
		if _, err := classify.ParseClass(name); err != nil {
			return fmt.Errorf("threshold for %q: %w", name, err)
		}
		if !validProbability(p) {
			return fmt.Errorf("threshold for %s %v out of range (0, 1]", name, p)
		}
	}
	return nil
}

func validProbability(p float32) bool {
	return p > 0 && p <= 1
}

// Options converts the section to debouncer options. Call after Validate.
func (c DecisionConfig) Options() []debounce.Option {
	opts := []debounce.Option{debounce.WithDefaultThreshold(c.DefaultThreshold)}
	for name, p := range c.Thresholds {
		class, err := classify.ParseClass(name)
		if err != nil {
			continue
		}
		opts = append(opts, debounce.WithThreshold(class, p))
	}
	return opts
}

// Link converts the section to a serial link configuration.
func (c SerialConfig) Link() seriallink.Config {
	return seriallink.Config{
		Port:           c.Port,
		Baud:           c.Baud,
		OpenSettle:     c.OpenSettle,
		MaxAttempts:    c.HandshakeAttempts,
		AttemptTimeout: c.HandshakeTimeout,
		RetryInterval:  c.HandshakeInterval,
		InitSettle:     c.InitSettle,
	}
}

// SlogLevel parses the level name.
func (c LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if c.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToLower(c.Level))); err != nil {
		return 0, fmt.Errorf("unknown level %q", c.Level)
	}
	return level, nil
}
