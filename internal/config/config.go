package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chaz8081/gostt-stream/internal/trigger"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvServerURL   = "GOSTT_SERVER_URL"
	EnvLogLevel    = "GOSTT_LOG_LEVEL"
	EnvMetricsAddr = "GOSTT_METRICS_ADDR"
	EnvTriggerMode = "GOSTT_TRIGGER_MODE"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Trigger   TriggerConfig   `yaml:"trigger"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	LogLevel  string          `yaml:"log_level"`
}

// ServerConfig locates the transcription service.
type ServerConfig struct {
	URL              string        `yaml:"url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
}

// AudioConfig holds capture and windowing settings. Durations are seconds.
type AudioConfig struct {
	SampleRate    uint32  `yaml:"sample_rate"`
	Channels      uint32  `yaml:"channels"`
	ChunkDuration float64 `yaml:"chunk_duration"`
	StepDuration  float64 `yaml:"step_duration"`
	Normalize     bool    `yaml:"normalize"`
}

// TriggerConfig selects when chunks are sent. Playback mode needs a
// playback clock, so only the play command accepts it.
type TriggerConfig struct {
	Mode trigger.Mode `yaml:"mode"`
}

// ReconcileConfig tunes transcript merging.
type ReconcileConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "gostt-stream")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:              "ws://127.0.0.1:8000/ws/audio",
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     10 * time.Second,
		},
		Audio: AudioConfig{
			SampleRate:    16000,
			Channels:      1,
			ChunkDuration: 3,
			StepDuration:  2.5,
		},
		Trigger: TriggerConfig{
			Mode: trigger.ModeImmediate,
		},
		Reconcile: ReconcileConfig{
			Debounce: 100 * time.Millisecond,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from GOSTT_* environment variables.
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv(EnvServerURL); ok && v != "" {
		c.Server.URL = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v, ok := os.LookupEnv(EnvMetricsAddr); ok {
		c.Metrics.Addr = v
	}
	if v, ok := os.LookupEnv(EnvTriggerMode); ok && v != "" {
		c.Trigger.Mode = trigger.Mode(strings.ToLower(v))
	}
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server.url must use ws:// or wss://, got %q", c.Server.URL)
	}
	if c.Server.HandshakeTimeout <= 0 {
		return errors.New("server.handshake_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return errors.New("server.write_timeout must be > 0")
	}

	if c.Audio.SampleRate == 0 {
		return errors.New("audio.sample_rate must be > 0")
	}
	if c.Audio.Channels == 0 {
		return errors.New("audio.channels must be > 0")
	}
	// Chunks under a second are never sent, so a shorter window sends nothing.
	if c.Audio.ChunkDuration < 1 {
		return fmt.Errorf("audio.chunk_duration must be >= 1, got %g", c.Audio.ChunkDuration)
	}
	if c.Audio.StepDuration <= 0 || c.Audio.StepDuration > c.Audio.ChunkDuration {
		return fmt.Errorf("audio.step_duration must be in (0, %g], got %g", c.Audio.ChunkDuration, c.Audio.StepDuration)
	}

	if c.Trigger.Mode == "" {
		return errors.New("trigger.mode must be set")
	}
	if _, err := trigger.New(c.Trigger.Mode); err != nil {
		return fmt.Errorf("trigger.mode: %w", err)
	}

	if c.Reconcile.Debounce < 0 {
		return errors.New("reconcile.debounce must be >= 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a config log level to a slog.Level. Unknown values
// map to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultConfigYAML = `# gostt-stream configuration
# Environment variables GOSTT_SERVER_URL, GOSTT_LOG_LEVEL, GOSTT_METRICS_ADDR
# and GOSTT_TRIGGER_MODE override the values below.

server:
  url: ws://127.0.0.1:8000/ws/audio
  handshake_timeout: 10s
  write_timeout: 10s

audio:
  sample_rate: 16000
  channels: 1
  # Seconds per chunk and between chunk starts; overlap is the difference.
  chunk_duration: 3
  step_duration: 2.5
  normalize: false

trigger:
  # immediate: send every chunk at once
  # playback: send each chunk as playback reaches it (play command only)
  mode: immediate

reconcile:
  debounce: 100ms

metrics:
  # e.g. ":9090" to serve /metrics
  addr: ""

log_level: info
`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the path written, or "" if a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigYAML), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
