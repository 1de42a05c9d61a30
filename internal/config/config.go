// Package config loads the mudra YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/filter"
	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/tracking"
	"github.com/ayusman/mudra/internal/worker"
)

// ErrInvalid is returned when a loaded configuration fails validation.
var ErrInvalid = errors.New("invalid configuration")

// Worker kinds.
const (
	WorkerInProcess = "in-process"
	WorkerProcess   = "process"
)

// Config represents the complete mudra configuration
type Config struct {
	Runtime   RuntimeConfig        `yaml:"runtime"`
	Smoothing filter.Params        `yaml:"smoothing"`
	Pinch     gesture.PinchOptions `yaml:"pinch"`
	Detector  detector.Config      `yaml:"detector"`
	Worker    WorkerConfig         `yaml:"worker"`
	Camera    capture.Config       `yaml:"camera"`
	Server    ServerConfig         `yaml:"server"`
	Store     StoreConfig          `yaml:"store"`
	Log       LogConfig            `yaml:"log"`
}

// RuntimeConfig selects where tracking runs and how fast
type RuntimeConfig struct {
	Mode               string  `yaml:"mode"` // "", main-thread, worker
	ForceMainThread    bool    `yaml:"force_main_thread"`
	WorkerDisabled     bool    `yaml:"worker_disabled"`
	TargetFPS          float64 `yaml:"target_fps"`
	TransferMode       string  `yaml:"transfer_mode"` // bitmap, imageData
	ResetPinchOnNoHand bool    `yaml:"reset_pinch_on_no_hand"`
}

// WorkerConfig describes how the worker is started
type WorkerConfig struct {
	Kind string   `yaml:"kind"` // in-process, process
	Path string   `yaml:"path"` // worker binary for kind=process
	Args []string `yaml:"args"`
}

// ServerConfig contains HTTP settings
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// StoreConfig contains database settings
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns the configuration used when no file is given.
func Default() Config {
	rt := tracking.DefaultConfig()
	return Config{
		Runtime: RuntimeConfig{
			Mode:               string(rt.Mode),
			TargetFPS:          rt.TargetFPS,
			TransferMode:       string(rt.TransferMode),
			ResetPinchOnNoHand: rt.ResetPinchOnNoHand,
		},
		Smoothing: rt.Smoothing,
		Pinch:     rt.Pinch,
		Detector:  rt.Detector,
		Worker:    WorkerConfig{Kind: WorkerInProcess},
		Camera:    capture.DefaultConfig(),
		Server:    ServerConfig{Enabled: true, Addr: "127.0.0.1:8080"},
		Store:     StoreConfig{Path: "mudra.db"},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if _, err := c.ToRuntime(); err != nil {
		return fmt.Errorf("%w: runtime: %v", ErrInvalid, err)
	}
	switch c.Worker.Kind {
	case WorkerInProcess:
	case WorkerProcess:
		if c.Worker.Path == "" {
			return fmt.Errorf("%w: worker.path is required for kind %q", ErrInvalid, WorkerProcess)
		}
	default:
		return fmt.Errorf("%w: unknown worker.kind %q", ErrInvalid, c.Worker.Kind)
	}
	if err := c.Camera.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr is required when the server is enabled", ErrInvalid)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("%w: store.path is required", ErrInvalid)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: unknown log.format %q", ErrInvalid, c.Log.Format)
	}
	return nil
}

// ToRuntime produces the immutable tracking config.
func (c *Config) ToRuntime() (tracking.Config, error) {
	rt := tracking.Config{
		Mode:               tracking.Mode(c.Runtime.Mode),
		ForceMainThread:    c.Runtime.ForceMainThread,
		WorkerDisabled:     c.Runtime.WorkerDisabled,
		TargetFPS:          c.Runtime.TargetFPS,
		Smoothing:          c.Smoothing,
		Pinch:              c.Pinch,
		TransferMode:       worker.TransferMode(c.Runtime.TransferMode),
		ResetPinchOnNoHand: c.Runtime.ResetPinchOnNoHand,
		Detector:           c.Detector,
	}
	if err := rt.Validate(); err != nil {
		return tracking.Config{}, err
	}
	return rt, nil
}

// Spawner returns the worker spawner for this config.
func (c *Config) Spawner(factory detector.Factory, logger *slog.Logger) worker.Spawner {
	if c.Worker.Kind == WorkerProcess {
		return worker.Process{Path: c.Worker.Path, Args: c.Worker.Args, Logger: logger}
	}
	return worker.InProcess{Factory: factory, Logger: logger}
}

// NewLogger builds the slog logger described by the log section.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log.level %q", s)
	}
}
