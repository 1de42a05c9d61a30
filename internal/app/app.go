// Package app wires the camera, the tracking runtime and the session store
// into the running mudra application.
package app

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/coords"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/frame"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/tracking"
	"github.com/ayusman/mudra/internal/worker"
)

// ErrNoCamera is returned by New when no camera is configured.
var ErrNoCamera = errors.New("no camera configured")

// Config holds configuration options for the application.
type Config struct {
	Tracking tracking.Config
	Camera   capture.Camera
	// Store is optional. When set, sessions are recorded and the worker
	// disable switch persists across restarts.
	Store   *store.Store
	Factory detector.Factory
	// Spawner starts the worker. Nil keeps tracking on the main thread.
	Spawner worker.Spawner
	Logger  *slog.Logger

	// OnFrame receives every tracked frame with the camera resolution.
	OnFrame func(frame.TrackedHandFrame, frame.Meta, coords.Size)
	// OnStatus is called after every start, stop and fallback. It runs with
	// the App locked and must not call back into it.
	OnStatus func(Status)

	// RuntimeOptions are appended when building each runtime.
	RuntimeOptions []tracking.Option
}

// Status summarizes the application for status displays.
type Status struct {
	Enabled      bool           `json:"enabled"`
	Stats        tracking.Stats `json:"stats"`
	LastFallback string         `json:"lastFallback,omitempty"`
}

// App is the main application that keeps one tracking runtime alive while
// enabled and replaces it when the worker fails.
type App struct {
	config Config
	logger *slog.Logger

	mu             sync.Mutex
	enabled        bool
	workerDisabled bool
	rt             *tracking.Runtime
	sessionID      string
	lastFallback   string

	noVideo atomic.Uint64
}

// New creates a new App. The persisted worker switch, if any, is applied
// on top of cfg.Tracking.WorkerDisabled.
func New(config Config) (*App, error) {
	if config.Camera == nil {
		return nil, ErrNoCamera
	}
	if err := config.Tracking.Validate(); err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		config:         config,
		logger:         logger.With("component", "app"),
		workerDisabled: config.Tracking.WorkerDisabled,
	}

	if config.Store != nil {
		disabled, err := config.Store.Settings().Bool(store.KeyWorkerDisabled, false)
		if err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}
		if disabled {
			a.logger.Info("worker disabled by an earlier fallback")
		}
		a.workerDisabled = a.workerDisabled || disabled
	}

	return a, nil
}

// Start opens the camera and starts tracking. Starting a running app is a no-op.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.enabled {
		return nil
	}

	if err := a.config.Camera.Open(); err != nil {
		return fmt.Errorf("open camera: %w", err)
	}

	a.enabled = true
	if err := a.startRuntimeLocked(); err != nil {
		a.enabled = false
		a.config.Camera.Close()
		return err
	}

	a.logger.Info("tracking started")
	a.notifyLocked()
	return nil
}

// Stop halts tracking and releases the runtime and the camera.
func (a *App) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.enabled {
		return
	}
	a.enabled = false
	a.closeRuntimeLocked()

	if err := a.config.Camera.Close(); err != nil {
		a.logger.Warn("error closing camera", "error", err)
	}

	a.logger.Info("tracking stopped")
	a.notifyLocked()
}

// SetEnabled starts or stops tracking.
func (a *App) SetEnabled(enabled bool) error {
	if enabled {
		return a.Start()
	}
	a.Stop()
	return nil
}

// Enabled returns whether tracking is on.
func (a *App) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// Stats returns the current runtime's stats. While stopped only the last
// fallback reason is reported.
func (a *App) Stats() tracking.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statsLocked()
}

// Status returns the current status.
func (a *App) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statusLocked()
}

// WorkerDisabled reports whether new runtimes stay off the worker.
func (a *App) WorkerDisabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.workerDisabled
}

func (a *App) statsLocked() tracking.Stats {
	if a.rt == nil {
		return tracking.Stats{FallbackReason: a.lastFallback}
	}
	stats := a.rt.Stats()
	if stats.FallbackReason == "" {
		stats.FallbackReason = a.lastFallback
	}
	return stats
}

func (a *App) statusLocked() Status {
	return Status{
		Enabled:      a.enabled,
		Stats:        a.statsLocked(),
		LastFallback: a.lastFallback,
	}
}

func (a *App) notifyLocked() {
	if a.config.OnStatus != nil {
		a.config.OnStatus(a.statusLocked())
	}
}
