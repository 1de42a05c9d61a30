// Package tracking runs the hand-tracking pipeline either on the scheduler's
// goroutine or in a worker, delivering one TrackedHandFrame per tick.
package tracking

import (
	"errors"
	"fmt"

	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/filter"
	"github.com/ayusman/mudra/internal/frame"
	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/scheduler"
	"github.com/ayusman/mudra/internal/worker"
)

// Mode is where detection and frame building run.
type Mode string

const (
	// ModeAuto lets ResolveMode pick.
	ModeAuto Mode = ""
	// ModeMainThread runs detection synchronously on each scheduler tick.
	ModeMainThread Mode = "main-thread"
	// ModeWorker hands frames to a dedicated worker.
	ModeWorker Mode = "worker"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid runtime config")

// Config is fixed for the lifetime of a Runtime. Changing any field means
// closing the runtime and building a new one.
type Config struct {
	// Mode is the requested mode; ModeAuto prefers the worker.
	Mode Mode
	// ForceMainThread overrides every other mode input.
	ForceMainThread bool
	// WorkerDisabled is the process-wide switch that keeps runtimes off the worker.
	WorkerDisabled bool

	TargetFPS          float64
	Smoothing          filter.Params
	Pinch              gesture.PinchOptions
	TransferMode       worker.TransferMode
	ResetPinchOnNoHand bool
	Detector           detector.Config
}

// DefaultConfig returns an auto-mode config at 30 fps preferring bitmap transfer.
func DefaultConfig() Config {
	return Config{
		Mode:               ModeAuto,
		TargetFPS:          scheduler.DefaultTargetFPS,
		Smoothing:          filter.DefaultParams(),
		Pinch:              gesture.DefaultPinchOptions(),
		TransferMode:       worker.TransferBitmap,
		ResetPinchOnNoHand: true,
		Detector:           detector.DefaultConfig(),
	}
}

// Validate checks every section of the config.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeAuto, ModeMainThread, ModeWorker:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	switch c.TransferMode {
	case worker.TransferBitmap, worker.TransferImageData:
	default:
		return fmt.Errorf("%w: unknown transfer mode %q", ErrInvalidConfig, c.TransferMode)
	}
	if !(c.TargetFPS > 0) {
		return fmt.Errorf("%w: target fps must be > 0, got %v", ErrInvalidConfig, c.TargetFPS)
	}
	if err := c.Smoothing.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Pinch.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Detector.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) frameOptions() frame.Options {
	return frame.Options{
		Smoothing:          c.Smoothing,
		Pinch:              c.Pinch,
		ResetPinchOnNoHand: c.ResetPinchOnNoHand,
	}
}

// Capabilities is what the host can offer a worker.
type Capabilities struct {
	Worker             bool
	TransferableBitmap bool
}

// Resolution records the resolved mode and which input decided it.
type Resolution struct {
	Mode   Mode   `json:"mode"`
	Reason string `json:"reason"`
}

// Resolution reasons.
const (
	ReasonForced          = "main thread forced"
	ReasonRequestedMain   = "main thread requested"
	ReasonWorkerDisabled  = "worker disabled"
	ReasonNoWorker        = "worker unsupported"
	ReasonNoBitmap        = "transferable bitmap unsupported"
	ReasonRequestedWorker = "worker requested"
	ReasonDefaultWorker   = "default"
)

// ResolveMode picks the execution mode. Highest precedence first: forced
// main thread, requested main thread, the disable switch, a failed
// capability probe, requested worker, then the worker by default.
func ResolveMode(cfg Config, caps Capabilities) Resolution {
	switch {
	case cfg.ForceMainThread:
		return Resolution{Mode: ModeMainThread, Reason: ReasonForced}
	case cfg.Mode == ModeMainThread:
		return Resolution{Mode: ModeMainThread, Reason: ReasonRequestedMain}
	case cfg.WorkerDisabled:
		return Resolution{Mode: ModeMainThread, Reason: ReasonWorkerDisabled}
	case !caps.Worker:
		return Resolution{Mode: ModeMainThread, Reason: ReasonNoWorker}
	case !caps.TransferableBitmap:
		return Resolution{Mode: ModeMainThread, Reason: ReasonNoBitmap}
	case cfg.Mode == ModeWorker:
		return Resolution{Mode: ModeWorker, Reason: ReasonRequestedWorker}
	default:
		return Resolution{Mode: ModeWorker, Reason: ReasonDefaultWorker}
	}
}
