package detector

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

// Detector defines the interface for hand detection implementations.
// An instance is owned by exactly one goroutine at a time.
type Detector interface {
	// Detect analyzes a video frame and returns detected hand landmarks.
	// Returns an empty slice if no hands are detected.
	Detect(frame *gocv.Mat) ([]HandLandmarks, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Factory constructs a Detector for the given configuration. The runtime calls
// it in whichever context ends up owning the detector.
type Factory func(cfg Config) (Detector, error)

// Delegate is the inference backend preference passed to the model.
type Delegate string

const (
	DelegateCPU Delegate = "CPU"
	DelegateGPU Delegate = "GPU"
)

// ErrInvalidConfig is returned when a Config fails validation.
var ErrInvalidConfig = errors.New("invalid detector config")

// Config holds configuration options for hand detection.
type Config struct {
	// NumHands is the maximum number of hands to detect (default: 1).
	NumHands int `json:"numHands" yaml:"num_hands"`

	// MinDetectionConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinDetectionConfidence float64 `json:"minDetectionConfidence" yaml:"min_detection_confidence"`

	// MinPresenceConfidence is the minimum hand presence threshold (0.0-1.0).
	MinPresenceConfidence float64 `json:"minPresenceConfidence" yaml:"min_presence_confidence"`

	// MinTrackingConfidence is the minimum tracking confidence threshold (0.0-1.0).
	MinTrackingConfidence float64 `json:"minTrackingConfidence" yaml:"min_tracking_confidence"`

	// Delegate is the preferred inference backend.
	Delegate Delegate `json:"delegatePreference" yaml:"delegate"`

	// ModelAssetPath points at the hand landmarker model file.
	ModelAssetPath string `json:"modelAssetPath" yaml:"model_asset_path"`

	// RuntimeBasePath is the directory holding the inference runtime
	// (service script and its environment).
	RuntimeBasePath string `json:"runtimeBasePath" yaml:"runtime_base_path"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		NumHands:               1,
		MinDetectionConfidence: 0.5,
		MinPresenceConfidence:  0.5,
		MinTrackingConfidence:  0.5,
		Delegate:               DelegateGPU,
	}
}

// Validate checks the configuration ranges.
func (c Config) Validate() error {
	if c.NumHands < 1 {
		return fmt.Errorf("%w: num_hands must be >= 1, got %d", ErrInvalidConfig, c.NumHands)
	}
	for name, v := range map[string]float64{
		"min_detection_confidence": c.MinDetectionConfidence,
		"min_presence_confidence":  c.MinPresenceConfidence,
		"min_tracking_confidence":  c.MinTrackingConfidence,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s must be within [0,1], got %v", ErrInvalidConfig, name, v)
		}
	}
	switch c.Delegate {
	case "", DelegateCPU, DelegateGPU:
	default:
		return fmt.Errorf("%w: unknown delegate %q", ErrInvalidConfig, c.Delegate)
	}
	return nil
}
