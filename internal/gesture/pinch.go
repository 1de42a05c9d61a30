// Package gesture turns continuous hand measurements into discrete gesture signals.
package gesture

import (
	"errors"
	"fmt"

	"github.com/ayusman/mudra/internal/detector"
)

// Transition is the edge reported for one pinch evaluation.
type Transition string

const (
	// TransitionNone means the hand was not pinching before or after.
	TransitionNone Transition = "none"
	// TransitionStart means the pinch began on this frame.
	TransitionStart Transition = "start"
	// TransitionContinue means an ongoing pinch is held.
	TransitionContinue Transition = "continue"
	// TransitionRelease means the pinch ended on this frame.
	TransitionRelease Transition = "release"
)

// FarDistance is the distance reported by the neutral state.
const FarDistance = 1.0

// MinLandmarks is the fewest landmarks a hand must carry to be evaluated.
const MinLandmarks = 9

// ErrInvalidOptions is returned for unusable pinch options.
var ErrInvalidOptions = errors.New("invalid pinch options")

// PinchState is the persistent pinch state carried across frames.
type PinchState struct {
	IsPinching       bool    `json:"isPinching"`
	Distance         float64 `json:"distance"`
	StartThreshold   float64 `json:"startThreshold"`
	ReleaseThreshold float64 `json:"releaseThreshold"`
}

// PinchOptions configures the detector. StartThreshold must be below
// ReleaseThreshold; the gap between them is the hysteresis band.
type PinchOptions struct {
	StartThreshold   float64 `json:"startThreshold" yaml:"start_threshold"`
	ReleaseThreshold float64 `json:"releaseThreshold" yaml:"release_threshold"`
	IndexA           int     `json:"indexA" yaml:"index_a"`
	IndexB           int     `json:"indexB" yaml:"index_b"`
}

// DefaultPinchOptions measures thumb tip to index tip.
func DefaultPinchOptions() PinchOptions {
	return PinchOptions{
		StartThreshold:   0.05,
		ReleaseThreshold: 0.07,
		IndexA:           detector.ThumbTip,
		IndexB:           detector.IndexTip,
	}
}

// Validate checks threshold ordering and landmark indices.
func (o PinchOptions) Validate() error {
	if !(o.StartThreshold > 0) {
		return fmt.Errorf("%w: start threshold must be > 0, got %v", ErrInvalidOptions, o.StartThreshold)
	}
	if !(o.StartThreshold < o.ReleaseThreshold) {
		return fmt.Errorf("%w: start threshold %v must be below release threshold %v",
			ErrInvalidOptions, o.StartThreshold, o.ReleaseThreshold)
	}
	for _, idx := range []int{o.IndexA, o.IndexB} {
		if idx < 0 || idx >= detector.NumLandmarks {
			return fmt.Errorf("%w: landmark index %d out of range", ErrInvalidOptions, idx)
		}
	}
	if o.IndexA == o.IndexB {
		return fmt.Errorf("%w: landmark indices must differ", ErrInvalidOptions)
	}
	return nil
}

// PinchDetector applies hysteresis to the distance between two landmarks.
// It holds no per-frame state; callers pass the previous state in.
type PinchDetector struct {
	opts PinchOptions
}

// NewPinchDetector creates a detector after validating opts.
func NewPinchDetector(opts PinchOptions) (*PinchDetector, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &PinchDetector{opts: opts}, nil
}

// NeutralState is the not-pinching state with a far distance.
func (d *PinchDetector) NeutralState() PinchState {
	return PinchState{
		IsPinching:       false,
		Distance:         FarDistance,
		StartThreshold:   d.opts.StartThreshold,
		ReleaseThreshold: d.opts.ReleaseThreshold,
	}
}

// Detect measures the configured landmark pair on hand and advances prev.
// A nil or malformed hand leaves the previous state untouched and reports
// TransitionNone; a nil prev is treated as the neutral state.
func (d *PinchDetector) Detect(hand *detector.HandLandmarks, prev *PinchState) (PinchState, Transition) {
	if hand == nil || len(hand.Points) < MinLandmarks {
		return d.previous(prev), TransitionNone
	}
	a, okA := hand.Point(d.opts.IndexA)
	b, okB := hand.Point(d.opts.IndexB)
	if !okA || !okB {
		return d.previous(prev), TransitionNone
	}
	return d.Evaluate(detector.PlanarDistance(a, b), prev)
}

// Evaluate is the hysteresis step for an already measured distance.
func (d *PinchDetector) Evaluate(distance float64, prev *PinchState) (PinchState, Transition) {
	wasPinching := prev != nil && prev.IsPinching

	pinching := wasPinching
	switch {
	case !wasPinching && distance < d.opts.StartThreshold:
		pinching = true
	case wasPinching && distance > d.opts.ReleaseThreshold:
		pinching = false
	}

	next := PinchState{
		IsPinching:       pinching,
		Distance:         distance,
		StartThreshold:   d.opts.StartThreshold,
		ReleaseThreshold: d.opts.ReleaseThreshold,
	}
	return next, transitionFor(wasPinching, pinching)
}

func (d *PinchDetector) previous(prev *PinchState) PinchState {
	if prev == nil {
		return d.NeutralState()
	}
	return *prev
}

func transitionFor(was, is bool) Transition {
	switch {
	case !was && is:
		return TransitionStart
	case was && !is:
		return TransitionRelease
	case was && is:
		return TransitionContinue
	default:
		return TransitionNone
	}
}
