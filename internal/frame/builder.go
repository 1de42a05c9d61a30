package frame

import (
	"time"

	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/filter"
	"github.com/ayusman/mudra/internal/gesture"
)

// Options configures a Builder.
type Options struct {
	Smoothing          filter.Params
	Pinch              gesture.PinchOptions
	ResetPinchOnNoHand bool
}

// DefaultOptions returns default smoothing and pinch settings with the pinch
// reset on lost hands.
func DefaultOptions() Options {
	return Options{
		Smoothing:          filter.DefaultParams(),
		Pinch:              gesture.DefaultPinchOptions(),
		ResetPinchOnNoHand: true,
	}
}

// Builder owns the smoother and pinch state for one execution context.
// It is not safe for concurrent use.
type Builder struct {
	smoother *filter.PointFilter
	pinch    *gesture.PinchDetector
	state    gesture.PinchState
	reset    bool
}

// NewBuilder validates opts and returns a Builder in the neutral state.
func NewBuilder(opts Options) (*Builder, error) {
	if err := opts.Smoothing.Validate(); err != nil {
		return nil, err
	}
	pinch, err := gesture.NewPinchDetector(opts.Pinch)
	if err != nil {
		return nil, err
	}
	return &Builder{
		smoother: filter.NewPointFilter(opts.Smoothing),
		pinch:    pinch,
		state:    pinch.NeutralState(),
		reset:    opts.ResetPinchOnNoHand,
	}, nil
}

// Build turns one detection result into a frame and advances internal state.
func (b *Builder) Build(hands []detector.HandLandmarks, t time.Time) TrackedHandFrame {
	prev := b.state
	out, next := Build(Input{
		Hands:              hands,
		Previous:           &prev,
		Smoother:           b.smoother,
		Pinch:              b.pinch,
		Timestamp:          t,
		ResetPinchOnNoHand: b.reset,
	})
	b.state = next
	return out
}

// State returns the current pinch state.
func (b *Builder) State() gesture.PinchState {
	return b.state
}

// Reset clears the smoother and returns the pinch state to neutral.
func (b *Builder) Reset() {
	b.smoother.Reset()
	b.state = b.pinch.NeutralState()
}
