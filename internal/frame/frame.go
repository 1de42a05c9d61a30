// Package frame composes per-frame detections, smoothing and gesture state
// into the immutable record handed to consumers.
package frame

import (
	"time"

	"github.com/ayusman/mudra/internal/coords"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/filter"
	"github.com/ayusman/mudra/internal/gesture"
)

// PinchResult pairs the pinch state with the transition that produced it.
type PinchResult struct {
	State      gesture.PinchState `json:"state"`
	Transition gesture.Transition `json:"transition"`
}

// TrackedHandFrame is the output of one tick. It is built fresh every time
// and shares no storage with the detections it was built from.
type TrackedHandFrame struct {
	Hands       []detector.HandLandmarks `json:"hands"`
	HandCount   int                      `json:"handCount"`
	PrimaryHand *detector.HandLandmarks  `json:"primaryHand"`
	// RawIndexTip is the primary hand's index tip as detected: unmirrored and unsmoothed.
	RawIndexTip *detector.Point3D `json:"rawIndexTip"`
	// IndexTip is mirrored and smoothed.
	IndexTip *coords.Point `json:"indexTip"`
	Pinch    PinchResult   `json:"pinch"`
}

// Cursor maps the smoothed index tip into a container of the given size
// showing the video with object-cover scaling. The tip is already mirrored.
func (f TrackedHandFrame) Cursor(video, container coords.Size) (coords.Point, bool) {
	if f.IndexTip == nil {
		return coords.Point{}, false
	}
	return coords.ToContainer(*f.IndexTip, video, container, coords.MapOptions{Mirrored: false, Clamp: true}), true
}

// Meta is scheduling metadata delivered alongside each frame.
type Meta struct {
	Timestamp  time.Time     `json:"timestamp"`
	Delta      time.Duration `json:"-"`
	FPS        float64       `json:"fps"`
	AverageFPS float64       `json:"averageFps"`
	Seq        uint64        `json:"seq"`
}

// DeltaTimeMs returns the time since the previous tick in milliseconds.
func (m Meta) DeltaTimeMs() float64 {
	return float64(m.Delta) / float64(time.Millisecond)
}

// Input is everything one Build call consumes.
type Input struct {
	Hands              []detector.HandLandmarks
	Previous           *gesture.PinchState
	Smoother           *filter.PointFilter
	Pinch              *gesture.PinchDetector
	Timestamp          time.Time
	ResetPinchOnNoHand bool
}

// Build produces one frame and the pinch state to carry into the next call.
// It mutates only in.Smoother.
func Build(in Input) (TrackedHandFrame, gesture.PinchState) {
	if len(in.Hands) == 0 {
		in.Smoother.Reset()

		state := in.Pinch.NeutralState()
		if !in.ResetPinchOnNoHand && in.Previous != nil {
			state = *in.Previous
		}
		return TrackedHandFrame{
			Hands:     []detector.HandLandmarks{},
			HandCount: 0,
			Pinch:     PinchResult{State: state, Transition: gesture.TransitionNone},
		}, state
	}

	hands := detector.CloneHands(in.Hands)
	primary := hands[0].Clone()

	out := TrackedHandFrame{
		Hands:       hands,
		HandCount:   len(hands),
		PrimaryHand: &primary,
	}

	if tip, ok := primary.Point(detector.IndexTip); ok {
		raw := tip
		out.RawIndexTip = &raw

		mirrored := coords.Point{X: coords.Clamp01(coords.Mirror(tip.X)), Y: tip.Y}
		smoothed := in.Smoother.Filter(mirrored, in.Timestamp)
		out.IndexTip = &smoothed
	}

	state, transition := in.Pinch.Detect(&primary, in.Previous)
	out.Pinch = PinchResult{State: state, Transition: transition}
	return out, state
}
