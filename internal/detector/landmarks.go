// Package detector provides hand detection interfaces and types for hand tracking.
package detector

import "math"

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// Point3D is a single landmark. X and Y are normalized to [0,1] in source
// image space; Z is relative depth and zero when the model does not report it.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z,omitempty"`
}

// HandLandmarks represents one detected hand. A well-formed hand carries
// NumLandmarks points in MediaPipe order.
type HandLandmarks struct {
	Points     []Point3D `json:"points"`
	Handedness string    `json:"handedness,omitempty"` // "Left" or "Right"
	Score      float64   `json:"score,omitempty"`
}

// Point returns the landmark at index i, or false if the hand does not carry it.
func (h *HandLandmarks) Point(i int) (Point3D, bool) {
	if h == nil || i < 0 || i >= len(h.Points) {
		return Point3D{}, false
	}
	return h.Points[i], true
}

// Complete reports whether the hand carries the full landmark set.
func (h *HandLandmarks) Complete() bool {
	return h != nil && len(h.Points) >= NumLandmarks
}

// Clone returns a deep copy of the hand.
func (h HandLandmarks) Clone() HandLandmarks {
	points := make([]Point3D, len(h.Points))
	copy(points, h.Points)
	h.Points = points
	return h
}

// CloneHands deep-copies a detection result.
func CloneHands(hands []HandLandmarks) []HandLandmarks {
	if hands == nil {
		return nil
	}
	out := make([]HandLandmarks, len(hands))
	for i := range hands {
		out[i] = hands[i].Clone()
	}
	return out
}

// PlanarDistance returns the Euclidean distance between a and b in the image
// plane, ignoring depth.
func PlanarDistance(a, b Point3D) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
