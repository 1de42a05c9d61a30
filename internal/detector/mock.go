package detector

import (
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu     sync.Mutex
	hands  []HandLandmarks
	err    error
	delay  time.Duration
	calls  int
	closed bool
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// MockFactory returns a Factory that always hands out d.
func MockFactory(d *MockDetector) Factory {
	return func(Config) (Detector, error) {
		return d, nil
	}
}

// SetHands sets the hands that will be returned by Detect.
func (m *MockDetector) SetHands(hands []HandLandmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hands = CloneHands(hands)
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetDelay makes every Detect call block for d, simulating slow inference.
func (m *MockDetector) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Detect returns the pre-configured hands or error.
func (m *MockDetector) Detect(frame *gocv.Mat) ([]HandLandmarks, error) {
	m.mu.Lock()
	m.calls++
	delay := m.delay
	hands := CloneHands(m.hands)
	err := m.err
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return hands, nil
}

// Calls returns how many times Detect has been invoked.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close has been called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close marks the mock as closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// PinchLandmarks returns a right hand whose thumb tip and index tip are gap
// apart horizontally, centred on (0.5, 0.4).
func PinchLandmarks(gap float64) HandLandmarks {
	hand := OpenPalmLandmarks()
	hand.Points[ThumbTip] = Point3D{X: 0.5 - gap/2, Y: 0.4, Z: 0.0}
	hand.Points[IndexTip] = Point3D{X: 0.5 + gap/2, Y: 0.4, Z: 0.0}
	return hand
}

// OpenPalmLandmarks returns a preset HandLandmarks representing an open palm gesture.
// All fingers are extended outward.
func OpenPalmLandmarks() HandLandmarks {
	return HandLandmarks{
		Handedness: "Right",
		Score:      0.95,
		Points: []Point3D{
			Wrist: {X: 0.5, Y: 0.8, Z: 0.0},

			ThumbCMC: {X: 0.55, Y: 0.75, Z: 0.02},
			ThumbMCP: {X: 0.62, Y: 0.70, Z: 0.03},
			ThumbIP:  {X: 0.68, Y: 0.65, Z: 0.03},
			ThumbTip: {X: 0.73, Y: 0.60, Z: 0.03},

			IndexMCP: {X: 0.55, Y: 0.68, Z: 0.0},
			IndexPIP: {X: 0.57, Y: 0.55, Z: 0.0},
			IndexDIP: {X: 0.58, Y: 0.45, Z: 0.0},
			IndexTip: {X: 0.58, Y: 0.35, Z: 0.0},

			MiddleMCP: {X: 0.50, Y: 0.66, Z: 0.0},
			MiddlePIP: {X: 0.50, Y: 0.52, Z: 0.0},
			MiddleDIP: {X: 0.50, Y: 0.40, Z: 0.0},
			MiddleTip: {X: 0.50, Y: 0.28, Z: 0.0},

			RingMCP: {X: 0.45, Y: 0.68, Z: 0.0},
			RingPIP: {X: 0.43, Y: 0.55, Z: 0.0},
			RingDIP: {X: 0.42, Y: 0.45, Z: 0.0},
			RingTip: {X: 0.42, Y: 0.35, Z: 0.0},

			PinkyMCP: {X: 0.40, Y: 0.70, Z: 0.0},
			PinkyPIP: {X: 0.37, Y: 0.60, Z: 0.0},
			PinkyDIP: {X: 0.35, Y: 0.50, Z: 0.0},
			PinkyTip: {X: 0.34, Y: 0.42, Z: 0.0},
		},
	}
}
