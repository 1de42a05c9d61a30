// Package capture provides camera capture functionality using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/coords"
)

// Default camera settings
const (
	DefaultFPS    = 30
	DefaultWidth  = 640
	DefaultHeight = 480
)

var (
	// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")
	// ErrEmptyFrame is returned when the device delivers no pixels.
	ErrEmptyFrame = errors.New("captured frame is empty")
	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid camera config")
)

// Config selects the capture device and the mode requested from it.
type Config struct {
	DeviceID int `yaml:"device_id" json:"deviceId"`
	Width    int `yaml:"width" json:"width"`
	Height   int `yaml:"height" json:"height"`
	FPS      int `yaml:"fps" json:"fps"`
}

// DefaultConfig returns device 0 at 640x480, 30 fps.
func DefaultConfig() Config {
	return Config{
		DeviceID: 0,
		Width:    DefaultWidth,
		Height:   DefaultHeight,
		FPS:      DefaultFPS,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.DeviceID < 0 {
		return fmt.Errorf("%w: device_id must be >= 0", ErrInvalidConfig)
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: resolution %dx%d", ErrInvalidConfig, c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("%w: fps must be > 0", ErrInvalidConfig)
	}
	return nil
}

// Camera defines the interface for camera capture implementations.
// A frame counts as video only when the camera is open and ReadFrame
// returns a non-empty Mat.
type Camera interface {
	Open() error
	Close() error
	ReadFrame() (*gocv.Mat, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
	// Size is the resolution of the most recent frame, or the requested
	// resolution before the first read.
	Size() coords.Size
}

// cameraImpl manages video capture from a camera device using GoCV.
type cameraImpl struct {
	cfg     Config
	capture *gocv.VideoCapture
	mu      sync.Mutex
	running bool
	size    coords.Size
}

// NewCamera creates a Camera for cfg. The device is not opened until Open.
func NewCamera(cfg Config) Camera {
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	return &cameraImpl{
		cfg:  cfg,
		size: coords.Size{Width: float64(cfg.Width), Height: float64(cfg.Height)},
	}
}

// Open opens the camera and requests the configured resolution and rate.
func (c *cameraImpl) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(c.cfg.DeviceID)
	if err != nil {
		return fmt.Errorf("open camera %d: %w", c.cfg.DeviceID, err)
	}

	if c.cfg.Width > 0 && c.cfg.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(c.cfg.Width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(c.cfg.Height))
	}
	capture.Set(gocv.VideoCaptureFPS, float64(c.cfg.FPS))

	c.capture = capture
	c.running = true

	return nil
}

// Close closes the camera and releases resources.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame from the camera.
// The caller is responsible for closing the returned Mat.
func (c *cameraImpl) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return nil, errors.New("failed to read frame from camera")
	}

	if mat.Empty() {
		mat.Close()
		return nil, ErrEmptyFrame
	}

	c.size = coords.Size{Width: float64(mat.Cols()), Height: float64(mat.Rows())}
	return &mat, nil
}

// SetFPS sets the frames per second for capture.
// Values less than or equal to 0 are ignored.
func (c *cameraImpl) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cfg.FPS = fps

	if c.capture != nil {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// FPS returns the current frames per second setting.
func (c *cameraImpl) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cfg.FPS
}

// IsOpen returns true if the camera is currently open and running.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}

func (c *cameraImpl) Size() coords.Size {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.size
}
