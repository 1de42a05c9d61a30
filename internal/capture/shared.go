package capture

import (
	"sync"

	"gocv.io/x/gocv"
)

// SharedCamera lets one reader drive capture while others watch. The tracker
// reads frames as usual; previews call Latest and never consume a camera frame.
type SharedCamera struct {
	Camera

	mu     sync.Mutex
	latest gocv.Mat
	has    bool
	seq    uint64
}

// NewSharedCamera wraps cam.
func NewSharedCamera(cam Camera) *SharedCamera {
	return &SharedCamera{Camera: cam}
}

// ReadFrame reads from the wrapped camera and keeps a copy for Latest.
func (c *SharedCamera) ReadFrame() (*gocv.Mat, error) {
	mat, err := c.Camera.ReadFrame()
	if err != nil || mat == nil || mat.Empty() {
		return mat, err
	}

	c.mu.Lock()
	if c.has {
		c.latest.Close()
	}
	c.latest = mat.Clone()
	c.has = true
	c.seq++
	c.mu.Unlock()
	return mat, nil
}

// Latest returns a copy of the last frame read and its sequence number,
// which grows by one per frame. The caller closes the Mat.
func (c *SharedCamera) Latest() (gocv.Mat, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.has {
		return gocv.Mat{}, c.seq, false
	}
	return c.latest.Clone(), c.seq, true
}

// Close closes the wrapped camera and drops the kept frame.
func (c *SharedCamera) Close() error {
	err := c.Camera.Close()
	c.mu.Lock()
	if c.has {
		c.latest.Close()
		c.has = false
	}
	c.mu.Unlock()
	return err
}
