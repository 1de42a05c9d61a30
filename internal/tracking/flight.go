package tracking

import (
	"sync"
	"time"

	"github.com/ayusman/mudra/internal/frame"
)

// flight is the single-flight slot for worker frames: at most one request
// is outstanding and replies are matched by id.
type flight struct {
	mu     sync.Mutex
	nextID uint64
	busy   bool
	id     uint64
	meta   frame.Meta
}

// tryAcquire claims the slot and allocates the next request id. It fails
// while a request is outstanding.
func (f *flight) tryAcquire(meta frame.Meta) (uint64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return 0, false
	}
	f.nextID++
	f.busy = true
	f.id = f.nextID
	f.meta = meta
	return f.id, true
}

// stamp sets the capture time of the outstanding request id.
func (f *flight) stamp(id uint64, t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy && f.id == id {
		f.meta.Timestamp = t
	}
}

// resolve frees the slot if id is the outstanding request and returns the
// meta captured when it was submitted.
func (f *flight) resolve(id uint64) (frame.Meta, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.busy || f.id != id {
		return frame.Meta{}, false
	}
	f.busy = false
	meta := f.meta
	f.meta = frame.Meta{}
	return meta, true
}

// clear drops any outstanding request; its reply will be treated as stale.
func (f *flight) clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy = false
	f.meta = frame.Meta{}
}

func (f *flight) pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}
