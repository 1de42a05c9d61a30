package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/mudra/internal/coords"
	"github.com/ayusman/mudra/internal/frame"
)

const writeTimeout = 2 * time.Second

// FrameMeta is the wire form of frame.Meta.
type FrameMeta struct {
	Timestamp   int64   `json:"timestamp"` // unix ms
	DeltaTimeMs float64 `json:"deltaTimeMs"`
	FPS         float64 `json:"fps"`
	AverageFPS  float64 `json:"averageFps"`
	Seq         uint64  `json:"seq"`
}

// FrameMessage is one websocket message. Cursor is the index tip in
// normalized container space, present when the client gave its container
// size and a hand is visible.
type FrameMessage struct {
	Frame  frame.TrackedHandFrame `json:"frame"`
	Meta   FrameMeta              `json:"meta"`
	Cursor *coords.Point          `json:"cursor,omitempty"`
}

type frameUpdate struct {
	frame frame.TrackedHandFrame
	meta  frame.Meta
	video coords.Size
}

// FrameHub broadcasts tracked frames to websocket clients. Each client holds
// only the newest frame; a slow client skips frames instead of queueing them.
type FrameHub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*frameClient]struct{}
}

type frameClient struct {
	conn      *websocket.Conn
	container coords.Size
	mapCursor bool

	mu      sync.Mutex
	pending *frameUpdate
	notify  chan struct{}
	done    chan struct{}
	skipped atomic.Uint64
}

// NewFrameHub creates a hub with no clients.
func NewFrameHub(logger *slog.Logger) *FrameHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow local connections
			},
		},
		logger:  logger.With("component", "frames"),
		clients: make(map[*frameClient]struct{}),
	}
}

// Publish queues f for every client. video is the camera resolution used
// to map the cursor into each client's container.
func (h *FrameHub) Publish(f frame.TrackedHandFrame, meta frame.Meta, video coords.Size) {
	upd := &frameUpdate{frame: f, meta: meta, video: video}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.offer(upd)
	}
}

// Clients returns the number of connected clients.
func (h *FrameHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *FrameHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
		delete(h.clients, c)
	}
}

// ServeHTTP upgrades the request. Optional w and h query parameters give
// the client's container size in pixels.
func (h *FrameHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	container, mapCursor, ok := parseContainer(r)
	if !ok {
		http.Error(w, "w and h must be positive numbers", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade error", "error", err)
		return
	}

	c := &frameClient{
		conn:      conn,
		container: container,
		mapCursor: mapCursor,
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("frame client connected", "remote", r.RemoteAddr, "container", container)

	go c.writeLoop(h.logger)

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	close(c.done)
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	conn.Close()
	h.logger.Debug("frame client disconnected", "remote", r.RemoteAddr, "skipped", c.skipped.Load())
}

func parseContainer(r *http.Request) (coords.Size, bool, bool) {
	q := r.URL.Query()
	ws, hs := q.Get("w"), q.Get("h")
	if ws == "" && hs == "" {
		return coords.Size{}, false, true
	}
	width, errW := strconv.ParseFloat(ws, 64)
	height, errH := strconv.ParseFloat(hs, 64)
	if errW != nil || errH != nil || !(width > 0) || !(height > 0) {
		return coords.Size{}, false, false
	}
	return coords.Size{Width: width, Height: height}, true, true
}

// offer replaces any frame the client has not sent yet.
func (c *frameClient) offer(upd *frameUpdate) {
	c.mu.Lock()
	if c.pending != nil {
		c.skipped.Add(1)
	}
	c.pending = upd
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *frameClient) take() *frameUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	upd := c.pending
	c.pending = nil
	return upd
}

func (c *frameClient) writeLoop(logger *slog.Logger) {
	for {
		select {
		case <-c.done:
			return
		case <-c.notify:
		}

		upd := c.take()
		if upd == nil {
			continue
		}

		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(c.message(upd)); err != nil {
			logger.Debug("frame write failed", "error", err)
			c.conn.Close()
			return
		}
	}
}

func (c *frameClient) message(upd *frameUpdate) FrameMessage {
	msg := FrameMessage{
		Frame: upd.frame,
		Meta: FrameMeta{
			Timestamp:   upd.meta.Timestamp.UnixMilli(),
			DeltaTimeMs: upd.meta.DeltaTimeMs(),
			FPS:         upd.meta.FPS,
			AverageFPS:  upd.meta.AverageFPS,
			Seq:         upd.meta.Seq,
		},
	}
	if c.mapCursor {
		if p, ok := upd.frame.Cursor(upd.video, c.container); ok {
			msg.Cursor = &p
		}
	}
	return msg
}
