package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/mudra/internal/coords"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/frame"
)

func dialFrames(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/frames" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) FrameMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg FrameMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func trackedFrame() frame.TrackedHandFrame {
	hand := detector.PinchLandmarks(0.02)
	tip := coords.Point{X: 0.25, Y: 0.5}
	return frame.TrackedHandFrame{
		Hands:       []detector.HandLandmarks{hand},
		HandCount:   1,
		PrimaryHand: &hand,
		IndexTip:    &tip,
	}
}

func TestFrameHub_Broadcast(t *testing.T) {
	hub := NewFrameHub(nil)
	ts := httptest.NewServer(New(Config{Frames: hub}))
	defer ts.Close()
	defer hub.Close()

	plain := dialFrames(t, ts, "")
	mapped := dialFrames(t, ts, "?w=1000&h=500")
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 2*time.Second, 5*time.Millisecond)

	meta := frame.Meta{
		Timestamp:  time.UnixMilli(1_700_000_000_000),
		Delta:      33 * time.Millisecond,
		FPS:        30,
		AverageFPS: 29.5,
		Seq:        7,
	}
	hub.Publish(trackedFrame(), meta, coords.Size{Width: 640, Height: 480})

	got := readFrame(t, plain)
	assert.Equal(t, 1, got.Frame.HandCount)
	assert.Nil(t, got.Cursor, "no container, no cursor")
	assert.Equal(t, FrameMeta{Timestamp: 1_700_000_000_000, DeltaTimeMs: 33, FPS: 30, AverageFPS: 29.5, Seq: 7}, got.Meta)

	got = readFrame(t, mapped)
	require.NotNil(t, got.Cursor)
	// 640x480 covers 1000x500 at scale 1.5625, cropping 125px top and bottom.
	assert.InDelta(t, 0.25, got.Cursor.X, 1e-9)
	assert.InDelta(t, 0.5, got.Cursor.Y, 1e-9)
}

func TestFrameHub_NoHandNoCursor(t *testing.T) {
	hub := NewFrameHub(nil)
	ts := httptest.NewServer(hub)
	defer ts.Close()
	defer hub.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/?w=800&h=600"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	hub.Publish(frame.TrackedHandFrame{Hands: []detector.HandLandmarks{}}, frame.Meta{Seq: 1}, coords.Size{Width: 640, Height: 480})
	got := readFrame(t, conn)
	assert.Equal(t, 0, got.Frame.HandCount)
	assert.Nil(t, got.Cursor)
}

func TestFrameHub_RejectsBadContainer(t *testing.T) {
	hub := NewFrameHub(nil)

	for _, q := range []string{"?w=100", "?w=abc&h=10", "?w=0&h=10", "?w=10&h=-1"} {
		rec := httptest.NewRecorder()
		hub.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/frames"+q, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestFrameHub_SlowClientGetsLatestOnly(t *testing.T) {
	c := &frameClient{notify: make(chan struct{}, 1), done: make(chan struct{})}

	for seq := uint64(1); seq <= 5; seq++ {
		c.offer(&frameUpdate{meta: frame.Meta{Seq: seq}})
	}

	upd := c.take()
	require.NotNil(t, upd)
	assert.Equal(t, uint64(5), upd.meta.Seq)
	assert.Equal(t, uint64(4), c.skipped.Load())
	assert.Nil(t, c.take(), "nothing left after the latest frame")
}

func TestFrameHub_DisconnectRemovesClient(t *testing.T) {
	hub := NewFrameHub(nil)
	ts := httptest.NewServer(hub)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}
