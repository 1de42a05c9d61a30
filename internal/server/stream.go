package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/capture"
)

// streamInterval paces the preview at about 15 fps.
const streamInterval = 66 * time.Millisecond

// Preview supplies the frames the tracker has already read, so the preview
// never takes frames from the camera itself. capture.SharedCamera is one.
type Preview interface {
	IsOpen() bool
	Latest() (gocv.Mat, uint64, bool)
}

// StreamHandler serves an MJPEG preview of the camera.
type StreamHandler struct {
	preview Preview
	logger  *slog.Logger
}

// NewStreamHandler creates a new StreamHandler over preview.
func NewStreamHandler(preview Preview, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{preview: preview, logger: logger}
}

// ServeHTTP streams MJPEG frames to connected clients.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.preview.IsOpen() {
		http.Error(w, capture.ErrCameraNotOpen.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	var sent uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		frame, seq, ok := h.preview.Latest()
		if !ok {
			continue
		}
		if seq == sent {
			frame.Close()
			continue
		}
		sent = seq

		buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
		frame.Close()
		if err != nil {
			h.logger.Debug("preview encode failed", "error", err)
			continue
		}

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", buf.Len())
		_, err = w.Write(buf.GetBytes())
		buf.Close()
		if err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}
