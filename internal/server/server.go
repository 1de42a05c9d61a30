// Package server provides the HTTP surface of mudra: health, runtime stats,
// session history and the live frame websocket.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ayusman/mudra/internal/server/api"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/tracking"
)

// Runtime is the view of the tracking runtime the server exposes.
type Runtime interface {
	Stats() tracking.Stats
	Enabled() bool
	SetEnabled(enabled bool) error
}

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	Preview   Preview
	Runtime   Runtime
	Frames    *FrameHub
	Logger    *slog.Logger
}

// Server represents the HTTP server for the mudra application.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		logger: logger.With("component", "server"),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Runtime != nil {
		s.mux.HandleFunc("/api/runtime", s.handleRuntime)
	}

	if s.config.Store != nil {
		sessions := api.NewSessionHandler(s.config.Store)
		s.mux.Handle("/api/sessions", sessions)
		s.mux.Handle("/api/sessions/", sessions)
	}

	if s.config.Preview != nil {
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Preview, s.logger))
	}

	if s.config.Frames != nil {
		s.mux.Handle("/api/frames", s.config.Frames)
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.config.Runtime != nil {
		stats := s.config.Runtime.Stats()
		response["mode"] = stats.Mode
		response["running"] = stats.Running
	}

	writeJSON(w, http.StatusOK, response)
}

type runtimeResponse struct {
	tracking.Stats
	Enabled bool `json:"enabled"`
}

type runtimeRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleRuntime reports runtime stats on GET and toggles tracking on POST.
func (s *Server) handleRuntime(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req runtimeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
			http.Error(w, `body must be {"enabled": true|false}`, http.StatusBadRequest)
			return
		}
		if err := s.config.Runtime.SetEnabled(*req.Enabled); err != nil {
			s.logger.Error("toggle runtime failed", "enabled", *req.Enabled, "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, runtimeResponse{
		Stats:   s.config.Runtime.Stats(),
		Enabled: s.config.Runtime.Enabled(),
	})
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
