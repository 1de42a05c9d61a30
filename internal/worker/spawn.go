package worker

import (
	"context"
	"log/slog"

	"github.com/ayusman/mudra/internal/detector"
)

// Spawner starts a worker and returns the runtime's end of its transport.
type Spawner interface {
	Spawn(ctx context.Context) (Transport, error)
	// SupportsBitmap reports whether the transport accepts ownership of
	// bitmap frames.
	SupportsBitmap() bool
}

// InProcess runs Serve on a goroutine connected through a Pipe.
type InProcess struct {
	Factory detector.Factory
	Logger  *slog.Logger
}

// Spawn starts the worker goroutine. It exits when the transport closes,
// ctx is cancelled or it is disposed.
func (s InProcess) Spawn(ctx context.Context) (Transport, error) {
	mainEnd, workerEnd := Pipe()
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	go func() {
		defer workerEnd.Close()
		if err := Serve(ctx, workerEnd, s.Factory, logger); err != nil {
			logger.Warn("in-process worker stopped", "error", err)
		}
	}()
	return mainEnd, nil
}

// SupportsBitmap is true: Mats move between goroutines without a copy.
func (InProcess) SupportsBitmap() bool { return true }

// Process runs an external worker binary.
type Process struct {
	Path   string
	Args   []string
	Logger *slog.Logger
}

// Spawn starts the worker process.
func (s Process) Spawn(ctx context.Context) (Transport, error) {
	return StartProcess(ctx, s.Path, s.Args, s.Logger)
}

// SupportsBitmap is true: bitmaps are JPEG encoded on the way out.
func (Process) SupportsBitmap() bool { return true }
