package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/frame"
)

var (
	// ErrNotInitialized is reported for frames received before a successful init.
	ErrNotInitialized = errors.New("worker not initialized")
	// ErrUnexpected is reported for messages a worker never accepts.
	ErrUnexpected = errors.New("unexpected message")
)

// Serve runs the worker side of the protocol on t. It owns the detector and
// frame builder for its lifetime and returns after dispose, when the
// transport closes or when ctx is cancelled.
func Serve(ctx context.Context, t Transport, factory detector.Factory, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	w := &server{t: t, factory: factory, logger: logger}
	defer w.release()

	for {
		msg, err := t.Receive(ctx)
		if err != nil {
			switch {
			case errors.Is(err, ErrClosed), errors.Is(err, io.EOF):
				return nil
			case errors.Is(err, ErrUnknownType), errors.Is(err, ErrMalformed):
				w.reply(NewError(err))
				continue
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				return fmt.Errorf("receive: %w", err)
			}
		}

		if msg.Type == TypeDispose {
			logger.Debug("worker disposed")
			return nil
		}
		w.handle(msg)
	}
}

type server struct {
	t       Transport
	factory detector.Factory
	logger  *slog.Logger

	det     detector.Detector
	builder *frame.Builder
}

func (w *server) handle(msg Message) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("worker panic", "type", msg.Type, "panic", r)
			w.reply(NewError(fmt.Errorf("worker panic: %v", r)))
		}
	}()

	if err := msg.Validate(); err != nil {
		w.reply(NewError(fmt.Errorf("%q: %w", msg.Type, err)))
		return
	}

	switch msg.Type {
	case TypeInit:
		w.init(*msg.Init)
	case TypeFrame:
		w.frame(*msg.Frame)
	default:
		w.reply(NewError(fmt.Errorf("%w: %q", ErrUnexpected, msg.Type)))
	}
}

func (w *server) init(req InitRequest) {
	w.release()

	if w.factory == nil {
		w.reply(NewInitResult(false, "no detector available"))
		return
	}
	builder, err := frame.NewBuilder(req.FrameOptions())
	if err != nil {
		w.reply(NewInitResult(false, err.Error()))
		return
	}
	det, err := w.factory(req.DetectorConfig())
	if err != nil {
		w.logger.Warn("detector init failed", "error", err)
		w.reply(NewInitResult(false, err.Error()))
		return
	}

	w.det = det
	w.builder = builder
	w.logger.Info("worker initialized", "num_hands", req.NumHands, "delegate", req.DelegatePreference)
	w.reply(NewInitResult(true, ""))
}

func (w *server) frame(req FrameRequest) {
	start := time.Now()
	fail := func(err error) {
		w.reply(NewFrameResult(FrameResult{
			ID:           req.ID,
			OK:           false,
			Error:        err.Error(),
			ProcessingMs: elapsedMs(start),
		}))
	}

	if w.det == nil {
		req.Frame.Release()
		fail(ErrNotInitialized)
		return
	}

	mat, err := req.Frame.Decode()
	if err != nil {
		fail(err)
		return
	}
	defer mat.Close()

	hands, err := w.det.Detect(&mat)
	if err != nil {
		fail(fmt.Errorf("detect: %w", err))
		return
	}

	out := w.builder.Build(hands, req.SentAt)
	w.reply(NewFrameResult(FrameResult{
		ID:           req.ID,
		OK:           true,
		Frame:        &out,
		ProcessingMs: elapsedMs(start),
	}))
}

func (w *server) reply(m Message) {
	if err := w.t.Send(m); err != nil {
		w.logger.Debug("worker reply dropped", "type", m.Type, "error", err)
	}
}

func (w *server) release() {
	if w.det != nil {
		if err := w.det.Close(); err != nil {
			w.logger.Warn("detector close failed", "error", err)
		}
		w.det = nil
	}
	if w.builder != nil {
		w.builder.Reset()
		w.builder = nil
	}
}

func elapsedMs(since time.Time) float64 {
	return float64(time.Since(since)) / float64(time.Millisecond)
}
