package app

import (
	"errors"
	"time"

	"github.com/ayusman/mudra/internal/frame"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/tracking"
)

// startRuntimeLocked builds a runtime for the current settings, records a
// session for it and starts it. A worker that fails to come up is replaced
// by a main-thread runtime before returning.
func (a *App) startRuntimeLocked() error {
	rt, err := a.newRuntime()
	if err != nil {
		return err
	}
	a.rt = rt
	a.beginSessionLocked(rt)

	if err := rt.Start(); err != nil {
		if rt.Mode() == tracking.ModeWorker && errors.Is(err, tracking.ErrInit) {
			return a.fallbackLocked(rt, err.Error())
		}
		a.closeRuntimeLocked()
		return err
	}
	return nil
}

func (a *App) newRuntime() (*tracking.Runtime, error) {
	cfg := a.config.Tracking
	cfg.WorkerDisabled = a.workerDisabled

	opts := []tracking.Option{
		tracking.WithDetectorFactory(a.config.Factory),
		tracking.WithLogger(a.logger),
	}
	if a.config.Spawner != nil {
		opts = append(opts, tracking.WithSpawner(a.config.Spawner))
	} else {
		opts = append(opts, tracking.WithProbe(func() tracking.Capabilities { return tracking.Capabilities{} }))
	}
	opts = append(opts, a.config.RuntimeOptions...)

	// rt is assigned before any handler can run: handlers fire only after Start.
	var rt *tracking.Runtime
	handlers := tracking.Handlers{
		OnFrame: func(f frame.TrackedHandFrame, meta frame.Meta) {
			if a.config.OnFrame != nil {
				a.config.OnFrame(f, meta, a.config.Camera.Size())
			}
		},
		OnNoVideoFrame: func() {
			// Must not take a.mu: Stop holds it while waiting for the tick.
			n := a.noVideo.Add(1)
			if n == 1 || n%300 == 0 {
				a.logger.Debug("no video frame", "count", n)
			}
		},
		OnRuntimeFallback: func(reason string) {
			// The runtime may be mid-Start under a.mu, so recover asynchronously.
			go a.handleFallback(rt, reason)
		},
		OnError: func(err error) {
			a.logger.Warn("frame failed", "error", err)
		},
	}

	r, err := tracking.New(cfg, a.config.Camera, handlers, opts...)
	if err != nil {
		return nil, err
	}
	rt = r
	return rt, nil
}

func (a *App) handleFallback(rt *tracking.Runtime, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.rt != rt {
		return
	}
	if err := a.fallbackLocked(rt, reason); err != nil {
		a.logger.Error("main-thread runtime failed to start", "error", err)
	}
}

// fallbackLocked disables the worker for good, retires rt and, when
// tracking is enabled, starts a main-thread runtime in its place.
func (a *App) fallbackLocked(rt *tracking.Runtime, reason string) error {
	a.logger.Warn("falling back to main thread", "reason", reason, "mode", rt.Mode())
	a.lastFallback = reason
	a.workerDisabled = true

	if st := a.config.Store; st != nil {
		if err := st.Settings().SetBool(store.KeyWorkerDisabled, true); err != nil {
			a.logger.Error("persist worker switch failed", "error", err)
		}
		if a.sessionID != "" {
			if err := st.Sessions().RecordFallback(a.sessionID, reason); err != nil {
				a.logger.Error("record fallback failed", "session", a.sessionID, "error", err)
			}
		}
	}

	a.closeRuntimeLocked()

	var err error
	if a.enabled {
		err = a.startRuntimeLocked()
	}
	a.notifyLocked()
	return err
}

func (a *App) beginSessionLocked(rt *tracking.Runtime) {
	a.sessionID = ""
	if a.config.Store == nil {
		return
	}

	res := rt.Resolution()
	sess := &store.Session{
		RequestedMode: string(a.config.Tracking.Mode),
		Mode:          string(res.Mode),
		Reason:        res.Reason,
		TargetFPS:     a.config.Tracking.TargetFPS,
	}
	if err := a.config.Store.Sessions().Create(sess); err != nil {
		a.logger.Error("create session failed", "error", err)
		return
	}
	a.sessionID = sess.ID
	a.logger.Info("session started", "session", sess.ID, "mode", res.Mode, "reason", res.Reason)
}

// closeRuntimeLocked closes the current runtime and finishes its session.
func (a *App) closeRuntimeLocked() {
	rt := a.rt
	if rt == nil {
		return
	}
	a.rt = nil

	rt.Close()
	stats := rt.Stats()

	if a.config.Store != nil && a.sessionID != "" {
		totals := store.SessionTotals{
			Delivered:      stats.Delivered,
			Dropped:        stats.Dropped,
			Errors:         stats.Errors,
			AverageFPS:     stats.AverageFPS,
			FallbackReason: stats.FallbackReason,
		}
		if err := a.config.Store.Sessions().Finish(a.sessionID, totals, time.Now()); err != nil {
			a.logger.Error("finish session failed", "session", a.sessionID, "error", err)
		}
	}
	a.logger.Info("session ended", "session", a.sessionID,
		"delivered", stats.Delivered, "dropped", stats.Dropped, "errors", stats.Errors)
	a.sessionID = ""
}
