package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/frame"
	"github.com/ayusman/mudra/internal/scheduler"
	"github.com/ayusman/mudra/internal/timeutil"
	"github.com/ayusman/mudra/internal/worker"
)

// DefaultInitTimeout bounds the wait for the worker's init reply.
const DefaultInitTimeout = 10 * time.Second

var (
	// ErrClosed is returned when starting a closed runtime.
	ErrClosed = errors.New("runtime closed")
	// ErrInit reports that the detector or worker failed to initialize.
	ErrInit = errors.New("runtime init failed")
	// ErrFrameFailed reports a frame the worker could not process.
	ErrFrameFailed = errors.New("worker frame failed")
	// ErrWorkerFailed reports a worker crash or protocol violation.
	ErrWorkerFailed = errors.New("worker failed")
)

// Source supplies video frames. ReadFrame returns a Mat owned by the caller.
type Source interface {
	ReadFrame() (*gocv.Mat, error)
	IsOpen() bool
}

// Handlers receive the runtime's output. Calls are serialized. OnFrame runs
// at most once per scheduler tick.
type Handlers struct {
	OnFrame func(frame.TrackedHandFrame, frame.Meta)
	// OnNoVideoFrame is called on ticks where the source has no usable frame.
	OnNoVideoFrame func()
	// OnRuntimeFallback is called at most once, when worker mode fails. The
	// runtime does not retry; the caller decides whether to rebuild it.
	OnRuntimeFallback func(reason string)
	// OnError is called for failures confined to a single frame.
	OnError func(error)
}

// Option configures a Runtime.
type Option func(*options)

type options struct {
	factory     detector.Factory
	spawner     worker.Spawner
	probe       func() Capabilities
	logger      *slog.Logger
	clock       timeutil.Clock
	hostPeriod  time.Duration
	initTimeout time.Duration
}

// WithDetectorFactory sets how the main-thread detector is built.
func WithDetectorFactory(f detector.Factory) Option {
	return func(o *options) { o.factory = f }
}

// WithSpawner sets how the worker is started.
func WithSpawner(s worker.Spawner) Option {
	return func(o *options) { o.spawner = s }
}

// WithProbe overrides the capability probe.
func WithProbe(p func() Capabilities) Option {
	return func(o *options) { o.probe = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock sets the clock driving the scheduler and capture timestamps.
func WithClock(c timeutil.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithHostPeriod sets the scheduler's host frame period.
func WithHostPeriod(d time.Duration) Option {
	return func(o *options) { o.hostPeriod = d }
}

// WithInitTimeout bounds the wait for the worker's init reply.
func WithInitTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.initTimeout = d
		}
	}
}

// Stats is a snapshot of runtime counters.
type Stats struct {
	Mode           Mode    `json:"mode"`
	Reason         string  `json:"reason"`
	Running        bool    `json:"running"`
	Ready          bool    `json:"ready"`
	Delivered      uint64  `json:"delivered"`
	Dropped        uint64  `json:"dropped"`
	Stale          uint64  `json:"stale"`
	Errors         uint64  `json:"errors"`
	NoVideo        uint64  `json:"noVideo"`
	FPS            float64 `json:"fps"`
	AverageFPS     float64 `json:"averageFps"`
	FallbackReason string  `json:"fallbackReason,omitempty"`
}

// Runtime drives detection at the configured rate in the resolved mode.
type Runtime struct {
	cfg        Config
	source     Source
	handlers   Handlers
	opts       options
	logger     *slog.Logger
	resolution Resolution
	caps       Capabilities
	sched      *scheduler.Scheduler

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool

	disposed  atomic.Bool
	closeOnce sync.Once
	handlerMu sync.Mutex

	// main-thread state, touched only by scheduler ticks and Close
	mainMu  sync.Mutex
	det     detector.Detector
	builder *frame.Builder

	// worker state
	transportMu  sync.Mutex
	transport    worker.Transport
	ready        atomic.Bool
	failed       atomic.Bool
	readyCh      chan struct{}
	readyOnce    sync.Once
	flight       flight
	fallbackOnce sync.Once

	statsMu        sync.Mutex
	fallbackReason string

	delivered atomic.Uint64
	dropped   atomic.Uint64
	stale     atomic.Uint64
	errs      atomic.Uint64
	noVideo   atomic.Uint64
}

// New validates cfg, resolves the mode and returns a stopped runtime.
// source may be nil, in which case every tick reports no video.
func New(cfg Config, source Source, handlers Handlers, opts ...Option) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{
		logger:      slog.Default(),
		clock:       timeutil.RealClock{},
		initTimeout: DefaultInitTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.probe == nil {
		spawner := o.spawner
		o.probe = func() Capabilities {
			return Capabilities{
				Worker:             spawner != nil,
				TransferableBitmap: spawner != nil && spawner.SupportsBitmap(),
			}
		}
	}

	caps := o.probe()
	res := ResolveMode(cfg, caps)
	if res.Mode == ModeWorker && o.spawner == nil {
		return nil, fmt.Errorf("%w: worker mode resolved without a spawner", ErrInit)
	}
	if res.Mode == ModeMainThread && o.factory == nil {
		return nil, fmt.Errorf("%w: main-thread mode needs a detector factory", ErrInit)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		cfg:        cfg,
		source:     source,
		handlers:   handlers,
		opts:       o,
		logger:     o.logger.With("component", "tracking", "mode", res.Mode),
		resolution: res,
		caps:       caps,
		ctx:        ctx,
		cancel:     cancel,
		readyCh:    make(chan struct{}),
	}

	schedOpts := []scheduler.Option{scheduler.WithClock(o.clock), scheduler.WithLogger(o.logger)}
	if o.hostPeriod > 0 {
		schedOpts = append(schedOpts, scheduler.WithHostPeriod(o.hostPeriod))
	}
	r.sched = scheduler.New(cfg.TargetFPS, r.tick, schedOpts...)

	r.logger.Info("runtime mode resolved", "reason", res.Reason,
		"worker_supported", caps.Worker, "bitmap_supported", caps.TransferableBitmap)
	return r, nil
}

// Mode returns the resolved mode.
func (r *Runtime) Mode() Mode {
	return r.resolution.Mode
}

// Resolution returns the resolved mode and why it was chosen.
func (r *Runtime) Resolution() Resolution {
	return r.resolution
}

// Ready reports whether the runtime can process frames: the detector is
// built in main-thread mode, or the worker acknowledged init.
func (r *Runtime) Ready() bool {
	if r.resolution.Mode == ModeWorker {
		return r.ready.Load() && !r.failed.Load()
	}
	r.mainMu.Lock()
	defer r.mainMu.Unlock()
	return r.det != nil
}

// Start builds the detector or spawns the worker on first use, then starts
// the scheduler. A worker that cannot be spawned triggers the fallback
// handler and Start returns the error.
func (r *Runtime) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disposed.Load() {
		return ErrClosed
	}
	if !r.started {
		var err error
		if r.resolution.Mode == ModeWorker {
			err = r.startWorker()
		} else {
			err = r.startMain()
		}
		if err != nil {
			return err
		}
		r.started = true
	}

	r.sched.Start()
	return nil
}

// Stop pauses the scheduler, waiting for a tick in progress. No handler runs
// from a tick after Stop returns. Stop and Close must not be called
// synchronously from OnFrame, OnNoVideoFrame or OnError in main-thread mode:
// those run on the tick they would wait for.
func (r *Runtime) Stop() {
	r.sched.Stop()
}

// Close stops the runtime and releases the detector or worker. Replies that
// arrive afterwards are ignored. Close is idempotent.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		r.disposed.Store(true)
		r.sched.Stop()
		r.flight.clear()

		if t := r.currentTransport(); t != nil {
			if err := t.Send(worker.NewDispose()); err != nil && !errors.Is(err, worker.ErrClosed) {
				r.logger.Debug("dispose not delivered", "error", err)
			}
			_ = t.Close()
		}
		r.cancel()

		r.mainMu.Lock()
		if r.det != nil {
			if err := r.det.Close(); err != nil {
				r.logger.Warn("detector close failed", "error", err)
			}
			r.det = nil
		}
		if r.builder != nil {
			r.builder.Reset()
		}
		r.mainMu.Unlock()

		r.logger.Info("runtime closed",
			"delivered", r.delivered.Load(), "dropped", r.dropped.Load(), "errors", r.errs.Load())
	})
	return nil
}

// Stats returns a snapshot of the runtime counters.
func (r *Runtime) Stats() Stats {
	r.statsMu.Lock()
	fallback := r.fallbackReason
	r.statsMu.Unlock()

	return Stats{
		Mode:           r.resolution.Mode,
		Reason:         r.resolution.Reason,
		Running:        r.sched.Running(),
		Ready:          r.Ready(),
		Delivered:      r.delivered.Load(),
		Dropped:        r.dropped.Load(),
		Stale:          r.stale.Load(),
		Errors:         r.errs.Load(),
		NoVideo:        r.noVideo.Load(),
		FPS:            r.sched.FPS(),
		AverageFPS:     r.sched.AverageFPS(),
		FallbackReason: fallback,
	}
}

func (r *Runtime) tick(t scheduler.Tick) {
	meta := frame.Meta{
		Timestamp:  t.Timestamp,
		Delta:      t.Delta,
		FPS:        t.FPS,
		AverageFPS: t.AverageFPS,
		Seq:        t.Seq,
	}
	if r.resolution.Mode == ModeWorker {
		r.workerTick(meta)
		return
	}
	r.mainTick(meta)
}

// readFrame returns the current frame, or false when there is no usable video.
func (r *Runtime) readFrame() (*gocv.Mat, bool) {
	if r.source == nil || !r.source.IsOpen() {
		return nil, false
	}
	mat, err := r.source.ReadFrame()
	if err != nil || mat == nil {
		return nil, false
	}
	if mat.Empty() {
		mat.Close()
		return nil, false
	}
	return mat, true
}

// Main-thread mode.

func (r *Runtime) startMain() error {
	det, err := r.opts.factory(r.cfg.Detector)
	if err != nil {
		return fmt.Errorf("%w: detector: %v", ErrInit, err)
	}
	builder, err := frame.NewBuilder(r.cfg.frameOptions())
	if err != nil {
		det.Close()
		return fmt.Errorf("%w: %v", ErrInit, err)
	}

	r.mainMu.Lock()
	r.det = det
	r.builder = builder
	r.mainMu.Unlock()
	return nil
}

func (r *Runtime) mainTick(meta frame.Meta) {
	mat, ok := r.readFrame()
	if !ok {
		r.emitNoVideo()
		return
	}

	r.mainMu.Lock()
	if r.det == nil {
		r.mainMu.Unlock()
		mat.Close()
		return
	}
	hands, err := r.det.Detect(mat)
	mat.Close()
	if err != nil {
		r.mainMu.Unlock()
		r.emitError(fmt.Errorf("detect: %w", err))
		return
	}
	out := r.builder.Build(hands, meta.Timestamp)
	r.mainMu.Unlock()

	r.emitFrame(out, meta)
}

// Worker mode.

func (r *Runtime) startWorker() error {
	t, err := r.opts.spawner.Spawn(r.ctx)
	if err != nil {
		err = fmt.Errorf("%w: spawn worker: %v", ErrInit, err)
		r.failed.Store(true)
		r.fallback(err.Error())
		return err
	}
	r.transportMu.Lock()
	r.transport = t
	r.transportMu.Unlock()

	go r.receiveLoop(t)

	init := worker.NewInitRequest(r.cfg.Detector, r.cfg.frameOptions())
	if err := t.Send(worker.NewInit(init)); err != nil {
		r.workerFailure(fmt.Errorf("%w: send init: %v", ErrInit, err))
		return nil
	}
	go r.watchInit()
	return nil
}

func (r *Runtime) currentTransport() worker.Transport {
	r.transportMu.Lock()
	defer r.transportMu.Unlock()
	return r.transport
}

// watchInit fails the worker if init is not acknowledged in time.
func (r *Runtime) watchInit() {
	timer := time.NewTimer(r.opts.initTimeout)
	defer timer.Stop()

	select {
	case <-r.readyCh:
	case <-r.ctx.Done():
	case <-timer.C:
		r.workerFailure(fmt.Errorf("%w: no init reply within %s", ErrInit, r.opts.initTimeout))
	}
}

func (r *Runtime) workerTick(meta frame.Meta) {
	if r.failed.Load() || !r.ready.Load() {
		return
	}
	id, ok := r.flight.tryAcquire(meta)
	if !ok {
		r.dropped.Add(1)
		return
	}
	go r.submit(id)
}

// submit captures the current frame and posts it to the worker. It runs off
// the scheduler goroutine so the tick never waits on capture or transport.
func (r *Runtime) submit(id uint64) {
	mat, ok := r.readFrame()
	if !ok {
		r.flight.resolve(id)
		r.emitNoVideo()
		return
	}
	sentAt := r.opts.clock.Now()
	r.flight.stamp(id, sentAt)

	mode := r.transferMode()
	var payload worker.FramePayload
	if mode == worker.TransferBitmap {
		payload = worker.BitmapPayload(mat)
	} else {
		payload = worker.ImageDataPayload(*mat)
		mat.Close()
	}

	if r.disposed.Load() || r.failed.Load() {
		payload.Release()
		r.flight.resolve(id)
		return
	}

	err := r.currentTransport().Send(worker.NewFrame(worker.FrameRequest{
		ID:           id,
		SentAt:       sentAt,
		TransferMode: mode,
		Frame:        payload,
	}))
	if err != nil {
		r.flight.resolve(id)
		if r.disposed.Load() {
			return
		}
		r.workerFailure(fmt.Errorf("%w: send frame %d: %v", ErrWorkerFailed, id, err))
	}
}

// transferMode honours the configured preference, using bitmaps only when
// the host supports handing them over.
func (r *Runtime) transferMode() worker.TransferMode {
	if r.cfg.TransferMode == worker.TransferBitmap && r.caps.TransferableBitmap {
		return worker.TransferBitmap
	}
	return worker.TransferImageData
}

func (r *Runtime) receiveLoop(t worker.Transport) {
	for {
		msg, err := t.Receive(r.ctx)
		if r.disposed.Load() || r.ctx.Err() != nil {
			return
		}
		if err != nil {
			if r.failed.Load() && errors.Is(err, worker.ErrClosed) {
				return
			}
			r.workerFailure(fmt.Errorf("%w: receive: %v", ErrWorkerFailed, err))
			return
		}
		if err := msg.Validate(); err != nil {
			r.workerFailure(fmt.Errorf("%w: %q: %v", ErrWorkerFailed, msg.Type, err))
			return
		}

		switch msg.Type {
		case worker.TypeInitResult:
			if !r.handleInitResult(*msg.InitResult) {
				return
			}
		case worker.TypeFrameResult:
			r.handleFrameResult(*msg.FrameResult)
		case worker.TypeError:
			r.workerFailure(fmt.Errorf("%w: %s", ErrWorkerFailed, msg.Error.Error))
			return
		default:
			r.workerFailure(fmt.Errorf("%w: unexpected %q from worker", ErrWorkerFailed, msg.Type))
			return
		}
	}
}

func (r *Runtime) handleInitResult(res worker.InitResult) bool {
	if !res.OK {
		reason := res.Message
		if reason == "" {
			reason = "unknown error"
		}
		r.workerFailure(fmt.Errorf("%w: %s", ErrInit, reason))
		return false
	}
	r.ready.Store(true)
	r.readyOnce.Do(func() { close(r.readyCh) })
	r.logger.Info("worker ready")
	return true
}

func (r *Runtime) handleFrameResult(res worker.FrameResult) {
	meta, ok := r.flight.resolve(res.ID)
	if !ok {
		r.stale.Add(1)
		r.logger.Debug("discarding stale frame result", "id", res.ID)
		return
	}

	if !res.OK || res.Frame == nil {
		msg := res.Error
		if msg == "" {
			msg = "no frame returned"
		}
		err := fmt.Errorf("%w: frame %d: %s", ErrFrameFailed, res.ID, msg)
		r.emitError(err)
		r.fallback(err.Error())
		return
	}

	r.emitFrame(*res.Frame, meta)
}

// workerFailure tears the worker down for good and signals fallback.
func (r *Runtime) workerFailure(err error) {
	if r.disposed.Load() {
		return
	}
	first := !r.failed.Swap(true)
	r.flight.clear()
	if first {
		r.logger.Error("worker failed", "error", err)
		if t := r.currentTransport(); t != nil {
			_ = t.Close()
		}
	}
	r.fallback(err.Error())
}

// Output.

func (r *Runtime) fallback(reason string) {
	r.fallbackOnce.Do(func() {
		r.statsMu.Lock()
		r.fallbackReason = reason
		r.statsMu.Unlock()

		r.logger.Warn("runtime fallback", "reason", reason)
		r.emit(func() {
			if h := r.handlers.OnRuntimeFallback; h != nil {
				h(reason)
			}
		})
	})
}

func (r *Runtime) emitFrame(f frame.TrackedHandFrame, meta frame.Meta) {
	r.delivered.Add(1)
	r.emit(func() {
		if h := r.handlers.OnFrame; h != nil {
			h(f, meta)
		}
	})
}

func (r *Runtime) emitNoVideo() {
	r.noVideo.Add(1)
	r.emit(func() {
		if h := r.handlers.OnNoVideoFrame; h != nil {
			h()
		}
	})
}

func (r *Runtime) emitError(err error) {
	r.errs.Add(1)
	r.emit(func() {
		if h := r.handlers.OnError; h != nil {
			h(err)
		}
	})
}

// emit runs a handler call, serialized with all others and suppressed once
// the runtime is closed. A panicking handler is logged, not propagated.
func (r *Runtime) emit(call func()) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()

	if r.disposed.Load() {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("handler panicked", "panic", p)
		}
	}()
	call()
}
