// Package scheduler paces a callback at a bounded target rate on top of a
// faster host frame clock.
package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/ayusman/mudra/internal/timeutil"
)

const (
	// DefaultTargetFPS is used when New is given a non-positive rate.
	DefaultTargetFPS = 30
	// DefaultHostPeriod is the host frame period, a 60 Hz display refresh.
	DefaultHostPeriod = time.Second / 60
	// averageWindow is the number of one-second FPS samples averaged.
	averageWindow = 10
)

// Tick is passed to the callback on every fired frame.
type Tick struct {
	Timestamp  time.Time
	Delta      time.Duration // since the previous tick; zero on the first
	FPS        float64       // ticks counted over the last full second
	AverageFPS float64       // mean of the last ten one-second samples
	Seq        uint64

	stop func()
}

// Stop stops the scheduler from inside the callback that received t.
// Scheduler.Stop would wait for that same callback and never return.
func (t Tick) Stop() {
	if t.stop != nil {
		t.stop()
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the clock used for pacing.
func WithClock(c timeutil.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithHostPeriod sets the host frame period.
func WithHostPeriod(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.hostPeriod = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// Scheduler fires fn at most targetFPS times per second. On every host frame
// it checks the time since the last tick and either fires or sleeps for the
// remainder of the interval.
type Scheduler struct {
	fn         func(Tick)
	interval   time.Duration
	hostPeriod time.Duration
	clock      timeutil.Clock
	logger     *slog.Logger

	mu         sync.Mutex
	running    bool
	generation uint64
	stopCh     chan struct{}
	lastFire   time.Time
	seq        uint64

	windowStart time.Time
	windowCount int
	fps         float64
	samples     []float64

	// fireMu is held from the generation check until the callback returns so
	// Stop can wait out a tick that has already committed to firing.
	fireMu sync.Mutex
}

// New creates a stopped scheduler.
func New(targetFPS float64, fn func(Tick), opts ...Option) *Scheduler {
	if targetFPS <= 0 {
		targetFPS = DefaultTargetFPS
	}
	s := &Scheduler{
		fn:         fn,
		interval:   time.Duration(float64(time.Second) / targetFPS),
		hostPeriod: DefaultHostPeriod,
		clock:      timeutil.RealClock{},
		logger:     slog.Default(),
		samples:    make([]float64, 0, averageWindow),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Interval returns the minimum spacing between ticks.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start begins pacing. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.generation++
	s.stopCh = make(chan struct{})
	s.lastFire = time.Time{}
	s.windowStart = s.clock.Now()
	s.windowCount = 0

	go s.loop(s.generation, s.stopCh)
	s.logger.Debug("scheduler started", "interval", s.interval, "host_period", s.hostPeriod)
}

// Stop cancels the pending wake-up and waits for a callback already in
// progress. No callback runs after Stop returns. Stop is safe on a stopped
// scheduler but must not be called from the callback; use Tick.Stop there.
func (s *Scheduler) Stop() {
	stopped := s.halt(0, false)

	s.fireMu.Lock()
	s.fireMu.Unlock() //nolint:staticcheck // barrier

	if stopped {
		s.logger.Debug("scheduler stopped")
	}
}

// halt ends the current run. With matchGen set it only ends generation gen,
// so a stale Tick.Stop cannot stop a later run.
func (s *Scheduler) halt(gen uint64, matchGen bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || (matchGen && s.generation != gen) {
		return false
	}
	s.running = false
	s.generation++
	close(s.stopCh)
	return true
}

// Running reports whether the scheduler is started.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// FPS returns the most recent one-second tick count.
func (s *Scheduler) FPS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fps
}

// AverageFPS returns the mean of recent one-second samples.
func (s *Scheduler) AverageFPS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.average()
}

func (s *Scheduler) average() float64 {
	if len(s.samples) == 0 {
		return 0
	}
	return stat.Mean(s.samples, nil)
}

func (s *Scheduler) loop(gen uint64, stopCh chan struct{}) {
	timer := s.clock.NewTimer(s.hostPeriod)
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-timer.C():
		}

		now := s.clock.Now()
		if wait := s.remaining(now); wait > 0 {
			timer.Reset(wait)
			continue
		}

		if !s.fire(gen, now) {
			return
		}
		timer.Reset(s.hostPeriod)
	}
}

// remaining returns how long to defer before the next tick may fire.
func (s *Scheduler) remaining(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastFire.IsZero() {
		return 0
	}
	if elapsed := now.Sub(s.lastFire); elapsed < s.interval {
		return s.interval - elapsed
	}
	return 0
}

// fire runs one callback unless the scheduler was stopped or restarted.
func (s *Scheduler) fire(gen uint64, now time.Time) (fired bool) {
	s.fireMu.Lock()
	defer s.fireMu.Unlock()

	s.mu.Lock()
	if !s.running || s.generation != gen {
		s.mu.Unlock()
		return false
	}
	tick := s.advance(now)
	s.mu.Unlock()

	tick.stop = func() {
		if s.halt(gen, true) {
			s.logger.Debug("scheduler stopped from callback")
		}
	}

	fired = true
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("frame callback panicked", "panic", r, "seq", tick.Seq)
		}
	}()
	s.fn(tick)
	return fired
}

// advance updates counters for a tick at now. Caller holds mu.
func (s *Scheduler) advance(now time.Time) Tick {
	var delta time.Duration
	if !s.lastFire.IsZero() {
		delta = now.Sub(s.lastFire)
	}
	s.lastFire = now
	s.seq++
	s.windowCount++

	if span := now.Sub(s.windowStart); span >= time.Second {
		s.fps = float64(s.windowCount) / span.Seconds()
		if len(s.samples) == averageWindow {
			s.samples = append(s.samples[:0], s.samples[1:]...)
		}
		s.samples = append(s.samples, s.fps)
		s.windowStart = now
		s.windowCount = 0
	}

	return Tick{
		Timestamp:  now,
		Delta:      delta,
		FPS:        s.fps,
		AverageFPS: s.average(),
		Seq:        s.seq,
	}
}
