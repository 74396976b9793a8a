// Package schedule paces frame production from an externally driven host
// loop. The host calls Tick with a monotonic timestamp on every iteration,
// at whatever cadence it runs; the scheduler turns that into callbacks at
// roughly the target frame rate.
package schedule

import (
	"sync/atomic"

	"github.com/bryanchriswhite/StageFeed/internal/logger"
	"github.com/rs/zerolog"
)

// Scheduler invokes a callback at approximately fps+1 times per second.
// Running one frame ahead of the target keeps the sender's queue fed.
//
// Tick is not safe for concurrent use; it belongs to the host goroutine.
// Stop may be called from any goroutine.
type Scheduler struct {
	nanosPerFrame int64
	fn            func(frame uint64)
	log           *zerolog.Logger

	started bool
	last    int64
	acc     int64
	frame   uint64

	stopped atomic.Bool
}

// New creates a scheduler targeting fps callbacks per second. fps of zero is
// treated as one.
func New(fps uint32, fn func(frame uint64)) *Scheduler {
	if fps == 0 {
		fps = 1
	}
	return &Scheduler{
		nanosPerFrame: int64(1e9) / int64(fps+1),
		fn:            fn,
		log:           logger.WithComponent("scheduler"),
	}
}

// Interval returns the callback interval in nanoseconds.
func (s *Scheduler) Interval() int64 {
	return s.nanosPerFrame
}

// Tick advances the scheduler to the host timestamp now (nanoseconds,
// monotonic). It calls back at most once per invocation.
func (s *Scheduler) Tick(now int64) {
	if s.stopped.Load() {
		return
	}

	if !s.started {
		s.started = true
		s.last = now
		return
	}

	elapsed := now - s.last
	s.last = now
	if elapsed < 0 {
		elapsed = 0
	}
	s.acc += elapsed

	if s.acc < s.nanosPerFrame {
		return
	}

	s.frame++
	s.fn(s.frame)
	s.acc -= s.nanosPerFrame

	if s.acc > s.nanosPerFrame {
		missed := uint64(s.acc / s.nanosPerFrame)
		s.frame += missed
		s.acc = 0
		s.log.Warn().
			Uint64("missed", missed).
			Uint64("frame", s.frame).
			Msg("Host loop fell behind, dropping frames")
	}
}

// Stop makes every later Tick a no-op.
func (s *Scheduler) Stop() {
	s.stopped.Store(true)
}

// Stopped reports whether Stop has been called.
func (s *Scheduler) Stopped() bool {
	return s.stopped.Load()
}

// Frame returns the current frame counter. Host goroutine only.
func (s *Scheduler) Frame() uint64 {
	return s.frame
}
