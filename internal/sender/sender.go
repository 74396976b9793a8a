// Package sender drains the frame queue on its own goroutine and delivers
// frames to an output sink at the target's frame rate.
package sender

import (
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/StageFeed/internal/frame"
	"github.com/bryanchriswhite/StageFeed/internal/logger"
	"github.com/bryanchriswhite/StageFeed/internal/output"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Poller is the consuming side of the frame queue
type Poller interface {
	Poll(timeout time.Duration) (frame.Frame, bool)
}

// State is the sender loop's lifecycle stage
type State int32

const (
	Running State = iota
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config describes the stream the sender produces
type Config struct {
	Name   string
	FPS    uint32
	Width  int
	Height int
	Debug  bool
}

// Stats is a snapshot of the sender counters
type Stats struct {
	State      string `json:"state"`
	Sent       uint64 `json:"sent"`
	Stale      uint64 `json:"stale"`
	SendErrors uint64 `json:"send_errors"`
	Bytes      uint64 `json:"bytes"`
	LastSent   uint64 `json:"last_sent_sequence"`
}

// Sender owns the double buffer. Two byte slices alternate: one may still
// be read by the sink after SendAsync, the other is written by the next
// conversion. The sink contract makes SendAsync wait for the previous send,
// so by the time a slot comes around again the sink is done with it.
type Sender struct {
	queue  Poller
	sink   output.Sink
	cfg    Config
	stride int
	poll   time.Duration
	log    *zerolog.Logger

	buffers [2][]byte
	index   int

	disposed atomic.Bool
	state    atomic.Int32

	lastSent   atomic.Uint64
	sent       atomic.Uint64
	stale      atomic.Uint64
	sendErrors atomic.Uint64
	bytes      atomic.Uint64

	windowStart time.Time
	windowBytes uint64
}

// New creates a sender for one display target. Run starts delivery.
func New(queue Poller, sink output.Sink, cfg Config) *Sender {
	if cfg.FPS == 0 {
		cfg.FPS = 1
	}
	stride := cfg.Width * 4
	s := &Sender{
		queue:  queue,
		sink:   sink,
		cfg:    cfg,
		stride: stride,
		poll:   time.Duration(1000/cfg.FPS) * time.Millisecond,
		log:    logger.WithTarget("sender", cfg.Name),
	}
	s.buffers[0] = make([]byte, stride*cfg.Height)
	s.buffers[1] = make([]byte, stride*cfg.Height)
	return s
}

// Run delivers frames until Dispose is called. The iteration in progress
// when Dispose is called runs to completion.
func (s *Sender) Run() {
	s.state.Store(int32(Running))
	s.windowStart = time.Now()

	s.log.Info().
		Uint32("fps", s.cfg.FPS).
		Dur("poll_timeout", s.poll).
		Msg("Sender started")

	for !s.disposed.Load() {
		f, ok := s.queue.Poll(s.poll)
		if !ok || s.disposed.Load() {
			continue
		}
		s.deliver(f)
	}

	s.state.Store(int32(Stopped))
	s.log.Info().
		Uint64("sent", s.sent.Load()).
		Uint64("stale", s.stale.Load()).
		Uint64("send_errors", s.sendErrors.Load()).
		Msg("Sender stopped")
}

func (s *Sender) deliver(f frame.Frame) {
	last := s.lastSent.Load()
	if !f.Newer(last) {
		s.stale.Add(1)
		s.log.Warn().
			Uint64("sequence", f.Sequence).
			Uint64("last_sent", last).
			Msg("Dropping stale frame")
		return
	}
	s.lastSent.Store(f.Sequence)

	buf := s.buffers[s.index]
	ToBGRA(buf, s.stride, s.cfg.Width, s.cfg.Height, f.Pixels)

	if err := s.sink.SendAsync(buf); err != nil {
		s.sendErrors.Add(1)
		s.log.Error().
			Err(err).
			Uint64("sequence", f.Sequence).
			Msg("Sink rejected frame")
	} else {
		s.sent.Add(1)
		s.bytes.Add(uint64(len(buf)))
		s.windowBytes += uint64(len(buf))
	}
	s.index = 1 - s.index

	if s.sent.Load()%uint64(s.cfg.FPS) == 0 && s.windowBytes > 0 {
		s.logThroughput()
	}
}

func (s *Sender) logThroughput() {
	elapsed := time.Since(s.windowStart)
	if elapsed <= 0 {
		return
	}

	ev := s.log.Debug()
	if s.cfg.Debug {
		ev = s.log.Info()
	}
	ev.Str("fps", humanize.FtoaWithDigits(float64(s.cfg.FPS)/elapsed.Seconds(), 2)).
		Str("throughput", humanize.Bytes(uint64(float64(s.windowBytes)/elapsed.Seconds()))+"/s").
		Str("total", humanize.Bytes(s.bytes.Load())).
		Uint64("sent", s.sent.Load()).
		Msg("Sender throughput")

	s.windowStart = time.Now()
	s.windowBytes = 0
}

// Dispose asks the loop to exit after its current iteration. It does not
// wait.
func (s *Sender) Dispose() {
	if s.disposed.CompareAndSwap(false, true) {
		s.state.CompareAndSwap(int32(Running), int32(Draining))
	}
}

// SendBlank delivers one fully transparent frame synchronously. It must only
// be called once Run has returned.
func (s *Sender) SendBlank() error {
	buf := s.buffers[s.index]
	clear(buf)
	err := s.sink.SendSync(buf)
	s.index = 1 - s.index
	return err
}

// State returns the loop's lifecycle stage
func (s *Sender) State() State {
	return State(s.state.Load())
}

// LastSent returns the sequence of the last frame handed to the sink
func (s *Sender) LastSent() uint64 {
	return s.lastSent.Load()
}

// Stats returns a snapshot of the counters
func (s *Sender) Stats() Stats {
	return Stats{
		State:      s.State().String(),
		Sent:       s.sent.Load(),
		Stale:      s.stale.Load(),
		SendErrors: s.sendErrors.Load(),
		Bytes:      s.bytes.Load(),
		LastSent:   s.lastSent.Load(),
	}
}
