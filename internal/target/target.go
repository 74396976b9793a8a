// Package target wires the scheduler, render gate, capturer, queue and
// sender of one display target together and owns its lifecycle.
package target

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/StageFeed/internal/capture"
	"github.com/bryanchriswhite/StageFeed/internal/config"
	"github.com/bryanchriswhite/StageFeed/internal/frame"
	"github.com/bryanchriswhite/StageFeed/internal/logger"
	"github.com/bryanchriswhite/StageFeed/internal/output"
	"github.com/bryanchriswhite/StageFeed/internal/render"
	"github.com/bryanchriswhite/StageFeed/internal/schedule"
	"github.com/bryanchriswhite/StageFeed/internal/sender"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// ErrDisposed is returned by operations on a disposed target
var ErrDisposed = errors.New("display target disposed")

// Target streams a surface to one sink.
//
// Tick belongs to the host goroutine. SetActive, Dispose and Stats may be
// called from any goroutine.
type Target struct {
	cfg       config.TargetConfig
	sessionID string
	surface   render.Surface
	sink      output.Sink
	log       *zerolog.Logger

	scheduler *schedule.Scheduler
	gate      *render.Gate
	capturer  *capture.Capturer
	queue     *frame.Queue
	sender    *sender.Sender

	// frameCounter mirrors the scheduler counter for readers off the host
	// goroutine.
	frameCounter atomic.Uint64
	active       atomic.Bool
	disposed     atomic.Bool
	captureMu    sync.Mutex

	// lifeMu orders Start against the disposal goroutine. started is set
	// only once the sink is open and the sender is running.
	lifeMu  sync.Mutex
	started bool

	wg          conc.WaitGroup
	disposeOnce sync.Once
	done        chan struct{}
}

// New builds a target for cfg. The sink is opened by Start.
func New(cfg config.TargetConfig, surface render.Surface, sink output.Sink) (*Target, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Target{
		cfg:       cfg,
		sessionID: uuid.NewString(),
		surface:   surface,
		sink:      sink,
		log:       logger.WithTarget("target", cfg.Name),
		gate:      render.NewGate(cfg.FPS, cfg.RenderSkip),
		queue:     frame.NewQueue(),
		done:      make(chan struct{}),
	}
	t.capturer = capture.New(surface, cfg.Width, cfg.Height, t.queue)
	t.sender = sender.New(t.queue, sink, sender.Config{
		Name:   cfg.Name,
		FPS:    cfg.FPS,
		Width:  cfg.Width,
		Height: cfg.Height,
		Debug:  cfg.Debug,
	})
	t.scheduler = schedule.New(cfg.FPS, t.onFrame)
	t.active.Store(cfg.Active)
	return t, nil
}

// Start opens and configures the sink and launches the sender goroutine.
// A failed Start leaves the sink closed and may be retried.
func (t *Target) Start() error {
	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()

	if t.disposed.Load() {
		return ErrDisposed
	}
	if t.started {
		return fmt.Errorf("display target %q already started", t.cfg.Name)
	}

	if err := t.sink.Open(t.cfg.Name); err != nil {
		return fmt.Errorf("failed to open %s sink: %w", t.sink.Name(), err)
	}
	format := output.NewFormat(t.cfg.Width, t.cfg.Height, t.cfg.FPS)
	if err := t.sink.Configure(format); err != nil {
		if cerr := t.sink.Close(); cerr != nil {
			t.log.Warn().Err(cerr).Msg("Failed to close sink after configure error")
		}
		return fmt.Errorf("failed to configure %s sink: %w", t.sink.Name(), err)
	}

	t.wg.Go(t.sender.Run)
	t.started = true

	t.log.Info().
		Str("session", t.sessionID).
		Str("sink", t.sink.Name()).
		Int("width", t.cfg.Width).
		Int("height", t.cfg.Height).
		Uint32("fps", t.cfg.FPS).
		Bool("active", t.active.Load()).
		Msg("Display target started")
	return nil
}

// Tick forwards the host loop timestamp to the scheduler
func (t *Target) Tick(nowNanos int64) {
	if t.disposed.Load() {
		return
	}
	t.scheduler.Tick(nowNanos)
}

func (t *Target) onFrame(n uint64) {
	t.frameCounter.Store(n)
	if t.disposed.Load() {
		return
	}

	// captureMu keeps a capture from being sequenced after the blank frame
	// of a concurrent deactivation.
	t.captureMu.Lock()
	defer t.captureMu.Unlock()

	if !t.active.Load() {
		return
	}
	if t.gate.ShouldRender(t.surface) {
		t.capturer.Capture()
	}
}

// SetActive switches the target between live output and blank. Going
// inactive pushes one transparent frame through the pipeline; going active
// forces the next tick to capture.
func (t *Target) SetActive(active bool) {
	if t.disposed.Load() {
		return
	}
	t.captureMu.Lock()
	defer t.captureMu.Unlock()

	if t.active.Swap(active) == active {
		return
	}

	if active {
		t.gate.Invalidate()
	} else {
		t.capturer.Blank()
	}
	t.log.Info().Bool("active", active).Msg("Display target active state changed")
}

// Dispose stops frame production and returns immediately. Sender shutdown,
// the final blank frame and sink release happen in the background; Done is
// closed when they finish. Calling Dispose again has no effect.
func (t *Target) Dispose() {
	t.disposeOnce.Do(func() {
		t.disposed.Store(true)
		t.scheduler.Stop()
		t.sender.Dispose()
		t.log.Info().Msg("Display target disposing")

		go t.finish()
	})
}

func (t *Target) finish() {
	defer close(t.done)

	t.lifeMu.Lock()
	started := t.started
	t.lifeMu.Unlock()

	// Without a successful Start there is no sender to join and no open
	// sink to blank or close.
	if !started {
		t.queue.Clear()
		t.log.Info().Msg("Display target disposed before start")
		return
	}

	if r := t.wg.WaitAndRecover(); r != nil {
		t.log.Error().
			Err(r.AsError()).
			Str("stack", string(r.Stack)).
			Msg("Sender panicked")
	}

	if err := t.sender.SendBlank(); err != nil {
		t.log.Warn().Err(err).Msg("Failed to send final blank frame")
	}
	if err := t.sink.Close(); err != nil {
		t.log.Warn().Err(err).Msg("Failed to close sink")
	}
	dropped := t.queue.Clear()

	t.log.Info().
		Int("dropped", dropped).
		Uint64("sent", t.sender.Stats().Sent).
		Msg("Display target disposed")
}

// Done is closed once disposal has completed
func (t *Target) Done() <-chan struct{} {
	return t.done
}

// Name returns the target name
func (t *Target) Name() string {
	return t.cfg.Name
}

// Sink returns the target's output sink
func (t *Target) Sink() output.Sink {
	return t.sink
}

// Stats is a point-in-time view of a target for status reporting
type Stats struct {
	Name      string       `json:"name"`
	SessionID string       `json:"session_id"`
	Sink      string       `json:"sink"`
	Width     int          `json:"width"`
	Height    int          `json:"height"`
	FPS       uint32       `json:"fps"`
	Active    bool         `json:"active"`
	Disposed  bool         `json:"disposed"`
	Frame     uint64       `json:"frame"`
	Sequence  uint64       `json:"sequence"`
	Queued    int          `json:"queued"`
	Failures  uint64       `json:"capture_failures"`
	Sender    sender.Stats `json:"sender"`
}

// Stats returns a snapshot of the target
func (t *Target) Stats() Stats {
	return Stats{
		Name:      t.cfg.Name,
		SessionID: t.sessionID,
		Sink:      t.sink.Name(),
		Width:     t.cfg.Width,
		Height:    t.cfg.Height,
		FPS:       t.cfg.FPS,
		Active:    t.active.Load(),
		Disposed:  t.disposed.Load(),
		Frame:     t.frameCounter.Load(),
		Sequence:  t.capturer.Sequence(),
		Queued:    t.queue.Len(),
		Failures:  t.capturer.Failures(),
		Sender:    t.sender.Stats(),
	}
}
