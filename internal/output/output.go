package output

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bryanchriswhite/StageFeed/internal/config"
)

var (
	ErrNotOpen     = errors.New("output not open")
	ErrClosed      = errors.New("output closed")
	ErrShortBuffer = errors.New("buffer smaller than configured frame")
	ErrUnknownType = errors.New("unknown output type")
)

// Sink is an external video destination for a display target.
//
// A buffer passed to SendAsync still belongs to the sink until the next
// SendAsync, SendSync or Close call returns. Implementations make those calls
// wait for the previous asynchronous send, so a caller alternating two
// buffers never writes into one the sink is still reading.
type Sink interface {
	// Open acquires the sink under the given stream name
	Open(name string) error

	// Configure sets the frame geometry, pixel layout and frame rate
	Configure(format Format) error

	// SendAsync queues a frame and returns without waiting for delivery
	SendAsync(buf []byte) error

	// SendSync delivers a frame and returns once the sink is done with it
	SendSync(buf []byte) error

	// Close flushes any in-flight frame and releases the sink
	Close() error

	// Name returns a human-readable name for this output type
	Name() string
}

// PixelFormat names a packed pixel layout
type PixelFormat string

const (
	// FormatBGRA is 8-bit B, G, R, A per pixel, premultiplied alpha
	FormatBGRA PixelFormat = "bgra"
)

// Format describes the frames a sink receives
type Format struct {
	Width       int
	Height      int
	PixelFormat PixelFormat
	LineStride  int
	FrameRateN  int
	FrameRateD  int
}

// NewFormat returns a packed BGRA format at fps frames per second
func NewFormat(width, height int, fps uint32) Format {
	return Format{
		Width:       width,
		Height:      height,
		PixelFormat: FormatBGRA,
		LineStride:  width * 4,
		FrameRateN:  int(fps),
		FrameRateD:  1,
	}
}

// FrameSize is the number of bytes in one frame
func (f Format) FrameSize() int {
	return f.LineStride * f.Height
}

// Validate rejects formats a sink cannot be configured with
func (f Format) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	if f.PixelFormat != FormatBGRA {
		return fmt.Errorf("unsupported pixel format %q", f.PixelFormat)
	}
	if f.LineStride < f.Width*4 {
		return fmt.Errorf("line stride %d shorter than row of %d pixels", f.LineStride, f.Width)
	}
	if f.FrameRateN <= 0 || f.FrameRateD <= 0 {
		return fmt.Errorf("invalid frame rate %d/%d", f.FrameRateN, f.FrameRateD)
	}
	return nil
}

// Factory builds a sink from a target's output configuration
type Factory func(cfg config.OutputConfig) (Sink, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes an output type available to New. Packages with platform
// dependencies (x11, gst) register themselves from init.
func Register(typ string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[typ] = factory
}

// New creates the sink configured for a target
func New(cfg config.OutputConfig) (Sink, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownType, cfg.Type, Types())
	}
	return factory(cfg)
}

// Types lists the registered output types
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func init() {
	Register(config.OutputMJPEG, func(cfg config.OutputConfig) (Sink, error) {
		return NewMJPEGOutput(cfg.Quality), nil
	})
	Register(config.OutputDiscard, func(config.OutputConfig) (Sink, error) {
		return NewDiscard(), nil
	})
}
