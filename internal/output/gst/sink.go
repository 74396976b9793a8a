// Package gst sends display target frames into a GStreamer pipeline through
// an appsrc, so any GStreamer network output (RTP, SRT, RTMP) can serve as
// the broadcast sink.
package gst

import (
	"fmt"
	"strings"
	"sync"

	"github.com/bryanchriswhite/StageFeed/internal/config"
	"github.com/bryanchriswhite/StageFeed/internal/logger"
	"github.com/bryanchriswhite/StageFeed/internal/output"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// DefaultPipeline streams H.264 over RTP to localhost
const DefaultPipeline = "videoconvert ! x264enc tune=zerolatency speed-preset=ultrafast ! rtph264pay ! udpsink host=127.0.0.1 port=5000"

var initOnce sync.Once

func init() {
	output.Register(config.OutputGst, func(cfg config.OutputConfig) (output.Sink, error) {
		return New(cfg.Pipeline), nil
	})
}

// Sink pushes BGRA frames into "appsrc ! <pipeline>"
type Sink struct {
	tail     string
	name     string
	pipeline *gst.Pipeline
	appsrc   *app.Source
	format   output.Format
	mu       sync.RWMutex
	running  bool

	inflight output.Inflight
}

// New creates a GStreamer sink. An empty tail uses DefaultPipeline.
func New(tail string) *Sink {
	if strings.TrimSpace(tail) == "" {
		tail = DefaultPipeline
	}
	return &Sink{tail: tail}
}

// Open records the stream name; the pipeline is built by Configure once the
// caps are known
func (s *Sink) Open(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("gstreamer sink %q already open", s.name)
	}
	initOnce.Do(func() { gst.Init(nil) })
	s.name = name
	return nil
}

// Configure builds and starts the pipeline with caps matching format
func (s *Sink) Configure(format output.Format) error {
	if err := format.Validate(); err != nil {
		return err
	}
	if format.LineStride != format.Width*4 {
		return fmt.Errorf("gstreamer sink requires tightly packed rows, got stride %d for width %d", format.LineStride, format.Width)
	}

	s.inflight.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	log := logger.WithComponent("gst")

	if s.pipeline != nil {
		s.pipeline.SetState(gst.StateNull)
		s.pipeline = nil
		s.appsrc = nil
		s.running = false
	}

	pipelineStr := fmt.Sprintf(
		"appsrc name=src is-live=true format=time do-timestamp=true ! %s",
		s.tail,
	)
	log.Debug().Str("pipeline", pipelineStr).Msg("Creating GStreamer pipeline")

	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	srcElement, err := pipeline.GetElementByName("src")
	if err != nil {
		return fmt.Errorf("failed to get appsrc: %w", err)
	}
	appsrc := app.SrcFromElement(srcElement)
	appsrc.SetCaps(gst.NewCapsFromString(fmt.Sprintf(
		"video/x-raw,format=BGRA,width=%d,height=%d,framerate=%d/%d",
		format.Width, format.Height, format.FrameRateN, format.FrameRateD,
	)))

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	s.pipeline = pipeline
	s.appsrc = appsrc
	s.format = format
	s.running = true

	log.Info().
		Str("stream", s.name).
		Int("width", format.Width).
		Int("height", format.Height).
		Msg("GStreamer pipeline started")
	return nil
}

// SendAsync pushes buf on a worker goroutine after the previous push returns
func (s *Sink) SendAsync(buf []byte) error {
	src, err := s.source(buf)
	if err != nil {
		return err
	}
	finish := s.inflight.Begin()
	go func() {
		defer finish()
		if err := push(src, buf); err != nil {
			logger.WithComponent("gst").Warn().Err(err).Str("stream", s.name).Msg("Frame push failed")
		}
	}()
	return nil
}

// SendSync pushes buf and returns once GStreamer has copied it
func (s *Sink) SendSync(buf []byte) error {
	src, err := s.source(buf)
	if err != nil {
		return err
	}
	finish := s.inflight.Begin()
	defer finish()
	return push(src, buf)
}

func (s *Sink) source(buf []byte) (*app.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.running || s.appsrc == nil {
		return nil, output.ErrNotOpen
	}
	if len(buf) < s.format.FrameSize() {
		return nil, output.ErrShortBuffer
	}
	return s.appsrc, nil
}

func push(src *app.Source, buf []byte) error {
	// NewBufferFromBytes copies into GStreamer-owned memory
	if ret := src.PushBuffer(gst.NewBufferFromBytes(buf)); ret != gst.FlowOK {
		return fmt.Errorf("appsrc push returned %v", ret)
	}
	return nil
}

// Close ends the stream and tears down the pipeline
func (s *Sink) Close() error {
	s.inflight.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if s.appsrc != nil {
		s.appsrc.EndStream()
	}
	if s.pipeline != nil {
		if err := s.pipeline.SetState(gst.StateNull); err != nil {
			return fmt.Errorf("failed to stop pipeline: %w", err)
		}
	}
	s.pipeline = nil
	s.appsrc = nil

	logger.WithComponent("gst").Info().Str("stream", s.name).Msg("GStreamer pipeline stopped")
	return nil
}

// Name returns the output type name
func (s *Sink) Name() string {
	return "GStreamer"
}
