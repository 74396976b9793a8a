// Package capture snapshots the presentation surface into sequence-tagged
// frames and hands them to the frame queue.
package capture

import (
	"fmt"
	"image"
	"sync/atomic"

	"github.com/bryanchriswhite/StageFeed/internal/frame"
	"github.com/bryanchriswhite/StageFeed/internal/logger"
	"github.com/bryanchriswhite/StageFeed/internal/render"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/image/draw"
)

// Offerer accepts captured frames without blocking
type Offerer interface {
	Offer(f frame.Frame)
}

// Capturer snapshots a surface at a fixed output size.
//
// Capture belongs to the host goroutine. Blank and Sequence may be called
// from any goroutine; sequence numbers stay unique and increasing across
// both.
type Capturer struct {
	surface render.Surface
	width   int
	height  int
	queue   Offerer
	log     *zerolog.Logger

	sequence atomic.Uint64
	failures atomic.Uint64
}

// New creates a capturer producing width x height frames
func New(surface render.Surface, width, height int, queue Offerer) *Capturer {
	return &Capturer{
		surface: surface,
		width:   width,
		height:  height,
		queue:   queue,
		log:     logger.WithComponent("capture"),
	}
}

// Capture takes one snapshot and offers it. It returns false when the
// surface failed to render; the failure is logged and nothing is offered.
func (c *Capturer) Capture() bool {
	var (
		img *image.RGBA
		err error
	)

	var pc panics.Catcher
	pc.Try(func() {
		img, err = c.surface.Snapshot(image.Rect(0, 0, c.width, c.height))
	})
	if r := pc.Recovered(); r != nil {
		err = r.AsError()
	}
	if err == nil && img == nil {
		err = fmt.Errorf("surface returned no image")
	}
	if err != nil {
		c.failures.Add(1)
		c.log.Error().
			Err(err).
			Uint64("failures", c.failures.Load()).
			Msg("Failed to capture surface")
		return false
	}

	img = c.fit(img)

	f := frame.Frame{Pixels: img, Sequence: c.sequence.Add(1)}
	c.queue.Offer(f)

	c.log.Trace().Uint64("sequence", f.Sequence).Msg("Frame captured")
	return true
}

// fit scales img to the output size when the surface rendered at a
// different resolution, and rebases it to the origin.
func (c *Capturer) fit(img *image.RGBA) *image.RGBA {
	b := img.Bounds()
	if b.Dx() == c.width && b.Dy() == c.height && b.Min == (image.Point{}) {
		return img
	}

	dst := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	if b.Dx() == c.width && b.Dy() == c.height {
		draw.Copy(dst, image.Point{}, img, b, draw.Src, nil)
		return dst
	}

	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	c.log.Debug().
		Int("src_width", b.Dx()).
		Int("src_height", b.Dy()).
		Int("dst_width", c.width).
		Int("dst_height", c.height).
		Msg("Scaled snapshot to output size")
	return dst
}

// Blank offers a fully transparent frame with the next sequence number and
// returns it
func (c *Capturer) Blank() frame.Frame {
	f := frame.Blank(c.width, c.height, c.sequence.Add(1))
	c.queue.Offer(f)
	return f
}

// Sequence returns the last sequence number handed out
func (c *Capturer) Sequence() uint64 {
	return c.sequence.Load()
}

// Failures returns how many snapshots failed
func (c *Capturer) Failures() uint64 {
	return c.failures.Load()
}
