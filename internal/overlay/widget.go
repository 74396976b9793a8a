// Package overlay draws widgets (notification banners, a clock) on top of
// the stage's slide image.
package overlay

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Widget represents a renderable overlay widget
type Widget interface {
	// ID returns the unique identifier for this widget instance
	ID() string

	// Type returns the widget type name
	Type() string

	// Render draws the widget onto img. Positions are relative to img's
	// bounds.
	Render(img *image.RGBA) error

	// Animated reports whether the widget looks different on every frame
	Animated() bool

	// IsEnabled returns whether the widget should be rendered
	IsEnabled() bool

	// SetEnabled sets whether the widget should be rendered
	SetEnabled(enabled bool)
}

// BaseWidget provides common functionality for all widgets
type BaseWidget struct {
	id      string
	enabled bool
	x       int
	y       int
	opacity float64 // 0.0 to 1.0
}

// NewBaseWidget creates a new base widget
func NewBaseWidget(id string, x, y int, opacity float64) *BaseWidget {
	w := &BaseWidget{id: id, enabled: true, x: x, y: y}
	w.SetOpacity(opacity)
	return w
}

// ID returns the widget's unique identifier
func (w *BaseWidget) ID() string {
	return w.id
}

// IsEnabled returns whether the widget should be rendered
func (w *BaseWidget) IsEnabled() bool {
	return w.enabled
}

// SetEnabled sets whether the widget should be rendered
func (w *BaseWidget) SetEnabled(enabled bool) {
	w.enabled = enabled
}

// Position returns the widget's position
func (w *BaseWidget) Position() (int, int) {
	return w.x, w.y
}

// SetPosition sets the widget's position
func (w *BaseWidget) SetPosition(x, y int) {
	w.x = x
	w.y = y
}

// SetOpacity sets the widget's opacity (0.0 to 1.0)
func (w *BaseWidget) SetOpacity(opacity float64) {
	w.opacity = max(0, min(1, opacity))
}

// BlendImage composites src over dst with its top-left corner at (x, y)
// relative to dst's bounds, scaled by opacity
func BlendImage(dst *image.RGBA, src image.Image, x, y int, opacity float64) {
	if opacity <= 0 {
		return
	}
	sb := src.Bounds()
	origin := dst.Bounds().Min.Add(image.Pt(x, y))
	r := image.Rectangle{Min: origin, Max: origin.Add(sb.Size())}
	draw.DrawMask(dst, r, src, sb.Min, opacityMask(opacity), image.Point{}, draw.Over)
}

// FillRect blends a solid rectangle onto dst. r is relative to dst's bounds.
func FillRect(dst *image.RGBA, r image.Rectangle, c color.Color, opacity float64) {
	if opacity <= 0 {
		return
	}
	r = r.Add(dst.Bounds().Min)
	draw.DrawMask(dst, r, image.NewUniform(c), image.Point{}, opacityMask(opacity), image.Point{}, draw.Over)
}

// opacityMask returns nil (fully opaque) for opacity 1
func opacityMask(opacity float64) image.Image {
	if opacity >= 1 {
		return nil
	}
	return image.NewUniform(color.Alpha{A: uint8(opacity * 255)})
}
