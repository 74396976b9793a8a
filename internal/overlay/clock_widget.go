package overlay

import (
	"image"
	"image/color"
	"time"
)

// ClockWidget shows the wall clock with a sweeping seconds bar. It is the
// stage's animated content: while enabled every frame differs.
type ClockWidget struct {
	*BaseWidget
	scale int
	now   func() time.Time
}

// NewClockWidget creates a clock at (x, y) relative to the image
func NewClockWidget(id string, x, y, scale int) *ClockWidget {
	if scale < 1 {
		scale = 1
	}
	return &ClockWidget{
		BaseWidget: NewBaseWidget(id, x, y, 0.9),
		scale:      scale,
		now:        time.Now,
	}
}

// Type returns the widget type
func (w *ClockWidget) Type() string {
	return "clock"
}

// Animated is true: the seconds bar moves continuously
func (w *ClockWidget) Animated() bool {
	return true
}

// Render draws HH:MM:SS and a progress bar for the current second
func (w *ClockWidget) Render(img *image.RGBA) error {
	if !w.IsEnabled() {
		return nil
	}

	now := w.now()
	label := RenderText(now.Format("15:04:05"), color.RGBA{255, 255, 255, 255}, w.scale)
	lb := label.Bounds()
	pad := 4 * w.scale

	FillRect(img, image.Rect(w.x, w.y, w.x+lb.Dx()+pad*2, w.y+lb.Dy()+pad*3), color.RGBA{0, 0, 0, 255}, w.opacity*0.6)
	BlendImage(img, label, w.x+pad, w.y+pad, w.opacity)

	frac := float64(now.Nanosecond()) / float64(time.Second)
	barY := w.y + lb.Dy() + pad*2
	barW := int(float64(lb.Dx()) * frac)
	FillRect(img, image.Rect(w.x+pad, barY, w.x+pad+barW, barY+pad/2+1), color.RGBA{230, 57, 70, 255}, w.opacity)
	return nil
}
