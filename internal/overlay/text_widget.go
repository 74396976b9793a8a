package overlay

import (
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TextOptions configures a TextWidget
type TextOptions struct {
	X, Y    int
	Opacity float64
	// Scale enlarges the 7x13 bitmap font by an integer factor
	Scale      int
	Padding    int
	Color      color.RGBA
	Background *color.RGBA // nil for transparent
}

// TextWidget displays text on the overlay
type TextWidget struct {
	*BaseWidget

	mu   sync.RWMutex
	text string
	opts TextOptions
}

// NewTextWidget creates a new text widget
func NewTextWidget(id, text string, opts TextOptions) *TextWidget {
	if opts.Scale < 1 {
		opts.Scale = 1
	}
	if opts.Color == (color.RGBA{}) {
		opts.Color = color.RGBA{255, 255, 255, 255}
	}
	if opts.Opacity == 0 {
		opts.Opacity = 1
	}
	return &TextWidget{
		BaseWidget: NewBaseWidget(id, opts.X, opts.Y, opts.Opacity),
		text:       text,
		opts:       opts,
	}
}

// Type returns the widget type
func (w *TextWidget) Type() string {
	return "text"
}

// Animated is false; text only changes through SetText
func (w *TextWidget) Animated() bool {
	return false
}

// Render draws the text widget
func (w *TextWidget) Render(img *image.RGBA) error {
	text := w.Text()
	if !w.IsEnabled() || text == "" {
		return nil
	}

	w.mu.RLock()
	opts := w.opts
	w.mu.RUnlock()

	label := RenderText(text, opts.Color, opts.Scale)
	lb := label.Bounds()

	if opts.Background != nil {
		bg := image.Rect(w.x, w.y, w.x+lb.Dx()+opts.Padding*2, w.y+lb.Dy()+opts.Padding*2)
		FillRect(img, bg, *opts.Background, w.opacity)
	}
	BlendImage(img, label, w.x+opts.Padding, w.y+opts.Padding, w.opacity)
	return nil
}

// Size returns the rendered size including padding
func (w *TextWidget) Size() image.Point {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return MeasureText(w.text, w.opts.Scale).Add(image.Pt(w.opts.Padding*2, w.opts.Padding*2))
}

// SetText updates the text content
func (w *TextWidget) SetText(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.text = text
}

// Text returns the current text
func (w *TextWidget) Text() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.text
}

// MeasureText returns the pixel size of text drawn at scale
func MeasureText(text string, scale int) image.Point {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	return image.Pt(width*scale, face.Height*scale)
}

// RenderText draws text into a new transparent image, scaled up by an
// integer factor with nearest-neighbor sampling to keep the bitmap crisp
func RenderText(text string, c color.Color, scale int) *image.RGBA {
	face := basicfont.Face7x13
	size := MeasureText(text, 1)
	if size.X == 0 {
		size.X = 1
	}

	base := image.NewRGBA(image.Rectangle{Max: size})
	d := &font.Drawer{
		Dst:  base,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: 0, Y: fixed.I(face.Ascent)},
	}
	d.DrawString(text)

	if scale <= 1 {
		return base
	}
	scaled := image.NewRGBA(image.Rectangle{Max: size.Mul(scale)})
	draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), base, base.Bounds(), draw.Src, nil)
	return scaled
}
