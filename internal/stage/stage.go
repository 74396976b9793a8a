// Package stage is the built-in presentation surface: a deck of slides with
// cross-fade transitions, a notification banner and an optional clock.
package stage

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/StageFeed/internal/config"
	"github.com/bryanchriswhite/StageFeed/internal/logger"
	"github.com/bryanchriswhite/StageFeed/internal/overlay"
	"github.com/disintegration/imaging"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// cacheSize bounds the rendered slide images kept in memory
const cacheSize = 16

const clockID = "clock"

var slideExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// Slide is one card of the deck
type Slide struct {
	Title string
	Color color.RGBA
	// Image is a file to show instead of the color card
	Image string
}

// Stage implements render.Surface. All methods are safe for concurrent use;
// several display targets snapshot the same stage.
type Stage struct {
	width      int
	height     int
	transition time.Duration
	log        *zerolog.Logger

	mu             sync.Mutex
	slides         []Slide
	current        int
	fadeFrom       int
	fadeStart      time.Time
	fading         bool
	contentChanged time.Time

	cache   *lru.Cache[int, *image.RGBA]
	overlay *overlay.Manager
	now     func() time.Time
}

// New builds a stage from configuration. Slides from cfg.SlideDir follow the
// configured ones, in file name order.
func New(cfg config.StageConfig) (*Stage, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid stage size %dx%d", cfg.Width, cfg.Height)
	}

	slides := make([]Slide, 0, len(cfg.Slides))
	for i, sc := range cfg.Slides {
		c, err := ParseColor(sc.Color)
		if err != nil {
			return nil, fmt.Errorf("slide %d: %w", i, err)
		}
		slides = append(slides, Slide{Title: sc.Title, Color: c, Image: sc.Image})
	}

	if cfg.SlideDir != "" {
		fromDir, err := loadSlideDir(cfg.SlideDir)
		if err != nil {
			return nil, err
		}
		slides = append(slides, fromDir...)
	}

	if len(slides) == 0 {
		slides = append(slides, Slide{Title: "StageFeed", Color: color.RGBA{29, 53, 87, 255}})
	}

	cache, err := lru.New[int, *image.RGBA](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create slide cache: %w", err)
	}

	s := &Stage{
		width:      cfg.Width,
		height:     cfg.Height,
		transition: time.Duration(cfg.TransitionMs) * time.Millisecond,
		log:        logger.WithComponent("stage"),
		slides:     slides,
		cache:      cache,
		overlay:    overlay.NewManager(),
		now:        time.Now,
	}

	clock := overlay.NewClockWidget(clockID, cfg.Width/40, cfg.Height/40, max(1, cfg.Height/360))
	clock.SetEnabled(false)
	if err := s.overlay.AddWidget(clock); err != nil {
		return nil, err
	}

	s.contentChanged = s.now()
	s.log.Info().
		Int("slides", len(slides)).
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Dur("transition", s.transition).
		Msg("Stage ready")
	return s, nil
}

func loadSlideDir(dir string) ([]Slide, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read slide directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && slideExts[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	slides := make([]Slide, 0, len(names))
	for _, name := range names {
		slides = append(slides, Slide{
			Title: strings.TrimSuffix(name, filepath.Ext(name)),
			Image: filepath.Join(dir, name),
		})
	}
	return slides, nil
}

// ParseColor parses #rrggbb (the # is optional). An empty string is black.
func ParseColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if s == "" {
		return color.RGBA{0, 0, 0, 255}, nil
	}
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid color %q: want #rrggbb", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// Next starts a transition to the following slide, wrapping at the end
func (s *Stage) Next() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goTo((s.current + 1) % len(s.slides))
	return s.current
}

// Previous starts a transition to the preceding slide, wrapping at the start
func (s *Stage) Previous() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goTo((s.current + len(s.slides) - 1) % len(s.slides))
	return s.current
}

// GoTo starts a transition to slide i
func (s *Stage) GoTo(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i < 0 || i >= len(s.slides) {
		return fmt.Errorf("slide %d out of range [0, %d)", i, len(s.slides))
	}
	s.goTo(i)
	return nil
}

func (s *Stage) goTo(i int) {
	if i == s.current && !s.fading {
		return
	}
	s.fadeFrom = s.current
	s.current = i
	s.contentChanged = s.now()
	s.fadeStart = s.contentChanged
	s.fading = s.transition > 0

	s.log.Info().
		Int("slide", i).
		Str("title", s.slides[i].Title).
		Msg("Slide changed")
}

// Current returns the index of the slide shown (or being faded in)
func (s *Stage) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Slides returns the deck
func (s *Stage) Slides() []Slide {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Slide(nil), s.slides...)
}

// SetAnimated shows or hides the clock, the stage's animated content
func (s *Stage) SetAnimated(animated bool) {
	if err := s.overlay.SetWidgetEnabled(clockID, animated); err != nil {
		s.log.Warn().Err(err).Msg("Failed to toggle clock")
	}
}

// SetNotification shows a banner over the slides. Empty text clears it.
func (s *Stage) SetNotification(text string) {
	s.overlay.SetNotification(text, s.width, s.height)
}

// ClearNotification removes the banner
func (s *Stage) ClearNotification() {
	s.overlay.ClearNotification()
}

// Notification returns the banner text
func (s *Stage) Notification() string {
	return s.overlay.Notification()
}

// HasAnimatedContent reports whether the clock is showing
func (s *Stage) HasAnimatedContent() bool {
	return s.overlay.Animated()
}

// IsTransitionInProgress reports whether a cross-fade is still running
func (s *Stage) IsTransitionInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, fading := s.fadeProgress()
	return fading
}

// fadeProgress returns the cross-fade opacity of the incoming slide and
// whether the fade is still running. Callers hold mu.
func (s *Stage) fadeProgress() (float64, bool) {
	if !s.fading {
		return 1, false
	}
	elapsed := s.now().Sub(s.fadeStart)
	if elapsed >= s.transition {
		s.fading = false
		return 1, false
	}
	return float64(elapsed) / float64(s.transition), true
}

// ContentChangeStamp returns when the slide last changed
func (s *Stage) ContentChangeStamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contentChanged
}

// NotificationChangeStamp returns when the overlay last changed
func (s *Stage) NotificationChangeStamp() time.Time {
	return s.overlay.ChangeStamp()
}

// Snapshot renders the stage scaled to the viewport's size. The returned
// image is new on every call.
func (s *Stage) Snapshot(viewport image.Rectangle) (*image.RGBA, error) {
	if viewport.Empty() {
		return nil, fmt.Errorf("empty viewport %v", viewport)
	}

	s.mu.Lock()
	current := s.current
	from := s.fadeFrom
	alpha, fading := s.fadeProgress()
	s.mu.Unlock()

	to, err := s.slideImage(current)
	if err != nil {
		return nil, err
	}

	canvas := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	if fading {
		prev, err := s.slideImage(from)
		if err != nil {
			return nil, err
		}
		blended := imaging.Overlay(prev, to, image.Point{}, alpha)
		draw.Draw(canvas, canvas.Bounds(), blended, image.Point{}, draw.Src)
	} else {
		copy(canvas.Pix, to.Pix)
	}

	s.overlay.Render(canvas)

	if viewport.Dx() == s.width && viewport.Dy() == s.height {
		return canvas, nil
	}
	scaled := imaging.Resize(canvas, viewport.Dx(), viewport.Dy(), imaging.Linear)
	out := image.NewRGBA(image.Rect(0, 0, viewport.Dx(), viewport.Dy()))
	draw.Draw(out, out.Bounds(), scaled, image.Point{}, draw.Src)
	return out, nil
}

// slideImage returns the rendered slide i at stage size from the cache
func (s *Stage) slideImage(i int) (*image.RGBA, error) {
	if img, ok := s.cache.Get(i); ok {
		return img, nil
	}

	s.mu.Lock()
	slide := s.slides[i]
	s.mu.Unlock()

	img, err := s.renderSlide(slide)
	if err != nil {
		return nil, fmt.Errorf("failed to render slide %d: %w", i, err)
	}
	s.cache.Add(i, img)
	s.log.Debug().Int("slide", i).Msg("Rendered slide")
	return img, nil
}

func (s *Stage) renderSlide(slide Slide) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))

	if slide.Image != "" {
		src, err := imaging.Open(slide.Image)
		if err != nil {
			return nil, err
		}
		filled := imaging.Fill(src, s.width, s.height, imaging.Center, imaging.Lanczos)
		draw.Draw(img, img.Bounds(), filled, image.Point{}, draw.Src)
		return img, nil
	}

	draw.Draw(img, img.Bounds(), image.NewUniform(slide.Color), image.Point{}, draw.Src)
	if slide.Title != "" {
		scale := max(1, s.height/135)
		size := overlay.MeasureText(slide.Title, scale)
		for size.X > s.width*9/10 && scale > 1 {
			scale--
			size = overlay.MeasureText(slide.Title, scale)
		}
		label := overlay.RenderText(slide.Title, color.RGBA{255, 255, 255, 255}, scale)
		overlay.BlendImage(img, label, (s.width-size.X)/2, (s.height-size.Y)/2, 1)
	}
	return img, nil
}
