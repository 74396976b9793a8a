package overlay

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/bryanchriswhite/StageFeed/internal/logger"
)

// NotificationID is the ID of the banner widget managed by SetNotification
const NotificationID = "notification"

// Manager handles overlay widgets and rendering. Widgets render in the order
// they were added. Every visible change records a change stamp, which the
// render gate compares between ticks.
type Manager struct {
	widgets []Widget
	mu      sync.RWMutex
	changed time.Time
	now     func() time.Time
}

// NewManager creates a new overlay manager
func NewManager() *Manager {
	return &Manager{now: time.Now}
}

// AddWidget adds a widget to the overlay
func (m *Manager) AddWidget(widget Widget) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexOf(widget.ID()) >= 0 {
		return fmt.Errorf("widget with ID %s already exists", widget.ID())
	}

	m.widgets = append(m.widgets, widget)
	m.touch()
	logger.WithComponent("overlay").Debug().
		Str("widget", widget.ID()).
		Str("type", widget.Type()).
		Msg("Added widget")
	return nil
}

// RemoveWidget removes a widget from the overlay
func (m *Manager) RemoveWidget(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return fmt.Errorf("widget with ID %s not found", id)
	}

	m.widgets = append(m.widgets[:i], m.widgets[i+1:]...)
	m.touch()
	logger.WithComponent("overlay").Debug().Str("widget", id).Msg("Removed widget")
	return nil
}

// Widget retrieves a widget by ID
func (m *Manager) Widget(id string) (Widget, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if i := m.indexOf(id); i >= 0 {
		return m.widgets[i], true
	}
	return nil, false
}

// SetWidgetEnabled shows or hides a widget
func (m *Manager) SetWidgetEnabled(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return fmt.Errorf("widget with ID %s not found", id)
	}
	if m.widgets[i].IsEnabled() != enabled {
		m.widgets[i].SetEnabled(enabled)
		m.touch()
	}
	return nil
}

// SetNotification shows text in a banner along the bottom of a width x
// height image. Empty text removes the banner.
func (m *Manager) SetNotification(text string, width, height int) {
	if text == "" {
		m.ClearNotification()
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	scale := max(1, height/270)
	banner := NewTextWidget(NotificationID, text, TextOptions{
		Scale:      scale,
		Padding:    6 * scale,
		Opacity:    1,
		Color:      color.RGBA{255, 255, 255, 255},
		Background: &color.RGBA{20, 20, 20, 255},
	})
	size := banner.Size()
	banner.SetPosition(max(0, (width-size.X)/2), max(0, height-size.Y-height/20))

	if i := m.indexOf(NotificationID); i >= 0 {
		m.widgets[i] = banner
	} else {
		m.widgets = append(m.widgets, banner)
	}
	m.touch()

	logger.WithComponent("overlay").Info().Str("text", text).Msg("Notification shown")
}

// ClearNotification removes the banner, if any
func (m *Manager) ClearNotification() {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(NotificationID)
	if i < 0 {
		return
	}
	m.widgets = append(m.widgets[:i], m.widgets[i+1:]...)
	m.touch()
	logger.WithComponent("overlay").Info().Msg("Notification cleared")
}

// Notification returns the banner text, or "" when none is shown
func (m *Manager) Notification() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if i := m.indexOf(NotificationID); i >= 0 {
		if tw, ok := m.widgets[i].(*TextWidget); ok {
			return tw.Text()
		}
	}
	return ""
}

// Animated reports whether any enabled widget changes on every frame
func (m *Manager) Animated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, w := range m.widgets {
		if w.IsEnabled() && w.Animated() {
			return true
		}
	}
	return false
}

// ChangeStamp returns when the overlay last changed visibly
func (m *Manager) ChangeStamp() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.changed
}

// Render renders all enabled widgets onto the provided image
func (m *Manager) Render(img *image.RGBA) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, widget := range m.widgets {
		if !widget.IsEnabled() {
			continue
		}
		if err := widget.Render(img); err != nil {
			logger.WithComponent("overlay").Warn().
				Err(err).
				Str("widget", widget.ID()).
				Msg("Failed to render widget")
		}
	}
}

func (m *Manager) indexOf(id string) int {
	for i, w := range m.widgets {
		if w.ID() == id {
			return i
		}
	}
	return -1
}

func (m *Manager) touch() {
	m.changed = m.now()
}
