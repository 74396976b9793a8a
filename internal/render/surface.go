package render

import (
	"image"
	"time"
)

// Surface is the renderable presentation surface a display target captures.
// All methods are called from the host goroutine and must return promptly.
type Surface interface {
	// HasAnimatedContent reports playing media or other content that changes
	// every frame.
	HasAnimatedContent() bool

	// IsTransitionInProgress reports a slide transition still animating.
	IsTransitionInProgress() bool

	// ContentChangeStamp is the time the primary (slide) content last changed.
	ContentChangeStamp() time.Time

	// NotificationChangeStamp is the time the overlay/notification content
	// last changed.
	NotificationChangeStamp() time.Time

	// Snapshot renders the current surface into an RGBA image covering the
	// given viewport.
	Snapshot(viewport image.Rectangle) (*image.RGBA, error)
}
