// Package render decides, once per scheduler tick, whether capturing the
// surface is worth the cost.
package render

import (
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/StageFeed/internal/logger"
)

// State is the bookkeeping the gate keeps between ticks.
type State struct {
	LastSlideChange        time.Time
	LastNotificationChange time.Time
	// Cooldown counts extra frames still to render after a transition.
	Cooldown uint32
}

// Gate is the render/skip decision for one display target. ShouldRender
// and State must only be called from the host goroutine; Invalidate may be
// called from anywhere.
type Gate struct {
	fps        uint32
	renderSkip bool
	state      State

	invalidated atomic.Bool
}

// NewGate creates a gate for a target running at fps. With renderSkip false
// every tick renders.
func NewGate(fps uint32, renderSkip bool) *Gate {
	return &Gate{
		fps:        fps,
		renderSkip: renderSkip,
	}
}

// ShouldRender reports whether the surface should be captured this tick.
func (g *Gate) ShouldRender(s Surface) bool {
	if !g.renderSkip {
		return true
	}

	if s.HasAnimatedContent() {
		return true
	}

	if s.IsTransitionInProgress() {
		// Keep producing frames for one second after the transition ends so
		// residual animation state is flushed out to the sink. The stamps
		// the transition changed are covered by this render.
		g.state.Cooldown = g.fps
		g.observe(s)
		g.invalidated.Store(false)
		return true
	}

	forced := g.invalidated.Swap(false)
	if changed := g.observe(s); changed || forced {
		return true
	}

	if g.state.Cooldown > 0 {
		g.state.Cooldown--
		return true
	}

	return false
}

// observe stores the surface's change stamps and reports whether either
// differed from the stored one
func (g *Gate) observe(s Surface) bool {
	changed := false
	if stamp := s.ContentChangeStamp(); !stamp.Equal(g.state.LastSlideChange) {
		g.state.LastSlideChange = stamp
		changed = true
	}
	if stamp := s.NotificationChangeStamp(); !stamp.Equal(g.state.LastNotificationChange) {
		g.state.LastNotificationChange = stamp
		changed = true
	}
	return changed
}

// Invalidate makes the next ShouldRender return true as if the content had
// changed. Used when a target is reactivated.
func (g *Gate) Invalidate() {
	g.invalidated.Store(true)
	logger.WithComponent("render").Debug().Msg("Render gate invalidated")
}

// State returns a copy of the gate bookkeeping.
func (g *Gate) State() State {
	return g.state
}
