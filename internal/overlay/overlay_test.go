package overlay

import (
	"image"
	"image/color"
	"testing"
	"time"
)

func fakeClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Millisecond)
		return t
	}
}

func TestNotificationChangesStamp(t *testing.T) {
	m := NewManager()
	m.now = fakeClock(time.Unix(0, 0))

	if !m.ChangeStamp().IsZero() {
		t.Fatal("new manager has a change stamp")
	}

	m.SetNotification("Service starts at 10:30", 640, 360)
	first := m.ChangeStamp()
	if first.IsZero() {
		t.Fatal("SetNotification did not update the stamp")
	}
	if m.Notification() != "Service starts at 10:30" {
		t.Errorf("Notification = %q", m.Notification())
	}

	m.SetNotification("Parking lot B is full", 640, 360)
	second := m.ChangeStamp()
	if !second.After(first) {
		t.Error("replacing the notification did not update the stamp")
	}

	m.ClearNotification()
	if !m.ChangeStamp().After(second) {
		t.Error("ClearNotification did not update the stamp")
	}
	if m.Notification() != "" {
		t.Errorf("Notification after clear = %q", m.Notification())
	}

	cleared := m.ChangeStamp()
	m.ClearNotification()
	if !m.ChangeStamp().Equal(cleared) {
		t.Error("clearing twice changed the stamp")
	}
}

func TestNotificationRendersBanner(t *testing.T) {
	m := NewManager()
	img := image.NewRGBA(image.Rect(0, 0, 640, 360))
	m.SetNotification("Hello", 640, 360)
	m.Render(img)

	// The banner background sits centered near the bottom edge.
	var painted int
	for y := 250; y < 360; y++ {
		if img.RGBAAt(320, y).A != 0 {
			painted++
		}
	}
	if painted == 0 {
		t.Error("no banner pixels near the bottom center")
	}
	if img.RGBAAt(320, 10).A != 0 {
		t.Error("banner drawn at the top of the image")
	}
}

func TestAnimatedFollowsEnabledClock(t *testing.T) {
	m := NewManager()
	clock := NewClockWidget("clock", 10, 10, 1)
	clock.SetEnabled(false)
	if err := m.AddWidget(clock); err != nil {
		t.Fatal(err)
	}
	if err := m.AddWidget(clock); err == nil {
		t.Error("duplicate widget ID accepted")
	}

	if m.Animated() {
		t.Error("disabled clock counted as animated")
	}
	if err := m.SetWidgetEnabled("clock", true); err != nil {
		t.Fatal(err)
	}
	if !m.Animated() {
		t.Error("enabled clock not animated")
	}
	if err := m.SetWidgetEnabled("missing", true); err == nil {
		t.Error("unknown widget accepted")
	}
	if err := m.RemoveWidget("clock"); err != nil {
		t.Fatal(err)
	}
	if m.Animated() {
		t.Error("removed clock still animated")
	}
}

func TestClockRendersSecondsBar(t *testing.T) {
	c := NewClockWidget("clock", 0, 0, 1)
	c.now = func() time.Time { return time.Date(2024, 1, 1, 9, 30, 15, 500_000_000, time.UTC) }

	img := image.NewRGBA(image.Rect(0, 0, 200, 60))
	if err := c.Render(img); err != nil {
		t.Fatal(err)
	}

	label := MeasureText("09:30:15", 1)
	barY := label.Y + 8
	if px := img.RGBAAt(4+label.X/4, barY); px.R < 100 {
		t.Errorf("seconds bar missing at quarter width: %+v", px)
	}
	if px := img.RGBAAt(4+label.X*3/4, barY); px.R > 100 {
		t.Errorf("seconds bar drawn past half a second: %+v", px)
	}
}

func TestRenderTextScales(t *testing.T) {
	small := RenderText("A", color.White, 1)
	big := RenderText("A", color.White, 3)
	if big.Bounds().Dx() != small.Bounds().Dx()*3 || big.Bounds().Dy() != small.Bounds().Dy()*3 {
		t.Errorf("scaled bounds = %v, base = %v", big.Bounds(), small.Bounds())
	}
}

func TestBlendImageOpacity(t *testing.T) {
	dst := image.NewRGBA(image.Rect(0, 0, 4, 4))
	FillRect(dst, image.Rect(0, 0, 4, 4), color.RGBA{0, 0, 0, 255}, 1)
	FillRect(dst, image.Rect(1, 1, 3, 3), color.RGBA{255, 255, 255, 255}, 0.5)

	if got := dst.RGBAAt(0, 0); got.R != 0 {
		t.Errorf("outside pixel = %+v", got)
	}
	if got := dst.RGBAAt(2, 2); got.R < 120 || got.R > 135 {
		t.Errorf("half-blended pixel = %+v", got)
	}
}
