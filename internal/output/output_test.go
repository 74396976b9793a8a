package output

import (
	"bufio"
	"bytes"
	"errors"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/StageFeed/internal/config"
)

func TestFormatValidate(t *testing.T) {
	good := NewFormat(64, 32, 30)
	if err := good.Validate(); err != nil {
		t.Fatalf("valid format rejected: %v", err)
	}
	if good.FrameSize() != 64*4*32 {
		t.Errorf("FrameSize = %d", good.FrameSize())
	}

	bad := []Format{
		{Width: 0, Height: 10, PixelFormat: FormatBGRA, LineStride: 0, FrameRateN: 30, FrameRateD: 1},
		{Width: 10, Height: 10, PixelFormat: "uyvy", LineStride: 40, FrameRateN: 30, FrameRateD: 1},
		{Width: 10, Height: 10, PixelFormat: FormatBGRA, LineStride: 20, FrameRateN: 30, FrameRateD: 1},
		{Width: 10, Height: 10, PixelFormat: FormatBGRA, LineStride: 40, FrameRateN: 30, FrameRateD: 0},
	}
	for i, f := range bad {
		if err := f.Validate(); err == nil {
			t.Errorf("case %d: invalid format accepted: %+v", i, f)
		}
	}
}

func TestNewUnknownType(t *testing.T) {
	_, err := New(config.OutputConfig{Type: "ndi-but-not-really"})
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("err = %v, want ErrUnknownType", err)
	}
}

func TestNewBuiltinTypes(t *testing.T) {
	for _, typ := range []string{config.OutputMJPEG, config.OutputDiscard} {
		s, err := New(config.OutputConfig{Type: typ})
		if err != nil {
			t.Fatalf("New(%s): %v", typ, err)
		}
		if s.Name() == "" {
			t.Errorf("%s sink has no name", typ)
		}
	}
}

func TestInflightBeginWaitsForPrevious(t *testing.T) {
	var in Inflight
	finish := in.Begin()

	started := make(chan struct{})
	proceeded := make(chan struct{})
	go func() {
		close(started)
		f := in.Begin()
		f()
		close(proceeded)
	}()

	<-started
	select {
	case <-proceeded:
		t.Fatal("second Begin did not wait for the first send")
	case <-time.After(20 * time.Millisecond):
	}

	finish()
	select {
	case <-proceeded:
	case <-time.After(time.Second):
		t.Fatal("second Begin never proceeded")
	}
}

func TestDiscard(t *testing.T) {
	d := NewDiscard()
	format := NewFormat(4, 4, 30)
	buf := make([]byte, format.FrameSize())

	if err := d.SendAsync(buf); !errors.Is(err, ErrNotOpen) {
		t.Errorf("send before open: %v", err)
	}
	d.Open("x")
	if err := d.Configure(format); err != nil {
		t.Fatal(err)
	}
	if err := d.SendAsync(buf[:3]); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("short buffer: %v", err)
	}
	d.SendAsync(buf)
	d.SendSync(buf)
	if d.Frames() != 2 {
		t.Errorf("Frames = %d, want 2", d.Frames())
	}
	d.Close()
	if err := d.SendSync(buf); !errors.Is(err, ErrNotOpen) {
		t.Errorf("send after close: %v", err)
	}
}

func bgraFrame(format Format, b, g, r byte) []byte {
	buf := make([]byte, format.FrameSize())
	for i := 0; i < len(buf); i += 4 {
		buf[i], buf[i+1], buf[i+2], buf[i+3] = b, g, r, 255
	}
	return buf
}

func TestMJPEGRequiresOpenAndConfigure(t *testing.T) {
	m := NewMJPEGOutput(80)
	format := NewFormat(8, 8, 30)
	buf := bgraFrame(format, 0, 0, 255)

	if err := m.SendAsync(buf); !errors.Is(err, ErrNotOpen) {
		t.Errorf("send before open: %v", err)
	}
	if err := m.Open("main"); err != nil {
		t.Fatal(err)
	}
	if err := m.Open("main"); err == nil {
		t.Error("second Open should fail")
	}
	if err := m.SendAsync(buf); err == nil {
		t.Error("send before configure should fail")
	}
	if err := m.Configure(format); err != nil {
		t.Fatal(err)
	}
	if err := m.SendAsync(buf[:10]); !errors.Is(err, ErrShortBuffer) {
		t.Errorf("short buffer: %v", err)
	}
}

func TestMJPEGEncodesFrames(t *testing.T) {
	m := NewMJPEGOutput(95)
	format := NewFormat(16, 16, 30)
	m.Open("main")
	m.Configure(format)

	if err := m.SendAsync(bgraFrame(format, 0, 0, 255)); err != nil {
		t.Fatal(err)
	}
	if err := m.SendSync(bgraFrame(format, 255, 0, 0)); err != nil {
		t.Fatal(err)
	}
	if m.Frames() != 2 {
		t.Errorf("Frames = %d, want 2", m.Frames())
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if err := m.SendSync(bgraFrame(format, 0, 0, 0)); !errors.Is(err, ErrNotOpen) {
		t.Errorf("send after close: %v", err)
	}
}

func TestMJPEGStreamHandler(t *testing.T) {
	m := NewMJPEGOutput(90)
	format := NewFormat(16, 16, 30)
	m.Open("main")
	m.Configure(format)

	srv := httptest.NewServer(m.StreamHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("Content-Type = %q", ct)
	}

	// Wait for the client to register before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for m.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if m.Clients() != 1 {
		t.Fatalf("clients = %d", m.Clients())
	}

	// Pure red in BGRA.
	if err := m.SendSync(bgraFrame(format, 0, 0, 255)); err != nil {
		t.Fatal(err)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(line) != "--frame" {
		t.Fatalf("boundary line = %q", line)
	}
	// Skip part headers.
	for {
		h, err := reader.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		if h == "\r\n" {
			break
		}
	}

	img, err := jpeg.Decode(reader)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	r, g, b, _ := img.At(8, 8).RGBA()
	if r>>8 < 200 || g>>8 > 60 || b>>8 > 60 {
		t.Errorf("center pixel = (%d,%d,%d), want red", r>>8, g>>8, b>>8)
	}
}

func TestMJPEGStatsHandler(t *testing.T) {
	m := NewMJPEGOutput(90)
	m.Open("main")
	m.Configure(NewFormat(16, 16, 30))

	rec := httptest.NewRecorder()
	m.StatsHandler()(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	body := rec.Body.Bytes()
	if !bytes.Contains(body, []byte("Running")) || !bytes.Contains(body, []byte("16x16")) {
		t.Errorf("stats page missing fields: %s", body)
	}
}
