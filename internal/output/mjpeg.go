package output

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/StageFeed/internal/logger"
)

// MJPEGOutput streams frames as Motion JPEG over HTTP so any browser or
// OBS browser source can pick up the feed
type MJPEGOutput struct {
	quality int
	name    string
	format  Format
	running bool
	mu      sync.RWMutex

	inflight Inflight
	// scratch is only touched by the encode in flight
	scratch *image.RGBA

	// Connected clients
	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	// Stats
	statsMu    sync.RWMutex
	frameCount uint64
	lastUpdate time.Time
	startTime  time.Time
}

// NewMJPEGOutput creates a new MJPEG stream output. quality outside 1-100
// falls back to 85.
func NewMJPEGOutput(quality int) *MJPEGOutput {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &MJPEGOutput{
		quality: quality,
		clients: make(map[chan []byte]struct{}),
	}
}

// Open marks the output running under the given stream name
func (m *MJPEGOutput) Open(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG output %q already open", m.name)
	}

	m.name = name
	m.running = true

	m.statsMu.Lock()
	m.startTime = time.Now()
	m.frameCount = 0
	m.statsMu.Unlock()

	logger.WithComponent("output").Info().
		Str("stream", name).
		Msg("MJPEG output opened")
	return nil
}

// Configure sets the frame format and allocates the conversion scratch image
func (m *MJPEGOutput) Configure(format Format) error {
	if err := format.Validate(); err != nil {
		return err
	}

	m.inflight.Wait()

	m.mu.Lock()
	m.format = format
	m.scratch = image.NewRGBA(image.Rect(0, 0, format.Width, format.Height))
	m.mu.Unlock()

	logger.WithComponent("output").Info().
		Str("stream", m.name).
		Int("width", format.Width).
		Int("height", format.Height).
		Int("fps", format.FrameRateN/format.FrameRateD).
		Msg("MJPEG output configured")
	return nil
}

// SendAsync waits for the previous encode, then encodes buf on a worker
// goroutine and fans it out to clients
func (m *MJPEGOutput) SendAsync(buf []byte) error {
	if err := m.check(buf); err != nil {
		return err
	}
	finish := m.inflight.Begin()
	go func() {
		defer finish()
		m.publish(buf)
	}()
	return nil
}

// SendSync encodes and publishes buf before returning
func (m *MJPEGOutput) SendSync(buf []byte) error {
	if err := m.check(buf); err != nil {
		return err
	}
	finish := m.inflight.Begin()
	defer finish()
	m.publish(buf)
	return nil
}

func (m *MJPEGOutput) check(buf []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.running {
		return ErrNotOpen
	}
	if m.scratch == nil {
		return fmt.Errorf("MJPEG output not configured")
	}
	if len(buf) < m.format.FrameSize() {
		return ErrShortBuffer
	}
	return nil
}

func (m *MJPEGOutput) publish(buf []byte) {
	m.mu.RLock()
	format := m.format
	img := m.scratch
	m.mu.RUnlock()

	// BGRA -> RGBA; JPEG drops alpha, premultiplied transparent is black
	for y := 0; y < format.Height; y++ {
		src := buf[y*format.LineStride : y*format.LineStride+format.Width*4]
		dst := img.Pix[y*img.Stride : y*img.Stride+format.Width*4]
		for i := 0; i < len(src); i += 4 {
			dst[i] = src[i+2]
			dst[i+1] = src[i+1]
			dst[i+2] = src[i]
			dst[i+3] = src[i+3]
		}
	}

	out := new(bytes.Buffer)
	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: m.quality}); err != nil {
		logger.WithComponent("output").Warn().
			Err(err).
			Str("stream", m.name).
			Msg("Failed to encode JPEG")
		return
	}
	jpegData := out.Bytes()

	m.statsMu.Lock()
	m.frameCount++
	m.lastUpdate = time.Now()
	m.statsMu.Unlock()

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- jpegData:
		default:
			// Client is slow, skip this frame
		}
	}
	m.clientsMu.RUnlock()
}

// Close waits for the in-flight encode and disconnects all clients
func (m *MJPEGOutput) Close() error {
	m.inflight.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	logger.WithComponent("output").Info().
		Str("stream", m.name).
		Uint64("frames", m.Frames()).
		Msg("MJPEG output closed")
	return nil
}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "MJPEG HTTP Stream"
}

// Frames returns the number of frames encoded since Open
func (m *MJPEGOutput) Frames() uint64 {
	m.statsMu.RLock()
	defer m.statsMu.RUnlock()
	return m.frameCount
}

// Clients returns the number of connected stream clients
func (m *MJPEGOutput) Clients() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// StreamHandler serves the multipart MJPEG stream
func (m *MJPEGOutput) StreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		running := m.running
		m.mu.RUnlock()
		if !running {
			http.Error(w, ErrNotOpen.Error(), http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		frameChan := make(chan []byte, 2)

		m.clientsMu.Lock()
		m.clients[frameChan] = struct{}{}
		clientCount := len(m.clients)
		m.clientsMu.Unlock()

		log := logger.WithComponent("output")
		log.Info().Str("stream", m.name).Int("clients", clientCount).Msg("MJPEG client connected")

		defer func() {
			m.clientsMu.Lock()
			if _, ok := m.clients[frameChan]; ok {
				delete(m.clients, frameChan)
			}
			clientCount := len(m.clients)
			m.clientsMu.Unlock()
			log.Info().Str("stream", m.name).Int("clients", clientCount).Msg("MJPEG client disconnected")
		}()

		for {
			select {
			case <-r.Context().Done():
				return
			case jpegData, ok := <-frameChan:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
					return
				}
				if _, err := w.Write(jpegData); err != nil {
					return
				}
				if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
					return
				}
				if f, ok := w.(http.Flusher); ok {
					f.Flush()
				}
			}
		}
	}
}

// StatsHandler returns an HTTP handler that shows stream statistics
func (m *MJPEGOutput) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		running := m.running
		format := m.format
		m.mu.RUnlock()

		m.statsMu.RLock()
		frameCount := m.frameCount
		startTime := m.startTime
		lastUpdate := m.lastUpdate
		m.statsMu.RUnlock()

		var fps float64
		if running && !startTime.IsZero() {
			if elapsed := time.Since(startTime).Seconds(); elapsed > 0 {
				fps = float64(frameCount) / elapsed
			}
		}

		status := "Stopped"
		if running {
			status = "Running"
		}
		last := "Never"
		if !lastUpdate.IsZero() {
			last = time.Since(lastUpdate).Round(time.Millisecond).String() + " ago"
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>StageFeed - %s</title>
    <style>
        body { font-family: monospace; padding: 20px; background: #1e1e1e; color: #d4d4d4; }
        .label { color: #569cd6; }
        .value { color: #4ec9b0; }
    </style>
</head>
<body>
    <h1>%s</h1>
    <div><span class="label">Status:</span> <span class="value">%s</span></div>
    <div><span class="label">Resolution:</span> <span class="value">%dx%d @ %d FPS (target)</span></div>
    <div><span class="label">Average FPS:</span> <span class="value">%.2f</span></div>
    <div><span class="label">Total Frames:</span> <span class="value">%d</span></div>
    <div><span class="label">Connected Clients:</span> <span class="value">%d</span></div>
    <div><span class="label">Last Update:</span> <span class="value">%s</span></div>
</body>
</html>`,
			m.name, m.name, status,
			format.Width, format.Height, format.FrameRateN,
			fps, frameCount, m.Clients(), last,
		)
	}
}
