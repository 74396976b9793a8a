// Package display shows a display target in a local X11 window, as a
// confidence monitor for the operator.
package display

import (
	"fmt"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/StageFeed/internal/config"
	"github.com/bryanchriswhite/StageFeed/internal/logger"
	"github.com/bryanchriswhite/StageFeed/internal/output"
)

func init() {
	output.Register(config.OutputX11, func(config.OutputConfig) (output.Sink, error) {
		return NewWindow(), nil
	})
}

// putImageHeader is the fixed size of a PutImage request in bytes
const putImageHeader = 24

// Window is an X11 window sink. Frames arrive as packed BGRA, which is the
// byte order of a 32bpp ZPixmap on little-endian servers, so rows are sent
// without conversion.
type Window struct {
	conn          *xgb.Conn
	screen        *xproto.ScreenInfo
	displayWindow xproto.Window
	gc            xproto.Gcontext
	name          string
	format        output.Format
	rowsPerPut    int
	running       bool
	mu            sync.RWMutex

	inflight output.Inflight
}

// NewWindow creates an unopened X11 window sink
func NewWindow() *Window {
	return &Window{}
}

// Open connects to the X server
func (m *Window) Open(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		return fmt.Errorf("display %q already open", m.name)
	}

	conn, err := xgb.NewConn()
	if err != nil {
		return fmt.Errorf("failed to connect to X server: %w", err)
	}

	m.conn = conn
	m.screen = xproto.Setup(conn).DefaultScreen(conn)
	m.name = name
	return nil
}

// Configure creates (or recreates) the window at the frame size
func (m *Window) Configure(format output.Format) error {
	if err := format.Validate(); err != nil {
		return err
	}

	m.inflight.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return output.ErrNotOpen
	}
	if err := m.checkDepth(); err != nil {
		return err
	}
	m.destroyWindow()

	windowID, err := xproto.NewWindowId(m.conn)
	if err != nil {
		return fmt.Errorf("failed to create window ID: %w", err)
	}
	m.displayWindow = windowID

	mask := uint32(xproto.CwBackPixel | xproto.CwEventMask)
	values := []uint32{
		0x000000, // Black background
		xproto.EventMaskExposure | xproto.EventMaskStructureNotify,
	}

	err = xproto.CreateWindowChecked(
		m.conn,
		m.screen.RootDepth,
		m.displayWindow,
		m.screen.Root,
		0, 0,
		uint16(format.Width), uint16(format.Height),
		0,
		xproto.WindowClassInputOutput,
		m.screen.RootVisual,
		mask,
		values,
	).Check()
	if err != nil {
		return fmt.Errorf("failed to create window: %w", err)
	}

	if err := m.setWindowTitle("StageFeed - " + m.name); err != nil {
		logger.WithComponent("display").Warn().
			Err(err).
			Msg("Failed to set window title")
	}
	if err := m.setWindowClass("stagefeed", "StageFeed"); err != nil {
		logger.WithComponent("display").Warn().
			Err(err).
			Msg("Failed to set window class")
	}

	if err := xproto.MapWindowChecked(m.conn, m.displayWindow).Check(); err != nil {
		return fmt.Errorf("failed to map window: %w", err)
	}

	gc, err := xproto.NewGcontextId(m.conn)
	if err != nil {
		return fmt.Errorf("failed to create graphics context: %w", err)
	}
	if err := xproto.CreateGCChecked(m.conn, gc, xproto.Drawable(m.displayWindow), 0, nil).Check(); err != nil {
		return fmt.Errorf("failed to create GC: %w", err)
	}
	m.gc = gc

	// PutImage is bounded by the server's maximum request length (in 4-byte
	// units), so large frames go out in horizontal strips.
	maxBytes := int(xproto.Setup(m.conn).MaximumRequestLength)*4 - putImageHeader
	m.rowsPerPut = maxBytes / format.LineStride
	if m.rowsPerPut < 1 {
		return fmt.Errorf("frame row of %d bytes exceeds X request limit", format.LineStride)
	}

	m.format = format
	m.running = true
	m.conn.Sync()

	logger.WithComponent("display").Info().
		Int("width", format.Width).
		Int("height", format.Height).
		Int("rows_per_put", m.rowsPerPut).
		Uint32("window_id", uint32(m.displayWindow)).
		Msg("Preview window created")
	return nil
}

// checkDepth ensures the root depth uses 32 bits per pixel
func (m *Window) checkDepth() error {
	depth := m.screen.RootDepth
	for _, f := range xproto.Setup(m.conn).PixmapFormats {
		if f.Depth == depth {
			if f.BitsPerPixel != 32 {
				return fmt.Errorf("unsupported X visual: depth %d with %d bits per pixel", depth, f.BitsPerPixel)
			}
			return nil
		}
	}
	return fmt.Errorf("no pixmap format for depth %d", depth)
}

// SendAsync draws buf on a worker goroutine once the previous draw is done
func (m *Window) SendAsync(buf []byte) error {
	if err := m.check(buf); err != nil {
		return err
	}
	finish := m.inflight.Begin()
	go func() {
		defer finish()
		if err := m.putImage(buf); err != nil {
			logger.WithComponent("display").Warn().Err(err).Msg("Failed to draw frame")
		}
	}()
	return nil
}

// SendSync draws buf before returning
func (m *Window) SendSync(buf []byte) error {
	if err := m.check(buf); err != nil {
		return err
	}
	finish := m.inflight.Begin()
	defer finish()
	return m.putImage(buf)
}

func (m *Window) check(buf []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.running {
		return output.ErrNotOpen
	}
	if len(buf) < m.format.FrameSize() {
		return output.ErrShortBuffer
	}
	return nil
}

// putImage sends a BGRA frame to the window in strips
func (m *Window) putImage(buf []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f := m.format
	for y := 0; y < f.Height; y += m.rowsPerPut {
		rows := m.rowsPerPut
		if y+rows > f.Height {
			rows = f.Height - y
		}
		strip := buf[y*f.LineStride : (y+rows)*f.LineStride]
		err := xproto.PutImageChecked(
			m.conn,
			xproto.ImageFormatZPixmap,
			xproto.Drawable(m.displayWindow),
			m.gc,
			uint16(f.Width),
			uint16(rows),
			0, int16(y),
			0,
			m.screen.RootDepth,
			strip,
		).Check()
		if err != nil {
			return fmt.Errorf("failed to put image: %w", err)
		}
	}
	return nil
}

// Close destroys the window and disconnects
func (m *Window) Close() error {
	m.inflight.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return nil
	}
	m.destroyWindow()
	m.conn.Close()
	m.conn = nil
	m.running = false

	logger.WithComponent("display").Info().Str("stream", m.name).Msg("Preview window closed")
	return nil
}

func (m *Window) destroyWindow() {
	if m.gc != 0 {
		xproto.FreeGC(m.conn, m.gc)
		m.gc = 0
	}
	if m.displayWindow != 0 {
		xproto.DestroyWindow(m.conn, m.displayWindow)
		m.displayWindow = 0
		m.conn.Sync()
	}
}

// Name returns the output type name
func (m *Window) Name() string {
	return "X11 Preview Window"
}

// setWindowTitle sets the window title
func (m *Window) setWindowTitle(title string) error {
	titleAtom, err := m.getAtom("_NET_WM_NAME")
	if err != nil {
		return err
	}
	utf8Atom, err := m.getAtom("UTF8_STRING")
	if err != nil {
		return err
	}

	return xproto.ChangePropertyChecked(
		m.conn,
		xproto.PropModeReplace,
		m.displayWindow,
		titleAtom,
		utf8Atom,
		8,
		uint32(len(title)),
		[]byte(title),
	).Check()
}

// setWindowClass sets the window class
func (m *Window) setWindowClass(instance, class string) error {
	classAtom, err := m.getAtom("WM_CLASS")
	if err != nil {
		return err
	}

	// WM_CLASS format: instance\0class\0
	classStr := instance + "\x00" + class + "\x00"

	return xproto.ChangePropertyChecked(
		m.conn,
		xproto.PropModeReplace,
		m.displayWindow,
		classAtom,
		xproto.AtomString,
		8,
		uint32(len(classStr)),
		[]byte(classStr),
	).Check()
}

// getAtom gets an atom ID by name
func (m *Window) getAtom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(m.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}
