package output

import "sync/atomic"

// Discard accepts frames and drops them, counting what it received. Useful
// for measuring the pipeline without a real destination.
type Discard struct {
	open   atomic.Bool
	format Format
	frames atomic.Uint64
	bytes  atomic.Uint64
}

// NewDiscard creates a discard output
func NewDiscard() *Discard {
	return &Discard{}
}

func (d *Discard) Open(string) error {
	d.open.Store(true)
	return nil
}

func (d *Discard) Configure(format Format) error {
	if err := format.Validate(); err != nil {
		return err
	}
	d.format = format
	return nil
}

func (d *Discard) SendAsync(buf []byte) error {
	return d.SendSync(buf)
}

func (d *Discard) SendSync(buf []byte) error {
	if !d.open.Load() {
		return ErrNotOpen
	}
	if len(buf) < d.format.FrameSize() {
		return ErrShortBuffer
	}
	d.frames.Add(1)
	d.bytes.Add(uint64(len(buf)))
	return nil
}

func (d *Discard) Close() error {
	d.open.Store(false)
	return nil
}

func (d *Discard) Name() string {
	return "Discard"
}

// Frames returns the number of frames received
func (d *Discard) Frames() uint64 {
	return d.frames.Load()
}
