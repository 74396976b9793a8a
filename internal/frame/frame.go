// Package frame holds the captured frame value and the sequence-ordered
// queue that hands frames from the host loop to the sender goroutine.
package frame

import "image"

// Frame is one pixel snapshot tagged with a monotonically increasing
// sequence number. Pixels must not be modified once the frame is offered.
type Frame struct {
	Pixels   *image.RGBA
	Sequence uint64
}

// Blank returns a fully transparent frame of the given size.
func Blank(width, height int, sequence uint64) Frame {
	return Frame{
		Pixels:   image.NewRGBA(image.Rect(0, 0, width, height)),
		Sequence: sequence,
	}
}

// Newer reports whether f should be delivered after a frame with sequence
// last has already been sent.
func (f Frame) Newer(last uint64) bool {
	return f.Sequence > last
}
