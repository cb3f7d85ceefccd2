// Package sample defines the baseband sample and frame envelope types
// shared by every stage of the modulator pipeline.
package sample

import "github.com/cwsl/dabmod/dabtime"

// Complex is one baseband I/Q sample: two 32-bit IEEE floats. Go's
// native complex64 already has exactly this layout, so no wrapper
// struct is introduced.
type Complex = complex64

// Buffer is a contiguous run of samples. Buffer length is fixed for
// the lifetime of a run: every frame in one run shares an identical
// sample-buffer length, and a mismatch between consecutive frames is
// a fatal condition, checked by framequeue.Queue.
type Buffer []Complex

// DropFCT is the frame-count value that marks a frame for silent
// drop before it reaches the SDR.
const DropFCT int32 = -1

// Frame is the envelope handed from the modulator thread to the
// FrameQueue and on to the Transmitter.
type Frame struct {
	Samples Buffer
	Stamp   dabtime.Stamp
	FCT     int32

	// Refresh mirrors Stamp.Refresh at the time the frame was built;
	// kept as its own field because the Predistorter's two-frame
	// pipeline delay re-stamps frames independently of the timestamp
	// carried on the sample payload (see predistort.Predistorter.Process).
	Refresh bool
}

// Dropped reports whether this frame must never reach the SDR.
func (f Frame) Dropped() bool {
	return f.FCT == DropFCT
}

// Clone makes a deep copy of the sample buffer, used when a frame
// must be retained past the point its backing array is reused (the
// feedback burst capture keeps a copy of the trailing N samples of a
// transmitted frame).
func (f Frame) Clone() Frame {
	cp := make(Buffer, len(f.Samples))
	copy(cp, f.Samples)
	f.Samples = cp
	return f
}
