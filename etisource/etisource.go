// Package etisource defines the upstream boundary of the modulation
// chain: a source of equal-length complex-sample frames tagged with
// an ETI timestamp, DAB transmission mode, and frame count. ETI
// demultiplexing itself lives elsewhere; this package only defines
// the interface GainControl reads from and a file-backed reference
// implementation for tests, reading a fixed file as a stand-in for a
// live decoder source.
package etisource

import (
	"github.com/cwsl/dabmod/sample"
)

// Mode is the DAB transmission mode (I-IV), which fixes the frame
// duration and sample count per frame.
type Mode int

const (
	ModeI Mode = iota + 1
	ModeII
	ModeIII
	ModeIV
)

// FrameSamples returns the canonical sample count of a frame in this
// mode at the modulator's standard 2.048 Msample/s rate.
func (m Mode) FrameSamples() int {
	switch m {
	case ModeI:
		return 196608
	case ModeII, ModeIII:
		return 49152
	case ModeIV:
		return 98304
	default:
		return 0
	}
}

// Source is the upstream interface the modulation chain reads from.
// Each call to NextFrame blocks until a complete frame is available.
type Source interface {
	// NextFrame returns the next frame of baseband samples with its
	// timestamp, FCT and DAB mode. A returned error is always fatal to
	// the calling pipeline.
	NextFrame() (sample.Frame, Mode, error)

	// Close releases any resources the source holds.
	Close() error
}
