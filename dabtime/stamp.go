// Package dabtime implements the DAB frame timestamp: a (seconds,
// pps-ticks) pair aligned to the 16.384 MHz PPS tick resolution used
// for SFN synchronisation.
package dabtime

import "fmt"

// TicksPerSecond is the number of PPS ticks in one second, per the
// ETSI TS 102 493 timestamp resolution (16.384 MHz).
const TicksPerSecond = 16_384_000

// Stamp is a DAB frame timestamp. Pps is always kept in
// [0, TicksPerSecond) by the Add methods.
type Stamp struct {
	Sec uint32
	Pps uint32

	// Valid is false when the upstream source could not produce a
	// complete timestamp for this frame (e.g. missing MNSC data).
	Valid bool

	// Refresh is set on the first frame of a run and after any
	// timestamp discontinuity; it forces the next transmitted burst
	// to carry end-of-burst so the SDR driver re-arms its timing.
	Refresh bool
}

// AddSamples advances the stamp by n samples emitted at the given
// sample rate, carrying ticks into seconds as needed.
func (s Stamp) AddSamples(n uint64, sampleRate uint32) Stamp {
	if sampleRate == 0 {
		panic("dabtime: AddSamples with zero sample rate")
	}
	increment := n * TicksPerSecond / uint64(sampleRate)
	return s.AddTicks(increment)
}

// AddTicks advances the stamp by an absolute number of PPS ticks,
// carrying into seconds.
func (s Stamp) AddTicks(ticks uint64) Stamp {
	total := uint64(s.Pps) + ticks
	s.Sec += uint32(total / TicksPerSecond)
	s.Pps = uint32(total % TicksPerSecond)
	return s
}

// AddSeconds advances the stamp by a fractional number of seconds; a
// negative value moves it back, stopping at zero.
func (s Stamp) AddSeconds(seconds float64) Stamp {
	ticks := int64(seconds * TicksPerSecond)
	if ticks < 0 {
		return s.subTicks(uint64(-ticks))
	}
	return s.AddTicks(uint64(ticks))
}

func (s Stamp) subTicks(ticks uint64) Stamp {
	total := int64(s.Sec)*TicksPerSecond + int64(s.Pps) - int64(ticks)
	if total < 0 {
		total = 0
	}
	s.Sec = uint32(total / TicksPerSecond)
	s.Pps = uint32(total % TicksPerSecond)
	return s
}

// RealSeconds returns the timestamp as a floating point number of
// seconds, as used to compare against the SDR's wall-clock time
// register.
func (s Stamp) RealSeconds() float64 {
	return float64(s.Sec) + float64(s.Pps)/TicksPerSecond
}

// Sub returns s - other expressed in seconds, useful for timeout and
// future-threshold comparisons in the transmit loop.
func (s Stamp) Sub(other Stamp) float64 {
	return s.RealSeconds() - other.RealSeconds()
}

func (s Stamp) String() string {
	return fmt.Sprintf("%d+%d/%d", s.Sec, s.Pps, TicksPerSecond)
}
