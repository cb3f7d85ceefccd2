// Package sdr defines the capability-set interface the Transmitter,
// FeedbackServer and clock supervisor program against: a modulator
// may drive several SDR vendors, so the core targets the capability
// set rather than any one vendor's SDK. Implementations exercising
// this interface live in sibling packages (udpsdr, fileout).
package sdr

import (
	"context"
	"fmt"
	"time"

	"github.com/cwsl/dabmod/dabtime"
	"github.com/cwsl/dabmod/sample"
)

// RefClockSource selects the Transmitter's reference clock input.
type RefClockSource int

const (
	RefClockInternal RefClockSource = iota
	RefClockExternal
	RefClockMIMO
	RefClockGPSDO
	RefClockGPSDOEttus
)

// PPSSource selects the 1-PPS input used for SFN time alignment.
type PPSSource int

const (
	PPSNone PPSSource = iota
	PPSExternal
	PPSMIMO
	PPSGPSDO
)

// Config is the device bring-up configuration: master clock rate,
// TX/RX rate, clock/PPS source, subdevice, LO frequency with optional
// offset, TX/RX gain.
type Config struct {
	MasterClockRate uint32
	SampleRate      uint32
	RefClockSource  RefClockSource
	PPSSource       PPSSource
	Subdevice       string

	TXFrequency float64
	LOOffsetHz  float64 // |offset| must be < MasterClockRate/2
	TXGain      float64

	RXFrequency float64
	RXGain      float64
	RXAntenna   string

	DeviceArgs string // open "key=value,..." string, backend-specific
}

// RateTolerance is the maximum fractional deviation between a
// configured master-clock/TX rate and the rate a device actually
// achieves before bring-up is considered fatal.
const RateTolerance = 1e-6 // 1 ppm

// Validate checks the constraints on Config that don't require a
// device round-trip: the LO offset must stay within half the master
// clock rate, per spec, so that the offset carrier leakage and its
// mirror still fall inside the sampled band rather than aliasing back
// into it.
func (c Config) Validate() error {
	if c.MasterClockRate == 0 {
		return nil
	}
	limit := float64(c.MasterClockRate) / 2
	if c.LOOffsetHz != 0 && (c.LOOffsetHz >= limit || c.LOOffsetHz <= -limit) {
		return fmt.Errorf("sdr: LO offset %g Hz exceeds master_clock_rate/2 = %g Hz", c.LOOffsetHz, limit)
	}
	return nil
}

// CheckAchievedRate compares a rate the device reports it actually
// achieved against the configured value, fatal per spec if they
// differ by more than RateTolerance.
func CheckAchievedRate(name string, configured uint32, achieved float64) error {
	if configured == 0 {
		return nil
	}
	diff := achieved - float64(configured)
	if diff < 0 {
		diff = -diff
	}
	if diff/float64(configured) > RateTolerance {
		return fmt.Errorf("sdr: %s mismatch: configured %d Hz, device achieved %g Hz (exceeds %g ppm tolerance)", name, configured, achieved, RateTolerance*1e6)
	}
	return nil
}

// EventCode enumerates the asynchronous events a Device's event
// channel can deliver.
type EventCode int

const (
	EventBurstAck EventCode = iota
	EventUnderflow
	EventUnderflowInPacket
	EventSeqError
	EventSeqErrorInBurst
	EventTimeError
)

// Event is one asynchronous notification from the device.
type Event struct {
	Code EventCode
	Time dabtime.Stamp
}

// Burst is one chunk of samples to transmit at an absolute time.
type Burst struct {
	Samples     sample.Buffer
	Time        dabtime.Stamp
	EndOfBurst  bool
	HasTimeSpec bool
}

// Device is the capability set a concrete SDR backend must implement.
// Degraded backends (e.g. fileout) simply reject the features they
// cannot provide by returning ErrUnsupported.
type Device interface {
	// Configure applies Config at bring-up. Must be called exactly
	// once, before any Send/Receive call.
	Configure(ctx context.Context, cfg Config) error

	// AchievedRates reports the master clock rate and TX sample rate
	// the device actually settled on after Configure, for the
	// caller to verify against the requested Config within
	// RateTolerance before transmission begins.
	AchievedRates() (masterClockRate, sampleRate float64)

	// MaxSamplesPerChunk is the driver-reported maximum burst size;
	// the Transmitter must not send more samples in a single Send
	// call than this backend reports.
	MaxSamplesPerChunk() int

	// Now returns the device's current time register value.
	Now() dabtime.Stamp

	// SetTimeNextPPS arms the time register to be set to t at the
	// next PPS edge.
	SetTimeNextPPS(t dabtime.Stamp) error

	// SetTimeNow sets the time register immediately, used when PPS is
	// absent but synchronous transmission is requested.
	SetTimeNow(t dabtime.Stamp) error

	// Sensor reads a named boolean sensor (ref_locked, gps_locked,
	// gps_timelock). ErrNoSensor is returned if the backend does not
	// expose it.
	Sensor(name string) (bool, error)

	// Send transmits one burst; returns the number of samples
	// actually accepted before a short write or error.
	Send(ctx context.Context, b Burst) (int, error)

	// SetGains applies the current TX gain, RX gain and TX frequency.
	// The Transmitter calls this once per chunk, so an implementation
	// backed by real hardware should make this cheap (e.g. write a
	// cached value, not block on a full retune) when the values are
	// unchanged since the last call.
	SetGains(txGain, rxGain, freqHz float64) error

	// RecvEvent blocks up to timeout for one asynchronous event. It
	// returns false if none arrived within the timeout.
	RecvEvent(timeout time.Duration) (Event, bool)

	// ReceiveBurst requests exactly n samples captured starting at t,
	// for the feedback subsystem. Implementations that have no RX
	// path return ErrUnsupported.
	ReceiveBurst(ctx context.Context, t dabtime.Stamp, n int) (sample.Buffer, dabtime.Stamp, error)

	// Close releases the device handle. It is the last resource
	// released at shutdown.
	Close() error
}
