// Package transmit owns the SDR handle and the exclusive transmit
// thread: device bring-up and time alignment, the per-frame transmit
// loop with timestamp validation and muting, the asynchronous
// driver-event loop, and a static-delay ring. Control-flow exceptions
// are reified as the TransmitOutcome sum type rather than propagated
// as Go errors, since most outcomes (Muted, Dropped) are routine.
package transmit

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync/atomic"
	"time"

	"github.com/cwsl/dabmod/dabtime"
	"github.com/cwsl/dabmod/framequeue"
	"github.com/cwsl/dabmod/metrics"
	"github.com/cwsl/dabmod/sample"
	"github.com/cwsl/dabmod/sdr"
)

// TransmitOutcome is the result of one iteration of the transmit
// loop.
type TransmitOutcome struct {
	Kind   OutcomeKind
	Reason string
}

// OutcomeKind enumerates the possible TransmitOutcome cases.
type OutcomeKind int

const (
	Sent OutcomeKind = iota
	Muted
	Dropped
	FatalStop
)

func (o TransmitOutcome) String() string {
	switch o.Kind {
	case Sent:
		return "sent"
	case Muted:
		return "muted"
	case Dropped:
		return "dropped: " + o.Reason
	case FatalStop:
		return "fatal: " + o.Reason
	default:
		return "unknown"
	}
}

// Config is the Transmitter's static, startup-time configuration.
type Config struct {
	Device sdr.Config

	// MuteNoTimestamps silences the output when a frame carries no
	// valid timestamp.
	MuteNoTimestamps bool

	// RefClockMonitored enables the per-frame ref_locked poll; losing
	// lock is always logged, and aborts the run when
	// RefClockLossIsFatal is also set.
	RefClockMonitored  bool
	RefClockLossIsFatal bool

	// TransmitTimeout is how far in the past a timestamp may fall
	// before the frame is dropped rather than transmitted late.
	TransmitTimeout time.Duration

	// FutureAbortThreshold is how far in the future a timestamp may
	// lie before the run is aborted fatally.
	FutureAbortThreshold time.Duration

	// Prebuffer is the normal queue depth WaitPop waits for; it is
	// re-applied in full after every underflow.
	Prebuffer int

	// MaxGPSHoldoverTime bounds how long the clock supervisor
	// tolerates consecutive GPS check failures before raising a fatal
	// error; zero disables the supervisor.
	MaxGPSHoldoverTime time.Duration

	// StatusInterval controls how often the async event loop emits a
	// status line and calls OnStatus.
	StatusInterval time.Duration
}

// DefaultTransmitTimeout and DefaultFutureAbortThreshold are the
// Transmitter's default timing thresholds.
const (
	DefaultTransmitTimeout      = 20 * time.Second
	DefaultFutureAbortThreshold = 60 * time.Second
	DefaultStatusInterval       = time.Second
)

// Status is the once-per-second snapshot published over MQTT.
type Status struct {
	Timestamp       int64
	Underflows      uint64
	LatePackets     uint64
	FramesModulated uint64
	RefLocked       bool
	GPSLocked       bool
}

// Transmitter drives one sdr.Device from a framequeue.Queue. The
// zero value is not usable; construct with New.
type Transmitter struct {
	device sdr.Device
	queue  *framequeue.Queue
	cfg    Config

	counters *metrics.Counters

	running atomic.Bool
	muting  atomic.Bool

	// txGainBits/rxGainBits/freqBits store float64s via math bit
	// patterns so the remote-control surface can update txgain,
	// rxgain, and freq without a mutex.
	txGainBits atomic.Uint64
	rxGainBits atomic.Uint64
	freqBits   atomic.Uint64

	staticDelayUs atomic.Int64

	lastStamp dabtime.Stamp
	haveLast  bool
	// prebufferAll is set after an underflow (from the event-loop
	// goroutine) so the next pop on the transmit-loop goroutine waits
	// for a full Prebuffer again; an atomic.Bool since it crosses
	// goroutines.
	prebufferAll atomic.Bool

	delay delayRing

	// OnFrameSent, if set, is called with every frame handed to the
	// device and the burst time actually used, before chunking. The
	// FeedbackServer registers this to implement its capture state
	// machine.
	OnFrameSent func(frame sample.Frame, burstTime dabtime.Stamp)

	// OnStatus, if set, is called once per StatusInterval with the
	// current counter/lock snapshot (wired to MQTT by cmd/dabmod).
	OnStatus func(Status)
}

// New builds a Transmitter over device, reading frames from queue.
func New(device sdr.Device, queue *framequeue.Queue, counters *metrics.Counters, cfg Config) *Transmitter {
	if cfg.TransmitTimeout == 0 {
		cfg.TransmitTimeout = DefaultTransmitTimeout
	}
	if cfg.FutureAbortThreshold == 0 {
		cfg.FutureAbortThreshold = DefaultFutureAbortThreshold
	}
	if cfg.Prebuffer <= 0 {
		cfg.Prebuffer = framequeue.MaxDepth
	}
	if cfg.StatusInterval == 0 {
		cfg.StatusInterval = DefaultStatusInterval
	}

	t := &Transmitter{
		device:   device,
		queue:    queue,
		cfg:      cfg,
		counters: counters,
	}
	t.prebufferAll.Store(true)
	t.txGainBits.Store(math.Float64bits(cfg.Device.TXGain))
	t.rxGainBits.Store(math.Float64bits(cfg.Device.RXGain))
	t.freqBits.Store(math.Float64bits(cfg.Device.TXFrequency))
	t.delay.resize(0)
	return t
}

// SetMuting toggles the remote-control "muting" parameter.
func (t *Transmitter) SetMuting(m bool) { t.muting.Store(m) }
func (t *Transmitter) Muting() bool     { return t.muting.Load() }

// SetTXGain/RXGain/Frequency apply the remote-control equivalents.
// The transmit loop passes the current values to the device's
// SetGains once per chunk.
func (t *Transmitter) SetTXGain(g float64) { t.txGainBits.Store(math.Float64bits(g)) }
func (t *Transmitter) TXGain() float64     { return math.Float64frombits(t.txGainBits.Load()) }
func (t *Transmitter) SetRXGain(g float64) { t.rxGainBits.Store(math.Float64bits(g)) }
func (t *Transmitter) RXGain() float64     { return math.Float64frombits(t.rxGainBits.Load()) }
func (t *Transmitter) SetFrequency(hz float64) { t.freqBits.Store(math.Float64bits(hz)) }
func (t *Transmitter) Frequency() float64      { return math.Float64frombits(t.freqBits.Load()) }

// SetStaticDelay sets the static-delay ring length in samples; the
// caller converts from microseconds. The length is not wrapped modulo
// the frame duration: a delay of one frame or more holds back whole
// frames. Changing it resets the ring's held-back tail.
func (t *Transmitter) SetStaticDelay(samples int) {
	t.staticDelayUs.Store(int64(samples))
	t.delay.resize(samples)
}
func (t *Transmitter) StaticDelaySamples() int { return int(t.staticDelayUs.Load()) }

// Stop requests the transmit/event loops to exit at their next
// natural waiting point, via a single atomic "running" flag.
func (t *Transmitter) Stop() { t.running.Store(false) }

// Align runs the time-alignment sequence before the first sample is
// emitted: GPS lock wait, then PPS/seconds time-register bring-up.
func (t *Transmitter) Align(ctx context.Context) error {
	if t.cfg.MaxGPSHoldoverTime > 0 && requiresGPS(t.cfg.Device.RefClockSource) {
		if err := waitForGPSLock(ctx, t.device, 30*time.Second); err != nil {
			return fmt.Errorf("transmit: GPS lock not achieved: %w", err)
		}
	}

	switch t.cfg.Device.PPSSource {
	case sdr.PPSNone:
		log.Printf("transmit: no PPS source configured; setting time register to current wall-clock second")
		return t.device.SetTimeNow(wallClockStamp())
	default:
		return alignToNextPPS(ctx, t.device)
	}
}

func requiresGPS(src sdr.RefClockSource) bool {
	return src == sdr.RefClockGPSDO || src == sdr.RefClockGPSDOEttus
}

func waitForGPSLock(ctx context.Context, dev sdr.Device, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	sensorNames := []string{"gps_timelock", "gps_locked"}
	for time.Now().Before(deadline) {
		for _, name := range sensorNames {
			locked, err := dev.Sensor(name)
			if err == nil && locked {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Errorf("transmit: no GPS lock after %s", timeout)
}

func alignToNextPPS(ctx context.Context, dev sdr.Device) error {
	start := time.Now()
	sleepUntilNextSecond(start)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(200 * time.Millisecond):
	}

	now := time.Now()
	target := dabtime.Stamp{Sec: uint32(now.Unix()) + 2, Valid: true}
	if err := dev.SetTimeNextPPS(target); err != nil {
		return fmt.Errorf("transmit: SetTimeNextPPS: %w", err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Second):
	}
	return nil
}

func sleepUntilNextSecond(from time.Time) {
	remainder := time.Second - time.Duration(from.Nanosecond())
	time.Sleep(remainder)
}

func wallClockStamp() dabtime.Stamp {
	return dabtime.Stamp{Sec: uint32(time.Now().Unix()), Valid: true}
}

// Run is the transmit loop: it blocks until ctx is cancelled or Stop
// is called, dequeuing one frame at a time and driving it through
// Step. It is intended to run on its own realtime-priority goroutine,
// the only caller of Send.
func (t *Transmitter) Run(ctx context.Context) error {
	t.running.Store(true)
	defer t.running.Store(false)

	for t.running.Load() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		prebuffer := t.cfg.Prebuffer
		if !t.prebufferAll.Load() {
			prebuffer = 1
		}
		frame, ok := t.queue.WaitPop(prebuffer)
		if !ok {
			return nil
		}
		t.prebufferAll.Store(false)

		outcome := t.Step(ctx, frame)
		switch outcome.Kind {
		case FatalStop:
			return fmt.Errorf("transmit: %s", outcome.Reason)
		case Sent:
			if t.counters != nil {
				t.counters.IncFramesModulated()
			}
		}
	}
	return nil
}

// Step drives exactly one frame through the transmit loop's
// decision tree, returning the outcome.
func (t *Transmitter) Step(ctx context.Context, frame sample.Frame) TransmitOutcome {
	if frame.Dropped() {
		// FCT == -1 frames never reach the SDR.
		return TransmitOutcome{Kind: Dropped, Reason: "FCT=-1"}
	}

	if t.cfg.RefClockMonitored && t.cfg.Device.RefClockSource == sdr.RefClockExternal {
		locked, err := t.device.Sensor("ref_locked")
		if err != nil || !locked {
			log.Printf("transmit: ALERT: reference clock not locked")
			if t.cfg.RefClockLossIsFatal {
				return TransmitOutcome{Kind: FatalStop, Reason: "reference clock lost lock"}
			}
		}
	}

	if frame.Stamp.Valid {
		frame = t.reconcileTimestamp(frame)
		wall := wallClockStamp()
		age := wall.Sub(frame.Stamp)
		if age > t.cfg.TransmitTimeout.Seconds() {
			return TransmitOutcome{Kind: Dropped, Reason: "timestamp in the past"}
		}
		if -age > t.cfg.FutureAbortThreshold.Seconds() {
			return TransmitOutcome{Kind: FatalStop, Reason: "timestamp too far in the future"}
		}
	} else if t.cfg.MuteNoTimestamps {
		t.muteSleep()
		return TransmitOutcome{Kind: Muted}
	}

	if t.muting.Load() {
		t.muteSleep()
		return TransmitOutcome{Kind: Muted}
	}

	delayed := t.delay.apply(frame.Samples)
	if err := t.send(ctx, delayed, frame); err != nil {
		return TransmitOutcome{Kind: FatalStop, Reason: err.Error()}
	}
	return TransmitOutcome{Kind: Sent}
}

// reconcileTimestamp compares frame's stamp to the expected
// progression from the previous frame, logging a discontinuity
// warning and flagging end-of-burst re-arm on mismatch.
func (t *Transmitter) reconcileTimestamp(frame sample.Frame) sample.Frame {
	if t.haveLast {
		expected := t.lastStamp.AddSamples(uint64(len(frame.Samples)), t.cfg.Device.SampleRate)
		if expected.Sec != frame.Stamp.Sec || expected.Pps != frame.Stamp.Pps {
			log.Printf("transmit: timestamp discontinuity: expected %s, got %s", expected, frame.Stamp)
			frame.Refresh = true
		}
	}
	t.lastStamp = frame.Stamp
	t.haveLast = true
	return frame
}

// muteSleepDuration is the fixed pause taken instead of sending a
// muted frame, independent of DAB transmission mode.
const muteSleepDuration = 20 * time.Millisecond

func (t *Transmitter) muteSleep() {
	time.Sleep(muteSleepDuration)
}

// send chunks samples into MaxSamplesPerChunk()-sized bursts,
// advancing the burst time-spec between chunks and marking
// end_of_burst on the last one whenever Refresh was set.
func (t *Transmitter) send(ctx context.Context, samples sample.Buffer, frame sample.Frame) error {
	if t.OnFrameSent != nil {
		t.OnFrameSent(frame, frame.Stamp)
	}

	chunk := t.device.MaxSamplesPerChunk()
	if chunk <= 0 {
		chunk = len(samples)
	}

	stamp := frame.Stamp
	for offset := 0; offset < len(samples); offset += chunk {
		end := offset + chunk
		if end > len(samples) {
			end = len(samples)
		}
		last := end == len(samples)

		if err := t.device.SetGains(t.TXGain(), t.RXGain(), t.Frequency()); err != nil {
			return fmt.Errorf("transmit: SetGains: %w", err)
		}

		burst := sdr.Burst{
			Samples:     samples[offset:end],
			Time:        stamp,
			EndOfBurst:  last && frame.Refresh,
			HasTimeSpec: frame.Stamp.Valid,
		}
		n, err := t.device.Send(ctx, burst)
		if err != nil {
			return fmt.Errorf("transmit: Send: %w", err)
		}
		stamp = stamp.AddSamples(uint64(n), t.cfg.Device.SampleRate)
	}
	return nil
}
