// Package fileout implements sdr.Device by appending raw complex64
// samples to a local file, for offline trials and tests. It is a
// deliberately minimal stub satisfying the capability interface: no
// timing, sensors, or receive path.
package fileout

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/cwsl/dabmod/dabtime"
	"github.com/cwsl/dabmod/sample"
	"github.com/cwsl/dabmod/sdr"
)

// Device writes every transmitted burst's samples, in order, as
// raw interleaved little-endian float32 I/Q to a file.
type Device struct {
	mu   sync.Mutex
	file *os.File
	now  dabtime.Stamp
	cfg  sdr.Config
}

// Create opens (truncating) path for writing.
func Create(path string) (*Device, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("fileout: create %s: %w", path, err)
	}
	return &Device{file: f}, nil
}

func (d *Device) Configure(ctx context.Context, cfg sdr.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
	return nil
}

// AchievedRates always matches Config exactly: a file sink has no
// physical clock that can drift from the requested rate.
func (d *Device) AchievedRates() (masterClockRate, sampleRate float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return float64(d.cfg.MasterClockRate), float64(d.cfg.SampleRate)
}

// MaxSamplesPerChunk is effectively unbounded for a file sink.
func (d *Device) MaxSamplesPerChunk() int { return 1 << 20 }

func (d *Device) Now() dabtime.Stamp { return d.now }

func (d *Device) SetTimeNextPPS(t dabtime.Stamp) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = t
	return nil
}

func (d *Device) SetTimeNow(t dabtime.Stamp) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = t
	return nil
}

// Sensor always reports "not present": a file has no reference clock
// or GPS to lock to.
func (d *Device) Sensor(name string) (bool, error) {
	return false, sdr.ErrNoSensor
}

// Send appends b's samples to the file.
func (d *Device) Send(ctx context.Context, b sdr.Burst) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := make([]byte, 8*len(b.Samples))
	for i, s := range b.Samples {
		off := i * 8
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(real(s)))
		binary.LittleEndian.PutUint32(buf[off+4:off+8], math.Float32bits(imag(s)))
	}
	if _, err := d.file.Write(buf); err != nil {
		return 0, fmt.Errorf("fileout: write: %w", err)
	}
	return len(b.Samples), nil
}

// SetGains is a no-op: a file sink has nothing to retune.
func (d *Device) SetGains(txGain, rxGain, freqHz float64) error { return nil }

// RecvEvent never has anything to report; it simply waits out the
// timeout, matching a backend with no asynchronous driver events.
func (d *Device) RecvEvent(timeout time.Duration) (sdr.Event, bool) {
	time.Sleep(timeout)
	return sdr.Event{}, false
}

// ReceiveBurst is unsupported: a file sink has no RX path.
func (d *Device) ReceiveBurst(ctx context.Context, t dabtime.Stamp, n int) (sample.Buffer, dabtime.Stamp, error) {
	return nil, dabtime.Stamp{}, sdr.ErrUnsupported
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.file.Close()
}
