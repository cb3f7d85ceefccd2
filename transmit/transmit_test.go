package transmit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cwsl/dabmod/dabtime"
	"github.com/cwsl/dabmod/metrics"
	"github.com/cwsl/dabmod/sample"
	"github.com/cwsl/dabmod/sdr"
)

// fakeDevice is an in-memory sdr.Device for transmit loop tests; it
// records every Send call and lets tests script Sensor responses.
type fakeDevice struct {
	mu        sync.Mutex
	sent      []sdr.Burst
	maxChunk  int
	sensors   map[string]bool
	events    chan sdr.Event
	now       dabtime.Stamp
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		maxChunk: 1 << 20,
		sensors:  map[string]bool{"ref_locked": true, "gps_locked": true},
		events:   make(chan sdr.Event, 16),
	}
}

func (f *fakeDevice) Configure(ctx context.Context, cfg sdr.Config) error { return nil }
func (f *fakeDevice) AchievedRates() (masterClockRate, sampleRate float64) {
	return 0, 0
}
func (f *fakeDevice) MaxSamplesPerChunk() int { return f.maxChunk }
func (f *fakeDevice) Now() dabtime.Stamp                                  { return f.now }
func (f *fakeDevice) SetTimeNextPPS(t dabtime.Stamp) error                { f.now = t; return nil }
func (f *fakeDevice) SetTimeNow(t dabtime.Stamp) error                    { f.now = t; return nil }
func (f *fakeDevice) Sensor(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.sensors[name]
	if !ok {
		return false, sdr.ErrNoSensor
	}
	return v, nil
}
func (f *fakeDevice) Send(ctx context.Context, b sdr.Burst) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, b)
	return len(b.Samples), nil
}
func (f *fakeDevice) SetGains(txGain, rxGain, freqHz float64) error { return nil }
func (f *fakeDevice) RecvEvent(timeout time.Duration) (sdr.Event, bool) {
	select {
	case ev := <-f.events:
		return ev, true
	case <-time.After(timeout):
		return sdr.Event{}, false
	}
}
func (f *fakeDevice) ReceiveBurst(ctx context.Context, t dabtime.Stamp, n int) (sample.Buffer, dabtime.Stamp, error) {
	return nil, dabtime.Stamp{}, sdr.ErrUnsupported
}
func (f *fakeDevice) Close() error { return nil }

func (f *fakeDevice) sentBursts() []sdr.Burst {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sdr.Burst, len(f.sent))
	copy(out, f.sent)
	return out
}

func frame(n int, fct int32) sample.Frame {
	return sample.Frame{Samples: make(sample.Buffer, n), FCT: fct, Stamp: dabtime.Stamp{Valid: true}}
}

func TestStepDropsFCTMinusOne(t *testing.T) {
	dev := newFakeDevice()
	tr := New(dev, nil, metrics.New(nil), Config{Device: sdr.Config{SampleRate: 2048000}})

	outcome := tr.Step(context.Background(), frame(10, sample.DropFCT))
	require.Equal(t, Dropped, outcome.Kind)
	require.Empty(t, dev.sentBursts())
}

func TestStepMutesOnNoTimestampWhenConfigured(t *testing.T) {
	dev := newFakeDevice()
	tr := New(dev, nil, metrics.New(nil), Config{
		Device:           sdr.Config{SampleRate: 2048000},
		MuteNoTimestamps: true,
	})

	f := frame(100, 0)
	f.Stamp.Valid = false
	outcome := tr.Step(context.Background(), f)
	require.Equal(t, Muted, outcome.Kind)
	require.Empty(t, dev.sentBursts())
}

func TestStepMutesOnRemoteControlMuting(t *testing.T) {
	dev := newFakeDevice()
	tr := New(dev, nil, metrics.New(nil), Config{Device: sdr.Config{SampleRate: 2048000}})
	tr.SetMuting(true)

	f := frame(100, 0)
	f.Stamp = dabtime.Stamp{Sec: uint32(time.Now().Unix()), Valid: true}
	outcome := tr.Step(context.Background(), f)
	require.Equal(t, Muted, outcome.Kind)
	require.Empty(t, dev.sentBursts())
}

func TestStepDropsPastTimestamp(t *testing.T) {
	dev := newFakeDevice()
	tr := New(dev, nil, metrics.New(nil), Config{
		Device:          sdr.Config{SampleRate: 2048000},
		TransmitTimeout: 20 * time.Second,
	})

	f := frame(100, 0)
	f.Stamp = dabtime.Stamp{Sec: uint32(time.Now().Add(-time.Minute).Unix()), Valid: true}
	outcome := tr.Step(context.Background(), f)
	require.Equal(t, Dropped, outcome.Kind)
}

func TestStepAbortsFarFutureTimestamp(t *testing.T) {
	dev := newFakeDevice()
	tr := New(dev, nil, metrics.New(nil), Config{
		Device:               sdr.Config{SampleRate: 2048000},
		FutureAbortThreshold: time.Minute,
	})

	f := frame(100, 0)
	f.Stamp = dabtime.Stamp{Sec: uint32(time.Now().Add(time.Hour).Unix()), Valid: true}
	outcome := tr.Step(context.Background(), f)
	require.Equal(t, FatalStop, outcome.Kind)
}

func TestStepSendsValidFrame(t *testing.T) {
	dev := newFakeDevice()
	tr := New(dev, nil, metrics.New(nil), Config{Device: sdr.Config{SampleRate: 2048000}})

	f := frame(100, 0)
	f.Stamp = dabtime.Stamp{Sec: uint32(time.Now().Unix()), Valid: true}
	outcome := tr.Step(context.Background(), f)
	require.Equal(t, Sent, outcome.Kind)
	require.Len(t, dev.sentBursts(), 1)
	require.Len(t, dev.sentBursts()[0].Samples, 100)
}

func TestStepChunksLargeFrames(t *testing.T) {
	dev := newFakeDevice()
	dev.maxChunk = 30
	tr := New(dev, nil, metrics.New(nil), Config{Device: sdr.Config{SampleRate: 2048000}})

	f := frame(100, 0)
	f.Stamp = dabtime.Stamp{Sec: uint32(time.Now().Unix()), Valid: true}
	outcome := tr.Step(context.Background(), f)
	require.Equal(t, Sent, outcome.Kind)
	bursts := dev.sentBursts()
	require.Len(t, bursts, 4) // 30+30+30+10
	require.False(t, bursts[3].EndOfBurst)
}

// TestStaticDelayRing verifies that an impulse in
// frame 0 appears shifted by D samples in the concatenated output.
func TestStaticDelayRing(t *testing.T) {
	dev := newFakeDevice()
	tr := New(dev, nil, metrics.New(nil), Config{Device: sdr.Config{SampleRate: 2048000}})
	tr.SetStaticDelay(5)

	f0 := frame(20, 0)
	f0.Samples[0] = 1
	f0.Stamp = dabtime.Stamp{Sec: uint32(time.Now().Unix()), Valid: true}
	tr.Step(context.Background(), f0)

	f1 := frame(20, 0)
	f1.Stamp = f0.Stamp.AddSamples(20, 2048000)
	tr.Step(context.Background(), f1)

	bursts := dev.sentBursts()
	require.Len(t, bursts, 2)

	var concatenated sample.Buffer
	concatenated = append(concatenated, bursts[0].Samples...)
	concatenated = append(concatenated, bursts[1].Samples...)

	require.Equal(t, sample.Complex(1), concatenated[5])
	for i, s := range concatenated {
		if i != 5 {
			require.Equal(t, sample.Complex(0), s, "index %d", i)
		}
	}
}
