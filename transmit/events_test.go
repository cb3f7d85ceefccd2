package transmit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cwsl/dabmod/metrics"
	"github.com/cwsl/dabmod/sdr"
)

func TestHandleUnderflowReengagesPrebuffer(t *testing.T) {
	dev := newFakeDevice()
	tr := New(dev, nil, metrics.New(nil), Config{Device: sdr.Config{SampleRate: 2048000}})
	tr.prebufferAll.Store(false)

	tr.handleEvent(sdr.Event{Code: sdr.EventUnderflow})
	require.True(t, tr.prebufferAll.Load())
	require.Equal(t, uint64(1), tr.counters.Underflows.Load())
}

func TestRunEventsCallsOnStatus(t *testing.T) {
	dev := newFakeDevice()
	tr := New(dev, nil, metrics.New(nil), Config{
		Device:         sdr.Config{SampleRate: 2048000},
		StatusInterval: 5 * time.Millisecond,
	})

	statuses := make(chan Status, 4)
	tr.OnStatus = func(s Status) { statuses <- s }

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	tr.RunEvents(ctx)

	select {
	case s := <-statuses:
		require.True(t, s.RefLocked)
		require.True(t, s.GPSLocked)
	default:
		t.Fatal("OnStatus was never called")
	}
}
