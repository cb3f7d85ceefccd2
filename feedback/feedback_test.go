package feedback

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cwsl/dabmod/dabtime"
	"github.com/cwsl/dabmod/sample"
)

func TestRequestCaptureRejectsWhileInProgress(t *testing.T) {
	s := New(2048000, nil)
	require.True(t, s.RequestCapture(10))
	require.False(t, s.RequestCapture(10))
	require.Equal(t, SaveTransmitFrame, s.State())
}

func TestCancelCaptureReturnsToIdle(t *testing.T) {
	s := New(2048000, nil)
	s.RequestCapture(10)
	s.CancelCapture()
	require.Equal(t, Idle, s.State())
}

func TestObserveFrameCapturesTrailingSamples(t *testing.T) {
	receiveCalled := make(chan struct{}, 1)
	s := New(2048000, func(ctx context.Context, tm dabtime.Stamp, n int) (sample.Buffer, dabtime.Stamp, error) {
		receiveCalled <- struct{}{}
		return make(sample.Buffer, n), tm, nil
	})

	s.RequestCapture(4)

	frame := sample.Frame{Samples: make(sample.Buffer, 10)}
	for i := range frame.Samples {
		frame.Samples[i] = sample.Complex(complex(float32(i), 0))
	}
	burstTime := dabtime.Stamp{Sec: 100, Valid: true}
	s.ObserveFrame(frame, burstTime)

	select {
	case <-receiveCalled:
	case <-time.After(time.Second):
		t.Fatal("receive was never called")
	}

	require.Eventually(t, func() bool {
		return s.State() == Acquired
	}, time.Second, time.Millisecond)

	tx, txStamp, _, _, ok := s.takeResult()
	require.True(t, ok)
	require.Len(t, tx, 4)
	require.Equal(t, sample.Complex(6), tx[0])
	require.Equal(t, sample.Complex(9), tx[3])
	require.NotEqual(t, burstTime, txStamp)
}

// TestFeedbackRoundTripOverTCP drives the real TCP wire protocol end
// to end: connect, request a capture, and read back the tx/rx burst
// pair.
func TestFeedbackRoundTripOverTCP(t *testing.T) {
	const n = 16
	s := New(2048000, func(ctx context.Context, tm dabtime.Stamp, num int) (sample.Buffer, dabtime.Stamp, error) {
		rx := make(sample.Buffer, num)
		for i := range rx {
			rx[i] = sample.Complex(complex(float32(i)+100, 0))
		}
		return rx, dabtime.Stamp{Sec: tm.Sec + 1}, nil
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_ = s.handleConn(conn)
	}()

	go func() {
		frame := sample.Frame{Samples: make(sample.Buffer, 64)}
		for i := range frame.Samples {
			frame.Samples[i] = sample.Complex(complex(float32(i), 0))
		}
		time.Sleep(10 * time.Millisecond)
		s.ObserveFrame(frame, dabtime.Stamp{Sec: 5, Valid: true})
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, binary.Write(conn, binary.LittleEndian, uint8(1)))
	require.NoError(t, binary.Write(conn, binary.LittleEndian, uint32(n)))

	var numSamples, txSec, txPps uint32
	require.NoError(t, binary.Read(conn, binary.LittleEndian, &numSamples))
	require.NoError(t, binary.Read(conn, binary.LittleEndian, &txSec))
	require.NoError(t, binary.Read(conn, binary.LittleEndian, &txPps))
	require.Equal(t, uint32(n), numSamples)

	txSamples := make([]float32, 2*n)
	require.NoError(t, binary.Read(conn, binary.LittleEndian, txSamples))
	require.Equal(t, float32(48), txSamples[0]) // 64-16 = 48, trailing 16 samples start at 48

	var rxSec, rxPps uint32
	require.NoError(t, binary.Read(conn, binary.LittleEndian, &rxSec))
	require.NoError(t, binary.Read(conn, binary.LittleEndian, &rxPps))

	rxSamples := make([]float32, 2*n)
	require.NoError(t, binary.Read(conn, binary.LittleEndian, rxSamples))
	require.Equal(t, float32(100), rxSamples[0])
}

// TestFeedbackDisconnectMidCaptureReleasesSlot confirms that a client
// closing its connection while a capture is outstanding frees the
// capture slot well before the 30s bound, rather than wedging it.
func TestFeedbackDisconnectMidCaptureReleasesSlot(t *testing.T) {
	s := New(2048000, nil) // ObserveFrame is never invoked in this test

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	handled := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_ = s.handleConn(conn)
		close(handled)
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	require.NoError(t, binary.Write(conn, binary.LittleEndian, uint8(1)))
	require.NoError(t, binary.Write(conn, binary.LittleEndian, uint32(16)))

	require.Eventually(t, func() bool {
		return s.State() == SaveTransmitFrame
	}, time.Second, time.Millisecond)

	require.NoError(t, conn.Close())

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("handleConn did not return promptly after client disconnect")
	}
	require.Equal(t, Idle, s.State())
}
