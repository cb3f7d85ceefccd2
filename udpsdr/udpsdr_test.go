package udpsdr

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cwsl/dabmod/dabtime"
	"github.com/cwsl/dabmod/sample"
	"github.com/cwsl/dabmod/sdr"
)

func TestMakeMulticastAddrIsInAdministrativelyScopedRange(t *testing.T) {
	addr := makeMulticastAddr("transmitter-1.example")
	ip := net.ParseIP(addr)
	require.NotNil(t, ip)
	require.Equal(t, byte(239), ip.To4()[0])
}

func TestMakeMulticastAddrIsDeterministic(t *testing.T) {
	require.Equal(t, makeMulticastAddr("abc"), makeMulticastAddr("abc"))
}

func TestReceiveBurstUnsupported(t *testing.T) {
	d := New(Endpoints{})
	_, _, err := d.ReceiveBurst(context.Background(), dabtime.Stamp{}, 10)
	require.ErrorIs(t, err, sdr.ErrUnsupported)
}

func TestSendWithoutConfigureErrors(t *testing.T) {
	d := New(Endpoints{})
	_, err := d.Send(context.Background(), sdr.Burst{Samples: make(sample.Buffer, 4)})
	require.Error(t, err)
}

func TestSendWritesHeaderAndSamples(t *testing.T) {
	ln, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer ln.Close()

	d := New(Endpoints{})
	d.dataConn, err = net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	d.dataAddr = ln.LocalAddr().(*net.UDPAddr)
	defer d.dataConn.Close()

	samples := make(sample.Buffer, 2)
	samples[0] = 1
	samples[1] = sample.Complex(complex(0, 2))

	n, err := d.Send(context.Background(), sdr.Burst{Samples: samples, Time: dabtime.Stamp{Sec: 42, Pps: 7}})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	buf := make([]byte, 64)
	ln.SetReadDeadline(time.Now().Add(time.Second))
	readN, _, err := ln.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, 8+8*2, readN)

	require.Equal(t, uint32(42), binary.LittleEndian.Uint32(buf[0:4]))
	require.Equal(t, uint32(7), binary.LittleEndian.Uint32(buf[4:8]))
}
