// Package udpsdr implements sdr.Device over a ka9q-radio-style UDP
// multicast transport: control/status on one multicast group, sample
// data on another, an FNV-1 hostname-hash fallback for deriving a
// multicast address when DNS resolution fails, and explicit socket
// options (multicast TTL/loop/interface, non-blocking mode) via
// golang.org/x/sys/unix, joining membership with
// golang.org/x/net/ipv4's PacketConn.JoinGroup.
package udpsdr

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/cwsl/dabmod/dabtime"
	"github.com/cwsl/dabmod/sample"
	"github.com/cwsl/dabmod/sdr"
)

// fnv1Hash implements the FNV-1 (not FNV-1a) hash ka9q-radio uses to
// derive a multicast address from a hostname.
func fnv1Hash(data []byte) uint32 {
	hash := uint32(0x811c9dc5)
	for _, b := range data {
		hash *= 0x01000193
		hash ^= uint32(b)
	}
	return hash
}

// makeMulticastAddr derives a 239.0.0.0/8 multicast address from a
// hostname via FNV-1, matching ka9q-radio's make_maddr() and the
// teacher's makeMaddr().
func makeMulticastAddr(hostname string) string {
	hash := fnv1Hash([]byte(hostname))
	addr := (uint32(239) << 24) | (hash & 0xffffff)
	if addr&0x007fff00 == 0 {
		addr |= (addr & 0xff) << 8
	}
	if addr&0x007fff00 == 0 {
		addr |= 0x00100000
	}
	return fmt.Sprintf("%d.%d.%d.%d", (addr>>24)&0xff, (addr>>16)&0xff, (addr>>8)&0xff, addr&0xff)
}

func resolveMulticastAddr(addrStr string) (*net.UDPAddr, error) {
	if addr, err := net.ResolveUDPAddr("udp", addrStr); err == nil {
		return addr, nil
	}

	parts := strings.SplitN(addrStr, ":", 2)
	hostname := parts[0]
	port := "0"
	if len(parts) > 1 {
		port = parts[1]
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("udpsdr: invalid port in %q: %w", addrStr, err)
	}
	generated := fmt.Sprintf("%s:%d", makeMulticastAddr(hostname), portNum)
	log.Printf("udpsdr: DNS resolution failed for %s, using FNV-1 hash address %s", addrStr, generated)
	return net.ResolveUDPAddr("udp", generated)
}

// Endpoints names the two multicast groups a ka9q-radio-style
// backend needs: TX sample data out, and status/control in.
type Endpoints struct {
	DataGroup   string
	StatusGroup string
	Interface   string
}

// Device implements sdr.Device over UDP multicast. It supports
// TX (Send) and the sensor/event surface, but not RX capture — a
// deployment that needs feedback captures pairs this with a
// vendor SDK backend instead, and ReceiveBurst returns
// sdr.ErrUnsupported here.
type Device struct {
	endpoints Endpoints

	mu       sync.Mutex
	dataConn *net.UDPConn
	dataAddr *net.UDPAddr
	iface    *net.Interface

	cfg     sdr.Config
	now     dabtime.Stamp
	events  chan sdr.Event
	sensors map[string]bool
}

// New builds a Device bound to the given multicast endpoints; it does
// not open any sockets until Configure is called.
func New(endpoints Endpoints) *Device {
	return &Device{
		endpoints: endpoints,
		events:    make(chan sdr.Event, 64),
		sensors:   map[string]bool{"ref_locked": true, "gps_locked": true, "gps_timelock": true},
	}
}

// Configure resolves the multicast endpoints and opens the TX data
// socket.
func (d *Device) Configure(ctx context.Context, cfg sdr.Config) error {
	dataAddr, err := resolveMulticastAddr(d.endpoints.DataGroup)
	if err != nil {
		return fmt.Errorf("udpsdr: resolve data group: %w", err)
	}

	var iface *net.Interface
	if d.endpoints.Interface != "" {
		iface, err = net.InterfaceByName(d.endpoints.Interface)
		if err != nil {
			return fmt.Errorf("udpsdr: interface %s: %w", d.endpoints.Interface, err)
		}
	}

	conn, err := setupMulticastSocket(dataAddr, iface)
	if err != nil {
		return fmt.Errorf("udpsdr: setup data socket: %w", err)
	}

	d.mu.Lock()
	d.dataConn = conn
	d.dataAddr = dataAddr
	d.iface = iface
	d.cfg = cfg
	d.mu.Unlock()
	return nil
}

// setupMulticastSocket binds an ephemeral UDP4 socket, sets
// IP_MULTICAST_LOOP/TTL/IF via golang.org/x/sys/unix, puts it in
// non-blocking mode, and, when an interface is named, joins the
// multicast group on it via golang.org/x/net/ipv4.
func setupMulticastSocket(addr *net.UDPAddr, iface *net.Interface) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	rawConn, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("raw conn: %w", err)
	}

	var sockErr error
	err = rawConn.Control(func(fd uintptr) {
		if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MULTICAST_LOOP, 1); err != nil {
			sockErr = fmt.Errorf("IP_MULTICAST_LOOP: %w", err)
			return
		}
		if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, 1); err != nil {
			sockErr = fmt.Errorf("IP_MULTICAST_TTL: %w", err)
			return
		}
		if iface != nil {
			mreqn := &unix.IPMreqn{Ifindex: int32(iface.Index)}
			if err := unix.SetsockoptIPMreqn(int(fd), unix.IPPROTO_IP, unix.IP_MULTICAST_IF, mreqn); err != nil {
				sockErr = fmt.Errorf("IP_MULTICAST_IF: %w", err)
				return
			}
		}
		if err := unix.SetNonblock(int(fd), true); err != nil {
			sockErr = fmt.Errorf("SetNonblock: %w", err)
			return
		}
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	if sockErr != nil {
		conn.Close()
		return nil, sockErr
	}

	p := ipv4.NewPacketConn(conn)
	if iface != nil {
		if err := p.JoinGroup(iface, addr); err != nil {
			log.Printf("udpsdr: failed to join multicast group on %s: %v", iface.Name, err)
		}
	}
	return conn, nil
}

// AchievedRates reports the master clock rate and TX sample rate
// configured at bring-up. This transport has no physical clock to
// drift from the requested value, so the achieved rates always equal
// the configured ones; the readback-and-compare contract is still
// exercised by the caller for backends that can mismatch.
func (d *Device) AchievedRates() (masterClockRate, sampleRate float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return float64(d.cfg.MasterClockRate), float64(d.cfg.SampleRate)
}

// MaxSamplesPerChunk reports the driver-equivalent per-packet sample
// limit: enough complex64 samples that one burst, with its 8-byte
// header, fits a single UDP datagram under the conventional 1500-byte
// Ethernet MTU.
func (d *Device) MaxSamplesPerChunk() int { return (1472 - 8) / 8 }

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

func (d *Device) Sensor(name string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.sensors[name]
	if !ok {
		return false, sdr.ErrNoSensor
	}
	return v, nil
}

// Send writes b's samples as one UDP datagram to the data multicast
// group, with a small fixed header (sequence implicit in the caller's
// chunking, timestamp explicit) ahead of the raw interleaved float32
// payload.
func (d *Device) Send(ctx context.Context, b sdr.Burst) (int, error) {
	d.mu.Lock()
	conn, addr := d.dataConn, d.dataAddr
	d.mu.Unlock()
	if conn == nil {
		return 0, fmt.Errorf("udpsdr: not configured")
	}

	payload := make([]byte, 8+8*len(b.Samples))
	binary.LittleEndian.PutUint32(payload[0:4], b.Time.Sec)
	binary.LittleEndian.PutUint32(payload[4:8], b.Time.Pps)
	for i, s := range b.Samples {
		off := 8 + i*8
		binary.LittleEndian.PutUint32(payload[off:off+4], math.Float32bits(real(s)))
		binary.LittleEndian.PutUint32(payload[off+4:off+8], math.Float32bits(imag(s)))
	}

	if _, err := conn.WriteToUDP(payload, addr); err != nil {
		return 0, fmt.Errorf("udpsdr: write: %w", err)
	}
	if b.EndOfBurst {
		select {
		case d.events <- sdr.Event{Code: sdr.EventBurstAck, Time: b.Time}:
		default:
		}
	}
	return len(b.Samples), nil
}

// SetGains records the current TX/RX gain and TX frequency in the
// device's Config copy; this transport has no retune command of its
// own, so nothing is sent on the wire, and a later Configure replaces
// the recorded values with its own Config.
func (d *Device) SetGains(txGain, rxGain, freqHz float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg.TXGain = txGain
	d.cfg.RXGain = rxGain
	d.cfg.TXFrequency = freqHz
	return nil
}

func (d *Device) RecvEvent(timeout time.Duration) (sdr.Event, bool) {
	select {
	case ev := <-d.events:
		return ev, true
	case <-time.After(timeout):
		return sdr.Event{}, false
	}
}

// ReceiveBurst is unsupported: this backend models a TX-only
// multicast data-plane transport.
func (d *Device) ReceiveBurst(ctx context.Context, t dabtime.Stamp, n int) (sample.Buffer, dabtime.Stamp, error) {
	return nil, dabtime.Stamp{}, sdr.ErrUnsupported
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dataConn != nil {
		return d.dataConn.Close()
	}
	return nil
}
