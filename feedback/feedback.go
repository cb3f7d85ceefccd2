// Package feedback implements the single-client DPD capture
// side-channel: a TCP server that, on request, captures the trailing
// samples of the next transmitted frame alongside a matched receive
// burst, for an external DPD coefficient solver to compare.
//
// The wire protocol is a fixed binary layout, written little-endian
// (host-native on the supported targets): a version byte and
// fixed-size fields followed by raw sample data, read and written with
// encoding/binary rather than a generic serialisation library.
package feedback

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/cwsl/dabmod/dabtime"
	"github.com/cwsl/dabmod/sample"
)

// State is the capture state machine.
type State int

const (
	Idle State = iota
	SaveTransmitFrame
	SaveReceiveFrame
	Acquired
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case SaveTransmitFrame:
		return "save_transmit_frame"
	case SaveReceiveFrame:
		return "save_receive_frame"
	case Acquired:
		return "acquired"
	default:
		return "unknown"
	}
}

// protocolVersion is the only version byte clients may send.
const protocolVersion = 1

// ReceiveBurstFunc requests exactly n samples captured starting at t;
// the caller binds this to an sdr.Device's ReceiveBurst method.
type ReceiveBurstFunc func(ctx context.Context, t dabtime.Stamp, n int) (sample.Buffer, dabtime.Stamp, error)

// Server drives the capture state machine and serves one client at a
// time on a TCP listener. The zero value is not usable; construct
// with New.
type Server struct {
	mu        sync.Mutex
	state     State
	requested int

	txSamples sample.Buffer
	txStamp   dabtime.Stamp
	rxSamples sample.Buffer
	rxStamp   dabtime.Stamp

	sampleRate uint32
	receive    ReceiveBurstFunc
	dumper     *Dumper
}

// New builds a Server. receive is called once per capture to obtain
// the matched RX burst.
func New(sampleRate uint32, receive ReceiveBurstFunc) *Server {
	return &Server{sampleRate: sampleRate, receive: receive}
}

// SetDumper enables writing a compressed copy of every completed
// capture to disk via d. Passing nil disables dumping.
func (s *Server) SetDumper(d *Dumper) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dumper = d
}

// State reports the current capture state, for status/diagnostics.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RequestCapture arms the state machine for a capture of n samples.
// It is a no-op (returns false) if a capture is already in progress.
func (s *Server) RequestCapture(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return false
	}
	s.requested = n
	s.state = SaveTransmitFrame
	return true
}

// CancelCapture returns the state machine to Idle. It runs both on a
// clean request/response cycle (handleConn's deferred call) and, via
// waitForResult noticing the disconnect watcher, as soon as a client
// drops its connection mid-capture, rather than only after the
// bounded wait in waitForResult times out.
func (s *Server) CancelCapture() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Idle
	s.requested = 0
}

// ObserveFrame is called by the Transmitter (via
// Transmitter.OnFrameSent) with every frame it sends and the burst
// time actually used. When a capture is armed it copies the trailing
// N samples — a DAB frame's silent leading NULL symbol means the
// start of a frame never carries usable DPD information — adjusts the
// timestamp forward by skip_samples/sample_rate, and issues the
// one-shot receive command.
func (s *Server) ObserveFrame(frame sample.Frame, burstTime dabtime.Stamp) {
	s.mu.Lock()
	if s.state != SaveTransmitFrame {
		s.mu.Unlock()
		return
	}

	n := s.requested
	if n > len(frame.Samples) {
		n = len(frame.Samples)
	}
	skip := len(frame.Samples) - n

	tail := frame
	tail.Samples = frame.Samples[skip:]
	txSamples := tail.Clone().Samples
	txStamp := burstTime.AddSamples(uint64(skip), s.sampleRate)

	s.txSamples = txSamples
	s.txStamp = txStamp
	s.requested = n
	s.state = SaveReceiveFrame
	s.mu.Unlock()

	go s.issueReceive(txStamp, n)
}

func (s *Server) issueReceive(t dabtime.Stamp, n int) {
	rx, rxStamp, err := s.receive(context.Background(), t, n)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SaveReceiveFrame {
		return
	}
	if err != nil {
		log.Printf("feedback: receive burst failed: %v", err)
		s.state = Idle
		return
	}
	s.rxSamples = rx
	s.rxStamp = rxStamp
	s.state = Acquired
}

func (s *Server) takeResult() (tx sample.Buffer, txStamp dabtime.Stamp, rx sample.Buffer, rxStamp dabtime.Stamp, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Acquired {
		return nil, dabtime.Stamp{}, nil, dabtime.Stamp{}, false
	}
	tx, txStamp, rx, rxStamp = s.txSamples, s.txStamp, s.rxSamples, s.rxStamp
	s.state = Idle
	return tx, txStamp, rx, rxStamp, true
}

// listenConfig sets SO_REUSEADDR/SO_REUSEPORT on the feedback
// listener socket, the same socket options the teacher sets on its
// own status listeners, so a restart doesn't wedge on a lingering
// TIME_WAIT socket from the previous run.
var listenConfig = net.ListenConfig{
	Control: func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
				sockErr = fmt.Errorf("SO_REUSEADDR: %w", err)
				return
			}
			if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
				sockErr = fmt.Errorf("SO_REUSEPORT: %w", err)
				return
			}
		})
		if err != nil {
			return err
		}
		return sockErr
	},
}

// Listen opens the feedback TCP listener, with SO_REUSEADDR/
// SO_REUSEPORT set via listenConfig. Split out from ListenAndServe so
// a caller that needs to close the listener on its own shutdown
// signal (e.g. cmd/dabmod's ctx.Done()) has a handle to call Close on.
func (s *Server) Listen(addr string) (net.Listener, error) {
	ln, err := listenConfig.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("feedback: listen %s: %w", addr, err)
	}
	return ln, nil
}

// Serve accepts one client connection at a time from ln, serving each
// with handleConn. On any connection error it logs and retries after
// 5 seconds: connection closed, server loop continues after a pause.
// Serve returns nil once ln is closed by another goroutine.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("feedback: accept error: %v; retrying in 5s", err)
			time.Sleep(5 * time.Second)
			continue
		}
		if err := s.handleConn(conn); err != nil {
			log.Printf("feedback: connection error: %v", err)
			s.CancelCapture()
			time.Sleep(5 * time.Second)
		}
	}
}

// ListenAndServe opens addr and serves it until Serve returns. It is
// a convenience wrapper for callers with no independent need to close
// the listener (e.g. tests); cmd/dabmod instead calls Listen/Serve
// directly so it can close the listener from its shutdown path.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := s.Listen(addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	return s.Serve(ln)
}

// handleConn drives exactly one request/response exchange, per
// the wire protocol above. Each connection is tagged
// with a UUID for log correlation, since the server accepts a new
// client on every retry and log lines would otherwise be
// indistinguishable.
func (s *Server) handleConn(conn net.Conn) error {
	defer conn.Close()
	connID := uuid.New()
	log.Printf("feedback: connection %s from %s", connID, conn.RemoteAddr())

	var version uint8
	if err := binary.Read(conn, binary.LittleEndian, &version); err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	if version != protocolVersion {
		return fmt.Errorf("unsupported protocol version %d", version)
	}

	var numSamples uint32
	if err := binary.Read(conn, binary.LittleEndian, &numSamples); err != nil {
		return fmt.Errorf("read num_samples: %w", err)
	}

	if !s.RequestCapture(int(numSamples)) {
		return fmt.Errorf("capture already in progress")
	}
	defer s.CancelCapture()

	stop := make(chan struct{})
	watcherDone := make(chan struct{})
	disconnected := watchForDisconnect(conn, stop, watcherDone)

	tx, txStamp, rx, rxStamp, err := s.waitForResult(disconnected, 30*time.Second)

	close(stop)
	<-watcherDone
	conn.SetReadDeadline(time.Time{})

	if err != nil {
		return err
	}

	if d := s.dumperSnapshot(); d != nil {
		if err := d.Dump(tx, txStamp, rx, rxStamp); err != nil {
			log.Printf("feedback: capture dump failed: %v", err)
		}
	}

	return writeResult(conn, tx, txStamp, rx, rxStamp)
}

func (s *Server) dumperSnapshot() *Dumper {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dumper
}

// watchForDisconnect polls conn with a zero-byte read under a short
// rolling deadline until either stop is closed (the caller no longer
// cares) or the read returns a non-timeout error, which on a TCP
// socket means the client has closed its end. It closes disconnected
// only in the latter case, and always closes done on exit so the
// caller can safely clear the read deadline it left behind.
func watchForDisconnect(conn net.Conn, stop <-chan struct{}, done chan<- struct{}) <-chan struct{} {
	disconnected := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 1)
		for {
			select {
			case <-stop:
				return
			default:
			}
			conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
			_, err := conn.Read(buf)
			if err == nil {
				// The client isn't expected to send anything more
				// until it has read a reply; ignore stray bytes and
				// keep watching for a real close.
				continue
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			close(disconnected)
			return
		}
	}()
	return disconnected
}

// waitForResult polls takeResult for up to timeout, returning early
// with an error the moment disconnected fires — a client that drops
// its connection mid-capture releases the capture slot immediately
// rather than wedging it for the full timeout.
func (s *Server) waitForResult(disconnected <-chan struct{}, timeout time.Duration) (sample.Buffer, dabtime.Stamp, sample.Buffer, dabtime.Stamp, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case <-disconnected:
			return nil, dabtime.Stamp{}, nil, dabtime.Stamp{}, fmt.Errorf("client disconnected mid-capture")
		default:
		}
		if tx, txStamp, rx, rxStamp, ok := s.takeResult(); ok {
			return tx, txStamp, rx, rxStamp, nil
		}
		time.Sleep(time.Millisecond)
	}
	return nil, dabtime.Stamp{}, nil, dabtime.Stamp{}, fmt.Errorf("timed out waiting for capture")
}

// writeResult serialises the capture reply. The protocol is specified
// as host-native byte order since the client is colocated; this
// backend hardcodes LittleEndian because every deployment target
// (x86_64, aarch64) is little-endian, not because the protocol itself
// mandates it.
func writeResult(w io.Writer, tx sample.Buffer, txStamp dabtime.Stamp, rx sample.Buffer, rxStamp dabtime.Stamp) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(tx))); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, txStamp.Sec); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, txStamp.Pps); err != nil {
		return err
	}
	if err := writeComplexSamples(w, tx); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, rxStamp.Sec); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, rxStamp.Pps); err != nil {
		return err
	}
	return writeComplexSamples(w, rx)
}

func writeComplexSamples(w io.Writer, buf sample.Buffer) error {
	for _, s := range buf {
		if err := binary.Write(w, binary.LittleEndian, real(s)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, imag(s)); err != nil {
			return err
		}
	}
	return nil
}
