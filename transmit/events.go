package transmit

import (
	"context"
	"log"
	"time"

	"github.com/cwsl/dabmod/sdr"
)

// RunEvents is the asynchronous event loop: it continuously reads
// driver events, bumping counters and flagging a full re-prebuffer on
// underflow. Once per StatusInterval it emits a status line if either
// counter advanced, and calls OnStatus regardless. It runs on its own
// goroutine, independent of Run.
func (t *Transmitter) RunEvents(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.StatusInterval)
	defer ticker.Stop()

	var lastUnderflows, lastLate uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.pollClockSensors()
			if t.counters == nil {
				continue
			}
			u, l := t.counters.Underflows.Load(), t.counters.LatePackets.Load()
			if u != lastUnderflows || l != lastLate {
				log.Printf("transmit: status underflows=%d latepackets=%d frames=%d", u, l, t.counters.FramesModulated.Load())
				lastUnderflows, lastLate = u, l
			}
			if t.OnStatus != nil {
				t.OnStatus(t.snapshotStatus())
			}
		default:
			ev, ok := t.device.RecvEvent(100 * time.Millisecond)
			if !ok {
				continue
			}
			t.handleEvent(ev)
		}
	}
}

func (t *Transmitter) handleEvent(ev sdr.Event) {
	switch ev.Code {
	case sdr.EventBurstAck:
		// no-op
	case sdr.EventUnderflow, sdr.EventUnderflowInPacket:
		if t.counters != nil {
			t.counters.IncUnderflow()
		}
		t.prebufferAll.Store(true)
	case sdr.EventSeqError, sdr.EventSeqErrorInBurst:
		log.Printf("transmit: ALERT: host-device packet loss (seq error)")
	case sdr.EventTimeError:
		if t.counters != nil {
			t.counters.IncLatePacket()
		}
	}
}

func (t *Transmitter) pollClockSensors() {
	if t.counters == nil {
		return
	}
	if locked, err := t.device.Sensor("ref_locked"); err == nil {
		t.counters.SetRefLocked(locked)
	}
	gpsLocked := false
	for _, name := range []string{"gps_timelock", "gps_locked"} {
		if locked, err := t.device.Sensor(name); err == nil && locked {
			gpsLocked = true
			break
		}
	}
	t.counters.SetGPSLocked(gpsLocked)
}

func (t *Transmitter) snapshotStatus() Status {
	s := Status{Timestamp: time.Now().Unix()}
	if t.counters != nil {
		s.Underflows = t.counters.Underflows.Load()
		s.LatePackets = t.counters.LatePackets.Load()
		s.FramesModulated = t.counters.FramesModulated.Load()
	}
	if locked, err := t.device.Sensor("ref_locked"); err == nil {
		s.RefLocked = locked
	}
	for _, name := range []string{"gps_timelock", "gps_locked"} {
		if locked, err := t.device.Sensor(name); err == nil && locked {
			s.GPSLocked = true
			break
		}
	}
	return s
}
