// Package metrics holds the modulator's monotonic counters
// (underflows, late packets, frames modulated) and exposes them both
// to the remote-control surface and, through the prometheus.Registerer
// passed to New, to Prometheus.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Counters are monotonically increasing for the lifetime of the
// process; they are reset only on restart.
type Counters struct {
	Underflows      atomic.Uint64
	LatePackets     atomic.Uint64
	FramesModulated atomic.Uint64

	underflowsDesc      prometheus.Counter
	latePacketsDesc     prometheus.Counter
	framesModulatedDesc prometheus.Counter
	refLockedDesc       prometheus.Gauge
	gpsLockedDesc       prometheus.Gauge
}

// New builds Counters and registers their Prometheus collectors
// against reg. reg may be nil, in which case Prometheus export is
// skipped and only the atomic counters are usable.
func New(reg prometheus.Registerer) *Counters {
	c := &Counters{
		underflowsDesc: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dabmod",
			Subsystem: "transmit",
			Name:      "underflows_total",
			Help:      "Total number of UNDERFLOW/UNDERFLOW_IN_PACKET events reported by the SDR.",
		}),
		latePacketsDesc: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dabmod",
			Subsystem: "transmit",
			Name:      "late_packets_total",
			Help:      "Total number of TIME_ERROR events reported by the SDR.",
		}),
		framesModulatedDesc: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dabmod",
			Subsystem: "transmit",
			Name:      "frames_modulated_total",
			Help:      "Total number of frames successfully sent to the SDR.",
		}),
		refLockedDesc: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dabmod",
			Subsystem: "transmit",
			Name:      "ref_locked",
			Help:      "1 if the external reference clock is currently locked.",
		}),
		gpsLockedDesc: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dabmod",
			Subsystem: "transmit",
			Name:      "gps_locked",
			Help:      "1 if the GPSDO currently reports a time lock.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			c.underflowsDesc,
			c.latePacketsDesc,
			c.framesModulatedDesc,
			c.refLockedDesc,
			c.gpsLockedDesc,
		)
	}
	return c
}

// IncUnderflow increments the underflow counter on both the atomic
// and the Prometheus side.
func (c *Counters) IncUnderflow() {
	c.Underflows.Add(1)
	c.underflowsDesc.Inc()
}

// IncLatePacket increments the late-packet counter.
func (c *Counters) IncLatePacket() {
	c.LatePackets.Add(1)
	c.latePacketsDesc.Inc()
}

// IncFramesModulated increments the frames-modulated counter.
func (c *Counters) IncFramesModulated() {
	c.FramesModulated.Add(1)
	c.framesModulatedDesc.Inc()
}

// SetRefLocked publishes the current ref-clock lock state.
func (c *Counters) SetRefLocked(locked bool) {
	c.refLockedDesc.Set(boolToFloat(locked))
}

// SetGPSLocked publishes the current GPS lock state.
func (c *Counters) SetGPSLocked(locked bool) {
	c.gpsLockedDesc.Set(boolToFloat(locked))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
