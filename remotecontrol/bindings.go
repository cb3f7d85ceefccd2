package remotecontrol

import (
	"strconv"

	"github.com/cwsl/dabmod/gain"
	"github.com/cwsl/dabmod/metrics"
	"github.com/cwsl/dabmod/predistort"
	"github.com/cwsl/dabmod/transmit"
)

// BindGainControl registers the digitalgain, gaink and gainmode
// parameters against a running gain.Control.
func BindGainControl(reg *Registry, g *gain.Control) {
	reg.Register(Param{
		Name:        "digitalgain",
		Description: "Output scaling factor applied before predistortion (GainControl digital_gain).",
		Get: func() string {
			_, digital, _ := g.Snapshot()
			return strconv.FormatFloat(float64(digital), 'g', -1, 32)
		},
		Set: func(value string) error {
			f, err := strconv.ParseFloat(value, 32)
			if err != nil {
				return err
			}
			g.SetDigitalGain(float32(f))
			return nil
		},
	})

	reg.Register(Param{
		Name:        "gaink",
		Description: "Divisor applied in VAR gain mode.",
		Get: func() string {
			_, _, k := g.Snapshot()
			return strconv.FormatFloat(float64(k), 'g', -1, 32)
		},
		Set: func(value string) error {
			f, err := strconv.ParseFloat(value, 32)
			if err != nil {
				return err
			}
			g.SetK(float32(f))
			return nil
		},
	})

	reg.Register(Param{
		Name:        "gainmode",
		Description: "GainControl mode: fix, max, or var.",
		Get: func() string {
			mode, _, _ := g.Snapshot()
			return mode.String()
		},
		Set: func(value string) error {
			mode, err := gain.ParseMode(value)
			if err != nil {
				return err
			}
			g.SetMode(mode)
			return nil
		},
	})
}

// BindPredistorter registers the predistorter's read-only coefficient
// count, its coefficient file path (writing to which triggers an
// atomic reload), and its read-only LUT clamp counter.
func BindPredistorter(reg *Registry, p *predistort.Predistorter) {
	reg.Register(Param{
		Name:        "ncoefs",
		Description: "Number of active predistortion coefficients.",
		Get: func() string {
			return strconv.Itoa(p.NumCoefficients())
		},
	})

	reg.Register(Param{
		Name:        "coeffile",
		Description: "Path to the predistortion coefficients file; writing a new path reloads it atomically.",
		Get: func() string {
			return p.Coeffile()
		},
		Set: func(value string) error {
			return p.LoadCoefficients(value)
		},
	})

	reg.Register(Param{
		Name:        "clampedsamples",
		Description: "Cumulative number of LUT lookups clamped to the top entry.",
		Get: func() string {
			return strconv.FormatUint(p.Stats.ClampedSamples.Load(), 10)
		},
	})
}

// BindTransmitter registers the txgain, rxgain, freq, muting and
// staticdelay parameters against a running transmit.Transmitter.
func BindTransmitter(reg *Registry, t *transmit.Transmitter) {
	reg.Register(Param{
		Name:        "txgain",
		Description: "Transmit gain in dB, applied to the device once per chunk.",
		Get: func() string {
			return strconv.FormatFloat(t.TXGain(), 'g', -1, 64)
		},
		Set: func(value string) error {
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return err
			}
			t.SetTXGain(f)
			return nil
		},
	})

	reg.Register(Param{
		Name:        "rxgain",
		Description: "Receive gain in dB, applied to the device once per chunk.",
		Get: func() string {
			return strconv.FormatFloat(t.RXGain(), 'g', -1, 64)
		},
		Set: func(value string) error {
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return err
			}
			t.SetRXGain(f)
			return nil
		},
	})

	reg.Register(Param{
		Name:        "freq",
		Description: "Transmit centre frequency in Hz, applied to the device once per chunk.",
		Get: func() string {
			return strconv.FormatFloat(t.Frequency(), 'g', -1, 64)
		},
		Set: func(value string) error {
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return err
			}
			t.SetFrequency(f)
			return nil
		},
	})

	reg.Register(Param{
		Name:        "muting",
		Description: "Mutes transmission when true, without stopping the transmit loop.",
		Get: func() string {
			return strconv.FormatBool(t.Muting())
		},
		Set: func(value string) error {
			b, err := strconv.ParseBool(value)
			if err != nil {
				return err
			}
			t.SetMuting(b)
			return nil
		},
	})

	reg.Register(Param{
		Name:        "staticdelay",
		Description: "Static output delay, in samples.",
		Get: func() string {
			return strconv.Itoa(t.StaticDelaySamples())
		},
		Set: func(value string) error {
			n, err := strconv.Atoi(value)
			if err != nil {
				return err
			}
			t.SetStaticDelay(n)
			return nil
		},
	})
}

// BindCounters registers the transmit subsystem's read-only
// counters.
func BindCounters(reg *Registry, c *metrics.Counters) {
	reg.Register(Param{
		Name:        "underruns",
		Description: "Cumulative count of UNDERFLOW/UNDERFLOW_IN_PACKET events.",
		Get:         func() string { return strconv.FormatUint(c.Underflows.Load(), 10) },
	})
	reg.Register(Param{
		Name:        "latepackets",
		Description: "Cumulative count of TIME_ERROR events.",
		Get:         func() string { return strconv.FormatUint(c.LatePackets.Load(), 10) },
	})
	reg.Register(Param{
		Name:        "frames",
		Description: "Cumulative count of frames sent to the SDR.",
		Get:         func() string { return strconv.FormatUint(c.FramesModulated.Load(), 10) },
	})
}
