// Package gain implements the three DAB digital gain-control modes
// applied to the modulator's baseband symbol stream before
// predistortion.
package gain

import (
	"fmt"
	"math"
	"sync"

	"github.com/cwsl/dabmod/sample"
)

// Mode selects how the per-frame scale factor is computed.
type Mode int

const (
	// Fix multiplies by a fixed, user-supplied scalar. Kept for
	// academic transparency; not recommended for on-air use.
	Fix Mode = iota
	// Max normalises against the frame's peak magnitude. No
	// overshoot, but per-frame power varies.
	Max
	// Var normalises against the frame's sample standard deviation,
	// per the DAB standard. A small fraction of samples may exceed
	// magnitude 1; this is intentional, to maximise average power.
	Var
)

func (m Mode) String() string {
	switch m {
	case Fix:
		return "fix"
	case Max:
		return "max"
	case Var:
		return "var"
	default:
		return "unknown"
	}
}

// ParseMode parses the remote-control/config spelling of a gain
// mode ("fix", "max", "var").
func ParseMode(s string) (Mode, error) {
	switch s {
	case "fix":
		return Fix, nil
	case "max":
		return Max, nil
	case "var":
		return Var, nil
	default:
		return 0, fmt.Errorf("gain: unknown mode %q", s)
	}
}

// Control applies one gain mode to a frame of complex baseband
// samples. The zero value is not usable; construct with New.
//
// Control is thread-compatible: callers must serialise access, the
// same way GainControl.h guards digital_gain/mode/k under one mutex
// rather than fine-grained per-field locks.
type Control struct {
	mu sync.Mutex

	mode        Mode
	digitalGain float32
	k           float32 // VAR mode divisor constant, default 4
}

// Config seeds the initial Control state.
type Config struct {
	Mode        Mode
	DigitalGain float32
	K           float32 // VAR divisor; 0 means "use default 4"
}

// New builds a Control from a Config, applying the VAR-mode default.
func New(cfg Config) *Control {
	k := cfg.K
	if k == 0 {
		k = 4
	}
	return &Control{
		mode:        cfg.Mode,
		digitalGain: cfg.DigitalGain,
		k:           k,
	}
}

// SetMode reconfigures the gain mode at runtime.
func (c *Control) SetMode(m Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = m
}

// SetDigitalGain reconfigures the digital_gain scalar at runtime.
func (c *Control) SetDigitalGain(g float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.digitalGain = g
}

// SetK reconfigures the VAR-mode divisor constant at runtime.
func (c *Control) SetK(k float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.k = k
}

// Snapshot returns the current mode, digital_gain and k, for the
// remote-control surface's read path.
func (c *Control) Snapshot() (Mode, float32, float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode, c.digitalGain, c.k
}

// Process writes the gain-adjusted frame into dst, which must have
// exactly the same length as src. Process has no side effects beyond
// reading the current mode/digitalGain/k snapshot.
func (c *Control) Process(dst, src sample.Buffer) error {
	if len(dst) != len(src) {
		return fmt.Errorf("gain: dst length %d != src length %d", len(dst), len(src))
	}
	if len(src) == 0 {
		return nil
	}

	mode, digitalGain, k := c.Snapshot()

	var scale float64
	switch mode {
	case Fix:
		scale = float64(digitalGain)
	case Max:
		scale = float64(digitalGain) * 32768 / peakMagnitude(src)
	case Var:
		scale = float64(digitalGain) / (float64(k) * float64(stddev(src)))
	default:
		return fmt.Errorf("gain: unknown mode %v", mode)
	}

	for i, s := range src {
		dst[i] = sample.Complex(complex(float32(float64(real(s))*scale), float32(float64(imag(s))*scale)))
	}
	return nil
}

func peakMagnitude(buf sample.Buffer) float64 {
	var peak float64
	for _, s := range buf {
		m := cmplxAbs(s)
		if m > peak {
			peak = m
		}
	}
	if peak == 0 {
		return 1
	}
	return peak
}

// stddev computes the sample standard deviation across both the I and
// Q rails of buf treated as one population of 2*len(buf) real values,
// per the DAB-standard VAR gain mode definition: it is this quantity,
// not the magnitude distribution, that ETSI TS 102 563 normalises
// against so that a circularly-symmetric Gaussian baseband signal
// clips its rails only rarely at k=4.
func stddev(buf sample.Buffer) float32 {
	n := len(buf)
	if n == 0 {
		return 1
	}

	var sum float64
	for _, s := range buf {
		sum += float64(real(s)) + float64(imag(s))
	}
	mean := sum / float64(2*n)

	var variance float64
	for _, s := range buf {
		dr := float64(real(s)) - mean
		di := float64(imag(s)) - mean
		variance += dr*dr + di*di
	}
	variance /= float64(2 * n)

	sd := float32(math.Sqrt(variance))
	if sd == 0 {
		return 1
	}
	return sd
}

func cmplxAbs(s sample.Complex) float64 {
	r, i := float64(real(s)), float64(imag(s))
	return math.Hypot(r, i)
}
