package predistort

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cwsl/dabmod/dabtime"
	"github.com/cwsl/dabmod/sample"
)

func makeFrame(n int, seed float32) sample.Frame {
	buf := make(sample.Buffer, n)
	for i := range buf {
		buf[i] = sample.Complex(complex(seed+float32(i), -float32(i)*0.5))
	}
	return sample.Frame{Samples: buf, Stamp: dabtime.Stamp{Sec: 1, Pps: 2}, FCT: 3}
}

// TestPassThrough verifies that with the zero-order
// polynomial, output equals input within 1e-6 per sample.
func TestPassThrough(t *testing.T) {
	p := New(4)
	defer p.Close()

	in := makeFrame(256, 1)

	// Drive PipelineDelay+1 frames through so we observe frame 0's
	// processed output.
	p.Process(in)
	p.Process(makeFrame(256, 2))
	out := p.Process(makeFrame(256, 3))

	require.Len(t, out.Samples, len(in.Samples))
	for i := range in.Samples {
		require.InDelta(t, real(in.Samples[i]), real(out.Samples[i]), 1e-6)
		require.InDelta(t, imag(in.Samples[i]), imag(out.Samples[i]), 1e-6)
	}
}

// TestPipelineDelay verifies that frame N's output is
// emitted when frame N+2 is submitted, and the first two emitted
// frames are documented pre-roll silence.
func TestPipelineDelay(t *testing.T) {
	p := New(2)
	defer p.Close()

	frames := make([]sample.Frame, 5)
	for i := range frames {
		frames[i] = makeFrame(64, float32(i+1))
	}

	out0 := p.Process(frames[0])
	for _, s := range out0.Samples {
		require.Equal(t, sample.Complex(0), s)
	}
	require.True(t, out0.Refresh)

	out1 := p.Process(frames[1])
	for _, s := range out1.Samples {
		require.Equal(t, sample.Complex(0), s)
	}

	out2 := p.Process(frames[2])
	for i := range frames[0].Samples {
		require.InDelta(t, real(frames[0].Samples[i]), real(out2.Samples[i]), 1e-6)
	}

	out3 := p.Process(frames[3])
	for i := range frames[1].Samples {
		require.InDelta(t, real(frames[1].Samples[i]), real(out3.Samples[i]), 1e-6)
	}
}

func TestLUTClampsToTopIndex(t *testing.T) {
	p := New(1)
	defer p.Close()

	var c Coefficients
	c.Kind = KindLUT
	c.ScaleFactor = 1 << 30
	for i := range c.LUT {
		c.LUT[i] = complex(float32(i+1), 0)
	}
	p.coeffs.Store(&c)

	huge := sample.Complex(complex(1e9, 0))
	in := sample.Frame{Samples: sample.Buffer{huge, huge, huge}}

	p.Process(in)
	p.Process(in)
	out := p.Process(in)

	for _, s := range out.Samples {
		expected := huge * sample.Complex(complex(float32(NumLUTEntries), 0))
		require.InDelta(t, real(expected), real(s), float64(real(expected))*1e-3)
	}
}

// TestReloadAtomicity verifies that concurrent
// reloads and processing never yield a torn mix of old/new
// coefficients within one output frame.
func TestReloadAtomicity(t *testing.T) {
	p := New(4)
	defer p.Close()

	coefA := writePolyFile(t, 1)
	coefB := writePolyFile(t, 2)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		toggle := false
		for {
			select {
			case <-stop:
				return
			default:
			}
			path := coefA
			if toggle {
				path = coefB
			}
			toggle = !toggle
			_ = p.LoadCoefficients(path)
		}
	}()

	in := makeFrame(128, 1)
	for i := 0; i < 200; i++ {
		out := p.Process(in)
		// Every sample in one frame must have been produced with a
		// single gain value: either all ~1x or all ~2x, never a mix.
		if len(out.Samples) > 0 && out.Samples[0] != 0 {
			ratio := real(out.Samples[0]) / real(in.Samples[0])
			for i, s := range out.Samples {
				r := real(s) / real(in.Samples[i])
				require.InDelta(t, float64(ratio), float64(r), 1e-2)
			}
		}
	}
	close(stop)
	wg.Wait()
}

func writePolyFile(t *testing.T, gain float32) string {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/coef.txt"
	var sb strings.Builder
	fmt.Fprintf(&sb, "1 5 %f 0 0 0 0 0 0 0 0 0\n", gain)
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}
