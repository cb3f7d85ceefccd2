package predistort

import (
	"math"

	"github.com/cwsl/dabmod/sample"
)

// applyPolynomial implements the memoryless AM/AM + AM/PM odd-order
// polynomial predistortion model, evaluating cos/sin with low-order
// Taylor approximations around 0. These are only accurate while |phi|
// stays small, which holds over the working range of a well-behaved
// amplifier model.
func applyPolynomial(dst, src sample.Buffer, c *Coefficients) {
	for i, x := range src {
		s := float64(real(x))*float64(real(x)) + float64(imag(x))*float64(imag(x))

		a := horner5(c.AM, s)
		phi := -horner5(c.PM, s)

		phi2 := phi * phi
		phi4 := phi2 * phi2
		phi6 := phi4 * phi2

		cosPhi := 1 - 0.5*phi2 + 0.486666*phi4 - 0.00138888*phi6
		sinPhi := phi * (1 + 0.166666*phi2 + 0.00833333*phi4)

		re := float64(real(x))*a*cosPhi - float64(imag(x))*a*sinPhi
		im := float64(real(x))*a*sinPhi + float64(imag(x))*a*cosPhi
		dst[i] = sample.Complex(complex(float32(re), float32(im)))
	}
}

// horner5 evaluates c0 + s*(c1 + s*(c2 + s*(c3 + s*c4))) for the
// five odd-order coefficients in c, keyed by power-of-s (not power
// of x): this is Horner's rule applied to the |x|^2 polynomial,
// c[0..4] corresponding to orders 1,3,5,7,9.
func horner5(c [NumPolyCoeffs]float32, s float64) float64 {
	return float64(c[0]) + s*(float64(c[1])+s*(float64(c[2])+s*(float64(c[3])+s*float64(c[4]))))
}

// applyLUT implements the magnitude-indexed lookup table
// predistortion model: the upper 5 bits of a 32-bit scaled magnitude
// select one of 32 bins.
func applyLUT(dst, src sample.Buffer, c *Coefficients, stats *Stats) {
	for i, x := range src {
		mag := cmplxAbs(x)
		scaled64 := uint64(float64(mag) * float64(c.ScaleFactor))
		var idx uint64
		if scaled64 > math.MaxUint32 {
			idx = NumLUTEntries - 1
			stats.ClampedSamples.Add(1)
		} else {
			idx = uint64(uint32(scaled64) >> 27)
			if idx >= NumLUTEntries {
				idx = NumLUTEntries - 1
				stats.ClampedSamples.Add(1)
			}
		}
		dst[i] = x * sample.Complex(c.LUT[idx])
	}
}

func cmplxAbs(x sample.Complex) float32 {
	r, i := float64(real(x)), float64(imag(x))
	return float32(math.Sqrt(r*r + i*i))
}
