package predistort

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Kind selects which DPD coefficient representation is active.
type Kind int

const (
	// KindNone means no coefficients have ever been loaded; the
	// Predistorter runs as a pass-through.
	KindNone Kind = iota
	// KindPolynomial is the memoryless AM/AM + AM/PM odd-order
	// polynomial model.
	KindPolynomial
	// KindLUT is the 32-entry magnitude-indexed lookup table model.
	KindLUT
)

// NumPolyCoeffs is the number of odd-order coefficients in each of
// the AM/AM and AM/PM polynomial arrays (orders 1, 3, 5, 7, 9).
const NumPolyCoeffs = 5

// NumLUTEntries is the number of bins in the magnitude lookup table,
// selected by the upper 5 bits of a scaled 32-bit magnitude.
const NumLUTEntries = 32

// Coefficients holds one fully-loaded, immutable DPD coefficient set.
// The polynomial and LUT variants are mutually exclusive; Kind
// determines which fields are meaningful. Coefficients is never
// mutated after construction, which is what lets Predistorter swap
// the active pointer atomically without ever exposing a torn mix
// of old and new values to a frame being processed.
type Coefficients struct {
	Kind Kind

	// Polynomial variant.
	AM [NumPolyCoeffs]float32
	PM [NumPolyCoeffs]float32

	// LUT variant.
	LUT         [NumLUTEntries]complex64
	ScaleFactor float32
}

// PassThrough returns the coefficient set that makes Apply a no-op:
// AM[0]=1, everything else zero.
func PassThrough() *Coefficients {
	c := &Coefficients{Kind: KindPolynomial}
	c.AM[0] = 1
	return c
}

// LoadFile parses the coefficient file format: whitespace-separated
// text, first token a format indicator (1 =
// polynomial, 2 = LUT). A parse failure returns an error and must
// leave the caller's currently active coefficients untouched -- the
// caller (Predistorter.LoadCoefficients) only swaps in the result once
// LoadFile has returned successfully.
func LoadFile(path string) (*Coefficients, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("predistort: open coefficient file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads the coefficient file format from r. See LoadFile.
func Parse(r io.Reader) (*Coefficients, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)

	next := func(what string) (string, error) {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", fmt.Errorf("predistort: reading %s: %w", what, err)
			}
			return "", fmt.Errorf("predistort: unexpected end of file reading %s", what)
		}
		return sc.Text(), nil
	}
	nextFloat := func(what string) (float32, error) {
		tok, err := next(what)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseFloat(tok, 32)
		if err != nil {
			return 0, fmt.Errorf("predistort: parsing %s %q: %w", what, tok, err)
		}
		return float32(v), nil
	}

	formatTok, err := next("format indicator")
	if err != nil {
		return nil, err
	}
	format, err := strconv.Atoi(formatTok)
	if err != nil {
		return nil, fmt.Errorf("predistort: invalid format indicator %q: %w", formatTok, err)
	}

	switch format {
	case 1:
		countTok, err := next("coefficient count")
		if err != nil {
			return nil, err
		}
		count, err := strconv.Atoi(countTok)
		if err != nil {
			return nil, fmt.Errorf("predistort: invalid coefficient count %q: %w", countTok, err)
		}
		if count != NumPolyCoeffs {
			return nil, fmt.Errorf("predistort: expected %d coefficients, file declares %d", NumPolyCoeffs, count)
		}

		c := &Coefficients{Kind: KindPolynomial}
		for i := 0; i < NumPolyCoeffs; i++ {
			v, err := nextFloat(fmt.Sprintf("AM coefficient %d", i))
			if err != nil {
				return nil, err
			}
			c.AM[i] = v
		}
		for i := 0; i < NumPolyCoeffs; i++ {
			v, err := nextFloat(fmt.Sprintf("PM coefficient %d", i))
			if err != nil {
				return nil, err
			}
			c.PM[i] = v
		}
		return c, nil

	case 2:
		scale, err := nextFloat("scalefactor")
		if err != nil {
			return nil, err
		}
		c := &Coefficients{Kind: KindLUT, ScaleFactor: scale}
		for i := 0; i < NumLUTEntries; i++ {
			v, err := nextFloat(fmt.Sprintf("LUT entry %d", i))
			if err != nil {
				return nil, err
			}
			c.LUT[i] = complex(v, 0)
		}
		return c, nil

	default:
		return nil, fmt.Errorf("predistort: unknown format indicator %d", format)
	}
}
