package feedback

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/cwsl/dabmod/dabtime"
	"github.com/cwsl/dabmod/sample"
)

// Dumper writes a zstd-compressed copy of every completed capture to
// disk, for offline inspection when a DPD solver run needs to be
// replayed. The client/server exchange otherwise leaves no record
// once the TCP response is sent; the encoder is reused across writes
// at the default compression level.
type Dumper struct {
	dir     string
	encoder *zstd.Encoder
}

// NewDumper prepares dir to receive capture dumps. dir is created if
// it does not already exist.
func NewDumper(dir string) (*Dumper, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("feedback: create dump dir %s: %w", dir, err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("feedback: new zstd encoder: %w", err)
	}
	return &Dumper{dir: dir, encoder: enc}, nil
}

// Dump writes one capture's tx/rx sample pair, compressed, to a file
// named by the tx burst timestamp.
func (d *Dumper) Dump(tx sample.Buffer, txStamp dabtime.Stamp, rx sample.Buffer, rxStamp dabtime.Stamp) error {
	raw := make([]byte, 0, 8+8*len(tx)+8+8*len(rx))
	raw = appendComplexSamples(raw, tx)
	raw = appendComplexSamples(raw, rx)

	compressed := d.encoder.EncodeAll(raw, make([]byte, 0, len(raw)))

	name := fmt.Sprintf("capture-%d-%d.raw.zst", txStamp.Sec, txStamp.Pps)
	path := filepath.Join(d.dir, name)
	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		return fmt.Errorf("feedback: write dump %s: %w", path, err)
	}
	return nil
}

func (d *Dumper) Close() error {
	return d.encoder.Close()
}

func appendComplexSamples(buf []byte, samples sample.Buffer) []byte {
	for _, s := range samples {
		buf = appendFloat32(buf, float32(real(s)))
		buf = appendFloat32(buf, float32(imag(s)))
	}
	return buf
}

func appendFloat32(buf []byte, f float32) []byte {
	bits := math.Float32bits(f)
	return append(buf, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
}
