package etisource

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/cwsl/dabmod/dabtime"
	"github.com/cwsl/dabmod/sample"
)

// FileSource is a reference Source that replays raw interleaved
// float32 I/Q samples from a file, synthesising a monotonically
// advancing timestamp for each frame. It exists for tests and local
// trials: a raw binary sample format read with encoding/binary
// rather than a generic codec.
type FileSource struct {
	file        *os.File
	mode        Mode
	sampleRate  uint32
	frameLen    int
	stamp       dabtime.Stamp
	fct         int32
}

// OpenFileSource opens path for reading raw little-endian
// interleaved float32 I/Q samples, framed at frameLen samples per
// frame. frameLen is normally mode.FrameSamples(), but is taken
// explicitly so test fixtures can use a smaller frame size.
func OpenFileSource(path string, mode Mode, sampleRate uint32, frameLen int) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("etisource: open %s: %w", path, err)
	}
	return &FileSource{
		file:       f,
		mode:       mode,
		sampleRate: sampleRate,
		frameLen:   frameLen,
		stamp:      dabtime.Stamp{Valid: true, Refresh: true},
	}, nil
}

// NextFrame reads one frame's worth of samples. At end of file it
// returns io.EOF.
func (fs *FileSource) NextFrame() (sample.Frame, Mode, error) {
	buf := make(sample.Buffer, fs.frameLen)
	raw := make([]float32, 2*fs.frameLen)
	if err := binary.Read(fs.file, binary.LittleEndian, raw); err != nil {
		if err == io.ErrUnexpectedEOF {
			return sample.Frame{}, fs.mode, io.EOF
		}
		return sample.Frame{}, fs.mode, err
	}
	for i := range buf {
		buf[i] = sample.Complex(complex(raw[2*i], raw[2*i+1]))
	}

	frame := sample.Frame{
		Samples: buf,
		Stamp:   fs.stamp,
		FCT:     fs.fct,
		Refresh: fs.stamp.Refresh,
	}

	fs.stamp = fs.stamp.AddSamples(uint64(fs.frameLen), fs.sampleRate)
	fs.stamp.Refresh = false
	fs.fct = (fs.fct + 1) % 250

	return frame, fs.mode, nil
}

// Close releases the underlying file handle.
func (fs *FileSource) Close() error {
	return fs.file.Close()
}
