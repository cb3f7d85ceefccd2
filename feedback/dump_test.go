package feedback

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	"github.com/cwsl/dabmod/dabtime"
	"github.com/cwsl/dabmod/sample"
)

func TestDumperWritesDecompressableCapture(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDumper(dir)
	require.NoError(t, err)
	defer d.Close()

	tx := sample.Buffer{1, 2}
	rx := sample.Buffer{3}

	require.NoError(t, d.Dump(tx, dabtime.Stamp{Sec: 10, Pps: 1}, rx, dabtime.Stamp{Sec: 10, Pps: 2}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	compressed, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()

	raw, err := dec.DecodeAll(compressed, nil)
	require.NoError(t, err)
	require.Equal(t, 8*len(tx)+8*len(rx), len(raw))
}
