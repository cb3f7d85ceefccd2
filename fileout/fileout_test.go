package fileout

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cwsl/dabmod/dabtime"
	"github.com/cwsl/dabmod/sample"
	"github.com/cwsl/dabmod/sdr"
)

func TestSendAppendsSamplesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.raw")
	dev, err := Create(path)
	require.NoError(t, err)

	n, err := dev.Send(context.Background(), sdr.Burst{Samples: make(sample.Buffer, 5)})
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.NoError(t, dev.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(5*8), info.Size())
}

func TestReceiveBurstUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.raw")
	dev, err := Create(path)
	require.NoError(t, err)
	defer dev.Close()

	_, _, err = dev.ReceiveBurst(context.Background(), dabtime.Stamp{}, 10)
	require.ErrorIs(t, err, sdr.ErrUnsupported)
}

func TestSensorUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.raw")
	dev, err := Create(path)
	require.NoError(t, err)
	defer dev.Close()

	_, err = dev.Sensor("ref_locked")
	require.ErrorIs(t, err, sdr.ErrNoSensor)
}

func TestAchievedRatesMatchesConfigure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.raw")
	dev, err := Create(path)
	require.NoError(t, err)
	defer dev.Close()

	cfg := sdr.Config{MasterClockRate: 32768000, SampleRate: 2048000}
	require.NoError(t, dev.Configure(context.Background(), cfg))

	masterClock, sampleRate := dev.AchievedRates()
	require.Equal(t, float64(cfg.MasterClockRate), masterClock)
	require.Equal(t, float64(cfg.SampleRate), sampleRate)
	require.NoError(t, sdr.CheckAchievedRate("master_clock_rate", cfg.MasterClockRate, masterClock))
	require.NoError(t, sdr.CheckAchievedRate("tx_rate", cfg.SampleRate, sampleRate))
}
