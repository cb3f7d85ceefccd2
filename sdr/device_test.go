package sdr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigValidateRejectsLOOffsetAtOrBeyondHalfMasterClock(t *testing.T) {
	cfg := Config{MasterClockRate: 32768000, LOOffsetHz: 16384000}
	require.Error(t, cfg.Validate())

	cfg.LOOffsetHz = 16384001
	require.Error(t, cfg.Validate())
}

func TestConfigValidateAcceptsSmallLOOffset(t *testing.T) {
	cfg := Config{MasterClockRate: 32768000, LOOffsetHz: 1000000}
	require.NoError(t, cfg.Validate())
}

func TestCheckAchievedRateWithinTolerance(t *testing.T) {
	require.NoError(t, CheckAchievedRate("tx_rate", 2048000, 2048000.001))
}

func TestCheckAchievedRateBeyondTolerance(t *testing.T) {
	require.Error(t, CheckAchievedRate("tx_rate", 2048000, 2048003))
}
