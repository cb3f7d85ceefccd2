package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFirmwareVersionExtractsToken(t *testing.T) {
	v, ok := firmwareVersion("serial=abc,fw=3.2.1,other=x")
	require.True(t, ok)
	require.Equal(t, "3.2.1", v)
}

func TestFirmwareVersionAbsent(t *testing.T) {
	_, ok := firmwareVersion("serial=abc")
	require.False(t, ok)
}

func TestCheckMinimumFirmwareRejectsOlder(t *testing.T) {
	err := checkMinimumFirmware("fw=3.9.0", "3.10.0")
	require.Error(t, err)
}

func TestCheckMinimumFirmwareAcceptsNewerNonLexical(t *testing.T) {
	// A naive string comparison would treat "3.9.0" > "3.10.0".
	err := checkMinimumFirmware("fw=3.10.0", "3.9.0")
	require.NoError(t, err)
}

func TestCheckMinimumFirmwareNoOpWhenUnset(t *testing.T) {
	require.NoError(t, checkMinimumFirmware("serial=abc", ""))
	require.NoError(t, checkMinimumFirmware("", "1.0.0"))
}
