package ioport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDefaults(t *testing.T) {
	opts, err := LineSettings{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, 4800, opts.BaudRate)
	assert.Equal(t, 1, opts.StopBits)
	assert.Equal(t, "N", opts.Parity)
}

func TestNormalizeRejectsBadStopBits(t *testing.T) {
	_, err := LineSettings{StopBits: 3}.Normalize()
	assert.Error(t, err)
}

func TestNormalizeAcceptsParityAliases(t *testing.T) {
	opts, err := LineSettings{Parity: "e"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "E", opts.Parity)
}

func TestNormalizeRejectsBadParity(t *testing.T) {
	_, err := LineSettings{Parity: "X"}.Normalize()
	assert.Error(t, err)
}

func TestSerialModeMapsFields(t *testing.T) {
	mode, err := LineSettings{BaudRate: 38400, StopBits: 2, Parity: "E"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 38400, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
}

func TestCandidateRatesOrdered(t *testing.T) {
	require.Equal(t, []int{4800, 9600, 19200, 38400, 57600, 115200}, CandidateRates)
}
