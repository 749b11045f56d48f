package gnsslog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLoggerCapturesOutput(t *testing.T) {
	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, format)
	})
	defer SetLogger(nil)

	Prog("resync after %d bytes", 3)
	Warn("config write failed: %v", assert.AnError)

	require := assert.New(t)
	require.Len(got, 2)
	require.Equal("prog: resync after %d bytes", got[0])
	require.Equal("warn: config write failed: %v", got[1])
}

func TestSetLoggerNilInstallsNoOp(t *testing.T) {
	SetLogger(nil)
	defer SetLogger(nil)
	assert.NotPanics(t, func() { Logf("anything %d", 1) })
}
