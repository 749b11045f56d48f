package main

import (
	"math"
	"testing"

	"github.com/banshee-data/gnssd/internal/driver"
	"github.com/banshee-data/gnssd/internal/fix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNanToPtrOmitsNaN(t *testing.T) {
	assert.Nil(t, nanToPtr(math.NaN()))
	got := nanToPtr(46.5)
	require.NotNil(t, got)
	assert.Equal(t, 46.5, *got)
}

func TestToDumpFixOmitsUnsetFields(t *testing.T) {
	f := fix.Zero()
	f.Lat = 46.5
	d := toDumpFix(f)
	require.NotNil(t, d.Lat)
	assert.Equal(t, 46.5, *d.Lat)
	assert.Nil(t, d.Lon)
	assert.Nil(t, d.Climb)
}

func TestToDumpSkyviewReportsUsedCount(t *testing.T) {
	sky := fix.Skyview{}
	d := toDumpSkyview(sky)
	assert.Equal(t, 0, d.Count)
	assert.Equal(t, 0, d.Used)
}

func TestDumpSessionTracksLeapSeconds(t *testing.T) {
	reg := driver.NewRegistry()
	reg.Freeze()
	ctx := driver.NewContext(reg, true)
	sess := newDumpSession(ctx)

	sess.SetLeapSeconds(18)
	assert.Equal(t, 18, sess.LeapSeconds())
	assert.Equal(t, 18, ctx.LeapSeconds())
}
