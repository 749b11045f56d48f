package fix

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestZeroIsAllNaN(t *testing.T) {
	f := Zero()
	assert.Equal(t, ModeNoFix, f.Mode)
	assert.True(t, math.IsNaN(f.Lat))
	assert.True(t, math.IsNaN(f.Lon))
	assert.True(t, math.IsNaN(f.EPH))
}

func TestValidRequiresLatLonAt2DOrBetter(t *testing.T) {
	f := Zero()
	f.Mode = Mode2D
	assert.False(t, f.Valid())

	f.Lat, f.Lon = 51.5, -0.1
	assert.True(t, f.Valid())
}

func TestValidNoFixAlwaysOK(t *testing.T) {
	f := Zero()
	assert.True(t, f.Valid())
}

func TestSkyviewAddTruncates(t *testing.T) {
	var sv Skyview
	for i := 0; i < maxSatellites+10; i++ {
		sv.Add(SatelliteInfo{PRN: i})
	}
	assert.Equal(t, maxSatellites, sv.Count)
}

func TestSkyviewUsedNeverExceedsCount(t *testing.T) {
	var sv Skyview
	sv.Add(SatelliteInfo{PRN: 1, Used: true})
	sv.Add(SatelliteInfo{PRN: 2, Used: false})
	sv.Add(SatelliteInfo{PRN: 3, Used: true})

	assert.Equal(t, 3, sv.Count)
	assert.Equal(t, 2, sv.Used())
	assert.LessOrEqual(t, sv.Used(), sv.Count)
}
