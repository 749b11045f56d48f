package timepub

import (
	"testing"

	"github.com/banshee-data/gnssd/internal/gpstime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadReturnsWrittenFields(t *testing.T) {
	seg, _ := newTestSegment()
	Write(seg, gpstime.Spec{Sec: 500, Nsec: 1000}, gpstime.Spec{Sec: 499, Nsec: 2000}, LeapAddSecond, -20)

	snap, ok := Read(seg)
	require.True(t, ok)
	assert.Equal(t, int32(2), snap.Count)
	assert.Equal(t, int64(500), snap.ReceiveTimeStampSec)
	assert.Equal(t, int64(499), snap.ClockTimeStampSec)
	assert.Equal(t, int32(LeapAddSecond), snap.Leap)
	assert.Equal(t, int32(1), snap.Valid)
}

func TestSegmentIndexReturnsConstructedIndex(t *testing.T) {
	seg := &Segment{index: 3}
	assert.Equal(t, 3, seg.Index())
}
