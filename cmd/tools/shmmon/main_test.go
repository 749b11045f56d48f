package main

import (
	"testing"
	"time"

	"github.com/banshee-data/gnssd/internal/timepub"
	"github.com/stretchr/testify/assert"
)

func TestSnapshotOffsetComputesSignedDuration(t *testing.T) {
	snap := timepub.Snapshot{
		ClockTimeStampSec:    100,
		ClockTimeStampNSec:   0,
		ReceiveTimeStampSec:  100,
		ReceiveTimeStampNSec: 250_000_000,
	}
	clock, receive, offset := snapshotOffset(snap)
	assert.Equal(t, int64(100), clock.Sec)
	assert.Equal(t, int64(100), receive.Sec)
	assert.Equal(t, 250*time.Millisecond, offset)
}
