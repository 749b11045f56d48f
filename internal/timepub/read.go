package timepub

// Snapshot is a point-in-time read of a segment's published fields, for a
// diagnostic monitor (cmd/tools/shmmon) rather than a real refclock
// consumer.
type Snapshot struct {
	Count                int32
	ClockTimeStampSec    int64
	ClockTimeStampNSec   uint32
	ReceiveTimeStampSec  int64
	ReceiveTimeStampNSec uint32
	Leap                 int32
	Precision            int32
	Valid                int32
}

// Index returns the segment's index, for labeling a monitor's output.
func (s *Segment) Index() int { return s.index }

// Read takes a torn-read-free snapshot of s's current fields, retrying
// the count-bracket read (per Write's documented protocol: the count is odd
// while a write is in progress, so a snapshot is consistent when the two
// count samples are equal and even) up to a small bounded number of
// attempts rather than spinning forever against a writer that has
// stalled mid-update.
func Read(s *Segment) (Snapshot, bool) {
	p := s.ptr()
	for attempt := 0; attempt < 8; attempt++ {
		before := p.Count
		snap := Snapshot{
			Count:                before,
			ClockTimeStampSec:    p.ClockTimeStampSec,
			ClockTimeStampNSec:   p.ClockTimeStampNSec,
			ReceiveTimeStampSec:  p.ReceiveTimeStampSec,
			ReceiveTimeStampNSec: p.ReceiveTimeStampNSec,
			Leap:                 p.Leap,
			Precision:            p.Precision,
			Valid:                p.Valid,
		}
		after := p.Count
		if before == after && before%2 == 0 {
			return snap, true
		}
	}
	return Snapshot{}, false
}
