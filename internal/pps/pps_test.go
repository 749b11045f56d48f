package pps

import (
	"context"
	"testing"
	"time"

	"github.com/banshee-data/gnssd/internal/gpstime"
	"github.com/banshee-data/gnssd/internal/timeutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource replays a fixed sequence of edges, then blocks until ctx
// is cancelled.
type scriptedSource struct {
	edges []Edge
	idx   int
}

func (s *scriptedSource) WaitEdge(ctx context.Context) (Edge, error) {
	if s.idx < len(s.edges) {
		e := s.edges[s.idx]
		s.idx++
		return e, nil
	}
	<-ctx.Done()
	return Edge{}, ctx.Err()
}

// rising is a small helper building an all-rising-edge stream, the shape
// most of these tests script: with every edge the same polarity,
// sameCycle sees a same-polarity predecessor on every edge after the
// first, so cycle length reduces to plain edge-to-edge spacing, matching
// this suite's pre-polarity test vectors exactly.
func rising(at gpstime.Spec) Edge { return Edge{At: at, Rising: true} }

func TestScenarioS4PPSCategorization(t *testing.T) {
	// Three edges 1s apart within tolerance: deltas of 1,000,003us and
	// 999,998us starting from an arbitrary base. Only the first two edges
	// are driven below.
	base := gpstime.Spec{Sec: 1570179093, Nsec: 0}
	edges := []Edge{
		rising(base),
		rising(base.Add(1_000_003 * time.Microsecond)),
		rising(base.Add(1_000_003*time.Microsecond + 999_998*time.Microsecond)),
	}
	src := &scriptedSource{edges: edges}

	in := &InBandFix{}
	in.Set(gpstime.Spec{Sec: 1570179094, Nsec: 0}, gpstime.Spec{Sec: 1570179093, Nsec: 998_000_000})

	out := make(chan Delta, 4)
	thread := NewThread(src, in, out)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Drive two edges manually: first just seeds lastEdge, second
	// triggers categorization and publication.
	e0, err := src.WaitEdge(ctx)
	require.NoError(t, err)
	thread.handleEdge(ctx, e0)

	e1, err := src.WaitEdge(ctx)
	require.NoError(t, err)
	thread.handleEdge(ctx, e1)

	select {
	case d := <-out:
		assert.Equal(t, int64(1570179095), d.Real.Sec)
		assert.Equal(t, int64(0), d.Real.Nsec)
	default:
		t.Fatal("expected a published delta")
	}
}

func TestScenarioS4CycleJumpRejected(t *testing.T) {
	base := gpstime.Spec{Sec: 1000, Nsec: 0}
	src := &scriptedSource{}
	in := &InBandFix{}
	in.Set(gpstime.Spec{Sec: 1001}, gpstime.Spec{Sec: 1000})
	out := make(chan Delta, 4)
	thread := NewThread(src, in, out)
	ctx := context.Background()

	thread.handleEdge(ctx, rising(base))
	// a 2.1s jump: it falls in the 0.5Hz band, but a 2.1s duration is not
	// the ~1s half of a 0.5Hz square wave, so the edge is skipped
	thread.handleEdge(ctx, rising(base.Add(2_100*time.Millisecond)))

	select {
	case <-out:
		t.Fatal("cycle-out-of-range edge should not publish")
	default:
	}
}

func TestCategorize(t *testing.T) {
	_, ok := categorize(190 * time.Millisecond)
	assert.True(t, ok)
	_, ok = categorize(1000 * time.Millisecond)
	assert.True(t, ok)
	_, ok = categorize(2000 * time.Millisecond)
	assert.True(t, ok)
	_, ok = categorize(50 * time.Millisecond)
	assert.False(t, ok)
}

// TestPPSSecondUniqueness exercises property 7: the publisher never
// publishes two deltas with the same real.Sec, even when a 5Hz pulse
// train delivers several qualifying edges while the in-band fix (and
// therefore the computed publish second) stays fixed.
func TestPPSSecondUniqueness(t *testing.T) {
	in := &InBandFix{}
	out := make(chan Delta, 8)
	thread := NewThread(&scriptedSource{}, in, out)
	ctx := context.Background()

	real := gpstime.Spec{Sec: 1000}
	in.Set(real, gpstime.Spec{Sec: 999, Nsec: 990_000_000})

	e0 := gpstime.Spec{Sec: 1000, Nsec: 0}
	e1 := e0.Add(190 * time.Millisecond)
	e2 := e1.Add(190 * time.Millisecond)

	thread.handleEdge(ctx, rising(e0))
	thread.handleEdge(ctx, rising(e1))
	thread.handleEdge(ctx, rising(e2))

	close(out)
	seen := map[int64]bool{}
	count := 0
	for d := range out {
		require.False(t, seen[d.Real.Sec], "duplicate publication of second %d", d.Real.Sec)
		seen[d.Real.Sec] = true
		count++
	}
	assert.Equal(t, 1, count, "the second qualifying edge should be rejected as already-published")
}

// TestHalfHzShortHalfSkipped exercises spec step 4's 0.5Hz rule: of a
// square wave's two halves, only the one that lasted about a second is
// eligible to publish. A short on-half followed by the matching 0.5Hz
// cycle must not publish.
func TestHalfHzShortHalfSkipped(t *testing.T) {
	in := &InBandFix{}
	in.Set(gpstime.Spec{Sec: 1001}, gpstime.Spec{Sec: 1000})
	out := make(chan Delta, 4)
	thread := NewThread(&scriptedSource{}, in, out)
	ctx := context.Background()

	base := gpstime.Spec{Sec: 1000, Nsec: 0}
	thread.handleEdge(ctx, Edge{At: base, Rising: true})
	thread.handleEdge(ctx, Edge{At: base.Add(50 * time.Millisecond), Rising: false})
	thread.handleEdge(ctx, Edge{At: base.Add(2000 * time.Millisecond), Rising: true})

	select {
	case <-out:
		t.Fatal("the short (non-1-sec) half of a 0.5Hz wave must not publish")
	default:
	}
}

// TestHalfHzOneSecondHalfPublishes is TestHalfHzShortHalfSkipped's
// counterpart: a half lasting about a second, at the matching 0.5Hz
// cycle, does publish.
func TestHalfHzOneSecondHalfPublishes(t *testing.T) {
	in := &InBandFix{}
	in.Set(gpstime.Spec{Sec: 1001}, gpstime.Spec{Sec: 1000})
	out := make(chan Delta, 4)
	thread := NewThread(&scriptedSource{}, in, out)
	ctx := context.Background()

	base := gpstime.Spec{Sec: 1000, Nsec: 0}
	thread.handleEdge(ctx, Edge{At: base, Rising: true})
	thread.handleEdge(ctx, Edge{At: base.Add(1000 * time.Millisecond), Rising: false})
	thread.handleEdge(ctx, Edge{At: base.Add(2000 * time.Millisecond), Rising: true})

	select {
	case d := <-out:
		assert.Equal(t, 1000*time.Millisecond, d.PulseWidth)
	default:
		t.Fatal("the 1-sec-long half of a 0.5Hz wave should publish")
	}
}

// TestAmbiguousSquareWavePrefersRisingEdge exercises spec step 4's 1Hz
// disambiguation rule: of an ambiguous ~500ms-duration square wave's two
// edges arriving at the same cycle length, only the rising one counts.
func TestAmbiguousSquareWavePrefersRisingEdge(t *testing.T) {
	in := &InBandFix{}
	in.Set(gpstime.Spec{Sec: 1001}, gpstime.Spec{Sec: 1000})
	out := make(chan Delta, 4)
	thread := NewThread(&scriptedSource{}, in, out)
	ctx := context.Background()

	base := gpstime.Spec{Sec: 1000, Nsec: 0}
	thread.handleEdge(ctx, Edge{At: base, Rising: true})
	thread.handleEdge(ctx, Edge{At: base.Add(500 * time.Millisecond), Rising: false})
	thread.handleEdge(ctx, Edge{At: base.Add(1000 * time.Millisecond), Rising: true})

	select {
	case d := <-out:
		assert.Equal(t, 500*time.Millisecond, d.PulseWidth)
	default:
		t.Fatal("the rising edge of an ambiguous 1Hz square wave should publish")
	}

	thread.handleEdge(ctx, Edge{At: base.Add(1500 * time.Millisecond), Rising: false})

	select {
	case <-out:
		t.Fatal("the falling edge of an ambiguous 1Hz square wave must not publish")
	default:
	}
}

func TestSeasonalLeapNotify(t *testing.T) {
	march := gpstime.FromTime(mustParse("2025-03-15T00:00:00Z"))
	december := gpstime.FromTime(mustParse("2025-12-15T00:00:00Z"))

	assert.Equal(t, LeapNone, seasonalLeapNotify(march, LeapAddSecond))
	assert.Equal(t, LeapAddSecond, seasonalLeapNotify(december, LeapAddSecond))
}

func TestMaybeBackoffWaitsOnInjectedClock(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	thread := NewThread(&scriptedSource{}, &InBandFix{}, make(chan Delta, 1))
	thread.Clock = clock
	thread.consecutiveRJ = rejectBackoffThreshold

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		thread.maybeBackoff(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		clock.Advance(rejectBackoffDuration)
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	assert.Equal(t, 0, thread.consecutiveRJ)
}

func TestMaybeBackoffNoOpBelowThreshold(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	thread := NewThread(&scriptedSource{}, &InBandFix{}, make(chan Delta, 1))
	thread.Clock = clock
	thread.consecutiveRJ = rejectBackoffThreshold - 1

	thread.maybeBackoff(context.Background())

	assert.Equal(t, rejectBackoffThreshold-1, thread.consecutiveRJ)
	assert.Empty(t, clock.Sleeps())
}

func mustParse(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}
