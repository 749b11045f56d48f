// Package pps implements the pulse-per-second timing thread: a per-device
// goroutine that captures hardware edge timestamps, categorizes the pulse
// shape, correlates them with the session's last in-band fix time, and
// publishes a time-delta for external time daemons.
package pps

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/gnssd/internal/gnsslog"
	"github.com/banshee-data/gnssd/internal/gpstime"
	"github.com/banshee-data/gnssd/internal/timeutil"
)

// Edge is a single observed transition: the system-clock time the kernel
// saw it, and whether it was rising (line went low-to-high) or falling.
// Polarity is what lets handleEdge tell a pulse's duration from its
// cycle length instead of treating every wakeup as an equivalent tick.
type Edge struct {
	At     gpstime.Spec
	Rising bool
}

// EdgeSource abstracts the two hardware inputs described in the spec: a
// kernel RFC-2783 PPS descriptor, or a TIOCMIWAIT-style control-line
// watcher. Both ultimately deliver a clock-read, polarity-tagged edge.
type EdgeSource interface {
	// WaitEdge blocks until an edge occurs or ctx is cancelled, returning
	// the system-clock time the kernel observed it and its polarity.
	WaitEdge(ctx context.Context) (Edge, error)
}

// InBandFix is the narrow, mutex-guarded view onto the session's last
// in-band fix time the PPS thread needs: the receiver-reported second
// boundary and the system-clock time it was captured at.
type InBandFix struct {
	mu    sync.Mutex
	real  gpstime.Spec
	clock gpstime.Spec
	valid bool
}

// Set records a new in-band fix snapshot, called by the main thread on
// every fix update. Held for the duration of a struct copy only.
func (f *InBandFix) Set(real, clock gpstime.Spec) {
	f.mu.Lock()
	f.real, f.clock, f.valid = real, clock, true
	f.mu.Unlock()
}

// Get returns the last recorded in-band fix snapshot.
func (f *InBandFix) Get() (real, clock gpstime.Spec, valid bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.real, f.clock, f.valid
}

// LeapNotify mirrors the spec's leap-notify enum.
type LeapNotify int

const (
	LeapNone LeapNotify = iota
	LeapAddSecond
	LeapDeleteSecond
	LeapUnknown
)

// Delta is one published time-delta: the GPS second boundary this pulse
// marks, and the system clock at the moment the kernel saw the edge.
type Delta struct {
	Real  gpstime.Spec
	Clock gpstime.Spec
	Leap  LeapNotify

	// PulseWidth is the measured duration since the previous edge of
	// either polarity (the half-cycle, or full low/high time of a
	// square wave), used upstream of publication to filter the "off"
	// half of a 0.5Hz wave and to disambiguate an ambiguous 1Hz square
	// wave; carried into Delta purely for diagnostics.
	PulseWidth time.Duration
}

// Pulse categorization thresholds, in the spec's normative ranges.
const (
	cycle5HzMin  = 180 * time.Millisecond
	cycle5HzMax  = 201 * time.Millisecond
	cycle1HzMin  = 900 * time.Millisecond
	cycle1HzMax  = 1100 * time.Millisecond
	cycleHalfMin = 1800 * time.Millisecond
	cycleHalfMax = 2200 * time.Millisecond

	squareWaveCenter = 500 * time.Millisecond
	squareWaveSlop   = 55 * time.Millisecond

	// maxFixAge bounds how stale the in-band fix may be relative to an
	// edge, allowing for chronyd's 8.33% slew budget on top of the
	// nominal one-second cycle.
	maxFixAge = 1100 * time.Millisecond

	rejectBackoffThreshold = 10
	rejectBackoffDuration  = 10 * time.Second
)

// Thread runs one device's PPS capture loop and publishes Delta values on
// Out. Reject reasons are recorded for diagnostics and tests.
type Thread struct {
	Source EdgeSource
	In     *InBandFix
	Out    chan<- Delta

	// OnReject, if set, is called with the formatted reject reason and
	// the time it occurred, letting callers persist a rejection history
	// (e.g. internal/store) without this package depending on storage.
	OnReject func(reason string, at time.Time)

	// Clock abstracts time.Now/time.After for the reject timestamp and
	// the backoff wait, letting tests drive the 10-second backoff with a
	// timeutil.MockClock instead of a real sleep. Defaults to RealClock.
	Clock timeutil.Clock

	published    map[int64]bool
	lastEdge     Edge
	haveLastEdge bool

	// lastRising/lastFalling track the most recent edge of each polarity
	// separately from lastEdge, so cycle length can be measured
	// rising-to-rising (or falling-to-falling) even though lastEdge
	// itself advances on every wakeup regardless of polarity.
	lastRising    Edge
	haveRising    bool
	lastFalling   Edge
	haveFalling   bool
	consecutiveRJ int

	// jitter retains recent offset samples for variance reporting via
	// gonum/stat; it is purely diagnostic and never gates publication.
	jitterSamples []float64
}

// NewThread constructs a Thread ready to Run.
func NewThread(src EdgeSource, in *InBandFix, out chan<- Delta) *Thread {
	return &Thread{Source: src, In: in, Out: out, Clock: timeutil.RealClock{}, published: make(map[int64]bool)}
}

// Run blocks, capturing edges and publishing deltas, until ctx is
// cancelled — the thread's documented cancellation contract.
func (t *Thread) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		edge, err := t.Source.WaitEdge(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.reject("wait error: %v", err)
			continue
		}
		t.handleEdge(ctx, edge)
	}
}

func (t *Thread) handleEdge(ctx context.Context, edge Edge) {
	if !t.haveLastEdge {
		t.seedEdge(edge)
		return
	}
	duration := edge.At.Sub(t.lastEdge.At)
	t.lastEdge = edge

	cycle, ok := t.sameCycle(edge)
	if edge.Rising {
		t.lastRising, t.haveRising = edge, true
	} else {
		t.lastFalling, t.haveFalling = edge, true
	}
	if !ok {
		// No prior edge of this polarity yet: nothing to compare cycle
		// length against, so this wakeup only seeds the per-polarity
		// tracker.
		return
	}

	kind, ok := categorize(cycle)
	if !ok {
		t.reject("cycle out of range: %s", cycle)
		t.maybeBackoff(ctx)
		return
	}

	switch kind {
	case "0.5hz":
		// A 0.5Hz square wave's cycle spans both its on and off half;
		// only the half that lasted about a second is the one the spec
		// says counts. The other half is silently skipped, not
		// rejected, since it is expected and not a capture fault.
		if duration < cycle1HzMin || duration > cycle1HzMax {
			return
		}
	case "1hz":
		// An ambiguous ~500ms-duration 1Hz square wave could be either
		// half; the spec says prefer the rising edge, so the falling
		// half of an ambiguous pair is skipped.
		if isAmbiguousSquareWave(duration) && !edge.Rising {
			return
		}
	}

	real, clock, valid := t.In.Get()
	if !valid {
		t.reject("no in-band fix available")
		t.maybeBackoff(ctx)
		return
	}
	if staleness := edge.At.Sub(real); staleness > maxFixAge || staleness < -maxFixAge {
		t.reject("in-band fix too stale: edge=%s fix=%s", edge.At, real)
		t.maybeBackoff(ctx)
		return
	}

	publishSec := real.Sec + 1
	if t.published[publishSec] {
		t.reject("second %d already published", publishSec)
		t.maybeBackoff(ctx)
		return
	}

	publishReal := gpstime.Spec{Sec: publishSec, Nsec: 0}
	offset := publishReal.Sub(clock)
	t.jitterSamples = append(t.jitterSamples, float64(offset.Nanoseconds()))
	if len(t.jitterSamples) > 64 {
		t.jitterSamples = t.jitterSamples[1:]
	}

	t.published[publishSec] = true
	t.consecutiveRJ = 0

	select {
	case t.Out <- Delta{Real: publishReal, Clock: edge.At, Leap: seasonalLeapNotify(publishReal, LeapNone), PulseWidth: duration}:
	case <-ctx.Done():
	}
}

// seedEdge records the first observed edge, priming both the raw
// last-edge tracker and the per-polarity tracker matching its polarity.
func (t *Thread) seedEdge(edge Edge) {
	t.lastEdge = edge
	t.haveLastEdge = true
	if edge.Rising {
		t.lastRising, t.haveRising = edge, true
	} else {
		t.lastFalling, t.haveFalling = edge, true
	}
}

// sameCycle returns the elapsed time since the last edge of the same
// polarity as edge, and whether one has been seen yet.
func (t *Thread) sameCycle(edge Edge) (time.Duration, bool) {
	if edge.Rising {
		if !t.haveRising {
			return 0, false
		}
		return edge.At.Sub(t.lastRising.At), true
	}
	if !t.haveFalling {
		return 0, false
	}
	return edge.At.Sub(t.lastFalling.At), true
}

// categorize classifies a cycle length against the normative pulse-shape
// table; duration-based disambiguation (the 0.5Hz half-cycle filter and
// the ambiguous-1Hz rising-edge preference) happens in handleEdge, which
// has the pulse duration categorize alone does not.
func categorize(cycle time.Duration) (string, bool) {
	switch {
	case cycle >= cycle5HzMin && cycle <= cycle5HzMax:
		return "5hz", true
	case cycle >= cycle1HzMin && cycle <= cycle1HzMax:
		return "1hz", true
	case cycle >= cycleHalfMin && cycle <= cycleHalfMax:
		return "0.5hz", true
	default:
		return "", false
	}
}

// isAmbiguousSquareWave reports whether a pulse duration sits in the
// documented ambiguous band around a 500ms half-cycle.
func isAmbiguousSquareWave(duration time.Duration) bool {
	diff := duration - squareWaveCenter
	if diff < 0 {
		diff = -diff
	}
	return diff <= squareWaveSlop
}

func (t *Thread) reject(format string, args ...interface{}) {
	reason := fmt.Sprintf(format, args...)
	gnsslog.Warn("pps: rejected edge: %s", reason)
	t.consecutiveRJ++
	if t.OnReject != nil {
		t.OnReject(reason, t.clock().Now())
	}
}

func (t *Thread) maybeBackoff(ctx context.Context) {
	if t.consecutiveRJ < rejectBackoffThreshold {
		return
	}
	t.consecutiveRJ = 0
	select {
	case <-t.clock().After(rejectBackoffDuration):
	case <-ctx.Done():
	}
}

// clock returns t.Clock, falling back to RealClock for a Thread built as a
// bare struct literal rather than via NewThread.
func (t *Thread) clock() timeutil.Clock {
	if t.Clock == nil {
		return timeutil.RealClock{}
	}
	return t.Clock
}

// Stats is a point-in-time snapshot of the thread's publication health,
// exposed for diagnostics (internal/adminweb, internal/store).
type Stats struct {
	PublishedCount int
	ConsecutiveRJ  int
	JitterVariance float64
}

// Stats returns a snapshot of the thread's current publication state.
func (t *Thread) Stats() Stats {
	return Stats{
		PublishedCount: len(t.published),
		ConsecutiveRJ:  t.consecutiveRJ,
		JitterVariance: t.JitterVariance(),
	}
}

// JitterVariance reports the sample variance of recent published offsets,
// in nanoseconds^2, using gonum/stat over the retained jitter window.
func (t *Thread) JitterVariance() float64 {
	if len(t.jitterSamples) < 2 {
		return 0
	}
	return stat.Variance(t.jitterSamples, nil)
}

// seasonalLeapNotify implements the leap-notify seasonality rule:
// {add,delete} only during June/December UTC, none otherwise, regardless
// of what the driver-reported notify would otherwise be.
func seasonalLeapNotify(at gpstime.Spec, reported LeapNotify) LeapNotify {
	if reported == LeapNone || reported == LeapUnknown {
		return reported
	}
	month := at.Time().Month()
	if month == time.June || month == time.December {
		return reported
	}
	return LeapNone
}
