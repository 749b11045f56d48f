// Package gpstime provides the normalized time representation and
// GPS-week/leap-second arithmetic shared by every protocol driver and the
// time-delta publisher.
package gpstime

import "time"

// gpsEpoch is the origin of the GPS time scale: 1980-01-06T00:00:00 UTC.
var gpsEpoch = time.Date(1980, time.January, 6, 0, 0, 0, 0, time.UTC)

// secondsPerWeek is the length of one GPS week.
const secondsPerWeek = 7 * 24 * 3600

// Spec is a normalized (sec, nsec) timestamp, the common currency every
// driver produces and every consumer (fix, timepub) reads. nsec is always
// in [0, 1e9).
type Spec struct {
	Sec  int64
	Nsec int64
}

// Normalize returns an equivalent Spec with Nsec folded into [0, 1e9) and
// Sec adjusted accordingly.
func Normalize(sec, nsec int64) Spec {
	for nsec >= 1_000_000_000 {
		nsec -= 1_000_000_000
		sec++
	}
	for nsec < 0 {
		nsec += 1_000_000_000
		sec--
	}
	return Spec{Sec: sec, Nsec: nsec}
}

// FromTime converts a time.Time to a Spec, preserving UTC instant.
func FromTime(t time.Time) Spec {
	return Spec{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}
}

// Time converts a Spec back to a time.Time in UTC.
func (s Spec) Time() time.Time {
	return time.Unix(s.Sec, s.Nsec).UTC()
}

// Add returns s+d, normalized.
func (s Spec) Add(d time.Duration) Spec {
	return Normalize(s.Sec, s.Nsec+int64(d))
}

// Sub returns the signed duration s-o.
func (s Spec) Sub(o Spec) time.Duration {
	return time.Duration((s.Sec-o.Sec)*1_000_000_000 + (s.Nsec - o.Nsec))
}

// Before reports whether s occurs strictly before o.
func (s Spec) Before(o Spec) bool {
	return s.Sec < o.Sec || (s.Sec == o.Sec && s.Nsec < o.Nsec)
}

// IsZero reports whether s is the zero value, the sentinel for "unknown".
func (s Spec) IsZero() bool {
	return s.Sec == 0 && s.Nsec == 0
}

// String formats s as RFC 3339 with nanosecond precision, matching the
// diagnostic timestamp format used throughout the daemon's log output.
func (s Spec) String() string {
	return s.Time().Format("2006-01-02T15:04:05.000000000Z07:00")
}

// ResolveWeek converts a GPS week number and time-of-week (seconds) into a
// Spec, applying the current leap-second offset so the result lands on the
// UTC time scale. GPS time has no leap seconds; UTC is always leapSeconds
// behind it at any given epoch since 1980.
func ResolveWeek(week int, tow float64, leapSeconds int) Spec {
	gpsSeconds := int64(week)*secondsPerWeek + int64(tow)
	frac := tow - float64(int64(tow))
	t := gpsEpoch.Add(time.Duration(gpsSeconds) * time.Second)
	utc := t.Add(-time.Duration(leapSeconds) * time.Second)
	return Normalize(utc.Unix(), int64(frac*1e9))
}

// RolloverAdjustedWeek corrects a receiver-reported 10-bit (or otherwise
// truncated) week number for rollover, given the current best estimate of
// the true week. Some reference receivers only transmit a modulo-1024 week
// field; this reconstructs the absolute week closest to now.
func RolloverAdjustedWeek(reported, modulus, knownWeek int) int {
	if modulus <= 0 {
		return reported
	}
	base := knownWeek - (knownWeek % modulus)
	candidate := base + reported
	if candidate < knownWeek-modulus/2 {
		candidate += modulus
	} else if candidate > knownWeek+modulus/2 {
		candidate -= modulus
	}
	return candidate
}
