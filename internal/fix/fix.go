// Package fix defines the device-independent position/velocity/time fix and
// satellite-skyview model every driver writes into and every consumer
// (timepub, adminweb, rpcfeed) reads from.
package fix

import (
	"math"
	"time"

	"github.com/banshee-data/gnssd/internal/gpstime"
)

// Mode is the fix dimensionality, ordered so numeric comparison (mode >= Mode2D)
// matches the "at least a 2D fix" invariant drivers and consumers rely on.
type Mode int

const (
	ModeNoFix Mode = 0
	Mode2D    Mode = 2
	Mode3D    Mode = 3
)

// Status refines Mode with the fix's differential/augmentation quality.
type Status int

const (
	StatusUnknown Status = iota
	StatusNormal
	StatusDGPS
	StatusRTKFloat
	StatusRTKFixed
	StatusDeadReckoning
)

// maxSatellites bounds the Skyview array at the widest constellation view a
// reference receiver reports (GPS+GLONASS+Galileo+BeiDou+SBAS combined).
const maxSatellites = 120

// Fix is the device-independent position/velocity/time snapshot. Fields
// with no value available for the current Mode/Status are NaN, never zero,
// so "0.0" is never mistaken for "at the equator/prime meridian".
type Fix struct {
	Time   gpstime.Spec
	Mode   Mode
	Status Status

	Lat    float64 // degrees, +north
	Lon    float64 // degrees, +east
	AltHAE float64 // meters, height above ellipsoid
	AltMSL float64 // meters, height above mean sea level

	Speed float64 // meters/second, ground speed
	Track float64 // degrees true, course over ground
	Climb float64 // meters/second, vertical speed

	// Estimated errors, 1-sigma, as reported or derived by the driver.
	EPH float64 // horizontal position error, meters
	EPV float64 // vertical position error, meters
	EPS float64 // speed error, meters/second
	EPT float64 // time error, seconds
	EPD float64 // track error, degrees

	// TimeQuantError is the receiver-reported quantization error of the
	// most recent time-pulse message (e.g. UBX TIM-TP), signed. Zero
	// until the driver has decoded at least one such message.
	TimeQuantError time.Duration
}

// Zero returns a Fix with Mode/Status unknown and every measured field NaN.
func Zero() Fix {
	nan := math.NaN()
	return Fix{
		Mode: ModeNoFix, Status: StatusUnknown,
		Lat: nan, Lon: nan, AltHAE: nan, AltMSL: nan,
		Speed: nan, Track: nan, Climb: nan,
		EPH: nan, EPV: nan, EPS: nan, EPT: nan, EPD: nan,
	}
}

// Valid reports whether f satisfies the mode/field invariant: any fix at
// Mode2D or better must carry finite latitude and longitude.
func (f Fix) Valid() bool {
	if f.Mode >= Mode2D {
		return !math.IsNaN(f.Lat) && !math.IsNaN(f.Lon)
	}
	return true
}

// SatelliteInfo describes one satellite in the current skyview.
type SatelliteInfo struct {
	PRN       int
	Elevation float64 // degrees above horizon
	Azimuth   float64 // degrees true
	SNR       float64 // dB-Hz as reported, 0 when the receiver reports no signal
	Used      bool    // counted toward the current fix's solution
}

// Skyview is the bounded set of satellites a driver currently sees. Count
// is always <= len(Satellites); drivers reporting more than maxSatellites
// truncate rather than grow the array, keeping every Skyview value a fixed,
// copyable size.
type Skyview struct {
	Satellites [maxSatellites]SatelliteInfo
	Count      int
}

// Add appends sat to the skyview, truncating silently once Count reaches
// maxSatellites capacity.
func (s *Skyview) Add(sat SatelliteInfo) {
	if s.Count >= len(s.Satellites) {
		return
	}
	s.Satellites[s.Count] = sat
	s.Count++
}

// Used returns the count of satellites marked Used, which must never
// exceed Count.
func (s *Skyview) Used() int {
	n := 0
	for i := 0; i < s.Count; i++ {
		if s.Satellites[i].Used {
			n++
		}
	}
	return n
}

// RawMeasurement is an optional per-satellite pseudorange/carrier-phase
// observation, populated only by drivers exposing raw measurement output
// (e.g. RXM-RAWX).
type RawMeasurement struct {
	PRN          int
	Pseudorange  float64 // meters
	CarrierPhase float64 // cycles
	Doppler      float64 // Hz
	SNR          float64 // dB-Hz
}
