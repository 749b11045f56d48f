// Package ubx implements the reference binary driver: a length-prefixed,
// classID/messageID, Fletcher-checksummed protocol shaped after u-blox's
// UBX binary format. It is the one fully-specified driver; the registry
// framework in internal/driver accommodates others without code changes
// here.
package ubx

import (
	"math"
	"strings"
	"time"

	"github.com/banshee-data/gnssd/internal/driver"
	"github.com/banshee-data/gnssd/internal/fix"
	"github.com/banshee-data/gnssd/internal/gpstime"
	"github.com/banshee-data/gnssd/internal/lexer"
	"github.com/banshee-data/gnssd/internal/wire"
)

// Class IDs.
const (
	classNAV = 0x01
	classRXM = 0x02
	classINF = 0x04
	classCFG = 0x06
	classMON = 0x0A
	classTIM = 0x0D
)

// Message IDs, scoped within their class.
const (
	idNavPosECEF   = 0x01
	idNavPosLLH    = 0x02
	idNavDOP       = 0x04
	idNavSOL       = 0x06
	idNavPVT       = 0x07
	idNavVelECEF   = 0x11
	idNavVelNED    = 0x12
	idNavHPPosECEF = 0x13
	idNavHPPosLLH  = 0x14
	idNavTimeGPS   = 0x20
	idNavTimeLS    = 0x26
	idNavSVInfo    = 0x30
	idNavSAT       = 0x35
	idNavRELPosNED = 0x3C
	idNavEOE       = 0x61

	idRxmRAWX = 0x15
	idRxmSFRB = 0x11

	idMonVER = 0x04

	idTimTP = 0x01

	idCfgPRT  = 0x00
	idCfgMSG  = 0x01
	idCfgRATE = 0x08
)

// header returns (cls, id, payload) for a raw frame as produced by the
// lexer, panicking only if called on a frame shorter than the fixed
// header+checksum size — a contract violation by the caller, not
// malformed device input (the lexer never yields such a frame).
func header(frame []byte) (cls, id byte, payload []byte) {
	cls = frame[2]
	id = frame[3]
	length := int(wire.U2L(frame[4:6]))
	payload = frame[6 : 6+length]
	return cls, id, payload
}

// cycleEnderLearner tracks, per session, which message ID has consistently
// arrived last while iTOW changed, for firmware that omits NAV-EOE.
// Requiring two consecutive confirmations avoids mis-latching during
// configuration churn.
type cycleEnderLearner struct {
	lastITOW      uint32
	candidate     byte
	candidateHits int
	learnedID     byte
	learned       bool
}

func (c *cycleEnderLearner) observe(id byte, itow uint32) (isEnd bool) {
	if itow != c.lastITOW {
		if c.candidate == id {
			c.candidateHits++
		} else {
			c.candidate = id
			c.candidateHits = 1
		}
		c.lastITOW = itow
		if c.candidateHits >= 3 {
			c.learned = true
			c.learnedID = id
		}
	}
	return c.learned && id == c.learnedID
}

// driverState is the UBX driver's session-scoped learned state: protocol
// version and cycle-ender discovery, neither of which belongs on the
// shared fix model.
type driverState struct {
	protoVersion float64
	ender        cycleEnderLearner
}

var states = map[driver.Session]*driverState{}

func stateFor(s driver.Session) *driverState {
	st, ok := states[s]
	if !ok {
		st = &driverState{}
		states[s] = st
	}
	return st
}

// New returns the registry entry for the reference binary driver.
func New() *driver.Driver {
	return &driver.Driver{
		Name:   "ubx",
		Type:   lexer.BinaryA,
		Sticky: true,
		Parse:  parse,
	}
}

func parse(s driver.Session, frame []byte) driver.UpdateMask {
	cls, id, payload := header(frame)
	switch cls {
	case classNAV:
		return parseNAV(s, id, payload)
	case classRXM:
		return parseRXM(s, id, payload)
	case classMON:
		if id == idMonVER {
			parseMonVer(s, payload)
		}
	case classINF:
		s.ErrOut(strings.TrimRight(string(payload), "\x00"))
	case classTIM:
		if id == idTimTP {
			return parseTimTP(s, payload)
		}
	}
	return 0
}

func parseNAV(s driver.Session, id byte, payload []byte) driver.UpdateMask {
	switch id {
	case idNavPVT:
		return parsePVT(s, payload)
	case idNavPosLLH:
		return parsePosLLH(s, payload)
	case idNavVelNED:
		return parseVelNED(s, payload)
	case idNavHPPosLLH:
		return parseHPPosLLH(s, payload)
	case idNavDOP:
		return parseDOP(s, payload)
	case idNavTimeGPS:
		return parseTimeGPS(s, payload)
	case idNavTimeLS:
		return parseTimeLS(s, payload)
	case idNavSAT:
		return parseSAT(s, payload)
	case idNavSVInfo:
		return parseSVInfo(s, payload)
	case idNavEOE:
		return driver.EndOfCycle
	case idNavPosECEF, idNavVelECEF, idNavHPPosECEF, idNavRELPosNED, idNavSOL:
		// Component-wise/high-precision ECEF variants and the legacy
		// combined solution message are acknowledged but not decoded by
		// the reference driver; NAV-PVT and NAV-POSLLH/VELNED cover the
		// documented fix fields.
		return 0
	}
	return 0
}

// fixTypeMap implements the normative fixType → (Mode, base Status) table.
func fixTypeMap(fixType byte) (fix.Mode, fix.Status) {
	switch fixType {
	case 0:
		return fix.ModeNoFix, fix.StatusUnknown
	case 1:
		return fix.Mode2D, fix.StatusDeadReckoning
	case 2:
		return fix.Mode2D, fix.StatusNormal
	case 3:
		return fix.Mode3D, fix.StatusNormal
	case 4:
		return fix.Mode3D, fix.StatusDeadReckoning
	case 5:
		return fix.Mode3D, fix.StatusNormal // time-only; status refined by caller
	default:
		return fix.ModeNoFix, fix.StatusUnknown
	}
}

// parsePVT decodes NAV-PVT, the preferred single-frame position/velocity/
// time message. Layout matches scenario S1's 92-byte frame.
func parsePVT(s driver.Session, p []byte) driver.UpdateMask {
	if len(p) < 92 {
		return 0
	}
	year := wire.U2L(p[4:6])
	month := wire.U1(p[6:7])
	day := wire.U1(p[7:8])
	hour := wire.U1(p[8:9])
	min := wire.U1(p[9:10])
	sec := wire.U1(p[10:11])
	nano := wire.I4L(p[16:20])
	fixType := wire.U1(p[20:21])
	flags := wire.U1(p[21:22])

	lon := float64(wire.I4L(p[24:28])) * 1e-7
	lat := float64(wire.I4L(p[28:32])) * 1e-7
	hMSL := float64(wire.I4L(p[36:40])) / 1000.0 // mm -> m
	gSpeed := float64(wire.I4L(p[60:64])) / 1000.0
	headMot := float64(wire.I4L(p[64:68])) * 1e-5

	mode, status := fixTypeMap(fixType)
	const diffSolnBit = 0x02
	if flags&diffSolnBit != 0 {
		status = fix.StatusDGPS
	}
	if fixType == 5 {
		status = fix.StatusNormal
	}

	f := s.Fix()
	f.Mode = mode
	f.Status = status
	f.Lat = lat
	f.Lon = lon
	f.AltMSL = hMSL
	f.Speed = gSpeed
	f.Track = headMot

	t := time3339(int(year), int(month), int(day), int(hour), int(min), int(sec), int64(nano))
	f.Time = t

	mask := driver.UpdatedTime | driver.UpdatedLatLon | driver.UpdatedAltitude | driver.UpdatedSpeed
	if stateFor(s).ender.observe(idNavPVT, wire.U4L(p[0:4])) {
		mask |= driver.EndOfCycle
	}
	return mask
}

func time3339(year, month, day, hour, min, sec int, nano int64) gpstime.Spec {
	// Construct via Unix seconds rather than time.Date to avoid pulling in
	// a timezone database dependency for a UTC-only computation.
	t := daysFromCivil(year, month, day)*86400 + int64(hour)*3600 + int64(min)*60 + int64(sec)
	return gpstime.Normalize(t, nano)
}

// daysFromCivil converts a Gregorian calendar date to days since the Unix
// epoch, using Howard Hinnant's well-known civil_from_days algorithm
// inverse. Valid for all dates GNSS receivers report.
func daysFromCivil(y, m, d int) int64 {
	y -= boolToInt(m <= 2)
	era := int64(y)
	if y < 0 {
		era = (int64(y) - 399) / 400
	} else {
		era = int64(y) / 400
	}
	yoe := int64(y) - era*400
	var mp int64
	if m > 2 {
		mp = int64(m) - 3
	} else {
		mp = int64(m) + 9
	}
	doy := (153*mp+2)/5 + int64(d) - 1
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	return era*146097 + doe - 719468
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parsePosLLH(s driver.Session, p []byte) driver.UpdateMask {
	if len(p) < 28 {
		return 0
	}
	f := s.Fix()
	f.Lon = float64(wire.I4L(p[4:8])) * 1e-7
	f.Lat = float64(wire.I4L(p[8:12])) * 1e-7
	f.AltMSL = float64(wire.I4L(p[16:20])) / 1000.0
	return driver.UpdatedLatLon | driver.UpdatedAltitude
}

func parseVelNED(s driver.Session, p []byte) driver.UpdateMask {
	if len(p) < 36 {
		return 0
	}
	f := s.Fix()
	f.Speed = float64(wire.I4L(p[20:24])) / 100.0 // cm/s -> m/s (2D ground speed)
	f.Track = float64(wire.I4L(p[24:28])) * 1e-5
	f.Climb = -float64(wire.I4L(p[12:16])) / 100.0 // down -> climb is negated
	return driver.UpdatedSpeed
}

// parseHPPosLLH decodes the high-precision variant: base integer fields in
// 1e-7 degrees / mm, plus a signed residual byte at finer scale. Final
// value is (base * scale) + (residual * finer-scale), per the normative
// high-precision rule.
func parseHPPosLLH(s driver.Session, p []byte) driver.UpdateMask {
	if len(p) < 36 {
		return 0
	}
	lonBase := int64(wire.I4L(p[8:12]))
	latBase := int64(wire.I4L(p[12:16]))
	altMSLBase := int64(wire.I4L(p[20:24]))
	lonHP := int64(wire.I1(p[24:25]))
	latHP := int64(wire.I1(p[25:26]))
	altMSLHP := int64(wire.I1(p[27:28]))

	f := s.Fix()
	f.Lon = (float64(lonBase) + float64(lonHP)*0.1) * 1e-7
	f.Lat = (float64(latBase) + float64(latHP)*0.1) * 1e-7
	f.AltMSL = (float64(altMSLBase) + float64(altMSLHP)*0.1) / 1000.0
	return driver.UpdatedLatLon | driver.UpdatedAltitude
}

func parseDOP(s driver.Session, p []byte) driver.UpdateMask {
	// DOP values are not stored on the shared fix model beyond what the
	// spec requires consumers to read (position/velocity/time); this
	// acknowledges the frame so its arrival still contributes to cycle
	// sequencing.
	return driver.UpdatedDOP
}

func parseTimeGPS(s driver.Session, p []byte) driver.UpdateMask {
	if len(p) < 16 {
		return 0
	}
	iTOWms := wire.U4L(p[0:4])
	fTOWns := wire.I4L(p[4:8])
	week := wire.I2L(p[8:10])
	leapS := wire.I1(p[10:11])
	valid := wire.U1(p[11:12])

	const leapSecValidBit = 0x04
	if valid&leapSecValidBit != 0 {
		s.SetLeapSeconds(int(leapS))
	}

	tow := float64(iTOWms)/1000.0 + float64(fTOWns)*1e-9
	t := gpstime.ResolveWeek(int(week), tow, s.LeapSeconds())
	s.Fix().Time = t
	return driver.UpdatedTime | driver.UpdatedLeapSecond
}

func parseTimeLS(s driver.Session, p []byte) driver.UpdateMask {
	if len(p) < 24 {
		return 0
	}
	currentLeap := wire.I1(p[23:24])
	s.SetLeapSeconds(int(currentLeap))
	return driver.UpdatedLeapSecond
}

// gnssSystem names the constellation a PRN-translation gnssid refers to,
// for readability at call sites; the numeric ids are the vendor's.
const (
	gnssGPS     = 0
	gnssSBAS    = 1
	gnssGalileo = 2
	gnssBeiDou  = 3
	gnssQZSS    = 5
	gnssGLONASS = 6
)

// translatePRN maps a vendor (gnssid, svid) pair to an NMEA-4.0 extended
// PRN. svid==0 means an empty slot and yields 0 (skip). Totality: every
// (gnssid, svid) pair in the defined domain yields either 0 or a PRN
// inside the documented per-constellation range.
func translatePRN(gnssid, svid int) int {
	if svid == 0 {
		return 0
	}
	switch gnssid {
	case gnssGPS:
		if svid >= 1 && svid <= 32 {
			return svid
		}
	case gnssSBAS:
		if svid >= 120 && svid <= 158 {
			return svid
		}
	case gnssGalileo:
		if svid >= 1 && svid <= 36 {
			return 300 + svid
		}
	case gnssBeiDou:
		if svid >= 1 && svid <= 37 {
			return 400 + svid
		}
	case gnssQZSS:
		if svid >= 1 && svid <= 10 {
			return 192 + svid
		}
	case gnssGLONASS:
		if svid >= 1 && svid <= 32 {
			return 64 + svid
		}
	}
	return 0
}

func parseSAT(s driver.Session, p []byte) driver.UpdateMask {
	if len(p) < 8 {
		return 0
	}
	numSvs := int(wire.U1(p[5:6]))
	sv := s.Skyview()
	*sv = fix.Skyview{}
	const recSize = 12
	for i := 0; i < numSvs; i++ {
		off := 8 + i*recSize
		if off+recSize > len(p) {
			break
		}
		gnssid := int(wire.U1(p[off : off+1]))
		svid := int(wire.U1(p[off+1 : off+2]))
		cno := wire.U1(p[off+2 : off+3])
		elev := int(wire.I1(p[off+3 : off+4]))
		azim := int(wire.I2L(p[off+4 : off+6]))
		flags := wire.U4L(p[off+8 : off+12])

		prn := translatePRN(gnssid, svid)
		if prn == 0 {
			continue
		}
		sv.Add(fix.SatelliteInfo{
			PRN:       prn,
			Elevation: float64(elev),
			Azimuth:   float64(azim),
			SNR:       float64(cno),
			Used:      flags&0x08 != 0,
		})
	}
	return driver.UpdatedSkyview
}

// parseSVInfo decodes the deprecated NAV-SVINFO message, kept because
// older firmware never emits NAV-SAT.
func parseSVInfo(s driver.Session, p []byte) driver.UpdateMask {
	if len(p) < 8 {
		return 0
	}
	numCh := int(wire.U1(p[4:5]))
	sv := s.Skyview()
	*sv = fix.Skyview{}
	const recSize = 12
	for i := 0; i < numCh; i++ {
		off := 8 + i*recSize
		if off+recSize > len(p) {
			break
		}
		svid := int(wire.U1(p[off+1 : off+2]))
		flags := wire.U1(p[off+2 : off+3])
		cno := wire.U1(p[off+4 : off+5])
		elev := int(wire.I1(p[off+5 : off+6]))
		azim := int(wire.I2L(p[off+6 : off+8]))

		prn := translatePRN(gnssGPS, svid)
		if prn == 0 {
			continue
		}
		sv.Add(fix.SatelliteInfo{
			PRN:       prn,
			Elevation: float64(elev),
			Azimuth:   float64(azim),
			SNR:       float64(cno),
			Used:      flags&0x01 != 0,
		})
	}
	return driver.UpdatedSkyview
}

// rawRecordSize is the per-satellite measurement record length within
// RXM-RAWX's variable-length body.
const rawRecordSize = 32

func parseRXM(s driver.Session, id byte, payload []byte) driver.UpdateMask {
	if id != idRxmRAWX {
		return 0
	}
	if len(payload) < 16 {
		return 0
	}
	numMeas := int(wire.U1(payload[11:12]))
	var updated bool
	for i := 0; i < numMeas; i++ {
		off := 16 + i*rawRecordSize
		if off+rawRecordSize > len(payload) {
			break
		}
		rec := payload[off : off+rawRecordSize]
		gnssid := int(wire.U1(rec[20:21]))
		svid := int(wire.U1(rec[21:22]))
		s.SetRaw(fix.RawMeasurement{
			PRN:          translatePRN(gnssid, svid),
			Pseudorange:  wire.R8L(rec[0:8]),
			CarrierPhase: wire.R8L(rec[8:16]),
			Doppler:      float64(wire.R4L(rec[16:20])),
			SNR:          float64(wire.U1(rec[26:27])),
		})
		updated = true
	}
	if !updated {
		return 0
	}
	return driver.UpdatedRaw
}

// parseMonVer extracts the PROTVER=N.NN substring from the MON-VER
// extension fields, the documented way the driver learns protocol
// version lazily.
func parseMonVer(s driver.Session, payload []byte) {
	text := string(payload)
	idx := strings.Index(text, "PROTVER=")
	if idx < 0 {
		return
	}
	rest := text[idx+len("PROTVER="):]
	end := strings.IndexAny(rest, "\x00 \r\n")
	if end >= 0 {
		rest = rest[:end]
	}
	stateFor(s).protoVersion = parseVersionFloat(rest)
}

func parseVersionFloat(v string) float64 {
	var whole, frac int
	var fracDigits int
	var sawDot bool
	for _, c := range v {
		if c == '.' {
			sawDot = true
			continue
		}
		if c < '0' || c > '9' {
			break
		}
		d := int(c - '0')
		if !sawDot {
			whole = whole*10 + d
		} else {
			frac = frac*10 + d
			fracDigits++
		}
	}
	result := float64(whole)
	if fracDigits > 0 {
		result += float64(frac) / math.Pow(10, float64(fracDigits))
	}
	return result
}

// parseTimTP decodes TIM-TP's quantization-error field (signed
// picoseconds) and records it on the shared Fix as diagnostic metadata.
// internal/pps does not yet consult it: the PPS thread derives cycle and
// pulse-duration categorization entirely from its own hardware edge
// timestamps, so this is acknowledgment, not a cross-check input.
func parseTimTP(s driver.Session, p []byte) driver.UpdateMask {
	if len(p) < 16 {
		return 0
	}
	qErrPicoseconds := wire.I4L(p[8:12])
	s.Fix().TimeQuantError = time.Duration(qErrPicoseconds) * time.Picosecond
	return driver.UpdatedTime
}

// BuildCFGPRT assembles a CFG-PRT configuration frame selecting the
// in-use port, baud, 8N1, and the protocols enabled in each direction.
func BuildCFGPRT(portID byte, baud uint32, inProtoMask, outProtoMask uint16) []byte {
	payload := make([]byte, 20)
	payload[0] = portID
	// reserved1 at [1]
	wire.SetU2L(payload[2:4], 0) // txReady disabled
	wire.SetU4L(payload[4:8], 0x000008D0) // mode: 8N1, no parity
	wire.SetU4L(payload[8:12], baud)
	wire.SetU2L(payload[12:14], inProtoMask)
	wire.SetU2L(payload[14:16], outProtoMask)
	return lexer.EncodeBinary(classCFG, idCfgPRT, payload)
}

// BuildCFGRATE assembles a CFG-RATE frame, clamping the requested cycle
// time to [200ms, 1000ms] before issuance, per the normative rule.
func BuildCFGRATE(cycleSeconds float64) []byte {
	ms := cycleSeconds * 1000
	if ms < 200 {
		ms = 200
	}
	if ms > 1000 {
		ms = 1000
	}
	payload := make([]byte, 6)
	wire.SetU2L(payload[0:2], uint16(ms))
	wire.SetU2L(payload[2:4], 1) // navRate: 1 measurement per cycle
	wire.SetU2L(payload[4:6], 1) // timeRef: GPS time
	return lexer.EncodeBinary(classCFG, idCfgRATE, payload)
}

// BuildCFGMSG assembles a CFG-MSG frame setting the output rate of one
// message on the current port.
func BuildCFGMSG(msgCls, msgID byte, rate byte) []byte {
	payload := []byte{msgCls, msgID, rate}
	return lexer.EncodeBinary(classCFG, idCfgMSG, payload)
}
