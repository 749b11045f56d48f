// Package session owns a single GNSS device's lifecycle: open (as a serial
// port), the hunt-loop line-settings search, latch, reconfigure, and close. It is
// the one place the lexer, the driver registry, and the fix model meet.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/gnssd/internal/driver"
	"github.com/banshee-data/gnssd/internal/fix"
	"github.com/banshee-data/gnssd/internal/gnsslog"
	"github.com/banshee-data/gnssd/internal/ioport"
	"github.com/banshee-data/gnssd/internal/lexer"
)

// retryBudget is the number of bytes the hunt loop drives the lexer with
// for each (baud, stopbits) candidate before moving on.
const retryBudget = 256

// huntPhase distinguishes the two states of the session's hunt-loop state
// machine: HUNTING{baudIdx,retries} and LOCKED{driver}.
type huntPhase int

const (
	phaseHunting huntPhase = iota
	phaseLocked
)

// Session is a single open device: its port, lexer, hunt-loop cursor, and
// the shared fix/skyview state its locked driver mutates.
type Session struct {
	path string
	port ioport.Port
	ctx  *driver.Context

	lex *lexer.Lexer

	phase      huntPhase
	baudIdx    int
	stopIdx    int
	retries    int
	savedBaud  int // -1 until a lock has ever latched
	lockedDrv  *driver.Driver
	stickyLock bool

	fixRec  fix.Fix
	skyRec  fix.Skyview
	rawLast fix.RawMeasurement
	leap    int

	lastReadAt time.Time
}

var stopBitCandidates = []int{1, 2}

// Open opens path as a serial port through ioport.Open (the path is not
// classified, and TCP or plain-file sources are not supported) and begins
// a hunt at the lowest candidate baud rate, or at latchedBaud first if
// latchedBaud > 0 from a prior successful open of this same device.
func Open(path string, latchedBaud int, ctx *driver.Context) (*Session, error) {
	s := &Session{
		path:      path,
		ctx:       ctx,
		lex:       lexer.New(),
		savedBaud: latchedBaud,
		fixRec:    fix.Zero(),
	}
	if latchedBaud > 0 {
		s.baudIdx = indexOfBaud(latchedBaud)
	} else {
		s.savedBaud = -1
	}
	port, err := ioport.Open(path, s.currentSettings())
	if err != nil {
		return nil, err
	}
	s.port = port
	return s, nil
}

// newWithPort constructs a Session around an already-open Port, bypassing
// ioport.Open; used by tests to drive the hunt loop against a fake port.
func newWithPort(path string, port ioport.Port, ctx *driver.Context) *Session {
	return &Session{
		path:      path,
		ctx:       ctx,
		lex:       lexer.New(),
		savedBaud: -1,
		fixRec:    fix.Zero(),
		port:      port,
	}
}

func indexOfBaud(baud int) int {
	for i, b := range ioport.CandidateRates {
		if b == baud {
			return i
		}
	}
	return 0
}

func (s *Session) currentSettings() ioport.LineSettings {
	return ioport.LineSettings{
		BaudRate: ioport.CandidateRates[s.baudIdx],
		StopBits: stopBitCandidates[s.stopIdx],
	}
}

// Fix implements driver.Session.
func (s *Session) Fix() *fix.Fix { return &s.fixRec }

// Skyview implements driver.Session.
func (s *Session) Skyview() *fix.Skyview { return &s.skyRec }

// SetRaw implements driver.Session.
func (s *Session) SetRaw(r fix.RawMeasurement) { s.rawLast = r }

// LeapSeconds implements driver.Session.
func (s *Session) LeapSeconds() int { return s.leap }

// SetLeapSeconds implements driver.Session.
func (s *Session) SetLeapSeconds(n int) { s.leap = n; s.ctx.SetLeapSeconds(n) }

// ErrOut implements driver.Session.
func (s *Session) ErrOut(text string) { s.ctx.ErrOut(text) }

// Locked reports whether the hunt loop has achieved packet lock.
func (s *Session) Locked() bool { return s.phase == phaseLocked }

// SavedBaud returns the latched baud rate, or -1 if none has ever locked.
func (s *Session) SavedBaud() int {
	if s.phase == phaseLocked {
		return ioport.CandidateRates[s.baudIdx]
	}
	return s.savedBaud
}

// Status is a point-in-time snapshot of the hunt-loop state, exposed for
// diagnostics (internal/adminweb, internal/store).
type Status struct {
	DevicePath string
	Locked     bool
	DriverName string
	BaudRate   int
	StopBits   int
	LastReadAt time.Time
}

// Status returns a snapshot of the session's current hunt-loop state.
func (s *Session) Status() Status {
	st := Status{
		DevicePath: s.path,
		Locked:     s.phase == phaseLocked,
		BaudRate:   ioport.CandidateRates[s.baudIdx],
		StopBits:   stopBitCandidates[s.stopIdx],
		LastReadAt: s.lastReadAt,
	}
	if s.lockedDrv != nil {
		st.DriverName = s.lockedDrv.Name
	}
	return st
}

// LastFix returns a copy of the most recently decoded fix.
func (s *Session) LastFix() fix.Fix { return s.fixRec }

// LastSkyview returns a copy of the most recently decoded skyview.
func (s *Session) LastSkyview() fix.Skyview { return s.skyRec }

// Run drives the session's read loop until ctx is cancelled or the device
// goes offline. While hunting, it cycles line settings on retry-budget
// exhaustion; once locked, it dispatches every frame to the locked driver
// and stops re-probing (the "sticky" contract).
func (s *Session) Run(ctx context.Context) error {
	buf := make([]byte, 512)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := s.port.Read(buf)
		if err != nil {
			s.fixRec = fix.Zero()
			return fmt.Errorf("session: device %s went offline: %w", s.path, err)
		}
		s.lastReadAt = time.Now()

		for _, frame := range s.lex.Feed(buf[:n]) {
			if err := s.handleFrame(frame); err != nil {
				return err
			}
		}
	}
}

func (s *Session) handleFrame(frame lexer.Frame) error {
	if s.phase == phaseHunting {
		return s.handleHuntFrame(frame)
	}
	return s.dispatch(frame)
}

func (s *Session) handleHuntFrame(frame lexer.Frame) error {
	if frame.Type == lexer.Bad {
		return s.huntRetry(len(frame.Bytes))
	}
	d := s.ctx.Registry.Lookup(frame.Type)
	if d == nil {
		return s.huntRetry(len(frame.Bytes))
	}
	mask := d.Parse(s, frame.Bytes)
	if mask == 0 {
		return s.huntRetry(len(frame.Bytes))
	}
	s.lock(d)
	return nil
}

// lock transitions HUNTING -> LOCKED and dispatches the identified event.
func (s *Session) lock(d *driver.Driver) {
	s.phase = phaseLocked
	s.lockedDrv = d
	s.stickyLock = d.Sticky
	s.savedBaud = ioport.CandidateRates[s.baudIdx]
	gnsslog.Prog("session %s: locked driver %q at %d baud", s.path, d.Name, s.savedBaud)
	if d.Event != nil {
		d.Event(s, "identified")
	}
}

func (s *Session) dispatch(frame lexer.Frame) error {
	if frame.Type == lexer.Bad {
		return nil
	}
	d := s.ctx.Registry.Lookup(frame.Type)
	if d == nil {
		return nil
	}
	d.Parse(s, frame.Bytes)
	return nil
}

// huntRetry advances the retry counter by the bytes just consumed and, on
// budget exhaustion, steps to the next (baud, stopbits) candidate.
func (s *Session) huntRetry(consumed int) error {
	s.retries += consumed
	if s.retries < retryBudget {
		return nil
	}
	s.retries = 0
	s.stopIdx++
	if s.stopIdx >= len(stopBitCandidates) {
		s.stopIdx = 0
		s.baudIdx++
		if s.baudIdx >= len(ioport.CandidateRates) {
			s.baudIdx = 0
			return fmt.Errorf("session: %s: hunt exhausted, no GPS detected", s.path)
		}
	}
	return s.reopenForHunt()
}

func (s *Session) reopenForHunt() error {
	mode, err := s.currentSettings().SerialMode()
	if err != nil {
		return fmt.Errorf("session: %s: %w", s.path, err)
	}
	if err := s.port.SetMode(mode); err != nil {
		gnsslog.Warn("session %s: set mode failed: %v", s.path, err)
	}
	if err := ioport.Flush(s.port); err != nil {
		gnsslog.Warn("session %s: flush failed: %v", s.path, err)
	}
	s.lex = lexer.New()
	return nil
}

// Reconfigure requests the locked driver switch the device's reporting
// rate. It is a no-op before lock.
func (s *Session) Reconfigure(cycleSeconds float64) error {
	if s.lockedDrv == nil || s.lockedDrv.RateSwitch == nil {
		return nil
	}
	if err := s.lockedDrv.RateSwitch(s, cycleSeconds); err != nil {
		gnsslog.Warn("session %s: rate switch failed: %v", s.path, err)
		return nil // configuration-frame write failure is logged, not fatal
	}
	return nil
}

// Close restores pre-open settings (handled by the underlying port on
// Close) and releases the file descriptor.
func (s *Session) Close() error {
	return s.port.Close()
}
