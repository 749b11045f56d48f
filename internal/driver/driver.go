// Package driver defines the protocol driver interface and the read-only
// registry that the session dispatches completed frames through.
package driver

import (
	"sync/atomic"

	"github.com/banshee-data/gnssd/internal/fix"
	"github.com/banshee-data/gnssd/internal/lexer"
)

// UpdateMask is a bitmask describing which fields of the fix/skyview/raw
// records a Parse call mutated, so the session can decide whether a cycle
// boundary (a consistent snapshot) has been reached.
type UpdateMask uint32

const (
	UpdatedTime UpdateMask = 1 << iota
	UpdatedLatLon
	UpdatedAltitude
	UpdatedSpeed
	UpdatedSkyview
	UpdatedRaw
	UpdatedDOP
	UpdatedLeapSecond
	// EndOfCycle is set alongside any of the above when the driver
	// recognizes this frame as the cycle terminator.
	EndOfCycle
)

// Session is the narrow view of a device session a driver needs: the
// shared fix/skyview model it mutates, and a sink for human-readable
// diagnostic text (INF-* messages).
type Session interface {
	Fix() *fix.Fix
	Skyview() *fix.Skyview
	SetRaw(fix.RawMeasurement)
	LeapSeconds() int
	SetLeapSeconds(int)
	ErrOut(text string)
}

// Driver is one protocol's entry-point table. Every method beyond Parse is
// optional; drivers that don't need a hook leave it nil.
type Driver struct {
	Name string
	// Type is the packet type tag this driver claims from the lexer.
	Type lexer.PacketType
	// Sticky drivers, once matched during a hunt, are never re-probed for
	// the life of the session.
	Sticky bool

	// Parse decodes one complete frame and returns the fields it updated.
	Parse func(s Session, frame []byte) UpdateMask

	// Probe runs a short detection routine against the session's port,
	// returning true if this driver believes it can handle the device.
	Probe func(s Session) bool
	// Wakeup sends whatever bytes are needed to coax the device into
	// talking (some receivers are silent until addressed).
	Wakeup func(s Session)
	// RateSwitch requests a new reporting cycle time.
	RateSwitch func(s Session, cycleSeconds float64) error
	// ModeSwitch requests binary-vs-NMEA output mode.
	ModeSwitch func(s Session, binary bool) error
	// SpeedSwitch requests a new baud/parity/stopbits triple be adopted by
	// the device itself (not just the local termios).
	SpeedSwitch func(s Session, baud int, parity byte, stopbits int) error
	// ControlSend writes a raw, driver-specific command frame.
	ControlSend func(s Session, payload []byte) error
	// Event notifies the driver of session-level occurrences, e.g.
	// "identified" right after hunt lock.
	Event func(s Session, name string)
}

// Registry is a read-only-after-construction table of drivers keyed by the
// packet type tag they claim. Construction happens once at process
// startup; after Freeze, concurrent dispatch from multiple sessions is
// safe without further synchronization.
type Registry struct {
	byType map[lexer.PacketType]*Driver
	frozen atomic.Bool
}

// NewRegistry returns an empty, mutable Registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[lexer.PacketType]*Driver)}
}

// Register adds d to the registry. It panics if called after Freeze, since
// the registry is documented read-only from that point on.
func (r *Registry) Register(d *Driver) {
	if r.frozen.Load() {
		panic("driver: Register called on a frozen registry")
	}
	r.byType[d.Type] = d
}

// Freeze marks the registry read-only. Subsequent Register calls panic.
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}

// Lookup returns the driver claiming t, or nil if none is registered.
func (r *Registry) Lookup(t lexer.PacketType) *Driver {
	return r.byType[t]
}

// Context is the process-wide state threaded through every session:
// the driver registry, a read-only flag, and the errout sink. Leap-second
// state lives here because it is written by whichever driver first learns
// it and read by both the PPS thread and the time publisher.
type Context struct {
	Registry *Registry
	ReadOnly bool

	leapSeconds   atomic.Int64
	leapSecondsOK atomic.Bool

	ErrOutFn func(text string)
}

// NewContext builds a Context around a frozen registry.
func NewContext(reg *Registry, readOnly bool) *Context {
	return &Context{Registry: reg, ReadOnly: readOnly}
}

// LeapSeconds returns the current best-known leap-second offset, or 0 if
// none has been learned yet.
func (c *Context) LeapSeconds() int {
	return int(c.leapSeconds.Load())
}

// SetLeapSeconds records a newly learned leap-second offset.
func (c *Context) SetLeapSeconds(n int) {
	c.leapSeconds.Store(int64(n))
	c.leapSecondsOK.Store(true)
}

// LeapSecondsValid reports whether a leap-second offset has been learned
// from the device, as opposed to the zero-value default.
func (c *Context) LeapSecondsValid() bool {
	return c.leapSecondsOK.Load()
}

// ErrOut forwards human-readable diagnostic text (e.g. decoded INF-*
// messages) to the configured sink, if any.
func (c *Context) ErrOut(text string) {
	if c.ErrOutFn != nil {
		c.ErrOutFn(text)
	}
}
