// Package timepub publishes time-deltas to external time daemons over the
// two channels the spec names: a POSIX shared-memory segment using the
// NTP shared-memory-refclock layout, and a chrony-compatible UNIX domain
// socket.
package timepub

import (
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/banshee-data/gnssd/internal/gpstime"
)

// ntpdBase is the "NTP0" shm key prefix; segment i uses key ntpdBase+i.
const ntpdBase = 0x4e545030

// LeapNotify mirrors the shm segment's leap-notify codes.
type LeapNotify int32

const (
	LeapNone LeapNotify = iota
	LeapAddSecond
	LeapDeleteSecond
	LeapUnknown
)

// shmTime mirrors ntpd's refclock_shm.c layout field-for-field. Field
// order and sizes are an external wire contract: do not reorder, add, or
// resize fields.
type shmTime struct {
	Mode               int32
	Count              int32
	ClockTimeStampSec  int64
	ClockTimeStampUSec int32
	ReceiveTimeStampSec int64
	ReceiveTimeStampUSec int32
	Leap               int32
	Precision          int32
	NSamples           int32
	Valid              int32
	ClockTimeStampNSec uint32
	ReceiveTimeStampNSec uint32
	Dummy              [8]int32
}

const shmTimeSize = int(unsafe.Sizeof(shmTime{}))

// Segment is a single attached SHM publication channel. Segments 0-1 are
// created owner-only (privileged producer); segments 2+ are
// world-writable, per the external SHM contract.
type Segment struct {
	index int
	addr  uintptr
	shmid int
}

// OpenSegment attaches (creating if necessary) SHM segment i. Owner-only
// permissions are used for i < 2; world-writable for i >= 2.
func OpenSegment(i int) (*Segment, error) {
	perm := 0600
	if i >= 2 {
		perm = 0666
	}
	key := ntpdBase + i
	shmid, err := unix.SysvShmGet(key, shmTimeSize, unix.IPC_CREAT|perm)
	if err != nil {
		return nil, fmt.Errorf("timepub: shmget segment %d: %w", i, err)
	}
	addr, err := unix.SysvShmAttach(shmid, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("timepub: shmat segment %d: %w", i, err)
	}
	return &Segment{index: i, addr: addr, shmid: shmid}, nil
}

// Close detaches the segment.
func (s *Segment) Close() error {
	if err := unix.SysvShmDetach(s.addr); err != nil {
		return fmt.Errorf("timepub: shmdt segment %d: %w", s.index, err)
	}
	return nil
}

func (s *Segment) ptr() *shmTime {
	return (*shmTime)(unsafe.Pointer(s.addr))
}

// Write performs the documented count-bracket protocol: increment count,
// issue a memory barrier, store every field, issue a second barrier,
// increment count again, then set valid. A reader snapshotting (count,
// values, count) sees a torn-read-free result whenever the two count
// samples are equal, per the monotone/count-bracket testable properties.
func Write(s *Segment, real, clock gpstime.Spec, leap LeapNotify, precision int32) {
	p := s.ptr()
	p.Mode = 1
	p.Valid = 0
	p.Count++
	barrier()
	p.ClockTimeStampSec = clock.Sec
	p.ClockTimeStampUSec = int32(clock.Nsec / 1000)
	p.ClockTimeStampNSec = uint32(clock.Nsec)
	p.ReceiveTimeStampSec = real.Sec
	p.ReceiveTimeStampUSec = int32(real.Nsec / 1000)
	p.ReceiveTimeStampNSec = uint32(real.Nsec)
	p.Leap = int32(leap)
	p.Precision = precision
	barrier()
	p.Count++
	p.Valid = 1
}

// barrierWord is the target of barrier's atomic operation.
var barrierWord int32

// barrier issues a sync/atomic read-modify-write between the count
// increment and the value stores. The Go compiler does not move memory
// accesses across a sync/atomic call, and on amd64 it is a locked
// instruction that also orders the stores in hardware.
func barrier() {
	atomic.AddInt32(&barrierWord, 0)
}

// ChronySocketPath returns the well-known chrony datagram socket path for
// devbase, using the privileged location when priv is true.
func ChronySocketPath(devbase string, priv bool) string {
	if priv {
		return fmt.Sprintf("/var/run/chrony.%s.sock", devbase)
	}
	return fmt.Sprintf("/tmp/chrony.%s.sock", devbase)
}

// chronyMagic is chrony's SOCK_SAMPLE magic number identifying this
// struct's layout to the receiving chronyd.
const chronyMagic = 0x534f4c41

// ChronyWriter sends fixed-layout sample datagrams to a chrony refclock
// socket.
type ChronyWriter struct {
	conn *net.UnixConn
}

// DialChrony connects to the chrony socket at path.
func DialChrony(path string) (*ChronyWriter, error) {
	addr := &net.UnixAddr{Name: path, Net: "unixgram"}
	conn, err := net.DialUnix("unixgram", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("timepub: dial chrony socket %s: %w", path, err)
	}
	return &ChronyWriter{conn: conn}, nil
}

// Close closes the underlying socket.
func (w *ChronyWriter) Close() error { return w.conn.Close() }

// FixFreshness bounds how old a fix may be before the chrony socket will
// still publish it, enforcing fix-freshness before every publication per
// the design decision not to replicate the source's stale-write bug.
const FixFreshness = 2 * time.Second

// Publish sends one sample datagram, gated on fix freshness: pub is
// skipped (returns nil, no error) if now-real exceeds FixFreshness.
func (w *ChronyWriter) Publish(real gpstime.Spec, offset time.Duration, pulse bool, leap LeapNotify, now gpstime.Spec) error {
	if age := now.Sub(real); age > FixFreshness || age < -FixFreshness {
		return nil
	}
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(real.Sec))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(real.Nsec/1000))
	offsetSeconds := offset.Seconds()
	binary.LittleEndian.PutUint64(buf[12:20], math.Float64bits(offsetSeconds))
	if pulse {
		buf[20] = 1
	}
	buf[21] = byte(leap)
	binary.LittleEndian.PutUint32(buf[28:32], chronyMagic)

	_, err := w.conn.Write(buf)
	return err
}

// SeasonalLeapNotify implements the published leap-notify seasonality
// rule: {add,delete} only during June/December UTC, none otherwise.
func SeasonalLeapNotify(at gpstime.Spec, reported LeapNotify) LeapNotify {
	if reported == LeapNone || reported == LeapUnknown {
		return reported
	}
	month := at.Time().Month()
	if month == time.June || month == time.December {
		return reported
	}
	return LeapNone
}
