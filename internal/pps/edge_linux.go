//go:build linux

package pps

import (
	"context"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/banshee-data/gnssd/internal/gpstime"
)

// ttyLineMask is the set of DCE->DTE handshake lines worth waiting on:
// DCD, RI, CTS, DSR. A GPS asserting PPS on any one of them produces a
// status-change interrupt; waiting on the full set removes a
// configuration switch, since no device lights up more than one.
const ttyLineMask = unix.TIOCM_CD | unix.TIOCM_RI | unix.TIOCM_CTS | unix.TIOCM_DSR

// TIOCMIWaitSource is the TIOCMIWAIT-based fallback EdgeSource: it waits
// for a modem-control-line transition on a serial device's file
// descriptor, the same technique used when a kernel RFC 2783 PPS
// descriptor is unavailable for the device.
//
// haveLast/lastBits retain the monitored line mask's state across calls
// so a wakeup can be classified as a rising or falling transition; both
// fields are only ever touched from the sequential WaitEdge caller
// (internal/pps.Thread.Run), so no locking is needed.
type TIOCMIWaitSource struct {
	fd       int
	lastBits int
	haveLast bool
}

// OpenTIOCMIWaitSource opens path directly (bypassing ioport, which owns
// the data-read descriptor) so this source can issue ioctls against it.
func OpenTIOCMIWaitSource(path string) (*TIOCMIWaitSource, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("pps: open %s for TIOCMIWAIT: %w", path, err)
	}
	return &TIOCMIWaitSource{fd: fd}, nil
}

// Close releases the file descriptor.
func (s *TIOCMIWaitSource) Close() error {
	return unix.Close(s.fd)
}

// WaitEdge blocks on TIOCMIWAIT for a transition on any monitored
// handshake line, then immediately samples the system clock, then reads
// the line state with TIOCMGET to classify the transition's polarity:
// the timestamp is taken as close to the wakeup as possible, with the
// TIOCMGET read only used to tell rising from falling, never to gate
// the timestamp itself.
//
// ctx cancellation returns promptly to the caller but cannot interrupt
// an in-flight TIOCMIWAIT syscall; its goroutine exits only once the
// next real line transition (or Close) unblocks it.
func (s *TIOCMIWaitSource) WaitEdge(ctx context.Context) (Edge, error) {
	type result struct {
		edge Edge
		err  error
	}
	done := make(chan result, 1)
	go func() {
		mask := ttyLineMask
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(s.fd), unix.TIOCMIWAIT, uintptr(mask))
		if errno != 0 {
			done <- result{err: fmt.Errorf("pps: TIOCMIWAIT: %w", errno)}
			return
		}
		var ts unix.Timespec
		if err := unix.ClockGettime(unix.CLOCK_REALTIME, &ts); err != nil {
			done <- result{err: fmt.Errorf("pps: clock_gettime: %w", err)}
			return
		}
		at := gpstime.Normalize(int64(ts.Sec), int64(ts.Nsec))

		bits, err := unix.IoctlGetInt(s.fd, unix.TIOCMGET)
		if err != nil {
			done <- result{err: fmt.Errorf("pps: TIOCMGET: %w", err)}
			return
		}
		// Default to rising for the very first wakeup, when there is no
		// prior line state to compare against; thereafter, rising means
		// the mask went from clear to set.
		rising := true
		if s.haveLast {
			rising = bits&ttyLineMask != 0 && s.lastBits&ttyLineMask == 0
		}
		s.lastBits = bits
		s.haveLast = true

		done <- result{edge: Edge{At: at, Rising: rising}}
	}()

	select {
	case r := <-done:
		return r.edge, r.err
	case <-ctx.Done():
		return Edge{}, ctx.Err()
	}
}
