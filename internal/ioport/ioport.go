// Package ioport is the real serial-port backend used by the device
// session: it opens, reconfigures, and tears down a go.bug.st/serial port.
// Every device path is opened as a serial port; the path is not classified,
// and TCP or plain-file sources are not supported.
package ioport

import (
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"
)

// LineSettings mirrors the dimensions the hunt loop cycles through:
// baud, parity, and stop bits. DataBits is always 8 for the devices this
// daemon targets.
type LineSettings struct {
	BaudRate int
	StopBits int // 1 or 2
	Parity   string
}

// Normalize applies defaults and validates, the same contract the teacher
// module's PortOptions.Normalize offers, narrowed to the fields a GNSS
// hunt loop actually varies.
func (o LineSettings) Normalize() (LineSettings, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = 4800
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("ioport: invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}
	parity := strings.ToUpper(strings.TrimSpace(opts.Parity))
	if parity == "" {
		parity = "N"
	}
	if parity != "N" && parity != "E" && parity != "O" {
		return opts, fmt.Errorf("ioport: unsupported parity %q", opts.Parity)
	}
	opts.Parity = parity
	return opts, nil
}

// SerialMode converts LineSettings into the serial.Mode go.bug.st/serial
// expects when opening or reconfiguring a port.
func (o LineSettings) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: 8,
		StopBits: serial.StopBits(opts.StopBits),
	}
	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// CandidateRates is the hunt loop's ordered table of baud rates to try,
// matching the typical table named in the device-session spec.
var CandidateRates = []int{4800, 9600, 19200, 38400, 57600, 115200}

// Port is the narrow interface the session and PPS thread depend on,
// satisfied by a real serial.Port and by a fake in tests.
type Port interface {
	io.ReadWriteCloser
	SetMode(mode *serial.Mode) error
	ResetInputBuffer() error
	Drain() error
	// GetModemStatusBits reads the current state of the control lines
	// (DCD/RI/CTS/DSR). The PPS edge source does not use it: it opens the
	// device itself and issues its own ioctls.
	GetModemStatusBits() (*serial.ModemStatusBits, error)
}

// Open opens pathName as a serial port with the given initial line
// settings. The path is not classified: whatever it names is handed to
// serial.Open, and neither this package nor internal/session has a TCP or
// plain-file backend.
func Open(pathName string, settings LineSettings) (Port, error) {
	mode, err := settings.SerialMode()
	if err != nil {
		return nil, err
	}
	p, err := serial.Open(pathName, mode)
	if err != nil {
		return nil, fmt.Errorf("ioport: open %s: %w", pathName, err)
	}
	// Read-blocking with effectively VMIN=1 semantics: no read timeout, so
	// Read blocks until at least one byte arrives.
	if err := p.SetReadTimeout(serial.NoTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("ioport: set read timeout: %w", err)
	}
	return p, nil
}

// SettleDelay is the pause between flush operations after a line-setting
// change, letting a UART and any USB-serial bridge settle.
const SettleDelay = 200 * time.Millisecond

// Flush drains the receive buffer, waits SettleDelay, then drains again —
// the documented two-flush settle ritual run after every line change.
func Flush(p Port) error {
	if err := p.ResetInputBuffer(); err != nil {
		return err
	}
	time.Sleep(SettleDelay)
	return p.ResetInputBuffer()
}

// SpeedSwitchSettleDelay is the pause after draining output during a
// device-side speed-switch ritual, before the local termios is updated.
const SpeedSwitchSettleDelay = 50 * time.Millisecond
