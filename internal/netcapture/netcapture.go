// Package netcapture extracts a GNSS protocol byte stream from
// network-delivered traffic: a live capture or an offline pcap replay of
// the UDP/TCP source kind spec.md's input-kinds list allows alongside a
// serial device or shared-memory source. It never drives the hunt loop
// directly (internal/ioport stays scoped to the real-hardware serial
// path); instead it exposes an io.Reader of reassembled payload bytes
// that internal/lexer can consume the same way it consumes serial bytes.
package netcapture

import (
	"errors"
	"io"
	"sync"
	"time"
)

// Packet is a single captured packet: payload bytes plus the capture
// timestamp the source reported.
type Packet struct {
	Payload   []byte
	Timestamp time.Time
}

// Source abstracts packet-level capture, letting tests drive the reader
// without a live interface or a recorded pcap file.
type Source interface {
	// Open begins reading from target, a pcap file path or a live
	// interface name depending on the concrete implementation.
	Open(target string) error

	// SetFilter installs a BPF filter (e.g. "udp port 5000") restricting
	// which packets NextPacket returns.
	SetFilter(filter string) error

	// NextPacket returns the next captured packet, or io.EOF once a
	// file-backed source is exhausted.
	NextPacket() (*Packet, error)

	// Close releases the underlying capture handle.
	Close()
}

// SourceFactory constructs a Source, letting callers inject a mock in
// tests instead of the real gopacket-backed implementation.
type SourceFactory interface {
	NewSource() Source
}

// PayloadReader adapts a Source into an io.Reader of raw payload bytes,
// the same shape internal/lexer already consumes from a serial port.
type PayloadReader struct {
	src  Source
	buf  []byte
	done bool
}

// NewPayloadReader wraps src, which must already be open and filtered.
func NewPayloadReader(src Source) *PayloadReader {
	return &PayloadReader{src: src}
}

// Read implements io.Reader, unpacking one captured packet's payload per
// underlying NextPacket call and draining it across Read calls if p is
// smaller than the payload.
func (r *PayloadReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.done {
			return 0, io.EOF
		}
		pkt, err := r.src.NextPacket()
		if err != nil {
			r.done = true
			if errors.Is(err, io.EOF) {
				return 0, io.EOF
			}
			return 0, err
		}
		if pkt == nil {
			r.done = true
			return 0, io.EOF
		}
		r.buf = pkt.Payload
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// Close closes the underlying Source.
func (r *PayloadReader) Close() error {
	r.src.Close()
	return nil
}

// MockSource implements Source for tests, replaying a fixed packet list.
type MockSource struct {
	mu sync.Mutex

	Packets       []Packet
	readIndex     int
	OpenError     error
	FilterError   error
	OpenedTarget  string
	AppliedFilter string
	Closed        bool
}

// NewMockSource returns a MockSource that replays packets in order.
func NewMockSource(packets []Packet) *MockSource {
	return &MockSource{Packets: packets}
}

// Open records target and returns any configured error.
func (m *MockSource) Open(target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenedTarget = target
	return m.OpenError
}

// SetFilter records filter and returns any configured error.
func (m *MockSource) SetFilter(filter string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppliedFilter = filter
	return m.FilterError
}

// NextPacket returns the next queued packet, or io.EOF when exhausted.
func (m *MockSource) NextPacket() (*Packet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Closed {
		return nil, errors.New("netcapture: source closed")
	}
	if m.readIndex >= len(m.Packets) {
		return nil, io.EOF
	}
	pkt := m.Packets[m.readIndex]
	m.readIndex++
	return &pkt, nil
}

// Close marks the mock as closed.
func (m *MockSource) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
}
