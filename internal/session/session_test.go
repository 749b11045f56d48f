package session

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/banshee-data/gnssd/internal/driver"
	"github.com/banshee-data/gnssd/internal/lexer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// fakePort is an in-memory ioport.Port that replays a fixed byte stream,
// repeating it until Close, so the hunt loop's retry budget can exhaust
// against candidates that never produce a lock.
type fakePort struct {
	data      []byte
	pos       int
	closed    bool
	setModes  []*serial.Mode
	flushCnt  int
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.closed {
		return 0, io.EOF
	}
	if p.pos >= len(p.data) {
		p.pos = 0 // repeat the stream, as a real noisy line would
	}
	n := copy(b, p.data[p.pos:])
	p.pos += n
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (p *fakePort) Write(b []byte) (int, error) { return len(b), nil }
func (p *fakePort) Close() error                { p.closed = true; return nil }
func (p *fakePort) SetMode(mode *serial.Mode) error {
	p.setModes = append(p.setModes, mode)
	return nil
}
func (p *fakePort) ResetInputBuffer() error { p.flushCnt++; return nil }
func (p *fakePort) Drain() error            { return nil }
func (p *fakePort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}

func newRegistryWithNMEA() *driver.Context {
	reg := driver.NewRegistry()
	reg.Register(&driver.Driver{
		Name: "nmea-probe",
		Type: lexer.NMEA,
		Parse: func(s driver.Session, frame []byte) driver.UpdateMask {
			return driver.UpdatedLatLon
		},
	})
	reg.Freeze()
	return driver.NewContext(reg, false)
}

// TestScenarioS3HuntLock drives spec scenario S3's hunt loop with a sink
// emitting a repeating NMEA line. The fake port ignores baud, so the hunt
// locks on its first candidate; stepping through rates is not exercised
// here.
func TestScenarioS3HuntLock(t *testing.T) {
	line := lexer.EncodeNMEA("GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,")
	// Repeat the line many times so each hunt step has enough bytes to
	// either lock (if it were the right baud) or exhaust its retry
	// budget (since the fake port ignores baud and always serves valid
	// frames — the lock happens on the very first candidate here, which
	// is the behavior this test is actually asserting: lock on first
	// frame parse success).
	stream := bytes.Repeat(line, 8)

	port := &fakePort{data: stream}
	ctx := newRegistryWithNMEA()
	s := newWithPort("/dev/fake0", port, ctx)

	runCtx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(runCtx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !s.Locked() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("session did not exit after cancellation")
	}

	assert.True(t, s.Locked())
}

func TestHuntRetryStepsBaudOnBudgetExhaustion(t *testing.T) {
	// All-junk stream: never produces a valid frame, so the hunt loop
	// should step through baud candidates via huntRetry.
	junk := bytes.Repeat([]byte{0xFF}, retryBudget*3)
	port := &fakePort{data: junk}
	ctx := newRegistryWithNMEA()
	s := newWithPort("/dev/fake1", port, ctx)

	for i := 0; i < len(junk); i++ {
		frames := s.lex.Feed(junk[i : i+1])
		for _, f := range frames {
			_ = s.handleFrame(f)
		}
	}

	assert.False(t, s.Locked())
	assert.Greater(t, len(port.setModes), 0)
}

func TestLockSetsSavedBaud(t *testing.T) {
	ctx := newRegistryWithNMEA()
	port := &fakePort{}
	s := newWithPort("/dev/fake2", port, ctx)

	d := &driver.Driver{Name: "nmea", Type: lexer.NMEA, Sticky: true}
	s.lock(d)

	assert.True(t, s.Locked())
	assert.Equal(t, 4800, s.SavedBaud())
}
