package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePVTPayload() []byte {
	// A minimal 92-byte payload; field contents are irrelevant to the
	// lexer, which only cares about framing and checksum.
	return make([]byte, 92)
}

func TestBinaryFrameRoundTrip(t *testing.T) {
	payload := samplePVTPayload()
	frame := EncodeBinary(0x01, 0x07, payload)

	l := New()
	frames := l.Feed(frame)

	assert.Len(t, frames, 1)
	assert.Equal(t, BinaryA, frames[0].Type)
	assert.Equal(t, frame, frames[0].Bytes)
}

func TestNMEAFrameRoundTrip(t *testing.T) {
	line := EncodeNMEA("GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,")

	l := New()
	frames := l.Feed(line)

	assert.Len(t, frames, 1)
	assert.Equal(t, NMEA, frames[0].Type)
	assert.Equal(t, line, frames[0].Bytes)
}

// TestLexerResync exercises property 1: junk ++ frame ++ more always
// surfaces frame regardless of junk's contents.
func TestLexerResync(t *testing.T) {
	payload := samplePVTPayload()
	good := EncodeBinary(0x01, 0x07, payload)

	junk := []byte{0x00, 0x11, 0x22, 0xFF, 0xAA}
	stream := append(append([]byte{}, junk...), good...)

	l := New()
	frames := l.Feed(stream)

	var sawGood bool
	for _, f := range frames {
		if f.Type == BinaryA && string(f.Bytes) == string(good) {
			sawGood = true
		}
	}
	assert.True(t, sawGood, "expected the valid frame to survive resync after junk")
}

// TestLexerResyncsOnStraySync1Byte covers a SAW_LEAD1 mismatch where the
// mismatching byte is itself a valid sync1: a stray 0xB5 immediately
// before a real frame must not cost the frame its sync bytes.
func TestLexerResyncsOnStraySync1Byte(t *testing.T) {
	payload := samplePVTPayload()
	good := EncodeBinary(0x01, 0x07, payload)

	stream := append([]byte{sync1}, good...)

	l := New()
	frames := l.Feed(stream)

	require.Len(t, frames, 2)
	assert.Equal(t, Bad, frames[0].Type)
	assert.Equal(t, []byte{sync1}, frames[0].Bytes)
	assert.Equal(t, BinaryA, frames[1].Type)
	assert.Equal(t, good, frames[1].Bytes)
}

// TestLexerNeverOverrunsBuffer exercises property 2.
func TestLexerNeverOverrunsBuffer(t *testing.T) {
	l := New()
	huge := make([]byte, bufferCapacity*4)
	for i := range huge {
		huge[i] = byte(i)
	}
	assert.NotPanics(t, func() { l.Feed(huge) })
	assert.LessOrEqual(t, l.n, bufferCapacity)
}

// TestScenarioS2BadChecksumThenGoodFrame matches spec scenario S2: a
// binary-looking span with a corrupted checksum followed by a good PVT
// frame yields one Bad then exactly one BinaryA frame.
func TestScenarioS2BadChecksumThenGoodFrame(t *testing.T) {
	payload := make([]byte, 92)
	badFrame := EncodeBinary(0x01, 0x07, payload)
	// Corrupt the checksum bytes so the first frame fails validation.
	badFrame[len(badFrame)-1] ^= 0xFF

	goodFrame := EncodeBinary(0x01, 0x07, payload)

	stream := append([]byte{0x00}, append(badFrame, goodFrame...)...)

	l := New()
	frames := l.Feed(stream)

	var badCount, goodCount int
	for _, f := range frames {
		switch f.Type {
		case Bad:
			badCount++
		case BinaryA:
			goodCount++
			assert.Equal(t, goodFrame, f.Bytes)
		}
	}
	assert.GreaterOrEqual(t, badCount, 1)
	assert.Equal(t, 1, goodCount)
}

func TestChecksumMismatchResyncs(t *testing.T) {
	payload := []byte{1, 2, 3}
	frame := EncodeBinary(0x01, 0x07, payload)
	frame[len(frame)-2] ^= 0xFF // corrupt ckA

	l := New()
	frames := l.Feed(frame)
	// The frame fails at the corrupted ckA; the ckB byte that follows is
	// then a stray byte in GROUND and surfaces as its own one-byte Bad span.
	assert.Len(t, frames, 2)
	assert.Equal(t, Bad, frames[0].Type)
}

func TestNMEABadChecksumResyncs(t *testing.T) {
	line := EncodeNMEA("GPGGA,garbage")
	line[len(line)-4] ^= 0xFF // flip a checksum hex digit

	l := New()
	frames := l.Feed(line)
	// The line fails at the second checksum digit; the CR and LF that
	// follow are then stray bytes in GROUND, each its own one-byte Bad span.
	assert.Len(t, frames, 3)
	assert.Equal(t, Bad, frames[0].Type)
}

// TestNMEAUnterminatedLineThenGoodFrame covers an NMEA body terminated by
// CR/LF without the required '*' delimiter, immediately followed by a real
// binary frame: the CR/LF byte must be re-offered to GROUND rather than
// silently dropped, so it surfaces as its own Bad span and the frame that
// follows is still recognized in full.
func TestNMEAUnterminatedLineThenGoodFrame(t *testing.T) {
	payload := samplePVTPayload()
	good := EncodeBinary(0x01, 0x07, payload)

	stream := append([]byte("$GPGGA,nochecksum\r\n"), good...)

	l := New()
	frames := l.Feed(stream)

	require.GreaterOrEqual(t, len(frames), 2)
	last := frames[len(frames)-1]
	assert.Equal(t, BinaryA, last.Type)
	assert.Equal(t, good, last.Bytes)
}
