package wire

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnsignedLittleEndian(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}

	assert.Equal(t, uint16(0x0201), U2L(buf))
	assert.Equal(t, uint32(0x04030201), U4L(buf))
	assert.Equal(t, uint64(0x0807060504030201), U8L(buf))
}

func TestSignedLittleEndian(t *testing.T) {
	buf := []byte{0xFF, 0xFF, 0xFF, 0xFF}

	assert.Equal(t, int16(-1), I2L(buf[:2]))
	assert.Equal(t, int32(-1), I4L(buf))
}

func TestBigEndian(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04}

	assert.Equal(t, uint16(0x0102), U2B(buf))
	assert.Equal(t, uint32(0x01020304), U4B(buf))
}

func TestFloatRoundTrip(t *testing.T) {
	buf := make([]byte, 8)
	SetU4L(buf[:4], math.Float32bits(3.5))
	assert.Equal(t, float32(3.5), R4L(buf[:4]))

	SetU4L(buf[:4], 0)
	assert.Equal(t, float32(0), R4L(buf[:4]))
}

func TestSetters(t *testing.T) {
	buf := make([]byte, 4)
	SetU1(buf[:1], 0xAB)
	assert.Equal(t, uint8(0xAB), U1(buf))

	SetU2L(buf[:2], 0x1234)
	assert.Equal(t, uint16(0x1234), U2L(buf))

	SetI4L(buf, -100)
	assert.Equal(t, int32(-100), I4L(buf))

	SetU4L(buf, 0xDEADBEEF)
	assert.Equal(t, uint32(0xDEADBEEF), U4L(buf))
}

func TestR8L(t *testing.T) {
	buf := make([]byte, 8)
	bits := math.Float64bits(51.477928)
	for i := 0; i < 8; i++ {
		buf[i] = byte(bits >> (8 * i))
	}
	assert.InDelta(t, 51.477928, R8L(buf), 1e-9)
}
