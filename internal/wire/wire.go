// Package wire provides endian-safe integer and IEEE-754 extraction and
// injection at arbitrary offsets into a frame buffer. It backs every
// protocol driver's field decode and the reference driver's configuration-
// frame encode.
package wire

import (
	"encoding/binary"
	"math"
)

// U1 reads an unsigned 8-bit integer at p[0].
func U1(p []byte) uint8 { return p[0] }

// I1 reads a signed 8-bit integer at p[0].
func I1(p []byte) int8 { return int8(p[0]) }

// U2L reads a little-endian unsigned 16-bit integer.
func U2L(p []byte) uint16 { return binary.LittleEndian.Uint16(p) }

// I2L reads a little-endian signed 16-bit integer.
func I2L(p []byte) int16 { return int16(binary.LittleEndian.Uint16(p)) }

// U4L reads a little-endian unsigned 32-bit integer.
func U4L(p []byte) uint32 { return binary.LittleEndian.Uint32(p) }

// I4L reads a little-endian signed 32-bit integer.
func I4L(p []byte) int32 { return int32(binary.LittleEndian.Uint32(p)) }

// U8L reads a little-endian unsigned 64-bit integer.
func U8L(p []byte) uint64 { return binary.LittleEndian.Uint64(p) }

// I8L reads a little-endian signed 64-bit integer.
func I8L(p []byte) int64 { return int64(binary.LittleEndian.Uint64(p)) }

// R4L reads a little-endian IEEE-754 single precision float.
func R4L(p []byte) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(p)) }

// R8L reads a little-endian IEEE-754 double precision float.
func R8L(p []byte) float64 { return math.Float64frombits(binary.LittleEndian.Uint64(p)) }

// U2B reads a big-endian unsigned 16-bit integer.
func U2B(p []byte) uint16 { return binary.BigEndian.Uint16(p) }

// U4B reads a big-endian unsigned 32-bit integer.
func U4B(p []byte) uint32 { return binary.BigEndian.Uint32(p) }

// SetU1 writes an unsigned 8-bit integer at p[0].
func SetU1(p []byte, v uint8) { p[0] = v }

// SetU2L writes a little-endian unsigned 16-bit integer.
func SetU2L(p []byte, v uint16) { binary.LittleEndian.PutUint16(p, v) }

// SetI4L writes a little-endian signed 32-bit integer.
func SetI4L(p []byte, v int32) { binary.LittleEndian.PutUint32(p, uint32(v)) }

// SetU4L writes a little-endian unsigned 32-bit integer.
func SetU4L(p []byte, v uint32) { binary.LittleEndian.PutUint32(p, v) }
