package driver

import (
	"testing"

	"github.com/banshee-data/gnssd/internal/lexer"
	"github.com/stretchr/testify/assert"
)

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	d := &Driver{Name: "ubx", Type: lexer.BinaryA}
	reg.Register(d)
	reg.Freeze()

	assert.Same(t, d, reg.Lookup(lexer.BinaryA))
	assert.Nil(t, reg.Lookup(lexer.NMEA))
}

func TestRegistryPanicsAfterFreeze(t *testing.T) {
	reg := NewRegistry()
	reg.Freeze()
	assert.Panics(t, func() {
		reg.Register(&Driver{Name: "late", Type: lexer.NMEA})
	})
}

func TestContextLeapSeconds(t *testing.T) {
	c := NewContext(NewRegistry(), false)
	assert.False(t, c.LeapSecondsValid())
	assert.Equal(t, 0, c.LeapSeconds())

	c.SetLeapSeconds(18)
	assert.True(t, c.LeapSecondsValid())
	assert.Equal(t, 18, c.LeapSeconds())
}

func TestContextErrOutNoSinkDoesNotPanic(t *testing.T) {
	c := NewContext(NewRegistry(), false)
	assert.NotPanics(t, func() { c.ErrOut("hello") })
}

func TestContextErrOutForwards(t *testing.T) {
	var got string
	c := NewContext(NewRegistry(), false)
	c.ErrOutFn = func(text string) { got = text }
	c.ErrOut("INF something")
	assert.Equal(t, "INF something", got)
}
