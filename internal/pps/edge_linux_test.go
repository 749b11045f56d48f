//go:build linux

package pps

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpenTIOCMIWaitSourceErrorsOnMissingDevice(t *testing.T) {
	_, err := OpenTIOCMIWaitSource("/dev/gnssd-test-nonexistent-device")
	assert.Error(t, err)
}
