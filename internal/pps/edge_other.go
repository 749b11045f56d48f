//go:build !linux

package pps

import (
	"context"
	"fmt"
	"runtime"
)

// TIOCMIWaitSource is unavailable outside Linux: TIOCMIWAIT is a
// Linux-specific tty ioctl with no portable equivalent.
type TIOCMIWaitSource struct{}

// OpenTIOCMIWaitSource always fails on this platform.
func OpenTIOCMIWaitSource(path string) (*TIOCMIWaitSource, error) {
	return nil, fmt.Errorf("pps: TIOCMIWAIT edge source is not supported on %s", runtime.GOOS)
}

// Close is a no-op.
func (s *TIOCMIWaitSource) Close() error { return nil }

// WaitEdge always fails on this platform.
func (s *TIOCMIWaitSource) WaitEdge(ctx context.Context) (Edge, error) {
	return Edge{}, fmt.Errorf("pps: TIOCMIWAIT edge source is not supported on %s", runtime.GOOS)
}
