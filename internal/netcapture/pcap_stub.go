//go:build !pcap
// +build !pcap

package netcapture

import "fmt"

// pcapSource is the stub Source returned when built without -tags=pcap.
type pcapSource struct{}

// PCAPFactory constructs the stub Source.
type PCAPFactory struct{}

// NewSource returns a Source that errors on Open, explaining how to
// enable real pcap support.
func (PCAPFactory) NewSource() Source { return &pcapSource{} }

func (s *pcapSource) Open(target string) error {
	return fmt.Errorf("netcapture: pcap support not enabled: rebuild with -tags=pcap to replay %s", target)
}

func (s *pcapSource) SetFilter(filter string) error { return nil }

func (s *pcapSource) NextPacket() (*Packet, error) { return nil, nil }

func (s *pcapSource) Close() {}
