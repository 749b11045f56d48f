//go:build pcap
// +build pcap

package netcapture

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// pcapSource is the real gopacket-backed Source, available only when
// built with -tags=pcap.
type pcapSource struct {
	handle *pcap.Handle
	pkts   <-chan gopacket.Packet
}

// PCAPFactory constructs live pcapSource instances.
type PCAPFactory struct{}

// NewSource returns a Source backed by gopacket's libpcap bindings.
func (PCAPFactory) NewSource() Source { return &pcapSource{} }

// Open opens target as a recorded pcap file for offline replay.
func (s *pcapSource) Open(target string) error {
	h, err := pcap.OpenOffline(target)
	if err != nil {
		return fmt.Errorf("netcapture: open pcap file %s: %w", target, err)
	}
	s.handle = h
	src := gopacket.NewPacketSource(h, h.LinkType())
	s.pkts = src.Packets()
	return nil
}

func (s *pcapSource) SetFilter(filter string) error {
	if err := s.handle.SetBPFFilter(filter); err != nil {
		return fmt.Errorf("netcapture: set BPF filter %q: %w", filter, err)
	}
	return nil
}

func (s *pcapSource) NextPacket() (*Packet, error) {
	pkt, ok := <-s.pkts
	if !ok || pkt == nil {
		return nil, nil
	}
	payload := extractPayload(pkt)
	if payload == nil {
		return &Packet{Timestamp: pkt.Metadata().Timestamp}, nil
	}
	return &Packet{Payload: payload, Timestamp: pkt.Metadata().Timestamp}, nil
}

func (s *pcapSource) Close() {
	if s.handle != nil {
		s.handle.Close()
	}
}

// extractPayload pulls the application payload out of a UDP or TCP
// packet, the two transport kinds the BPF filter is expected to admit.
func extractPayload(pkt gopacket.Packet) []byte {
	if udp := pkt.Layer(layers.LayerTypeUDP); udp != nil {
		if u, ok := udp.(*layers.UDP); ok {
			return u.Payload
		}
	}
	if tcp := pkt.Layer(layers.LayerTypeTCP); tcp != nil {
		if t, ok := tcp.(*layers.TCP); ok {
			return t.Payload
		}
	}
	return nil
}
