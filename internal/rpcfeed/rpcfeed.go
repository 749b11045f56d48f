// Package rpcfeed exposes a narrow gRPC stream of fix/skyview snapshots
// for local diagnostic tooling, grounded on the teacher's
// publisher/server streaming pattern but scoped to a GNSS fix, not a
// LiDAR frame bundle. Rather than hand-generating protoc output without
// a toolchain to verify it, snapshots are carried as
// google.golang.org/protobuf/types/known/structpb.Struct values over a
// hand-registered grpc.ServiceDesc.
package rpcfeed

import (
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/gnssd/internal/fix"
)

// serviceName is the gRPC service name clients dial against.
const serviceName = "gnssd.rpcfeed.FixFeed"

// FixFeedServer is the narrow interface a streaming handler needs.
type FixFeedServer interface {
	StreamFixes(req *structpb.Struct, stream FixFeed_StreamFixesServer) error
}

// FixFeed_StreamFixesServer is the send-only half of the server-streaming
// RPC, mirroring the shape protoc would generate for a server-stream
// method.
type FixFeed_StreamFixesServer interface {
	Send(*structpb.Struct) error
	Context() interface{ Done() <-chan struct{} }
}

type fixFeedStreamFixesServer struct {
	grpc.ServerStream
}

func (s *fixFeedStreamFixesServer) Send(m *structpb.Struct) error {
	return s.ServerStream.SendMsg(m)
}

func (s *fixFeedStreamFixesServer) Context() interface{ Done() <-chan struct{} } {
	return s.ServerStream.Context()
}

func streamFixesHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(FixFeedServer).StreamFixes(req, &fixFeedStreamFixesServer{ServerStream: stream})
}

// ServiceDesc is the hand-authored equivalent of what protoc-gen-go-grpc
// would emit for a single server-streaming RPC, registered directly with
// grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*FixFeedServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamFixes",
			Handler:       streamFixesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "gnssd/rpcfeed.proto",
}

// Publisher fans out fix snapshots to subscribed gRPC streams.
type Publisher struct {
	mu          sync.Mutex
	subscribers map[int]chan fix.Fix
	nextID      int
}

// NewPublisher returns an empty Publisher.
func NewPublisher() *Publisher {
	return &Publisher{subscribers: make(map[int]chan fix.Fix)}
}

// Publish broadcasts fx to every subscribed stream, dropping it for any
// subscriber whose channel is full.
func (p *Publisher) Publish(fx fix.Fix) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subscribers {
		select {
		case ch <- fx:
		default:
		}
	}
}

func (p *Publisher) subscribe() (int, chan fix.Fix) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	ch := make(chan fix.Fix, 16)
	p.subscribers[id] = ch
	return id, ch
}

func (p *Publisher) unsubscribe(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subscribers, id)
}

// Server implements FixFeedServer, streaming snapshots from a Publisher.
type Server struct {
	publisher *Publisher
}

// NewServer returns a Server streaming from publisher.
func NewServer(publisher *Publisher) *Server {
	return &Server{publisher: publisher}
}

// StreamFixes streams fix snapshots to the caller until the stream's
// context is cancelled.
func (s *Server) StreamFixes(req *structpb.Struct, stream FixFeed_StreamFixesServer) error {
	id, ch := s.publisher.subscribe()
	defer s.publisher.unsubscribe(id)

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case fx := <-ch:
			msg, err := fixToStruct(fx)
			if err != nil {
				return fmt.Errorf("rpcfeed: encode fix: %w", err)
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

// fixToStruct converts a fix.Fix into a structpb.Struct, substituting
// null for any NaN-sentineled field (structpb rejects NaN numbers).
func fixToStruct(f fix.Fix) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"time_unix_nano": f.Time.Sec*int64(time.Second) + f.Time.Nsec,
		"mode":           float64(f.Mode),
		"status":         float64(f.Status),
	}
	putIfFinite(fields, "lat", f.Lat)
	putIfFinite(fields, "lon", f.Lon)
	putIfFinite(fields, "alt_hae", f.AltHAE)
	putIfFinite(fields, "alt_msl", f.AltMSL)
	putIfFinite(fields, "speed", f.Speed)
	putIfFinite(fields, "track", f.Track)
	putIfFinite(fields, "climb", f.Climb)
	return structpb.NewStruct(fields)
}

func putIfFinite(fields map[string]interface{}, key string, v float64) {
	if v == v { // false only for NaN
		fields[key] = v
	}
}
