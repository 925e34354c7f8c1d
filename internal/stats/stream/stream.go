// Package stream serves published snapshots to remote telemetry clients
// over a server-streaming gRPC method. Each message is the
// google.protobuf.Struct form built by codec.ToStruct, so no generated
// stubs are needed on either side.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/loopstats/internal/monitoring"
	"github.com/banshee-data/loopstats/internal/stats"
	"github.com/banshee-data/loopstats/internal/stats/codec"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "loopstats.v1.SnapshotStream"
	// WatchSnapshotsMethod is the full method name of the stream.
	WatchSnapshotsMethod = "/" + ServiceName + "/WatchSnapshots"

	// clientBuffer is the number of snapshots queued per client before
	// newer ones are dropped for that client.
	clientBuffer = 16

	maxMsgSize = 16 * 1024 * 1024 // 16 MB, extended images are large
)

// SnapshotStreamServer is the server API of the snapshot stream.
type SnapshotStreamServer interface {
	WatchSnapshots(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
}

func watchSnapshotsHandler(srv any, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(SnapshotStreamServer).WatchSnapshots(m, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

// ServiceDesc describes the snapshot stream for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SnapshotStreamServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchSnapshots",
			Handler:       watchSnapshotsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "loopstats/v1/stream.proto",
}

// Server fans published snapshots out to every watching client. It is a
// stats.Consumer.
type Server struct {
	mu      sync.RWMutex
	clients map[uint64]chan *structpb.Struct
	nextID  uint64

	done     chan struct{}
	stopOnce sync.Once

	sent    atomic.Uint64
	dropped atomic.Uint64
}

var (
	_ stats.Consumer       = (*Server)(nil)
	_ SnapshotStreamServer = (*Server)(nil)
)

// NewServer creates a Server with no clients.
func NewServer() *Server {
	return &Server{
		clients: make(map[uint64]chan *structpb.Struct),
		done:    make(chan struct{}),
	}
}

// Register adds the snapshot stream service to gs.
func (s *Server) Register(gs grpc.ServiceRegistrar) {
	gs.RegisterService(&ServiceDesc, s)
}

// Consume implements stats.Consumer. Slow clients lose snapshots rather
// than stalling the producer.
func (s *Server) Consume(snap *stats.Snapshot) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.clients) == 0 {
		return
	}

	msg, err := codec.ToStruct(snap)
	if err != nil {
		monitoring.Logf("[stream] failed to encode snapshot %d: %v", snap.RefImageID(), err)
		return
	}
	for id, ch := range s.clients {
		select {
		case ch <- msg:
		default:
			n := s.dropped.Add(1)
			monitoring.Debugf("[stream] client %d slow, dropped snapshot %d (total dropped: %d)",
				id, snap.RefImageID(), n)
		}
	}
}

// WatchSnapshots implements SnapshotStreamServer. It streams every
// snapshot consumed after the call until the client goes away or the
// server stops.
func (s *Server) WatchSnapshots(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	id, ch := s.addClient()
	defer s.removeClient(id)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case msg := <-ch:
			if err := stream.Send(msg); err != nil {
				return err
			}
			s.sent.Add(1)
		}
	}
}

func (s *Server) addClient() (uint64, chan *structpb.Struct) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ch := make(chan *structpb.Struct, clientBuffer)
	s.clients[s.nextID] = ch
	monitoring.Logf("[stream] client %d connected (total: %d)", s.nextID, len(s.clients))
	return s.nextID, ch
}

func (s *Server) removeClient(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, id)
	monitoring.Logf("[stream] client %d disconnected (remaining: %d)", id, len(s.clients))
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Stats returns how many messages were sent and dropped across clients.
func (s *Server) Stats() (sent, dropped uint64) {
	return s.sent.Load(), s.dropped.Load()
}

// Serve runs a gRPC server on lis until ctx is cancelled, then ends every
// open stream and stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	gs := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	s.Register(gs)

	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("[stream] gRPC server listening on %s", lis.Addr())
		errc <- gs.Serve(lis)
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.stopOnce.Do(func() { close(s.done) })
	gs.GracefulStop()
	<-errc
	monitoring.Logf("[stream] gRPC server stopped")
	return nil
}

// Watcher receives snapshots from a remote Server.
type Watcher struct {
	stream grpc.ServerStreamingClient[structpb.Struct]
}

// Watch opens a snapshot stream on cc.
func Watch(ctx context.Context, cc grpc.ClientConnInterface, opts ...grpc.CallOption) (*Watcher, error) {
	cs, err := cc.NewStream(ctx, &ServiceDesc.Streams[0], WatchSnapshotsMethod, opts...)
	if err != nil {
		return nil, fmt.Errorf("open snapshot stream: %w", err)
	}
	x := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: cs}
	if err := x.ClientStream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, fmt.Errorf("send watch request: %w", err)
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, fmt.Errorf("close watch request: %w", err)
	}
	return &Watcher{stream: x}, nil
}

// Next blocks for the next snapshot. It returns io.EOF once the server
// ends the stream.
func (w *Watcher) Next() (*stats.Snapshot, error) {
	msg, err := w.stream.Recv()
	if err != nil {
		return nil, err
	}
	return codec.FromStruct(msg)
}
