package peerlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/rmacdonaldsmith/topicmesh/pkg/broker"
	"github.com/rmacdonaldsmith/topicmesh/pkg/eventlog"
	"github.com/rmacdonaldsmith/topicmesh/pkg/peerlink"
	"github.com/rmacdonaldsmith/topicmesh/pkg/routingtable"
)

var (
	// ErrSendQueueFull is returned when a link's send queue is full
	ErrSendQueueFull = errors.New("link send queue is full")
	// ErrPeerNotFound is returned for an unknown peer ID
	ErrPeerNotFound = errors.New("peer not found")
	// ErrServerClosed is returned by Serve after Close
	ErrServerClosed = errors.New("peer link server is closed")
)

// Server accepts links from downstream nodes. Each linked node becomes a
// routing table subscriber holding the filters it asked for.
type Server struct {
	config *Config
	router broker.Router
	logger *zap.Logger
	grpc   *grpc.Server

	mu     sync.RWMutex
	peers  map[string]*downstreamPeer // keyed by link session ID
	closed bool
}

// NewServer creates a link server routing through router
func NewServer(config *Config, router broker.Router) (*Server, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if router == nil {
		return nil, fmt.Errorf("router cannot be nil")
	}

	// Make a copy and set defaults
	configCopy := *config
	configCopy.SetDefaults()
	if err := configCopy.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		config: &configCopy,
		router: router,
		logger: configCopy.Logger.Named("peerlink").With(zap.String("node_id", configCopy.NodeID)),
		peers:  make(map[string]*downstreamPeer),
	}
	s.grpc = grpc.NewServer(
		grpc.MaxRecvMsgSize(configCopy.MaxMessageSize),
		grpc.MaxSendMsgSize(configCopy.MaxMessageSize),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    configCopy.HeartbeatInterval,
			Timeout: 3 * configCopy.HeartbeatInterval,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             configCopy.HeartbeatInterval / 2,
			PermitWithoutStream: true,
		}),
	)
	s.grpc.RegisterService(&serviceDesc, s)
	return s, nil
}

// ListenAndServe listens on the configured address and serves links
func (s *Server) ListenAndServe() error {
	lis, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	return s.Serve(lis)
}

// Serve accepts links on lis until Close
func (s *Server) Serve(lis net.Listener) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrServerClosed
	}

	s.logger.Info("peer link listening", zap.String("address", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Shutdown stops accepting links and waits for open links to end until ctx
// is done, then cuts them.
func (s *Server) Shutdown(ctx context.Context) error {
	s.markClosed()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.grpc.Stop()
		return ctx.Err()
	}
}

// Close cuts every link and stops the server
func (s *Server) Close() error {
	s.markClosed()
	s.grpc.Stop()
	return nil
}

// GetConnectedPeers returns the linked downstream nodes ordered by node ID
func (s *Server) GetConnectedPeers(ctx context.Context) ([]peerlink.PeerNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]peerlink.PeerNode, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

// GetPeerHealth reports whether a downstream node is linked
func (s *Server) GetPeerHealth(ctx context.Context, peerID string) (peerlink.PeerHealthState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.peers {
		if p.nodeID == peerID {
			if p.IsHealthy() {
				return peerlink.PeerHealthy, nil
			}
			return peerlink.PeerUnhealthy, nil
		}
	}
	return peerlink.PeerDisconnected, ErrPeerNotFound
}

// Link serves one downstream node for the lifetime of its stream
func (s *Server) Link(stream grpc.ServerStream) error {
	ctx := stream.Context()

	hello, err := recvFrame(stream)
	if err != nil {
		if errors.Is(err, ErrMalformedFrame) {
			return status.Error(codes.InvalidArgument, err.Error())
		}
		return err
	}
	if hello.Kind != peerlink.FrameHello {
		return status.Errorf(codes.InvalidArgument, "expected hello, got %s", hello.Kind)
	}
	if hello.NodeID == s.config.NodeID {
		return status.Error(codes.InvalidArgument, "peer uses this node's ID")
	}

	p := newDownstreamPeer(hello.NodeID, remoteAddr(ctx), s.config.SendQueueSize)
	if err := s.register(p); err != nil {
		return status.Error(codes.Unavailable, err.Error())
	}
	logger := s.logger.With(zap.String("peer", p.nodeID), zap.String("session", p.session))
	defer func() {
		s.unregister(p)
		if err := s.router.RoutingTable().UnsubscribeAll(p); err != nil {
			logger.Debug("failed to drop peer filters", zap.Error(err))
		}
		logger.Info("peer unlinked")
	}()

	if err := sendFrame(stream, &peerlink.Frame{Kind: peerlink.FrameHello, NodeID: s.config.NodeID}); err != nil {
		return err
	}
	logger.Info("peer linked", zap.String("address", p.address))

	readErr := make(chan error, 1)
	go func() {
		readErr <- s.readLoop(ctx, stream, p, logger)
	}()
	return p.writeLoop(ctx, stream, readErr)
}

func (s *Server) readLoop(ctx context.Context, stream grpc.ServerStream, p *downstreamPeer, logger *zap.Logger) error {
	rt := s.router.RoutingTable()
	for {
		f, err := recvFrame(stream)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, ErrMalformedFrame) {
			logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		if err != nil {
			return err
		}

		switch f.Kind {
		case peerlink.FrameSubscribe:
			if err := rt.Subscribe(f.Filters, p); err != nil {
				logger.Warn("peer subscribe rejected", zap.Strings("filters", f.Filters), zap.Error(err))
			}
			if !p.IsHealthy() {
				// the link ended while subscribing; undo what cleanup missed
				_ = rt.UnsubscribeAll(p)
				return nil
			}
		case peerlink.FrameUnsubscribe:
			if err := rt.Unsubscribe(f.Filters, p); err != nil {
				logger.Warn("peer unsubscribe rejected", zap.Strings("filters", f.Filters), zap.Error(err))
			}
		case peerlink.FramePublish:
			if err := s.router.Forward(ctx, f.Record); err != nil {
				logger.Warn("failed to route peer message",
					zap.String("message_id", f.Record.ID), zap.Error(err))
			}
		default:
			logger.Debug("ignoring frame", zap.String("kind", string(f.Kind)))
		}
	}
}

func (s *Server) register(p *downstreamPeer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	s.peers[p.session] = p
	return nil
}

func (s *Server) unregister(p *downstreamPeer) {
	p.linked.Store(false)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, p.session)
}

func (s *Server) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func remoteAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

// downstreamPeer is a linked downstream node acting as a routing table
// subscriber. Matching records are queued and written by the link's
// goroutine; a full queue drops the record for this peer only.
type downstreamPeer struct {
	session string
	nodeID  string
	address string
	queue   chan *eventlog.Record
	linked  atomic.Bool
	dropped atomic.Uint64
}

func newDownstreamPeer(nodeID, address string, queueSize int) *downstreamPeer {
	p := &downstreamPeer{
		session: uuid.NewString(),
		nodeID:  nodeID,
		address: address,
		queue:   make(chan *eventlog.Record, queueSize),
	}
	p.linked.Store(true)
	return p
}

func (p *downstreamPeer) ID() string      { return p.nodeID }
func (p *downstreamPeer) Address() string { return p.address }
func (p *downstreamPeer) IsHealthy() bool { return p.linked.Load() }

func (p *downstreamPeer) Type() routingtable.SubscriberType {
	return routingtable.PeerNode
}

// OnMessage queues record for the peer. Records that originated on the
// peer are not sent back.
func (p *downstreamPeer) OnMessage(_ string, record *eventlog.Record) error {
	if record.Origin == p.nodeID {
		return nil
	}
	select {
	case p.queue <- record:
		return nil
	default:
		p.dropped.Add(1)
		return ErrSendQueueFull
	}
}

func (p *downstreamPeer) writeLoop(ctx context.Context, stream grpc.ServerStream, readErr <-chan error) error {
	for {
		select {
		case err := <-readErr:
			return err
		case <-ctx.Done():
			return ctx.Err()
		case record := <-p.queue:
			if err := sendFrame(stream, &peerlink.Frame{Kind: peerlink.FramePublish, Record: record}); err != nil {
				return err
			}
		}
	}
}

// Ensure the server and its peers implement the expected interfaces
var (
	_ peerlink.PeerLink                         = (*Server)(nil)
	_ peerlink.PeerNode                         = (*downstreamPeer)(nil)
	_ routingtable.Subscriber[*eventlog.Record] = (*downstreamPeer)(nil)
	_ routingtable.Identified                   = (*downstreamPeer)(nil)
)
