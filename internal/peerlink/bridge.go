package peerlink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/rmacdonaldsmith/topicmesh/pkg/broker"
	"github.com/rmacdonaldsmith/topicmesh/pkg/eventlog"
	"github.com/rmacdonaldsmith/topicmesh/pkg/peerlink"
	"github.com/rmacdonaldsmith/topicmesh/pkg/routingtable"
)

var (
	// ErrNotConnected is returned when publishing on a bridge that is not linked
	ErrNotConnected = errors.New("bridge is not connected")
	// ErrBridgeClosed is returned when starting a closed bridge
	ErrBridgeClosed = errors.New("bridge is closed")
)

// Bridge links this node to an upstream node. While linked it mirrors the
// local filter set upstream and injects the upstream's matching messages
// locally. It reconnects with exponential backoff and resubscribes the full
// filter set every time the link comes up.
type Bridge struct {
	config  *Config
	address string
	router  broker.Router
	logger  *zap.Logger

	mu       sync.Mutex
	link     *bridgeLink // nil while disconnected
	remoteID string
	state    peerlink.PeerHealthState
	started  bool
	closed   bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// bridgeLink is one established connection
type bridgeLink struct {
	queue  chan *peerlink.Frame
	cancel context.CancelFunc
}

// NewBridge creates a bridge from router's node to the upstream at address
func NewBridge(config *Config, address string, router broker.Router) (*Bridge, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if address == "" {
		return nil, fmt.Errorf("upstream address cannot be empty")
	}
	if router == nil {
		return nil, fmt.Errorf("router cannot be nil")
	}

	configCopy := *config
	configCopy.SetDefaults()
	if err := configCopy.Validate(); err != nil {
		return nil, err
	}

	return &Bridge{
		config:  &configCopy,
		address: address,
		router:  router,
		logger: configCopy.Logger.Named("bridge").With(
			zap.String("node_id", configCopy.NodeID), zap.String("upstream", address)),
		state: peerlink.PeerDisconnected,
	}, nil
}

// Start registers the bridge as a subscription listener and starts the
// connect loop. It returns immediately.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBridgeClosed
	}
	if b.started {
		return nil
	}
	b.started = true

	b.router.RoutingTable().AddListener(b)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.run(runCtx)
	return nil
}

// Close stops the connect loop and cuts the link
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancel, done := b.cancel, b.done
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// ID returns the upstream node ID once a link has been established
func (b *Bridge) ID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remoteID
}

// Address returns the upstream address
func (b *Bridge) Address() string {
	return b.address
}

// IsHealthy reports whether the link is up
func (b *Bridge) IsHealthy() bool {
	return b.Connected()
}

// Connected reports whether the link is up
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.link != nil
}

// State returns the link state
func (b *Bridge) State() peerlink.PeerHealthState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Publish queues record for the upstream. A full queue drops the record.
func (b *Bridge) Publish(ctx context.Context, record *eventlog.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.link == nil {
		return ErrNotConnected
	}
	if record.Origin != "" && record.Origin == b.remoteID {
		return nil
	}
	select {
	case b.link.queue <- &peerlink.Frame{Kind: peerlink.FramePublish, Record: record}:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// OnSubscribe forwards filters that gained their first local subscriber
func (b *Bridge) OnSubscribe(_, added []string) {
	if len(added) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendControl(&peerlink.Frame{Kind: peerlink.FrameSubscribe, Filters: added})
}

// OnUnsubscribe forwards filters that lost their last local subscriber
func (b *Bridge) OnUnsubscribe(_, removed []string) {
	if len(removed) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendControl(&peerlink.Frame{Kind: peerlink.FrameUnsubscribe, Filters: removed})
}

// sendControl queues a subscription frame. If the queue is full the link is
// cut so the reconnect resends the full filter set. Caller holds mu.
func (b *Bridge) sendControl(f *peerlink.Frame) {
	if b.link == nil {
		return
	}
	select {
	case b.link.queue <- f:
	default:
		b.logger.Warn("send queue full, relinking to resync filters")
		b.link.cancel()
	}
}

func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.config.InitialBackoff
	bo.MaxInterval = b.config.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		linked, err := b.connect(ctx)
		if ctx.Err() != nil {
			b.setState(peerlink.PeerDisconnected)
			return
		}
		if linked {
			bo.Reset()
		}

		wait := bo.NextBackOff()
		b.logger.Warn("upstream link down, retrying", zap.Duration("backoff", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			b.setState(peerlink.PeerDisconnected)
			return
		case <-time.After(wait):
		}
	}
}

// connect runs one link until it breaks. It reports whether the link was
// established.
func (b *Bridge) connect(ctx context.Context) (bool, error) {
	conn, err := grpc.NewClient(b.address, b.dialOptions()...)
	if err != nil {
		return false, fmt.Errorf("failed to create client: %w", err)
	}
	defer conn.Close()

	linkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := conn.NewStream(linkCtx, &linkStreamDesc, linkMethod)
	if err != nil {
		return false, fmt.Errorf("failed to open link: %w", err)
	}
	if err := sendFrame(stream, &peerlink.Frame{Kind: peerlink.FrameHello, NodeID: b.config.NodeID}); err != nil {
		return false, fmt.Errorf("failed to send hello: %w", err)
	}
	reply, err := recvFrame(stream)
	if err != nil {
		return false, fmt.Errorf("failed to receive hello: %w", err)
	}
	if reply.Kind != peerlink.FrameHello {
		return false, fmt.Errorf("%w: expected hello, got %s", ErrMalformedFrame, reply.Kind)
	}

	link := b.attach(reply.NodeID, cancel)
	defer b.detach(link)

	readErr := make(chan error, 1)
	go func() {
		readErr <- b.readLoop(linkCtx, stream)
	}()

	for {
		select {
		case f := <-link.queue:
			if err := sendFrame(stream, f); err != nil {
				return true, err
			}
		case err := <-readErr:
			return true, err
		case <-linkCtx.Done():
			return true, linkCtx.Err()
		}
	}
}

// attach publishes the link and queues the full local filter set ahead of
// any listener frames.
func (b *Bridge) attach(remoteID string, cancel context.CancelFunc) *bridgeLink {
	b.mu.Lock()
	defer b.mu.Unlock()

	link := &bridgeLink{
		queue:  make(chan *peerlink.Frame, b.config.SendQueueSize),
		cancel: cancel,
	}
	b.link = link
	b.remoteID = remoteID
	b.state = peerlink.PeerHealthy

	if filters := b.router.RoutingTable().AllFilters(); len(filters) > 0 {
		b.sendControl(&peerlink.Frame{Kind: peerlink.FrameSubscribe, Filters: filters})
	}
	b.logger.Info("upstream linked", zap.String("upstream_id", remoteID))
	return link
}

func (b *Bridge) detach(link *bridgeLink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.link == link {
		b.link = nil
		b.state = peerlink.PeerUnhealthy
	}
}

func (b *Bridge) readLoop(ctx context.Context, stream grpc.ClientStream) error {
	for {
		f, err := recvFrame(stream)
		if errors.Is(err, ErrMalformedFrame) {
			b.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		if err != nil {
			return err
		}
		if f.Kind != peerlink.FramePublish {
			b.logger.Debug("ignoring frame", zap.String("kind", string(f.Kind)))
			continue
		}
		if err := b.router.Deliver(ctx, f.Record); err != nil {
			b.logger.Warn("failed to deliver upstream message",
				zap.String("message_id", f.Record.ID), zap.Error(err))
		}
	}
}

func (b *Bridge) setState(state peerlink.PeerHealthState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = state
}

func (b *Bridge) dialOptions() []grpc.DialOption {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(b.config.MaxMessageSize),
			grpc.MaxCallSendMsgSize(b.config.MaxMessageSize),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                b.config.HeartbeatInterval,
			Timeout:             3 * b.config.HeartbeatInterval,
			PermitWithoutStream: true,
		}),
	}
	return append(opts, b.config.DialOptions...)
}

// Ensure Bridge implements the expected interfaces
var (
	_ broker.Upstream       = (*Bridge)(nil)
	_ peerlink.PeerNode     = (*Bridge)(nil)
	_ routingtable.Listener = (*Bridge)(nil)
)
