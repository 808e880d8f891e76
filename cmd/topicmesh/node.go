package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rmacdonaldsmith/topicmesh/internal/broker"
	"github.com/rmacdonaldsmith/topicmesh/internal/discovery"
	"github.com/rmacdonaldsmith/topicmesh/internal/eventlog"
	"github.com/rmacdonaldsmith/topicmesh/internal/httpapi"
	"github.com/rmacdonaldsmith/topicmesh/internal/peerlink"
	"github.com/rmacdonaldsmith/topicmesh/internal/routingtable"
	"github.com/rmacdonaldsmith/topicmesh/pkg/topic"
)

const shutdownTimeout = 30 * time.Second

// node runs one broker with its HTTP API, peer link server and upstream
// bridges
type node struct {
	config    *Config
	logger    *zap.Logger
	broker    *broker.Broker
	http      *httpapi.Server
	peers     *peerlink.Server
	discovery discovery.Discovery
	bridges   []*peerlink.Bridge

	httpListener net.Listener
	peerListener net.Listener
}

// newNode builds every component and binds both listeners. Nothing is
// served until Run.
func newNode(config *Config, logger *zap.Logger, registry *prometheus.Registry) (*node, error) {
	rtConfig := routingtable.NewConfig().
		WithLogger(logger).
		WithRegisterer(registry).
		WithStrictFilters(config.Broker.StrictFilters)
	if config.Broker.TopicCacheSize > 0 {
		// shared by the routing table and the broker's publish path
		cache, err := topic.NewCache(config.Broker.TopicCacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create topic cache: %w", err)
		}
		rtConfig.WithCache(cache)
	}

	brokerConfig := broker.NewConfig(config.NodeID).
		WithLogger(logger).
		WithRegisterer(registry).
		WithRoutingTableConfig(rtConfig).
		WithEventLogConfig(&eventlog.Config{MaxEventsPerTopic: config.Broker.MaxEventsPerTopic})
	if config.Broker.ClientBufferSize > 0 {
		brokerConfig.WithClientBufferSize(config.Broker.ClientBufferSize)
	}

	b, err := broker.New(brokerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create broker: %w", err)
	}

	httpConfig := httpapi.NewConfig().
		WithListenAddress(config.HTTP.Listen).
		WithNoAuth(config.HTTP.NoAuth).
		WithLogger(logger).
		WithGatherer(registry)
	if config.HTTP.SecretKey != "" {
		httpConfig.WithSecretKey(config.HTTP.SecretKey)
	}
	if config.HTTP.Keepalive > 0 {
		httpConfig.WithKeepaliveInterval(config.HTTP.Keepalive)
	}
	httpConfig.TokenTTL = config.HTTP.TokenTTL

	httpServer, err := httpapi.NewServer(b, httpConfig)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to create HTTP server: %w", err)
	}

	peerConfig := &peerlink.Config{
		NodeID:        config.NodeID,
		ListenAddress: config.Peer.Listen,
		Logger:        logger,
	}
	peerServer, err := peerlink.NewServer(peerConfig, b)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to create peer link server: %w", err)
	}

	n := &node{
		config:    config,
		logger:    logger,
		broker:    b,
		http:      httpServer,
		peers:     peerServer,
		discovery: discovery.NewStaticDiscovery(config.Peer.Upstreams),
	}

	if n.httpListener, err = net.Listen("tcp", config.HTTP.Listen); err != nil {
		n.closeAll()
		return nil, fmt.Errorf("failed to listen on %s: %w", config.HTTP.Listen, err)
	}
	if n.peerListener, err = net.Listen("tcp", config.Peer.Listen); err != nil {
		n.closeAll()
		return nil, fmt.Errorf("failed to listen on %s: %w", config.Peer.Listen, err)
	}
	return n, nil
}

// Run starts the broker and upstream bridges and serves both listeners
// until ctx is done or a server fails, then shuts everything down.
func (n *node) Run(ctx context.Context) error {
	if err := n.broker.Start(ctx); err != nil {
		n.closeAll()
		return fmt.Errorf("failed to start broker: %w", err)
	}
	if err := n.startBridges(ctx); err != nil {
		n.closeAll()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.http.Serve(n.httpListener)
	})
	g.Go(func() error {
		if err := n.peers.Serve(n.peerListener); err != nil && !errors.Is(err, peerlink.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		n.logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return n.shutdown(shutdownCtx)
	})

	n.logger.Info("node started",
		zap.String("node_id", n.config.NodeID),
		zap.String("http", n.httpListener.Addr().String()),
		zap.String("peer", n.peerListener.Addr().String()),
		zap.Int("upstreams", len(n.bridges)))

	return g.Wait()
}

// HTTPAddr returns the bound HTTP API address
func (n *node) HTTPAddr() string {
	return n.httpListener.Addr().String()
}

// PeerAddr returns the bound peer link address
func (n *node) PeerAddr() string {
	return n.peerListener.Addr().String()
}

func (n *node) startBridges(ctx context.Context) error {
	upstreams, err := n.discovery.FindPeers(ctx)
	if err != nil {
		return fmt.Errorf("failed to find upstreams: %w", err)
	}

	bridgeConfig := &peerlink.Config{NodeID: n.config.NodeID, Logger: n.logger}
	for _, upstream := range upstreams {
		bridge, err := peerlink.NewBridge(bridgeConfig, upstream.Address(), n.broker)
		if err != nil {
			return fmt.Errorf("failed to create bridge to %s: %w", upstream.Address(), err)
		}
		n.broker.AttachUpstream(bridge)
		if err := bridge.Start(ctx); err != nil {
			return fmt.Errorf("failed to start bridge to %s: %w", upstream.Address(), err)
		}
		n.bridges = append(n.bridges, bridge)
	}
	return nil
}

// shutdown stops accepting traffic, then stops the broker
func (n *node) shutdown(ctx context.Context) error {
	var errs []error
	if err := n.http.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	if err := n.peers.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("peer link: %w", err))
	}
	for _, bridge := range n.bridges {
		bridge.Close()
	}
	if err := n.broker.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("broker: %w", err))
	}
	if err := n.broker.Close(); err != nil {
		errs = append(errs, fmt.Errorf("broker: %w", err))
	}
	return errors.Join(errs...)
}

// closeAll releases everything newNode or a failed Run acquired
func (n *node) closeAll() {
	for _, bridge := range n.bridges {
		bridge.Close()
	}
	n.peers.Close()
	if n.httpListener != nil {
		n.httpListener.Close()
	}
	if n.peerListener != nil {
		n.peerListener.Close()
	}
	n.broker.Close()
}
