package peerlink

import (
	"context"
	"io"

	"github.com/rmacdonaldsmith/topicmesh/pkg/eventlog"
)

// PeerHealthState represents the health state of a peer
type PeerHealthState int

const (
	PeerHealthy PeerHealthState = iota
	PeerUnhealthy
	PeerDisconnected
)

func (s PeerHealthState) String() string {
	switch s {
	case PeerHealthy:
		return "Healthy"
	case PeerUnhealthy:
		return "Unhealthy"
	case PeerDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// PeerNode represents a remote node on the other end of a link
type PeerNode interface {
	// ID returns unique identifier for this peer node
	ID() string

	// Address returns the network address of the peer node
	Address() string

	// IsHealthy returns whether the peer node is currently reachable
	IsHealthy() bool
}

// PeerLink accepts links from downstream nodes.
type PeerLink interface {
	io.Closer

	// GetConnectedPeers returns all currently connected downstream peers.
	GetConnectedPeers(ctx context.Context) ([]PeerNode, error)

	// GetPeerHealth returns health status for a specific peer node.
	GetPeerHealth(ctx context.Context, peerID string) (PeerHealthState, error)
}

// FrameKind identifies a link frame
type FrameKind string

const (
	FrameHello       FrameKind = "hello"
	FrameSubscribe   FrameKind = "subscribe"
	FrameUnsubscribe FrameKind = "unsubscribe"
	FramePublish     FrameKind = "publish"
)

// Frame is one message on a link
type Frame struct {
	Kind FrameKind

	// NodeID is set on hello frames
	NodeID string

	// Filters is set on subscribe and unsubscribe frames
	Filters []string

	// Record is set on publish frames
	Record *eventlog.Record
}
