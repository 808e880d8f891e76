package discovery

import (
	"context"

	"github.com/rmacdonaldsmith/topicmesh/pkg/peerlink"
)

// Discovery finds the upstream nodes this node should bridge to
type Discovery interface {
	// FindPeers returns the upstream nodes to link to
	FindPeers(ctx context.Context) ([]peerlink.PeerNode, error)
}
