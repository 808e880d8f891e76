package discovery

import (
	"context"
	"strings"

	"github.com/rmacdonaldsmith/topicmesh/pkg/peerlink"
)

// StaticDiscovery implements Discovery over a fixed list of upstream addresses
type StaticDiscovery struct {
	addresses []string
}

// staticPeerNode implements peerlink.PeerNode for a configured address.
// Its real node ID is only learned once a bridge links to it.
type staticPeerNode struct {
	address string
}

func (p *staticPeerNode) ID() string      { return p.address }
func (p *staticPeerNode) Address() string { return p.address }
func (p *staticPeerNode) IsHealthy() bool { return true } // Static discovery assumes healthy

// NewStaticDiscovery creates a static discovery over addresses. Blank and
// repeated addresses are dropped; order is kept.
func NewStaticDiscovery(addresses []string) *StaticDiscovery {
	seen := make(map[string]bool, len(addresses))
	kept := make([]string, 0, len(addresses))
	for _, address := range addresses {
		address = strings.TrimSpace(address)
		if address == "" || seen[address] {
			continue
		}
		seen[address] = true
		kept = append(kept, address)
	}
	return &StaticDiscovery{addresses: kept}
}

// FindPeers returns one peer node per configured address
func (s *StaticDiscovery) FindPeers(ctx context.Context) ([]peerlink.PeerNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	peers := make([]peerlink.PeerNode, len(s.addresses))
	for i, address := range s.addresses {
		peers[i] = &staticPeerNode{address: address}
	}
	return peers, nil
}
