// Package peerlink provides the types shared by the node-to-node link.
//
// Nodes form a tree. A node bridges to its upstream over a single gRPC
// bidirectional stream and the upstream treats it as one more subscriber:
//   - PeerNode: a remote node as seen from either end of a link
//   - PeerLink: the accepting side, listing connected downstream peers
//   - Frame: one message on the link
//
// Link protocol:
//  1. The downstream node sends hello carrying its node ID
//  2. The upstream answers with hello carrying its own node ID
//  3. The downstream sends subscribe with every filter it currently holds,
//     then subscribe and unsubscribe frames as its filter set changes
//  4. Either side sends publish frames. The upstream only sends messages
//     matching the downstream's filters.
//
// When the stream breaks the upstream drops every filter of that peer and
// the downstream reconnects with backoff, resending its full filter set.
//
// Example usage:
//
//	bridge, err := peerlink.NewBridge(config, "upstream:9090", node)
//	if err != nil {
//		return err
//	}
//	node.AttachUpstream(bridge)
//	if err := bridge.Start(ctx); err != nil {
//		return err
//	}
//	defer bridge.Close()
package peerlink
