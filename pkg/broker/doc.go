// Package broker provides interfaces for the node orchestrator.
//
// A Broker ties together:
//   - RoutingTable: the filter registry and dispatcher shared by local
//     clients and downstream peers
//   - EventLog: bounded per-topic message history, read by offset
//   - Client sessions: local subscribers with bounded delivery channels
//   - Upstreams: links to other nodes that receive what is published here
//
// Message flow:
//  1. A client publishes on a topic name (wildcards are rejected)
//  2. The broker stores the message in its history
//  3. The routing table delivers it once to every subscriber with a
//     matching filter, local clients and downstream peers alike
//  4. The broker forwards it to every upstream
//
// Messages carry a unique ID. A broker remembers recently routed IDs and
// drops repeats, so a message that comes back over another link is not
// delivered twice.
package broker
