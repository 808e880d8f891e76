package broker

import (
	"context"
	"io"
	"time"

	"github.com/rmacdonaldsmith/topicmesh/pkg/eventlog"
	"github.com/rmacdonaldsmith/topicmesh/pkg/routingtable"
	"github.com/rmacdonaldsmith/topicmesh/pkg/topic"
)

// Client represents a connected local client session
type Client interface {
	// ID returns unique identifier for this client
	ID() string

	// ConnectedAt returns when the session was opened
	ConnectedAt() time.Time

	// Messages returns the channel matching messages are delivered on.
	// It is closed when the client disconnects.
	Messages() <-chan *eventlog.Record

	// Dropped returns how many messages were dropped because the
	// delivery channel was full
	Dropped() uint64
}

// Upstream is a link to another node that receives messages published here.
type Upstream interface {
	// Address returns the remote node address
	Address() string

	// Connected reports whether the link is currently established
	Connected() bool

	// Publish forwards a record to the remote node
	Publish(ctx context.Context, record *eventlog.Record) error
}

// Router is the part of a broker that peer links need: the routing table
// downstream peers subscribe on and the entry points for remote messages.
type Router interface {
	// NodeID returns this node's identifier
	NodeID() string

	// RoutingTable returns the routing table shared by clients and peers
	RoutingTable() routingtable.RoutingTable[*eventlog.Record]

	// Deliver routes a record received from an upstream node to local
	// subscribers only. Records already seen are ignored.
	Deliver(ctx context.Context, record *eventlog.Record) error

	// Forward routes a record received from a downstream peer to local
	// subscribers and to every upstream. Records already seen are ignored.
	Forward(ctx context.Context, record *eventlog.Record) error
}

// Broker represents a single topicmesh node. It owns the routing table,
// the message history and the local client sessions.
type Broker interface {
	io.Closer
	Router

	// Start starts accepting publishes.
	Start(ctx context.Context) error

	// Stop stops accepting publishes. Subscriptions are kept.
	Stop(ctx context.Context) error

	// Connect opens a session for clientID or returns the existing one.
	Connect(ctx context.Context, clientID string) (Client, error)

	// Disconnect drops every subscription of the client and closes its
	// delivery channel.
	Disconnect(ctx context.Context, clientID string) error

	// Publish validates topicName, stores the message in the history and
	// routes it to local subscribers, downstream peers and upstreams.
	Publish(ctx context.Context, clientID, topicName string, payload []byte, headers map[string]string) (*eventlog.Record, error)

	// Subscribe adds filters to a connected client
	Subscribe(ctx context.Context, clientID string, filters []string) error

	// Unsubscribe removes filters from a connected client. No filters
	// means all of them.
	Unsubscribe(ctx context.Context, clientID string, filters []string) error

	// ClientFilters returns the sorted filters a client holds
	ClientFilters(ctx context.Context, clientID string) ([]string, error)

	// AllFilters returns the sorted union of filters held by clients and peers
	AllFilters(ctx context.Context) []string

	// Clients returns the connected client sessions
	Clients(ctx context.Context) []Client

	// ReadTopic reads stored messages for a topic starting at offset
	ReadTopic(ctx context.Context, topicName string, offset int64, limit int) ([]*eventlog.Record, error)

	// AttachUpstream adds a link that receives local and downstream publishes
	AttachUpstream(upstream Upstream)

	// Stats returns a snapshot of broker counters
	Stats(ctx context.Context) (Stats, error)

	// Health returns the overall health status of this node
	Health(ctx context.Context) (HealthStatus, error)
}

// Stats is a point-in-time view of broker activity
type Stats struct {
	NodeID      string              `json:"nodeId"`
	Clients     int                 `json:"clients"`
	Subscribers int                 `json:"subscribers"`
	Filters     int                 `json:"filters"`
	Published   uint64              `json:"published"`
	Delivered   uint64              `json:"delivered"`
	Duplicates  uint64              `json:"duplicates"`
	Dropped     uint64              `json:"dropped"`
	Upstreams   int                 `json:"upstreams"`
	History     eventlog.Statistics `json:"history"`
	TopicCache  topic.CacheStats    `json:"topicCache"`
}

// HealthStatus represents the overall health of a node
type HealthStatus struct {
	// Healthy indicates if the node is functioning properly
	Healthy bool `json:"healthy"`

	// HistoryHealthy indicates if the message history is operational
	HistoryHealthy bool `json:"historyHealthy"`

	// RoutingTableHealthy indicates if the routing table is operational
	RoutingTableHealthy bool `json:"routingTableHealthy"`

	// UpstreamsHealthy is false when any configured upstream is down
	UpstreamsHealthy bool `json:"upstreamsHealthy"`

	// ConnectedClients is the number of open client sessions
	ConnectedClients int `json:"connectedClients"`

	// ConnectedUpstreams is the number of established upstream links
	ConnectedUpstreams int `json:"connectedUpstreams"`

	// Message provides additional health information
	Message string `json:"message"`
}
