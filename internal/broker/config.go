package broker

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/topicmesh/internal/eventlog"
	"github.com/rmacdonaldsmith/topicmesh/internal/routingtable"
)

const (
	// DefaultClientBufferSize is the delivery channel capacity of a client session
	DefaultClientBufferSize = 256
	// DefaultDedupCacheSize is how many recent message IDs are remembered
	DefaultDedupCacheSize = 10000
)

var (
	// ErrEmptyNodeID is returned when node ID is empty
	ErrEmptyNodeID = errors.New("node ID cannot be empty")
	// ErrInvalidClientBufferSize is returned when the client buffer size is not positive
	ErrInvalidClientBufferSize = errors.New("client buffer size must be positive")
	// ErrInvalidDedupCacheSize is returned when the dedup cache size is not positive
	ErrInvalidDedupCacheSize = errors.New("dedup cache size must be positive")
)

// Config represents configuration for a Broker
type Config struct {
	// NodeID uniquely identifies this node in the mesh
	NodeID string

	// ClientBufferSize is the delivery channel capacity of each client session
	ClientBufferSize int

	// DedupCacheSize bounds the set of recently routed message IDs used to
	// break forwarding loops between nodes
	DedupCacheSize int

	// EventLogConfig is passed to the message history
	EventLogConfig *eventlog.Config

	// RoutingTableConfig is passed to the routing table
	RoutingTableConfig *routingtable.Config

	// Logger receives broker logs; nil disables logging
	Logger *zap.Logger

	// Registerer receives broker metrics; nil disables registration
	Registerer prometheus.Registerer
}

// NewConfig creates a new Broker configuration with safe defaults
func NewConfig(nodeID string) *Config {
	c := &Config{NodeID: nodeID}
	c.SetDefaults()
	return c
}

// SetDefaults fills zero values with defaults
func (c *Config) SetDefaults() {
	if c.ClientBufferSize == 0 {
		c.ClientBufferSize = DefaultClientBufferSize
	}
	if c.DedupCacheSize == 0 {
		c.DedupCacheSize = DefaultDedupCacheSize
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return ErrEmptyNodeID
	}
	if c.ClientBufferSize <= 0 {
		return ErrInvalidClientBufferSize
	}
	if c.DedupCacheSize <= 0 {
		return ErrInvalidDedupCacheSize
	}

	if c.EventLogConfig != nil {
		if err := c.EventLogConfig.Validate(); err != nil {
			return fmt.Errorf("invalid event log config: %w", err)
		}
	}
	if c.RoutingTableConfig != nil {
		if err := c.RoutingTableConfig.Validate(); err != nil {
			return fmt.Errorf("invalid routing table config: %w", err)
		}
	}
	return nil
}

// WithEventLogConfig sets the message history configuration
func (c *Config) WithEventLogConfig(config *eventlog.Config) *Config {
	c.EventLogConfig = config
	return c
}

// WithRoutingTableConfig sets the routing table configuration
func (c *Config) WithRoutingTableConfig(config *routingtable.Config) *Config {
	c.RoutingTableConfig = config
	return c
}

// WithLogger sets the logger
func (c *Config) WithLogger(logger *zap.Logger) *Config {
	c.Logger = logger
	return c
}

// WithRegisterer sets the metrics registerer
func (c *Config) WithRegisterer(reg prometheus.Registerer) *Config {
	c.Registerer = reg
	return c
}

// WithClientBufferSize sets the client session channel capacity
func (c *Config) WithClientBufferSize(size int) *Config {
	c.ClientBufferSize = size
	return c
}
