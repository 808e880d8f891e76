package peerlink

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
)

var (
	// ErrEmptyNodeID is returned when node ID is empty
	ErrEmptyNodeID = errors.New("node ID cannot be empty")
	// ErrInvalidBackoff is returned when the backoff bounds are inverted
	ErrInvalidBackoff = errors.New("initial backoff cannot exceed max backoff")
	// ErrNegativeSize is returned when a queue or message size is negative
	ErrNegativeSize = errors.New("sizes cannot be negative")
)

// Config holds configuration for the link server and bridges
type Config struct {
	NodeID string

	// ListenAddress is where the server accepts downstream links
	ListenAddress string

	// SendQueueSize bounds frames waiting to be written on one link
	SendQueueSize int

	// HeartbeatInterval is the gRPC keepalive ping interval
	HeartbeatInterval time.Duration

	// MaxMessageSize bounds one frame in bytes
	MaxMessageSize int

	// InitialBackoff and MaxBackoff bound bridge reconnect delays
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Logger *zap.Logger

	// DialOptions are appended to the bridge's dial options
	DialOptions []grpc.DialOption
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return ErrEmptyNodeID
	}
	if c.SendQueueSize < 0 || c.MaxMessageSize < 0 {
		return ErrNegativeSize
	}
	if c.InitialBackoff > 0 && c.MaxBackoff > 0 && c.InitialBackoff > c.MaxBackoff {
		return ErrInvalidBackoff
	}
	return nil
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = ":9090"
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 1000
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 1024 * 1024 // 1MB
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}
