package httpapi

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	// DefaultListenAddress is the default HTTP listen address
	DefaultListenAddress = ":8081"
	// DefaultSecretKey signs tokens when no key is configured. Development only.
	DefaultSecretKey = "topicmesh-dev-secret-change-in-production"
	// DefaultTokenTTL is how long issued tokens stay valid
	DefaultTokenTTL = 24 * time.Hour
	// DefaultKeepaliveInterval is the gap between SSE keepalive comments
	DefaultKeepaliveInterval = 30 * time.Second
	// DefaultReadLimit caps topic reads that do not pass a limit
	DefaultReadLimit = 100
	// MaxReadLimit caps any single topic read
	MaxReadLimit = 1000
)

var (
	// ErrInvalidTokenTTL is returned when the token TTL is not positive
	ErrInvalidTokenTTL = errors.New("token TTL must be positive")
	// ErrInvalidKeepalive is returned when the keepalive interval is not positive
	ErrInvalidKeepalive = errors.New("keepalive interval must be positive")
)

// Config holds server configuration
type Config struct {
	// ListenAddress is the host:port the server listens on
	ListenAddress string

	// SecretKey signs and verifies JWT tokens
	SecretKey string

	// NoAuth skips token checks on client endpoints. Admin endpoints
	// always require a valid admin token.
	NoAuth bool

	// TokenTTL is how long issued tokens stay valid
	TokenTTL time.Duration

	// KeepaliveInterval is the gap between SSE keepalive comments
	KeepaliveInterval time.Duration

	// Logger receives request and error logs
	Logger *zap.Logger

	// Gatherer backs the /metrics endpoint. Nil disables it.
	Gatherer prometheus.Gatherer
}

// NewConfig returns a config with defaults applied
func NewConfig() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults fills zero fields with default values
func (c *Config) SetDefaults() {
	if c.ListenAddress == "" {
		c.ListenAddress = DefaultListenAddress
	}
	if c.SecretKey == "" {
		c.SecretKey = DefaultSecretKey
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = DefaultTokenTTL
	}
	if c.KeepaliveInterval == 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.TokenTTL < 0 {
		return ErrInvalidTokenTTL
	}
	if c.KeepaliveInterval < 0 {
		return ErrInvalidKeepalive
	}
	return nil
}

// WithListenAddress sets the listen address
func (c *Config) WithListenAddress(addr string) *Config {
	c.ListenAddress = addr
	return c
}

// WithSecretKey sets the token signing key
func (c *Config) WithSecretKey(key string) *Config {
	c.SecretKey = key
	return c
}

// WithNoAuth toggles development mode
func (c *Config) WithNoAuth(noAuth bool) *Config {
	c.NoAuth = noAuth
	return c
}

// WithLogger sets the logger
func (c *Config) WithLogger(logger *zap.Logger) *Config {
	c.Logger = logger
	return c
}

// WithGatherer sets the metrics source for /metrics
func (c *Config) WithGatherer(g prometheus.Gatherer) *Config {
	c.Gatherer = g
	return c
}

// WithKeepaliveInterval sets the SSE keepalive interval
func (c *Config) WithKeepaliveInterval(d time.Duration) *Config {
	c.KeepaliveInterval = d
	return c
}
