package routingtable

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/topicmesh/pkg/topic"
)

// ErrInvalidCacheSize is returned when a private topic cache is requested with a negative size
var ErrInvalidCacheSize = errors.New("topic cache size cannot be negative")

// Config holds configuration for the in-memory routing table
type Config struct {
	// Cache is the topic cache used to parse filters and published topics.
	// Nil means a private cache of CacheSize entries, or the process-wide
	// cache when CacheSize is zero.
	Cache *topic.Cache

	// CacheSize sizes a private topic cache when Cache is nil
	CacheSize int

	// StrictFilters rejects filters where "#" is not the last segment,
	// as standard MQTT does. When false such filters realign on the next
	// literal segment.
	StrictFilters bool

	// Logger receives dispatch failures. Nil disables logging.
	Logger *zap.Logger

	// Registerer registers routing metrics. Nil keeps metrics unregistered.
	Registerer prometheus.Registerer

	// Namespace prefixes metric names
	Namespace string
}

// NewConfig creates a routing table configuration with safe defaults
func NewConfig() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Namespace == "" {
		c.Namespace = "topicmesh"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Cache == nil && c.CacheSize < 0 {
		return ErrInvalidCacheSize
	}
	return nil
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

// WithStrictFilters toggles standard MQTT filter validation
func (c *Config) WithStrictFilters(strict bool) *Config {
	c.StrictFilters = strict
	return c
}

// WithCache sets a shared topic cache
func (c *Config) WithCache(cache *topic.Cache) *Config {
	c.Cache = cache
	return c
}

func (c *Config) topicCache() (*topic.Cache, error) {
	if c.Cache != nil {
		return c.Cache, nil
	}
	if c.CacheSize == 0 {
		return topic.DefaultCache(), nil
	}
	return topic.NewCache(c.CacheSize)
}
