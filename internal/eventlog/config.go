package eventlog

import "errors"

// DefaultMaxEventsPerTopic bounds per-topic history when nothing else is configured
const DefaultMaxEventsPerTopic = 1000

// ErrInvalidRetention is returned when the per-topic bound is negative
var ErrInvalidRetention = errors.New("max events per topic cannot be negative")

// Config holds configuration for the in-memory event log
type Config struct {
	// MaxEventsPerTopic is how many recent records each topic keeps.
	// Older records are trimmed on append.
	MaxEventsPerTopic int
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.MaxEventsPerTopic == 0 {
		c.MaxEventsPerTopic = DefaultMaxEventsPerTopic
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.MaxEventsPerTopic < 0 {
		return ErrInvalidRetention
	}
	return nil
}
