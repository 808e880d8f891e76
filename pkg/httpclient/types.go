package httpclient

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rmacdonaldsmith/topicmesh/pkg/broker"
)

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the topicmesh HTTP API (e.g., "http://localhost:8081")
	ServerURL string

	// ClientID is the identifier for this client
	ClientID string

	// Timeout for HTTP requests
	Timeout time.Duration

	// MaxRetries for failed read requests. Publishes and subscription
	// changes are never retried.
	MaxRetries int

	// RetryInterval is the initial delay between retries
	RetryInterval time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = 200 * time.Millisecond
	}
}

// AuthResponse represents the response from authentication
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	IsAdmin   bool      `json:"isAdmin"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PublishRequest represents a message publishing request
type PublishRequest struct {
	Topic   string            `json:"topic"`
	Payload any               `json:"payload,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// PublishResponse represents a message publishing response
type PublishResponse struct {
	MessageID string    `json:"messageId"`
	Topic     string    `json:"topic"`
	Offset    int64     `json:"offset"`
	Timestamp time.Time `json:"timestamp"`
}

// SubscriptionRequest adds topic filters
type SubscriptionRequest struct {
	Filters []string `json:"filters"`
}

// SubscriptionsResponse lists the filters a client holds
type SubscriptionsResponse struct {
	ClientID string   `json:"clientId"`
	Filters  []string `json:"filters"`
}

// Message represents a routed message. JSON payloads arrive decoded,
// anything else as a string.
type Message struct {
	MessageID string            `json:"messageId"`
	Topic     string            `json:"topic"`
	Offset    int64             `json:"offset"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Origin    string            `json:"origin,omitempty"`
}

// DecodePayload unmarshals the message payload into v
func (m Message) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("message %s has no payload", m.MessageID)
	}
	return json.Unmarshal(m.Payload, v)
}

// ReadMessagesResponse represents a response for reading stored messages
type ReadMessagesResponse struct {
	Topic       string    `json:"topic"`
	StartOffset int64     `json:"startOffset"`
	Count       int       `json:"count"`
	Messages    []Message `json:"messages"`
}

// TopicsResponse lists topics with stored messages
type TopicsResponse struct {
	Topics []string `json:"topics"`
}

// ClientInfo represents information about a connected client
type ClientInfo struct {
	ID          string    `json:"id"`
	ConnectedAt time.Time `json:"connectedAt"`
	Filters     []string  `json:"filters"`
	Dropped     uint64    `json:"dropped"`
}

// AdminClientsResponse represents admin view of connected clients
type AdminClientsResponse struct {
	Clients []ClientInfo `json:"clients"`
}

// AdminFiltersResponse represents admin view of the node's filter set
type AdminFiltersResponse struct {
	Filters []string `json:"filters"`
	Count   int      `json:"count"`
}

// AdminStatsResponse represents node statistics
type AdminStatsResponse = broker.Stats

// HealthResponse represents health check response
type HealthResponse = broker.HealthStatus

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// APIError is returned for responses with an error status
type APIError struct {
	StatusCode int
	Response   ErrorResponse
}

func (e *APIError) Error() string {
	if e.Response.Message != "" {
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Response.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Response.Error)
}
