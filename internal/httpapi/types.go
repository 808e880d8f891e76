package httpapi

import (
	"encoding/json"
	"time"

	brokerpkg "github.com/rmacdonaldsmith/topicmesh/pkg/broker"
	"github.com/rmacdonaldsmith/topicmesh/pkg/eventlog"
)

// Request/Response types for HTTP API

// AuthRequest represents authentication request
type AuthRequest struct {
	ClientID string `json:"clientId"`
}

// AuthResponse represents authentication response
type AuthResponse struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"clientId"`
	IsAdmin   bool      `json:"isAdmin"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PublishRequest represents a message publishing request. Payload is
// stored as the raw JSON it was sent as.
type PublishRequest struct {
	Topic   string            `json:"topic"`
	Payload json.RawMessage   `json:"payload,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// PublishResponse represents a message publishing response
type PublishResponse struct {
	MessageID string    `json:"messageId"`
	Topic     string    `json:"topic"`
	Offset    int64     `json:"offset"`
	Timestamp time.Time `json:"timestamp"`
}

// SubscriptionRequest adds topic filters for the calling client
type SubscriptionRequest struct {
	Filters []string `json:"filters"`
}

// SubscriptionsResponse lists the filters a client holds
type SubscriptionsResponse struct {
	ClientID string   `json:"clientId"`
	Filters  []string `json:"filters"`
}

// Message is a routed message as seen by HTTP clients. JSON payloads are
// inlined, anything else is sent as a string.
type Message struct {
	MessageID string            `json:"messageId"`
	Topic     string            `json:"topic"`
	Offset    int64             `json:"offset"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   any               `json:"payload,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Origin    string            `json:"origin,omitempty"`
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
type AdminStatsResponse = brokerpkg.Stats

// HealthResponse represents health check response
type HealthResponse = brokerpkg.HealthStatus

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// NewMessage converts a stored record for clients
func NewMessage(record *eventlog.Record) Message {
	return Message{
		MessageID: record.ID,
		Topic:     record.Topic,
		Offset:    record.Offset,
		Timestamp: record.Timestamp,
		Payload:   decodePayload(record.Payload),
		Headers:   record.Headers,
		Origin:    record.Origin,
	}
}

func decodePayload(payload []byte) any {
	if len(payload) == 0 {
		return nil
	}
	if json.Valid(payload) {
		return json.RawMessage(payload)
	}
	return string(payload)
}
