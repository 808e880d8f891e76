package eventlog

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Record is one published message as retained by the log.
type Record struct {
	// ID uniquely identifies the message across nodes
	ID string

	// Offset is the position of this message within its topic
	Offset int64

	// Topic is the topic name the message was published under
	Topic string

	// Payload is the raw message body (immutable after creation)
	Payload []byte

	// Timestamp is when the message was first published
	Timestamp time.Time

	// Headers are key-value metadata (immutable after creation)
	Headers map[string]string

	// Origin is the ID of the node the message was first published on
	Origin string
}

// NewRecord creates a new Record with a fresh ID.
// The payload is copied to ensure immutability.
func NewRecord(topic string, payload []byte) *Record {
	return NewRecordWithHeaders(topic, payload, nil)
}

// NewRecordWithHeaders creates a new Record with headers.
// Both payload and headers are copied to ensure immutability.
func NewRecordWithHeaders(topic string, payload []byte, headers map[string]string) *Record {
	var payloadCopy []byte
	if payload != nil {
		payloadCopy = make([]byte, len(payload))
		copy(payloadCopy, payload)
	}

	headersCopy := make(map[string]string, len(headers))
	maps.Copy(headersCopy, headers)

	return &Record{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   payloadCopy,
		Timestamp: time.Now().UTC(),
		Headers:   headersCopy,
	}
}

// WithOffset returns a shallow copy of the record carrying offset.
// This is used by the log when storing messages.
func (r *Record) WithOffset(offset int64) *Record {
	c := *r
	c.Offset = offset
	return &c
}

// WithOrigin returns a shallow copy of the record carrying the origin node ID.
func (r *Record) WithOrigin(origin string) *Record {
	c := *r
	c.Origin = origin
	return &c
}

// Copy returns a deep copy of the record.
func (r *Record) Copy() *Record {
	c := *r
	if r.Payload != nil {
		c.Payload = make([]byte, len(r.Payload))
		copy(c.Payload, r.Payload)
	}
	c.Headers = make(map[string]string, len(r.Headers))
	maps.Copy(c.Headers, r.Headers)
	return &c
}
