package eventlog

import (
	"context"
	"io"
)

// EventLog defines the interface for topic-scoped message history.
// Each topic has its own independent offset sequence starting from 0.
type EventLog interface {
	io.Closer

	// Append stores a record under record.Topic. The offset is assigned by
	// the log and set on the returned record.
	Append(ctx context.Context, record *Record) (*Record, error)

	// Read returns up to maxCount records of topic starting at startOffset.
	// Offsets that were trimmed by retention are skipped.
	Read(ctx context.Context, topic string, startOffset int64, maxCount int) ([]*Record, error)

	// StartOffset returns the oldest retained offset of topic.
	StartOffset(ctx context.Context, topic string) (int64, error)

	// EndOffset returns the next offset to be assigned for topic.
	EndOffset(ctx context.Context, topic string) (int64, error)

	// Replay streams retained records of topic from startOffset. The record
	// channel is closed when all records are sent or ctx is cancelled.
	Replay(ctx context.Context, topic string, startOffset int64) (<-chan *Record, <-chan error)

	// Topics returns the sorted names of topics with retained records.
	Topics(ctx context.Context) ([]string, error)

	// Statistics returns aggregate counts.
	Statistics(ctx context.Context) (Statistics, error)
}

// Statistics provides aggregate counts about the log
type Statistics struct {
	TotalEvents   int64            `json:"totalEvents"`   // Records currently retained across all topics
	TotalAppended int64            `json:"totalAppended"` // Records ever appended, including trimmed ones
	TopicCounts   map[string]int64 `json:"topicCounts"`   // Retained records per topic
	TopicCount    int              `json:"topicCount"`    // Number of distinct topics
	MaxPerTopic   int              `json:"maxPerTopic"`   // Retention bound per topic
}
