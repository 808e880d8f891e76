package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rmacdonaldsmith/topicmesh/pkg/eventlog"
)

var (
	// ErrNegativeOffset is returned when a negative offset is provided
	ErrNegativeOffset = errors.New("offset cannot be negative")
	// ErrNegativeMaxCount is returned when a negative max count is provided
	ErrNegativeMaxCount = errors.New("max count cannot be negative")
	// ErrNilRecord is returned when a nil record is provided
	ErrNilRecord = errors.New("record cannot be nil")
	// ErrEmptyTopic is returned when a record has no topic
	ErrEmptyTopic = errors.New("record topic cannot be empty")
	// ErrClosed is returned when operating on a closed log
	ErrClosed = errors.New("event log is closed")
)

// topicLog is the retained window of one topic. records[0] has offset first.
type topicLog struct {
	records []*eventlog.Record
	first   int64
	next    int64
}

// InMemoryEventLog implements the eventlog.EventLog interface using in-memory
// topic-partitioned storage with a per-topic retention bound.
// It is safe for concurrent use.
type InMemoryEventLog struct {
	mu       sync.RWMutex
	topics   map[string]*topicLog
	maxPer   int
	appended int64
	closed   bool
}

// NewInMemoryEventLog creates an event log with default retention.
func NewInMemoryEventLog() *InMemoryEventLog {
	log, _ := NewInMemoryEventLogWithConfig(&Config{})
	return log
}

// NewInMemoryEventLogWithConfig creates an event log from config.
func NewInMemoryEventLogWithConfig(config *Config) (*InMemoryEventLog, error) {
	if config == nil {
		config = &Config{}
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event log config: %w", err)
	}
	return &InMemoryEventLog{
		topics: make(map[string]*topicLog),
		maxPer: config.MaxEventsPerTopic,
	}, nil
}

// Append stores a copy of record under its topic and returns it with the
// assigned offset. The oldest record is trimmed once the topic is full.
func (log *InMemoryEventLog) Append(ctx context.Context, record *eventlog.Record) (*eventlog.Record, error) {
	if record == nil {
		return nil, ErrNilRecord
	}
	if record.Topic == "" {
		return nil, ErrEmptyTopic
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log.mu.Lock()
	defer log.mu.Unlock()

	if log.closed {
		return nil, ErrClosed
	}

	tl := log.topics[record.Topic]
	if tl == nil {
		tl = &topicLog{}
		log.topics[record.Topic] = tl
	}

	stored := record.WithOffset(tl.next)
	tl.records = append(tl.records, stored)
	tl.next++
	log.appended++

	if over := len(tl.records) - log.maxPer; over > 0 {
		// reslice and let append reallocate once capacity runs out
		clear(tl.records[:over])
		tl.records = tl.records[over:]
		tl.first += int64(over)
	}

	return stored, nil
}

// Read returns up to maxCount records of topic starting at startOffset.
func (log *InMemoryEventLog) Read(ctx context.Context, topic string, startOffset int64, maxCount int) ([]*eventlog.Record, error) {
	if startOffset < 0 {
		return nil, ErrNegativeOffset
	}
	if maxCount < 0 {
		return nil, ErrNegativeMaxCount
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log.mu.RLock()
	defer log.mu.RUnlock()

	if log.closed {
		return nil, ErrClosed
	}
	return log.window(topic, startOffset, maxCount), nil
}

// StartOffset returns the oldest retained offset of topic, 0 if unknown.
func (log *InMemoryEventLog) StartOffset(ctx context.Context, topic string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	log.mu.RLock()
	defer log.mu.RUnlock()

	if log.closed {
		return 0, ErrClosed
	}
	if tl := log.topics[topic]; tl != nil {
		return tl.first, nil
	}
	return 0, nil
}

// EndOffset returns the next offset to be assigned for topic, 0 if unknown.
func (log *InMemoryEventLog) EndOffset(ctx context.Context, topic string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	log.mu.RLock()
	defer log.mu.RUnlock()

	if log.closed {
		return 0, ErrClosed
	}
	if tl := log.topics[topic]; tl != nil {
		return tl.next, nil
	}
	return 0, nil
}

// Replay streams retained records of topic from startOffset via a channel.
// The channel will be closed when all records are sent or ctx is cancelled.
func (log *InMemoryEventLog) Replay(ctx context.Context, topic string, startOffset int64) (<-chan *eventlog.Record, <-chan error) {
	recordChan := make(chan *eventlog.Record)
	errChan := make(chan error, 1) // Buffered to prevent blocking

	go func() {
		defer close(recordChan)
		defer close(errChan)

		if startOffset < 0 {
			errChan <- ErrNegativeOffset
			return
		}

		// Snapshot the window so the lock is not held while sending
		log.mu.RLock()
		if log.closed {
			log.mu.RUnlock()
			errChan <- ErrClosed
			return
		}
		records := log.window(topic, startOffset, -1)
		log.mu.RUnlock()

		for _, record := range records {
			select {
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			case recordChan <- record:
			}
		}
	}()

	return recordChan, errChan
}

// Topics returns the sorted names of topics with retained records.
func (log *InMemoryEventLog) Topics(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log.mu.RLock()
	defer log.mu.RUnlock()

	if log.closed {
		return nil, ErrClosed
	}
	names := make([]string, 0, len(log.topics))
	for name := range log.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Statistics returns aggregate counts about the log.
func (log *InMemoryEventLog) Statistics(ctx context.Context) (eventlog.Statistics, error) {
	if err := ctx.Err(); err != nil {
		return eventlog.Statistics{}, err
	}

	log.mu.RLock()
	defer log.mu.RUnlock()

	if log.closed {
		return eventlog.Statistics{}, ErrClosed
	}

	stats := eventlog.Statistics{
		TopicCounts:   make(map[string]int64, len(log.topics)),
		TopicCount:    len(log.topics),
		TotalAppended: log.appended,
		MaxPerTopic:   log.maxPer,
	}
	for name, tl := range log.topics {
		n := int64(len(tl.records))
		stats.TopicCounts[name] = n
		stats.TotalEvents += n
	}
	return stats, nil
}

// Close drops all retained records. Later calls return ErrClosed.
func (log *InMemoryEventLog) Close() error {
	log.mu.Lock()
	defer log.mu.Unlock()

	if log.closed {
		return nil // Already closed, idempotent
	}
	log.topics = make(map[string]*topicLog)
	log.closed = true
	return nil
}

// window returns retained records of topic from startOffset, at most
// maxCount of them, or all when maxCount is negative. Caller holds mu.
func (log *InMemoryEventLog) window(topic string, startOffset int64, maxCount int) []*eventlog.Record {
	tl := log.topics[topic]
	if tl == nil || maxCount == 0 || startOffset >= tl.next {
		return []*eventlog.Record{}
	}

	from := startOffset - tl.first
	if from < 0 {
		from = 0
	}
	to := int64(len(tl.records))
	if maxCount > 0 && from+int64(maxCount) < to {
		to = from + int64(maxCount)
	}

	out := make([]*eventlog.Record, to-from)
	copy(out, tl.records[from:to])
	return out
}

// Verify that InMemoryEventLog implements the EventLog interface at compile time
var _ eventlog.EventLog = (*InMemoryEventLog)(nil)
