package broker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rmacdonaldsmith/topicmesh/pkg/broker"
	"github.com/rmacdonaldsmith/topicmesh/pkg/eventlog"
	"github.com/rmacdonaldsmith/topicmesh/pkg/routingtable"
)

var (
	// ErrClientBufferFull is returned by a session whose delivery channel is full
	ErrClientBufferFull = errors.New("client delivery buffer is full")
	// ErrSessionClosed is returned when delivering to a disconnected session
	ErrSessionClosed = errors.New("client session is closed")
)

// Session is a local client connection. It subscribes on the routing table
// and receives matching records on a bounded channel. Delivery never blocks:
// when the channel is full the record is dropped for this session only.
type Session struct {
	id          string
	connectedAt time.Time
	messages    chan *eventlog.Record
	dropped     atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// NewSession creates a session with a delivery channel of bufferSize
func NewSession(id string, bufferSize int) *Session {
	return &Session{
		id:          id,
		connectedAt: time.Now(),
		messages:    make(chan *eventlog.Record, bufferSize),
	}
}

// ID returns unique identifier for this client
func (s *Session) ID() string {
	return s.id
}

// Type returns the subscriber type for routing table integration
func (s *Session) Type() routingtable.SubscriberType {
	return routingtable.LocalClient
}

// ConnectedAt returns when this client connected
func (s *Session) ConnectedAt() time.Time {
	return s.connectedAt
}

// Messages returns the delivery channel
func (s *Session) Messages() <-chan *eventlog.Record {
	return s.messages
}

// Dropped returns how many records were dropped on a full channel
func (s *Session) Dropped() uint64 {
	return s.dropped.Load()
}

// OnMessage queues record for the client without blocking
func (s *Session) OnMessage(_ string, record *eventlog.Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.messages <- record:
		return nil
	default:
		s.dropped.Add(1)
		return ErrClientBufferFull
	}
}

// close closes the delivery channel once. Pending records stay readable.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.messages)
}

// Verify that Session implements both Client and Subscriber interfaces at compile time
var _ broker.Client = (*Session)(nil)
var _ routingtable.Subscriber[*eventlog.Record] = (*Session)(nil)
var _ routingtable.Identified = (*Session)(nil)
