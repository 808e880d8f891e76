package routingtable

// SubscriberType represents different kinds of subscribers
type SubscriberType int

const (
	// LocalClient represents a client connected to this node
	LocalClient SubscriberType = iota

	// PeerNode represents a downstream node attached over the peer link
	PeerNode
)

func (t SubscriberType) String() string {
	switch t {
	case LocalClient:
		return "local_client"
	case PeerNode:
		return "peer_node"
	default:
		return "unknown"
	}
}

// Identified is optionally implemented by subscribers that carry a stable ID.
// The routing table uses it only to label logs and metrics; identity is
// always by reference.
type Identified interface {
	ID() string
	Type() SubscriberType
}

type funcSubscriber[T any] struct {
	fn func(topicName string, message T) error
}

func (s *funcSubscriber[T]) OnMessage(topicName string, message T) error {
	return s.fn(topicName, message)
}

// NewSubscriber wraps fn in a Subscriber. Each call returns a distinct handle,
// so wrapping the same function twice yields two subscribers.
func NewSubscriber[T any](fn func(topicName string, message T) error) Subscriber[T] {
	return &funcSubscriber[T]{fn: fn}
}

// LocalSubscriber is a named local client that forwards messages to a handler.
type LocalSubscriber[T any] struct {
	id      string
	handler func(topicName string, message T) error
}

// NewLocalSubscriber creates a new local subscriber with the given ID
func NewLocalSubscriber[T any](id string, handler func(topicName string, message T) error) *LocalSubscriber[T] {
	return &LocalSubscriber[T]{id: id, handler: handler}
}

// ID returns the unique identifier for this subscriber
func (s *LocalSubscriber[T]) ID() string {
	return s.id
}

// Type returns LocalClient to indicate this is a local client subscriber
func (s *LocalSubscriber[T]) Type() SubscriberType {
	return LocalClient
}

// OnMessage calls the handler, if any.
func (s *LocalSubscriber[T]) OnMessage(topicName string, message T) error {
	if s.handler == nil {
		return nil
	}
	return s.handler(topicName, message)
}
