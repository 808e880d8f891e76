package routingtable

import (
	"errors"
	"fmt"
	"io"
)

// ErrSubscriberCallback is matched by every error a subscriber raised during dispatch.
var ErrSubscriberCallback = errors.New("subscriber callback failed")

// SubscriberCallbackError records a subscriber that returned an error or panicked
// while handling a message. Dispatch logs it and moves on to the next subscriber.
type SubscriberCallbackError struct {
	Topic string
	Err   error
	Panic any
}

func (e *SubscriberCallbackError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("subscriber panicked handling %q: %v", e.Topic, e.Panic)
	}
	return fmt.Sprintf("subscriber failed handling %q: %v", e.Topic, e.Err)
}

// Is lets errors.Is match ErrSubscriberCallback.
func (e *SubscriberCallbackError) Is(target error) bool {
	return target == ErrSubscriberCallback
}

func (e *SubscriberCallbackError) Unwrap() error {
	return e.Err
}

// Subscriber receives messages whose topic matches one of its filters.
type Subscriber[T any] interface {
	// OnMessage is called at most once per dispatched message, on the
	// publisher's goroutine. It must not block for long.
	OnMessage(topicName string, message T) error
}

// Listener observes changes to the union of subscribed filters. It is how
// a bridge learns which subscriptions to forward upstream.
//
// Calls are made one at a time, in the order the mutations were applied. A
// listener must not block or mutate the routing table it observes.
type Listener interface {
	// OnSubscribe is called after filters were added for some subscriber.
	// added holds the filters nobody was subscribed to before the call.
	OnSubscribe(filters, added []string)

	// OnUnsubscribe is called after filters were removed from some subscriber.
	// removed holds the filters nobody is subscribed to any more.
	OnUnsubscribe(filters, removed []string)
}

// RoutingTable manages subscriber-to-filter mappings and routes published
// messages to every subscriber holding a matching filter.
type RoutingTable[T any] interface {
	io.Closer

	// Subscribe adds filters to the subscriber's set. Every filter is parsed
	// first; if any is malformed the call fails and nothing changes.
	Subscribe(filters []string, subscriber Subscriber[T]) error

	// Unsubscribe removes the named filters from the subscriber's set. Filters
	// the subscriber does not hold are ignored.
	Unsubscribe(filters []string, subscriber Subscriber[T]) error

	// UnsubscribeAll removes every filter held by the subscriber.
	UnsubscribeAll(subscriber Subscriber[T]) error

	// HandleMessage delivers message to each subscriber with a matching filter
	// exactly once and returns the number of successful deliveries.
	HandleMessage(topicName string, message T) int

	// Subscribers returns the subscribers that would receive a message
	// published on topicName, without delivering anything.
	Subscribers(topicName string) []Subscriber[T]

	// AllFilters returns the sorted, distinct union of all subscribed filters.
	AllFilters() []string

	// FilterCount returns the number of distinct subscribed filters.
	FilterCount() int

	// Filters returns the sorted filters held by one subscriber.
	Filters(subscriber Subscriber[T]) []string

	// SubscriberCount returns the number of subscribers holding at least one filter.
	SubscriberCount() int

	// AddListener registers a listener for subscription changes.
	AddListener(listener Listener)
}
