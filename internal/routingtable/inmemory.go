package routingtable

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/topicmesh/pkg/routingtable"
	"github.com/rmacdonaldsmith/topicmesh/pkg/topic"
)

var (
	// ErrClosed is returned when operating on a closed routing table
	ErrClosed = errors.New("routing table is closed")
	// ErrNilSubscriber is returned when a nil subscriber is passed
	ErrNilSubscriber = errors.New("subscriber cannot be nil")
	// ErrNoFilters is returned when Subscribe is called without filters
	ErrNoFilters = errors.New("at least one filter is required")
	// ErrEmptyFilter is returned when a blank filter is subscribed
	ErrEmptyFilter = errors.New("filter cannot be empty")
	// ErrSubscriberNotComparable is returned for subscriber values that cannot be map keys
	ErrSubscriberNotComparable = errors.New("subscriber must be comparable, use a pointer")
)

// InMemoryRoutingTable implements routingtable.RoutingTable with an in-memory
// registry and a synchronous dispatcher.
type InMemoryRoutingTable[T any] struct {
	config     *Config
	cache      *topic.Cache
	registry   *Registry[T]
	dispatcher *Dispatcher[T]
	metrics    *Metrics
	logger     *zap.Logger

	closed atomic.Bool

	// changeMu orders each mutation together with its listener notification
	changeMu sync.Mutex

	// mu is held for reading by mutations and for writing by Close
	mu        sync.RWMutex
	listeners []routingtable.Listener
}

// NewInMemoryRoutingTable creates a routing table with default configuration
func NewInMemoryRoutingTable[T any]() *InMemoryRoutingTable[T] {
	rt, err := NewInMemoryRoutingTableWithConfig[T](NewConfig())
	if err != nil {
		// the default configuration is always valid
		panic(err)
	}
	return rt
}

// NewInMemoryRoutingTableWithConfig creates a routing table from config
func NewInMemoryRoutingTableWithConfig[T any](config *Config) (*InMemoryRoutingTable[T], error) {
	if config == nil {
		config = NewConfig()
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid routing table config: %w", err)
	}

	cache, err := config.topicCache()
	if err != nil {
		return nil, err
	}
	metrics, err := NewMetrics(config.Namespace, config.Registerer)
	if err != nil {
		return nil, fmt.Errorf("failed to register routing metrics: %w", err)
	}

	logger := config.Logger.Named("routingtable")
	registry := NewRegistry[T]()
	return &InMemoryRoutingTable[T]{
		config:     config,
		cache:      cache,
		registry:   registry,
		dispatcher: NewDispatcher(registry, cache, logger, metrics),
		metrics:    metrics,
		logger:     logger,
	}, nil
}

// Subscribe adds filters to the subscriber's set. All filters are parsed
// before anything is stored.
func (rt *InMemoryRoutingTable[T]) Subscribe(filters []string, subscriber routingtable.Subscriber[T]) error {
	if err := checkSubscriber(subscriber); err != nil {
		return err
	}
	parsed, err := rt.parseFilters(filters)
	if err != nil {
		return err
	}

	rt.changeMu.Lock()
	defer rt.changeMu.Unlock()

	rt.mu.RLock()
	if rt.closed.Load() {
		rt.mu.RUnlock()
		return ErrClosed
	}
	added := rt.registry.Add(subscriber, parsed)
	listeners := rt.listeners
	rt.mu.RUnlock()

	rt.updateGauges()
	rt.notify(listeners, func(l routingtable.Listener) {
		l.OnSubscribe(canonical(parsed), added)
	})
	return nil
}

// Unsubscribe removes filters from the subscriber's set
func (rt *InMemoryRoutingTable[T]) Unsubscribe(filters []string, subscriber routingtable.Subscriber[T]) error {
	if err := checkSubscriber(subscriber); err != nil {
		return err
	}

	parsed := make([]*topic.Topic, 0, len(filters))
	for _, raw := range filters {
		t, err := rt.cache.Get(raw)
		if err != nil {
			return err
		}
		if !t.IsEmpty() {
			parsed = append(parsed, t)
		}
	}
	if len(parsed) == 0 {
		return nil
	}

	rt.changeMu.Lock()
	defer rt.changeMu.Unlock()

	rt.mu.RLock()
	if rt.closed.Load() {
		rt.mu.RUnlock()
		return ErrClosed
	}
	removed := rt.registry.Remove(subscriber, parsed)
	listeners := rt.listeners
	rt.mu.RUnlock()

	rt.updateGauges()
	rt.notify(listeners, func(l routingtable.Listener) {
		l.OnUnsubscribe(canonical(parsed), removed)
	})
	return nil
}

// UnsubscribeAll removes every filter held by the subscriber
func (rt *InMemoryRoutingTable[T]) UnsubscribeAll(subscriber routingtable.Subscriber[T]) error {
	if err := checkSubscriber(subscriber); err != nil {
		return err
	}

	rt.changeMu.Lock()
	defer rt.changeMu.Unlock()

	rt.mu.RLock()
	if rt.closed.Load() {
		rt.mu.RUnlock()
		return ErrClosed
	}
	filters, removed := rt.registry.RemoveAll(subscriber)
	listeners := rt.listeners
	rt.mu.RUnlock()

	if len(filters) == 0 {
		return nil
	}
	rt.updateGauges()
	rt.notify(listeners, func(l routingtable.Listener) {
		l.OnUnsubscribe(filters, removed)
	})
	return nil
}

// HandleMessage dispatches message to every matching subscriber and returns
// the number of successful deliveries. A closed table delivers nothing.
func (rt *InMemoryRoutingTable[T]) HandleMessage(topicName string, message T) int {
	if rt.closed.Load() {
		return 0
	}
	return rt.dispatcher.Dispatch(topicName, message)
}

// Subscribers returns the subscribers that would receive a message on topicName
func (rt *InMemoryRoutingTable[T]) Subscribers(topicName string) []routingtable.Subscriber[T] {
	if rt.closed.Load() {
		return nil
	}
	return rt.dispatcher.Match(topicName)
}

// AllFilters returns the sorted union of all subscribed filters
func (rt *InMemoryRoutingTable[T]) AllFilters() []string {
	return rt.registry.AllFilters()
}

// FilterCount returns the number of distinct subscribed filters
func (rt *InMemoryRoutingTable[T]) FilterCount() int {
	return rt.registry.FilterCount()
}

// Filters returns the sorted filters held by subscriber
func (rt *InMemoryRoutingTable[T]) Filters(subscriber routingtable.Subscriber[T]) []string {
	if checkSubscriber(subscriber) != nil {
		return []string{}
	}
	return rt.registry.Filters(subscriber)
}

// SubscriberCount returns the number of subscribers holding at least one filter
func (rt *InMemoryRoutingTable[T]) SubscriberCount() int {
	return rt.registry.Len()
}

// AddListener registers a listener for subscription changes
func (rt *InMemoryRoutingTable[T]) AddListener(listener routingtable.Listener) {
	if listener == nil {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	listeners := make([]routingtable.Listener, len(rt.listeners), len(rt.listeners)+1)
	copy(listeners, rt.listeners)
	rt.listeners = append(listeners, listener)
}

// Close drops every subscription. Later mutations return ErrClosed.
func (rt *InMemoryRoutingTable[T]) Close() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.closed.Swap(true) {
		return nil
	}
	rt.registry.Clear()
	rt.listeners = nil
	rt.updateGauges()
	return nil
}

func (rt *InMemoryRoutingTable[T]) parseFilters(filters []string) ([]*topic.Topic, error) {
	if len(filters) == 0 {
		return nil, ErrNoFilters
	}

	parsed := make([]*topic.Topic, 0, len(filters))
	for _, raw := range filters {
		t, err := rt.cache.Get(raw)
		if err != nil {
			return nil, err
		}
		if t.IsEmpty() {
			return nil, ErrEmptyFilter
		}
		if rt.config.StrictFilters {
			if err := t.Validate(); err != nil {
				return nil, err
			}
		}
		parsed = append(parsed, t)
	}
	return parsed, nil
}

func (rt *InMemoryRoutingTable[T]) notify(listeners []routingtable.Listener, fn func(routingtable.Listener)) {
	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					rt.logger.Error("subscription listener panicked", zap.Any("panic", r))
				}
			}()
			fn(l)
		}()
	}
}

func (rt *InMemoryRoutingTable[T]) updateGauges() {
	rt.metrics.Subscribers.Set(float64(rt.registry.Len()))
	rt.metrics.Filters.Set(float64(rt.registry.FilterCount()))
}

func checkSubscriber(subscriber any) error {
	if subscriber == nil {
		return ErrNilSubscriber
	}
	if !reflect.TypeOf(subscriber).Comparable() {
		return ErrSubscriberNotComparable
	}
	return nil
}

func canonical(filters []*topic.Topic) []string {
	out := make([]string, len(filters))
	for i, f := range filters {
		out[i] = f.Canonical()
	}
	return out
}

// Ensure InMemoryRoutingTable implements the RoutingTable interface
var _ routingtable.RoutingTable[[]byte] = (*InMemoryRoutingTable[[]byte])(nil)
