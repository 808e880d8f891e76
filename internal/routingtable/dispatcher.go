package routingtable

import (
	"go.uber.org/zap"

	"github.com/rmacdonaldsmith/topicmesh/pkg/routingtable"
	"github.com/rmacdonaldsmith/topicmesh/pkg/topic"
)

// Dispatcher delivers published messages to matching subscribers. It runs on
// the caller's goroutine and does not buffer.
type Dispatcher[T any] struct {
	registry *Registry[T]
	cache    *topic.Cache
	logger   *zap.Logger
	metrics  *Metrics
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher[T any](registry *Registry[T], cache *topic.Cache, logger *zap.Logger, metrics *Metrics) *Dispatcher[T] {
	return &Dispatcher[T]{
		registry: registry,
		cache:    cache,
		logger:   logger,
		metrics:  metrics,
	}
}

// Dispatch calls OnMessage once on every subscriber that holds a filter
// matching topicName and returns the number of callbacks that succeeded.
// A topic name that fails to parse reaches nobody.
func (d *Dispatcher[T]) Dispatch(topicName string, message T) int {
	d.metrics.Messages.Inc()

	name, err := d.cache.Get(topicName)
	if err != nil {
		d.logger.Debug("dropping message with malformed topic",
			zap.String("topic", topicName), zap.Error(err))
		return 0
	}

	delivered := 0
	d.registry.rangeSets(func(sub routingtable.Subscriber[T], set *filterSet) bool {
		if !set.firstMatch(name) {
			return true
		}
		if err := d.deliver(sub, topicName, message); err != nil {
			d.logger.Warn("subscriber callback failed", append(subscriberFields(sub), zap.Error(err))...)
			return true
		}
		d.metrics.Deliveries.WithLabelValues(subscriberType(sub)).Inc()
		delivered++
		return true
	})
	return delivered
}

// Match returns the subscribers holding a filter that matches topicName.
func (d *Dispatcher[T]) Match(topicName string) []routingtable.Subscriber[T] {
	name, err := d.cache.Get(topicName)
	if err != nil {
		return nil
	}

	var subs []routingtable.Subscriber[T]
	d.registry.rangeSets(func(sub routingtable.Subscriber[T], set *filterSet) bool {
		if set.firstMatch(name) {
			subs = append(subs, sub)
		}
		return true
	})
	return subs
}

func (d *Dispatcher[T]) deliver(sub routingtable.Subscriber[T], topicName string, message T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.CallbackErrors.WithLabelValues(subscriberType(sub), "panic").Inc()
			err = &routingtable.SubscriberCallbackError{Topic: topicName, Panic: r}
		}
	}()

	if cbErr := sub.OnMessage(topicName, message); cbErr != nil {
		d.metrics.CallbackErrors.WithLabelValues(subscriberType(sub), "error").Inc()
		return &routingtable.SubscriberCallbackError{Topic: topicName, Err: cbErr}
	}
	return nil
}

func subscriberType(sub any) string {
	if id, ok := sub.(routingtable.Identified); ok {
		return id.Type().String()
	}
	return "other"
}

func subscriberFields(sub any) []zap.Field {
	if id, ok := sub.(routingtable.Identified); ok {
		return []zap.Field{zap.String("subscriber", id.ID()), zap.Stringer("subscriber_type", id.Type())}
	}
	return []zap.Field{zap.String("subscriber_type", "other")}
}
