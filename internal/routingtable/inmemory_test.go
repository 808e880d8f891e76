package routingtable

import (
	"errors"
	"sync"
	"testing"

	"github.com/rmacdonaldsmith/topicmesh/pkg/routingtable"
	"github.com/rmacdonaldsmith/topicmesh/pkg/topic"
)

// recordingSubscriber remembers every message it receives
type recordingSubscriber struct {
	mu       sync.Mutex
	topics   []string
	messages []string
	err      error
	panicVal any
}

func (s *recordingSubscriber) OnMessage(topicName string, message string) error {
	s.mu.Lock()
	s.topics = append(s.topics, topicName)
	s.messages = append(s.messages, message)
	s.mu.Unlock()

	if s.panicVal != nil {
		panic(s.panicVal)
	}
	return s.err
}

func (s *recordingSubscriber) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.topics)
}

func TestInMemoryRoutingTable_Subscribe(t *testing.T) {
	rt := NewInMemoryRoutingTable[string]()
	defer rt.Close()

	subscriber := &recordingSubscriber{}

	err := rt.Subscribe([]string{"orders/created"}, subscriber)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	delivered := rt.HandleMessage("orders/created", "order-1")
	if delivered != 1 {
		t.Fatalf("Expected 1 delivery, got %d", delivered)
	}

	if subscriber.count() != 1 {
		t.Fatalf("Expected subscriber to receive 1 message, got %d", subscriber.count())
	}
	if subscriber.topics[0] != "orders/created" || subscriber.messages[0] != "order-1" {
		t.Errorf("Unexpected delivery: %q %q", subscriber.topics[0], subscriber.messages[0])
	}
}

func TestInMemoryRoutingTable_Subscribe_NilSubscriber(t *testing.T) {
	rt := NewInMemoryRoutingTable[string]()
	defer rt.Close()

	err := rt.Subscribe([]string{"orders/created"}, nil)
	if !errors.Is(err, ErrNilSubscriber) {
		t.Fatalf("Expected ErrNilSubscriber, got %v", err)
	}
}

type valueSubscriber struct {
	fn func(string, string) error
}

func (s valueSubscriber) OnMessage(topicName string, message string) error {
	return s.fn(topicName, message)
}

func TestInMemoryRoutingTable_Subscribe_NotComparable(t *testing.T) {
	rt := NewInMemoryRoutingTable[string]()
	defer rt.Close()

	sub := valueSubscriber{fn: func(string, string) error { return nil }}
	err := rt.Subscribe([]string{"orders/created"}, sub)
	if !errors.Is(err, ErrSubscriberNotComparable) {
		t.Fatalf("Expected ErrSubscriberNotComparable, got %v", err)
	}
}

func TestInMemoryRoutingTable_Subscribe_EmptyFilter(t *testing.T) {
	rt := NewInMemoryRoutingTable[string]()
	defer rt.Close()

	subscriber := &recordingSubscriber{}

	if err := rt.Subscribe([]string{"   "}, subscriber); !errors.Is(err, ErrEmptyFilter) {
		t.Fatalf("Expected ErrEmptyFilter, got %v", err)
	}
	if err := rt.Subscribe(nil, subscriber); !errors.Is(err, ErrNoFilters) {
		t.Fatalf("Expected ErrNoFilters, got %v", err)
	}
}

func TestInMemoryRoutingTable_Subscribe_MalformedRejectsWholeCall(t *testing.T) {
	rt := NewInMemoryRoutingTable[string]()
	defer rt.Close()

	subscriber := &recordingSubscriber{}

	err := rt.Subscribe([]string{"orders/created", "orders/bad+filter"}, subscriber)
	if !errors.Is(err, topic.ErrMalformedFilter) {
		t.Fatalf("Expected ErrMalformedFilter, got %v", err)
	}

	if rt.SubscriberCount() != 0 {
		t.Errorf("Expected no subscribers after rejected call, got %d", rt.SubscriberCount())
	}
	if len(rt.AllFilters()) != 0 {
		t.Errorf("Expected no filters after rejected call, got %v", rt.AllFilters())
	}
	if rt.HandleMessage("orders/created", "order-1") != 0 {
		t.Error("Expected no delivery after rejected call")
	}
}

func TestInMemoryRoutingTable_Unsubscribe(t *testing.T) {
	rt := NewInMemoryRoutingTable[string]()
	defer rt.Close()

	subscriber := &recordingSubscriber{}

	// Subscribe first
	if err := rt.Subscribe([]string{"a/b"}, subscriber); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// Unsubscribe
	if err := rt.Unsubscribe([]string{"a/b"}, subscriber); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	for _, f := range rt.AllFilters() {
		if f == "a/b" {
			t.Fatal("Expected a/b to be gone from AllFilters")
		}
	}
	if rt.HandleMessage("a/b", "m") != 0 || subscriber.count() != 0 {
		t.Fatal("Expected no callbacks after unsubscribe")
	}
	if rt.SubscriberCount() != 0 {
		t.Errorf("Expected empty entry to be removed, got %d subscribers", rt.SubscriberCount())
	}
}

func TestInMemoryRoutingTable_Unsubscribe_Partial(t *testing.T) {
	rt := NewInMemoryRoutingTable[string]()
	defer rt.Close()

	subscriber := &recordingSubscriber{}
	rt.Subscribe([]string{"a/b", "c/d"}, subscriber)

	if err := rt.Unsubscribe([]string{"a/b", "never/subscribed"}, subscriber); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	filters := rt.Filters(subscriber)
	if len(filters) != 1 || filters[0] != "c/d" {
		t.Fatalf("Expected [c/d], got %v", filters)
	}
	if rt.SubscriberCount() != 1 {
		t.Errorf("Expected subscriber to remain, got %d", rt.SubscriberCount())
	}
}

func TestInMemoryRoutingTable_Unsubscribe_UnknownSubscriber(t *testing.T) {
	rt := NewInMemoryRoutingTable[string]()
	defer rt.Close()

	if err := rt.Unsubscribe([]string{"a/b"}, &recordingSubscriber{}); err != nil {
		t.Fatalf("Unsubscribe of unknown subscriber should be a no-op, got %v", err)
	}
	if err := rt.UnsubscribeAll(&recordingSubscriber{}); err != nil {
		t.Fatalf("UnsubscribeAll of unknown subscriber should be a no-op, got %v", err)
	}
}

func TestInMemoryRoutingTable_UnsubscribeAll(t *testing.T) {
	rt := NewInMemoryRoutingTable[string]()
	defer rt.Close()

	subscriber := &recordingSubscriber{}
	other := &recordingSubscriber{}
	rt.Subscribe([]string{"a/b", "c/#"}, subscriber)
	rt.Subscribe([]string{"c/#"}, other)

	if err := rt.UnsubscribeAll(subscriber); err != nil {
		t.Fatalf("UnsubscribeAll failed: %v", err)
	}

	if got := rt.Filters(subscriber); len(got) != 0 {
		t.Errorf("Expected no filters for subscriber, got %v", got)
	}
	all := rt.AllFilters()
	if len(all) != 1 || all[0] != "c/#" {
		t.Errorf("Expected AllFilters [c/#], got %v", all)
	}
}

func TestInMemoryRoutingTable_NoMatch(t *testing.T) {
	rt := NewInMemoryRoutingTable[string]()
	defer rt.Close()

	subscriber := &recordingSubscriber{}
	rt.Subscribe([]string{"orders/created"}, subscriber)

	if delivered := rt.HandleMessage("non/existent/topic", "m"); delivered != 0 {
		t.Fatalf("Expected 0 deliveries for non-matching topic, got %d", delivered)
	}
	if subscriber.count() != 0 {
		t.Fatalf("Expected no callbacks, got %d", subscriber.count())
	}
}

func TestInMemoryRoutingTable_MultipleSubscribers(t *testing.T) {
	rt := NewInMemoryRoutingTable[string]()
	defer rt.Close()

	local1 := &recordingSubscriber{}
	local2 := &recordingSubscriber{}
	local3 := &recordingSubscriber{}

	// Subscribe all to same topic
	for _, s := range []*recordingSubscriber{local1, local2, local3} {
		if err := rt.Subscribe([]string{"orders/created"}, s); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}

	if delivered := rt.HandleMessage("orders/created", "m"); delivered != 3 {
		t.Fatalf("Expected 3 deliveries, got %d", delivered)
	}
	if rt.SubscriberCount() != 3 {
		t.Errorf("Expected 3 subscribers, got %d", rt.SubscriberCount())
	}
	if rt.FilterCount() != 1 {
		t.Errorf("Expected 1 distinct filter, got %d", rt.FilterCount())
	}
}

func TestInMemoryRoutingTable_IdentityIsByReference(t *testing.T) {
	rt := NewInMemoryRoutingTable[string]()
	defer rt.Close()

	first := &recordingSubscriber{}
	second := &recordingSubscriber{}
	rt.Subscribe([]string{"a/b"}, first)
	rt.Subscribe([]string{"a/b"}, second)

	rt.Unsubscribe([]string{"a/b"}, first)

	if rt.HandleMessage("a/b", "m") != 1 || second.count() != 1 || first.count() != 0 {
		t.Fatal("Expected only the second handle to remain subscribed")
	}
}

func TestInMemoryRoutingTable_SubscribeMergesFilters(t *testing.T) {
	rt := NewInMemoryRoutingTable[string]()
	defer rt.Close()

	subscriber := &recordingSubscriber{}
	rt.Subscribe([]string{"a/b"}, subscriber)
	rt.Subscribe([]string{"c/d", " a / b /"}, subscriber)

	filters := rt.Filters(subscriber)
	if len(filters) != 2 || filters[0] != "a/b" || filters[1] != "c/d" {
		t.Fatalf("Expected [a/b c/d], got %v", filters)
	}
	if rt.SubscriberCount() != 1 {
		t.Errorf("Expected 1 subscriber, got %d", rt.SubscriberCount())
	}
}

func TestInMemoryRoutingTable_OverlappingFiltersDeliverOnce(t *testing.T) {
	rt := NewInMemoryRoutingTable[string]()
	defer rt.Close()

	subscriber := &recordingSubscriber{}
	err := rt.Subscribe([]string{"a/#", "a/+/c", "+/b/c", "a/b/c", "#"}, subscriber)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if delivered := rt.HandleMessage("a/b/c", "m"); delivered != 1 {
		t.Fatalf("Expected exactly 1 delivery, got %d", delivered)
	}
	if subscriber.count() != 1 {
		t.Fatalf("Expected exactly 1 callback, got %d", subscriber.count())
	}
}

func TestInMemoryRoutingTable_CallbackErrorIsolation(t *testing.T) {
	rt := NewInMemoryRoutingTable[string]()
	defer rt.Close()

	failing := &recordingSubscriber{err: errors.New("boom")}
	panicking := &recordingSubscriber{panicVal: "kaboom"}
	healthy := &recordingSubscriber{}

	for _, s := range []*recordingSubscriber{failing, panicking, healthy} {
		if err := rt.Subscribe([]string{"alerts/#"}, s); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}

	delivered := rt.HandleMessage("alerts/fire", "m")
	if delivered != 1 {
		t.Fatalf("Expected 1 successful delivery, got %d", delivered)
	}
	if healthy.count() != 1 || failing.count() != 1 || panicking.count() != 1 {
		t.Fatal("Expected every subscriber to be called once")
	}

	// the registry is unaffected by failing callbacks
	if rt.SubscriberCount() != 3 {
		t.Errorf("Expected 3 subscribers, got %d", rt.SubscriberCount())
	}
	if rt.HandleMessage("alerts/flood", "m") != 1 {
		t.Error("Expected dispatch to keep working after callback failures")
	}
}

func TestInMemoryRoutingTable_MalformedTopicReachesNobody(t *testing.T) {
	rt := NewInMemoryRoutingTable[string]()
	defer rt.Close()

	subscriber := &recordingSubscriber{}
	rt.Subscribe([]string{"#"}, subscriber)

	if rt.HandleMessage("a/b#", "m") != 0 {
		t.Error("Expected malformed topic name to reach nobody")
	}
	if rt.HandleMessage("", "m") != 0 {
		t.Error("Expected empty topic name to reach nobody")
	}
}

func TestInMemoryRoutingTable_Subscribers(t *testing.T) {
	rt := NewInMemoryRoutingTable[string]()
	defer rt.Close()

	orders := &recordingSubscriber{}
	all := &recordingSubscriber{}
	rt.Subscribe([]string{"orders/+"}, orders)
	rt.Subscribe([]string{"#"}, all)

	if got := rt.Subscribers("orders/created"); len(got) != 2 {
		t.Errorf("Expected 2 matching subscribers, got %d", len(got))
	}
	if got := rt.Subscribers("inventory/updated"); len(got) != 1 {
		t.Errorf("Expected 1 matching subscriber, got %d", len(got))
	}
	if orders.count() != 0 || all.count() != 0 {
		t.Error("Subscribers must not deliver")
	}
}

func TestInMemoryRoutingTable_NewSubscriber(t *testing.T) {
	rt := NewInMemoryRoutingTable[string]()
	defer rt.Close()

	var got []string
	sub := routingtable.NewSubscriber(func(topicName string, message string) error {
		got = append(got, message)
		return nil
	})
	if err := rt.Subscribe([]string{"a/+"}, sub); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	rt.HandleMessage("a/b", "hello")

	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("Expected [hello], got %v", got)
	}
}

func TestInMemoryRoutingTable_Close(t *testing.T) {
	rt := NewInMemoryRoutingTable[string]()

	subscriber := &recordingSubscriber{}
	rt.Subscribe([]string{"a/b"}, subscriber)

	if err := rt.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("Second Close should be a no-op, got %v", err)
	}

	if err := rt.Subscribe([]string{"a/b"}, subscriber); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if rt.HandleMessage("a/b", "m") != 0 {
		t.Error("Expected closed table to deliver nothing")
	}
	if len(rt.AllFilters()) != 0 || rt.SubscriberCount() != 0 {
		t.Error("Expected Close to drop all subscriptions")
	}
}

func TestInMemoryRoutingTable_StrictFilters(t *testing.T) {
	rt, err := NewInMemoryRoutingTableWithConfig[string](NewConfig().WithStrictFilters(true))
	if err != nil {
		t.Fatalf("Failed to create routing table: %v", err)
	}
	defer rt.Close()

	subscriber := &recordingSubscriber{}
	err = rt.Subscribe([]string{"a/#/b"}, subscriber)
	if !errors.Is(err, topic.ErrMalformedFilter) {
		t.Fatalf("Expected non-terminal # to be rejected in strict mode, got %v", err)
	}
	if err := rt.Subscribe([]string{"a/#"}, subscriber); err != nil {
		t.Fatalf("Expected terminal # to be accepted, got %v", err)
	}
}

func TestInMemoryRoutingTable_ExtendedMultiWildcard(t *testing.T) {
	rt := NewInMemoryRoutingTable[string]()
	defer rt.Close()

	subscriber := &recordingSubscriber{}
	if err := rt.Subscribe([]string{"a/#/b"}, subscriber); err != nil {
		t.Fatalf("Expected non-terminal # to be accepted by default, got %v", err)
	}

	rt.HandleMessage("a/x/y/b", "match")
	rt.HandleMessage("a/x/c", "no match")

	if subscriber.count() != 1 || subscriber.messages[0] != "match" {
		t.Fatalf("Expected only the realigned topic to match, got %v", subscriber.messages)
	}
}

func TestConfig_Validate(t *testing.T) {
	config := NewConfig()
	config.CacheSize = -1
	if err := config.Validate(); !errors.Is(err, ErrInvalidCacheSize) {
		t.Fatalf("Expected ErrInvalidCacheSize, got %v", err)
	}

	if _, err := NewInMemoryRoutingTableWithConfig[string](config); err == nil {
		t.Fatal("Expected constructor to reject invalid config")
	}
}

func TestConfig_PrivateCache(t *testing.T) {
	config := NewConfig()
	config.CacheSize = 16

	rt, err := NewInMemoryRoutingTableWithConfig[string](config)
	if err != nil {
		t.Fatalf("Failed to create routing table: %v", err)
	}
	defer rt.Close()

	if rt.cache == topic.DefaultCache() {
		t.Error("Expected a private cache when CacheSize is set")
	}
	rt.Subscribe([]string{"a/b"}, &recordingSubscriber{})
	if rt.cache.Len() != 1 {
		t.Errorf("Expected filter to be cached privately, got %d entries", rt.cache.Len())
	}
}
