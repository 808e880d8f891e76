package routingtable

import (
	"fmt"
	"testing"

	"github.com/rmacdonaldsmith/topicmesh/pkg/routingtable"
)

func noopSubscriber() routingtable.Subscriber[string] {
	return routingtable.NewSubscriber(func(string, string) error { return nil })
}

// BenchmarkInMemoryRoutingTable_Subscribe measures subscription performance
func BenchmarkInMemoryRoutingTable_Subscribe(b *testing.B) {
	rt := NewInMemoryRoutingTable[string]()
	defer rt.Close()

	// Pre-create subscribers to avoid allocation during benchmark
	subscribers := make([]routingtable.Subscriber[string], b.N)
	for i := 0; i < b.N; i++ {
		subscribers[i] = noopSubscriber()
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := rt.Subscribe([]string{"orders/created"}, subscribers[i]); err != nil {
			b.Fatalf("Subscribe failed: %v", err)
		}
	}
}

// BenchmarkInMemoryRoutingTable_HandleMessage measures dispatch over many subscribers
func BenchmarkInMemoryRoutingTable_HandleMessage(b *testing.B) {
	rt := NewInMemoryRoutingTable[string]()
	defer rt.Close()

	// Setup: a mix of exact and wildcard filters
	const numSubscribers = 1000
	for i := 0; i < numSubscribers; i++ {
		filters := []string{fmt.Sprintf("orders/%d/created", i)}
		if i%10 == 0 {
			filters = append(filters, "orders/+/created", "orders/#")
		}
		rt.Subscribe(filters, noopSubscriber())
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rt.HandleMessage("orders/42/created", "m")
	}
}

// BenchmarkInMemoryRoutingTable_HandleMessageParallel measures concurrent publishers
func BenchmarkInMemoryRoutingTable_HandleMessageParallel(b *testing.B) {
	rt := NewInMemoryRoutingTable[string]()
	defer rt.Close()

	for i := 0; i < 100; i++ {
		rt.Subscribe([]string{fmt.Sprintf("sensors/%d/#", i), "sensors/+/temperature"}, noopSubscriber())
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			rt.HandleMessage("sensors/7/temperature", "21.5")
		}
	})
}

// BenchmarkInMemoryRoutingTable_MixedOperations measures mixed workload performance
func BenchmarkInMemoryRoutingTable_MixedOperations(b *testing.B) {
	rt := NewInMemoryRoutingTable[string]()
	defer rt.Close()

	// Pre-create subscribers and topics
	const numTopics = 100
	subscribers := make([]routingtable.Subscriber[string], 64)
	topics := make([]string, numTopics)

	for i := range subscribers {
		subscribers[i] = noopSubscriber()
	}
	for i := 0; i < numTopics; i++ {
		topics[i] = fmt.Sprintf("topic/%d", i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		topicName := topics[i%numTopics]
		subscriber := subscribers[i%len(subscribers)]

		// Mix of operations: 10% unsubscribe, 20% subscribe, 70% dispatch
		switch i % 10 {
		case 0:
			rt.Unsubscribe([]string{topicName}, subscriber)
		case 1, 2:
			rt.Subscribe([]string{topicName}, subscriber)
		default:
			rt.HandleMessage(topicName, "m")
		}
	}
}
