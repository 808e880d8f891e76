// Package routingtable provides interfaces for topic-filter based message routing.
//
// This package defines the core abstractions for the topicmesh routing table component:
//   - Subscriber: a callback handle that receives messages for the filters it holds
//   - Listener: observes changes to the set of filters subscribed by anyone
//   - RoutingTable: manages subscriber-to-filter mappings and dispatches messages
//
// Subscribers are identified by reference. Subscribing the same handle twice merges
// its filters; two distinct handles with equal contents are distinct subscribers.
// Handles must therefore be comparable, which in practice means pointers.
//
// Example usage:
//
//	var rt routingtable.RoutingTable[[]byte] = newRoutingTable()
//	defer rt.Close()
//
//	sub := routingtable.NewSubscriber(func(topicName string, payload []byte) error {
//		fmt.Printf("%s: %s\n", topicName, payload)
//		return nil
//	})
//	if err := rt.Subscribe([]string{"sensors/+/temperature", "alerts/#"}, sub); err != nil {
//		return err
//	}
//
//	// Delivered once to sub, even though both of its filters could match.
//	rt.HandleMessage("sensors/kitchen/temperature", []byte("21.5"))
//
//	// Re-issue everything upstream after a reconnect.
//	upstream.Subscribe(rt.AllFilters())
//
// Wildcard Patterns:
//   - "+" matches exactly one topic segment
//   - "#" matches zero or more trailing segments
//   - "sensors/+/temperature" matches "sensors/kitchen/temperature"
//   - "alerts/#" matches "alerts", "alerts/fire" and "alerts/fire/floor1"
//
// The concrete implementation lives in internal/routingtable.
package routingtable
