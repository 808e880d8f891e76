// Package eventlog provides interfaces for per-topic message history.
//
// Every message a node publishes is appended to the log under its topic name
// and receives a per-topic offset starting at 0. The log keeps a bounded
// window of recent messages per topic so clients can page through what they
// missed. It is not a subscription store: subscriptions are never persisted.
//
// Example usage:
//
//	// Append a message
//	record, err := log.Append(ctx, eventlog.NewRecord("sensors/kitchen/temperature", payload))
//	if err != nil {
//		return err
//	}
//
//	// Read up to 100 messages starting at offset 10
//	records, err := log.Read(ctx, "sensors/kitchen/temperature", 10, 100)
//	if err != nil {
//		return err
//	}
//
//	// Replay everything retained for a topic
//	recordChan, errChan := log.Replay(ctx, "sensors/kitchen/temperature", 0)
//	for record := range recordChan {
//		process(record)
//	}
//	if err := <-errChan; err != nil {
//		return err
//	}
package eventlog
