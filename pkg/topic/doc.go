// Package topic parses and matches MQTT-style topic names and topic filters.
//
// A topic name is a "/" separated string such as "sensors/kitchen/temp". A topic
// filter has the same shape but may contain wildcard segments:
//   - "+" matches exactly one segment at its position
//   - "#" at the end matches the remaining segments, one or more, so
//     "sensors/#" does not match "sensors"
//
// Both are parsed into an immutable *Topic holding an ordered slice of segments.
// Parsed values are safe to share between goroutines and are memoized by a bounded
// LRU cache so hot topics are only parsed once.
//
// Example usage:
//
//	filter, err := topic.Lookup("sensors/+/temp")
//	if err != nil {
//		return err // malformed filter, e.g. "sensors/a+/temp"
//	}
//	name, _ := topic.Lookup("sensors/kitchen/temp")
//	if topic.Match(filter, name) {
//		deliver(msg)
//	}
//
// Filters that continue after a "#" segment are accepted as an extension of MQTT:
// "#/event/+/msg" skips ahead in the topic to the first "event" segment and keeps
// matching from there. Use Topic.Validate to enforce standard MQTT placement.
package topic
