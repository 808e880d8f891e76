package routingtable

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rmacdonaldsmith/topicmesh/pkg/topic"
)

// filterSet holds one subscriber's filters. Writers serialize on mu; the
// dispatch path reads the copy-on-write snapshot without locking.
type filterSet struct {
	mu      sync.Mutex
	filters map[string]*topic.Topic // keyed by canonical form, guarded by mu
	dead    bool                    // set once the registry dropped this set, guarded by mu

	snapshot atomic.Pointer[[]*topic.Topic]
}

func newFilterSet() *filterSet {
	s := &filterSet{filters: make(map[string]*topic.Topic)}
	empty := []*topic.Topic{}
	s.snapshot.Store(&empty)
	return s
}

// add stores filters not already present and returns their keys. Caller holds mu.
func (s *filterSet) add(filters []*topic.Topic) []string {
	var added []string
	for _, f := range filters {
		key := f.Canonical()
		if _, ok := s.filters[key]; ok {
			continue
		}
		s.filters[key] = f
		added = append(added, key)
	}
	if len(added) > 0 {
		s.publish()
	}
	return added
}

// remove drops the named keys and returns the ones that were present. Caller holds mu.
func (s *filterSet) remove(keys []string) []string {
	var removed []string
	for _, key := range keys {
		if _, ok := s.filters[key]; !ok {
			continue
		}
		delete(s.filters, key)
		removed = append(removed, key)
	}
	if len(removed) > 0 {
		s.publish()
	}
	return removed
}

// clear drops everything and returns the removed keys. Caller holds mu.
func (s *filterSet) clear() []string {
	removed := make([]string, 0, len(s.filters))
	for key := range s.filters {
		removed = append(removed, key)
	}
	s.filters = make(map[string]*topic.Topic)
	s.publish()
	return removed
}

func (s *filterSet) publish() {
	snap := make([]*topic.Topic, 0, len(s.filters))
	for _, f := range s.filters {
		snap = append(snap, f)
	}
	s.snapshot.Store(&snap)
}

// topics returns the current snapshot. Safe without mu.
func (s *filterSet) topics() []*topic.Topic {
	return *s.snapshot.Load()
}

// keys returns the sorted canonical filters of the current snapshot.
func (s *filterSet) keys() []string {
	snap := s.topics()
	out := make([]string, len(snap))
	for i, f := range snap {
		out[i] = f.Canonical()
	}
	sort.Strings(out)
	return out
}

// firstMatch reports whether any filter in the snapshot matches name.
func (s *filterSet) firstMatch(name *topic.Topic) bool {
	for _, f := range s.topics() {
		if topic.Match(f, name) {
			return true
		}
	}
	return false
}
