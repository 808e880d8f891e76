package routingtable

import (
	"sort"
	"sync"

	"github.com/rmacdonaldsmith/topicmesh/pkg/routingtable"
	"github.com/rmacdonaldsmith/topicmesh/pkg/topic"
)

// Registry maps subscribers to their filter sets. Subscribe and unsubscribe
// for different subscribers never contend; the same subscriber's set is
// guarded by its own mutex. Lock order is set mutex, then refMu.
type Registry[T any] struct {
	sets sync.Map // routingtable.Subscriber[T] -> *filterSet

	refMu sync.Mutex
	refs  map[string]int // canonical filter -> number of subscribers holding it
}

// NewRegistry creates an empty registry
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{refs: make(map[string]int)}
}

// Add merges filters into the subscriber's set, creating the set if needed.
// It returns the filters that no subscriber held before.
func (r *Registry[T]) Add(sub routingtable.Subscriber[T], filters []*topic.Topic) []string {
	for {
		set := r.loadOrCreate(sub)

		set.mu.Lock()
		if set.dead {
			// lost a race with the last unsubscribe; the entry is gone, retry
			set.mu.Unlock()
			continue
		}
		added := r.retain(set.add(filters))
		set.mu.Unlock()
		return added
	}
}

// Remove drops the named filters from the subscriber's set and deletes the
// entry if it empties. It returns the filters that no subscriber holds any more.
func (r *Registry[T]) Remove(sub routingtable.Subscriber[T], filters []*topic.Topic) []string {
	v, ok := r.sets.Load(sub)
	if !ok {
		return nil
	}
	set := v.(*filterSet)

	keys := make([]string, len(filters))
	for i, f := range filters {
		keys[i] = f.Canonical()
	}

	set.mu.Lock()
	defer set.mu.Unlock()
	if set.dead {
		return nil
	}
	removed := r.release(set.remove(keys))
	if len(set.filters) == 0 {
		r.retire(sub, set)
	}
	return removed
}

// RemoveAll drops the subscriber's entry. It returns the filters the
// subscriber held and those that no subscriber holds any more.
func (r *Registry[T]) RemoveAll(sub routingtable.Subscriber[T]) (filters, removed []string) {
	v, ok := r.sets.Load(sub)
	if !ok {
		return nil, nil
	}
	set := v.(*filterSet)

	set.mu.Lock()
	defer set.mu.Unlock()
	if set.dead {
		return nil, nil
	}
	filters = set.clear()
	sort.Strings(filters)
	removed = r.release(filters)
	r.retire(sub, set)
	return filters, removed
}

// Filters returns the sorted filters held by sub.
func (r *Registry[T]) Filters(sub routingtable.Subscriber[T]) []string {
	v, ok := r.sets.Load(sub)
	if !ok {
		return []string{}
	}
	return v.(*filterSet).keys()
}

// AllFilters returns the sorted union of every subscribed filter.
func (r *Registry[T]) AllFilters() []string {
	r.refMu.Lock()
	out := make([]string, 0, len(r.refs))
	for key := range r.refs {
		out = append(out, key)
	}
	r.refMu.Unlock()

	sort.Strings(out)
	return out
}

// FilterCount returns the number of distinct subscribed filters.
func (r *Registry[T]) FilterCount() int {
	r.refMu.Lock()
	defer r.refMu.Unlock()
	return len(r.refs)
}

// Len returns the number of subscribers with at least one filter.
func (r *Registry[T]) Len() int {
	n := 0
	r.sets.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// rangeSets calls fn with each subscriber and its current filter set. Iteration
// is weakly consistent with concurrent subscribe and unsubscribe.
func (r *Registry[T]) rangeSets(fn func(sub routingtable.Subscriber[T], set *filterSet) bool) {
	r.sets.Range(func(k, v any) bool {
		return fn(k.(routingtable.Subscriber[T]), v.(*filterSet))
	})
}

// Clear drops every entry.
func (r *Registry[T]) Clear() {
	r.sets.Range(func(k, v any) bool {
		set := v.(*filterSet)
		set.mu.Lock()
		if !set.dead {
			r.release(set.clear())
			r.retire(k.(routingtable.Subscriber[T]), set)
		}
		set.mu.Unlock()
		return true
	})
}

func (r *Registry[T]) loadOrCreate(sub routingtable.Subscriber[T]) *filterSet {
	if v, ok := r.sets.Load(sub); ok {
		return v.(*filterSet)
	}
	v, _ := r.sets.LoadOrStore(sub, newFilterSet())
	return v.(*filterSet)
}

// retire marks set dead and removes it from the map. Caller holds set.mu.
func (r *Registry[T]) retire(sub routingtable.Subscriber[T], set *filterSet) {
	set.dead = true
	r.sets.CompareAndDelete(sub, set)
}

func (r *Registry[T]) retain(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	r.refMu.Lock()
	defer r.refMu.Unlock()

	var added []string
	for _, key := range keys {
		r.refs[key]++
		if r.refs[key] == 1 {
			added = append(added, key)
		}
	}
	return added
}

func (r *Registry[T]) release(keys []string) []string {
	if len(keys) == 0 {
		return nil
	}
	r.refMu.Lock()
	defer r.refMu.Unlock()

	var removed []string
	for _, key := range keys {
		n, ok := r.refs[key]
		if !ok {
			continue
		}
		if n <= 1 {
			delete(r.refs, key)
			removed = append(removed, key)
			continue
		}
		r.refs[key] = n - 1
	}
	return removed
}
