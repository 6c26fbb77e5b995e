package event

import (
	"sort"
	"sync"

	"github.com/gantryio/gantry/internal/event/topic"
)

// Registry owns the pattern -> subscription mapping. Every add and remove is
// atomic with respect to concurrently-running emit snapshots: an emit never
// sees a half-updated registry. The raw maps are never exposed.
type Registry struct {
	mu      sync.RWMutex
	subs    map[topic.Topic][]*Subscription
	byID    map[string]*Subscription
	matcher *topic.Matcher
}

// NewRegistry creates an empty subscription registry.
func NewRegistry() *Registry {
	return &Registry{
		subs:    make(map[topic.Topic][]*Subscription),
		byID:    make(map[string]*Subscription),
		matcher: topic.NewMatcher(),
	}
}

// Add registers a subscription under its pattern, preserving registration
// order.
func (r *Registry) Add(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pattern := sub.Pattern()
	r.subs[pattern] = append(r.subs[pattern], sub)
	r.byID[sub.ID()] = sub
	r.matcher.Add(pattern)
}

// Remove removes a subscription by ID. Returns false when absent.
func (r *Registry) Remove(subID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(subID)
}

func (r *Registry) removeLocked(subID string) bool {
	sub, exists := r.byID[subID]
	if !exists {
		return false
	}

	pattern := sub.Pattern()
	entries := r.subs[pattern]
	for i, s := range entries {
		if s.ID() == subID {
			r.subs[pattern] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(r.subs[pattern]) == 0 {
		delete(r.subs, pattern)
		r.matcher.Remove(pattern)
	}

	delete(r.byID, subID)
	return true
}

// RemoveOwner removes every subscription tagged with the given owner key in
// one atomic sweep. Returns the number removed.
func (r *Registry) RemoveOwner(owner string) int {
	if owner == "" {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, sub := range r.byID {
		if sub.Owner() == owner {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		r.byID[id].cancel()
		r.removeLocked(id)
	}
	return len(ids)
}

// Snapshot returns the active subscriptions matching the given concrete
// topic, in registration order across all matching patterns. The returned
// slice is a copy; later registry mutations do not affect it.
func (r *Registry) Snapshot(eventTopic topic.Topic) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	patterns := r.matcher.Match(eventTopic)
	if len(patterns) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var all []*Subscription
	for _, pattern := range patterns {
		for _, sub := range r.subs[pattern] {
			if _, dup := seen[sub.ID()]; dup {
				continue
			}
			seen[sub.ID()] = struct{}{}
			if sub.IsActive() {
				all = append(all, sub)
			}
		}
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].seq < all[j].seq
	})
	return all
}

// Get returns a subscription by ID.
func (r *Registry) Get(subID string) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, exists := r.byID[subID]
	return sub, exists
}

// Count returns the total number of subscriptions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// CountByPattern returns the number of subscriptions registered under an
// exact pattern.
func (r *Registry) CountByPattern(pattern topic.Topic) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[pattern])
}

// CountOwner returns the number of subscriptions tagged with the owner key.
func (r *Registry) CountOwner(owner string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, sub := range r.byID {
		if sub.Owner() == owner {
			n++
		}
	}
	return n
}

// RemovePattern removes every subscription registered under an exact pattern.
// Returns the number removed.
func (r *Registry) RemovePattern(pattern topic.Topic) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.subs[pattern]
	for _, sub := range entries {
		sub.cancel()
		delete(r.byID, sub.ID())
	}
	n := len(entries)
	if n > 0 {
		delete(r.subs, pattern)
		r.matcher.Remove(pattern)
	}
	return n
}

// Clear removes every subscription.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range r.byID {
		sub.cancel()
	}
	r.subs = make(map[topic.Topic][]*Subscription)
	r.byID = make(map[string]*Subscription)
	r.matcher.Clear()
}
