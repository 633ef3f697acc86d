package cache

import (
	"container/list"
	"sync"
	"time"
)

// evictionPolicy decides which evicted entries have earned a persistent copy.
// The persistent tier is slower and quota-limited, so only entries with
// proven reuse value are demoted instead of dropped.
type evictionPolicy struct {
	hotHits int64
}

// demotable reports whether an entry is hot enough to offer to storage
func (p evictionPolicy) demotable(e *entry) bool {
	return e.HitCount > p.hotHits
}

// evictedEntry is a memory-tier victim together with the policy's verdict
type evictedEntry struct {
	ent    *entry
	demote bool
}

// burstHotBudget bounds how many victims get the hot-entry check during a
// burst-recovery pass, keeping worst-case cleanup cost bounded.
const burstHotBudget = 3

// memoryItem pairs an entry with its position in the eviction list
type memoryItem struct {
	ent     *entry
	element *list.Element
}

// memoryTier is a bounded in-process map plus an LRU ordering list.
// The front of the list is most-recently-used, the back least-recently-used.
// Map and list are always mutated together under one mutex; updating one
// without the other would skew eviction order against membership.
type memoryTier struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*memoryItem
	order    *list.List
	policy   evictionPolicy
}

func newMemoryTier(capacity int, policy evictionPolicy) *memoryTier {
	return &memoryTier{
		capacity: capacity,
		items:    make(map[string]*memoryItem),
		order:    list.New(),
		policy:   policy,
	}
}

// put inserts or updates an entry and marks it most-recently-used. Victims
// evicted to stay within capacity are returned so the caller can demote hot
// ones outside the tier lock.
func (m *memoryTier) put(ent *entry) []evictedEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if it, ok := m.items[ent.Key]; ok {
		it.ent = ent
		m.order.MoveToFront(it.element)
		return m.evictOverflow()
	}

	element := m.order.PushFront(ent.Key)
	m.items[ent.Key] = &memoryItem{ent: ent, element: element}
	return m.evictOverflow()
}

// get returns the entry and marks it most-recently-used, recording the
// access on unexpired entries. Entry metadata is only ever mutated under
// the tier mutex; callers must not touch the returned entry themselves.
func (m *memoryTier) get(key string, now time.Time) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[key]
	if !ok {
		return nil
	}
	m.order.MoveToFront(it.element)
	if !it.ent.expired(now) {
		it.ent.touch(now)
	}
	return it.ent
}

// peek returns the entry without disturbing LRU order
func (m *memoryTier) peek(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[key]
	if !ok {
		return nil
	}
	return it.ent
}

// remove deletes the entry and un-tracks its LRU position
func (m *memoryTier) remove(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(key)
}

func (m *memoryTier) removeLocked(key string) bool {
	it, ok := m.items[key]
	if !ok {
		return false
	}
	m.order.Remove(it.element)
	delete(m.items, key)
	return true
}

// clear empties the tier and returns the number of entries removed
func (m *memoryTier) clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.items)
	m.items = make(map[string]*memoryItem)
	m.order.Init()
	return n
}

// keys returns a snapshot of all keys currently held
func (m *memoryTier) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.items))
	for key := range m.items {
		keys = append(keys, key)
	}
	return keys
}

// sweepExpired removes all expired entries and returns the count
func (m *memoryTier) sweepExpired(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []string
	for key, it := range m.items {
		if it.ent.expired(now) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		m.removeLocked(key)
	}
	return len(expired)
}

// len returns the current entry count
func (m *memoryTier) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// bytes returns the summed size estimates of all held entries
func (m *memoryTier) bytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total int64
	for _, it := range m.items {
		total += it.ent.SizeEstimate
	}
	return total
}

// evictOverflow restores the capacity bound. The normal path pops one LRU
// victim at a time with the hot-entry check applied to each. If the tier is
// observed beyond 1.5x capacity (bursty interleaved writes), everything down
// to capacity is evicted in one pass and only the first few victims get the
// hot-entry check.
func (m *memoryTier) evictOverflow() []evictedEntry {
	if len(m.items) <= m.capacity {
		return nil
	}

	burst := len(m.items) > m.capacity*3/2

	var victims []evictedEntry
	for len(m.items) > m.capacity {
		element := m.order.Back()
		if element == nil {
			break
		}
		key := element.Value.(string)
		it, ok := m.items[key]
		if !ok {
			m.order.Remove(element)
			continue
		}

		demote := m.policy.demotable(it.ent)
		if burst && len(victims) >= burstHotBudget {
			demote = false
		}

		m.order.Remove(it.element)
		delete(m.items, key)
		victims = append(victims, evictedEntry{ent: it.ent, demote: demote})
	}
	return victims
}
