package cache

import (
	"fmt"
	"testing"
	"time"
)

func mustEntry(t *testing.T, key string, value any, ttl time.Duration) *entry {
	t.Helper()
	ent, err := newEntry(key, value, ttl, time.Now())
	if err != nil {
		t.Fatalf("newEntry(%q) failed: %v", key, err)
	}
	return ent
}

func TestMemoryTierPutGet(t *testing.T) {
	m := newMemoryTier(5, evictionPolicy{hotHits: 2})

	ent := mustEntry(t, "a", 1, time.Hour)
	if victims := m.put(ent); victims != nil {
		t.Errorf("no eviction expected, got %d victims", len(victims))
	}

	if got := m.get("a", time.Now()); got != ent {
		t.Error("get should return the stored entry")
	}
	if m.get("missing", time.Now()) != nil {
		t.Error("get of absent key should return nil")
	}
}

func TestMemoryTierGetRecordsAccess(t *testing.T) {
	m := newMemoryTier(5, evictionPolicy{hotHits: 2})
	now := time.Now()

	ent, _ := newEntry("a", 1, time.Hour, now)
	m.put(ent)

	later := now.Add(10 * time.Second)
	m.get("a", later)
	m.get("a", later.Add(time.Second))

	got := m.peek("a")
	if got.HitCount != 2 {
		t.Errorf("hit count = %d, want 2", got.HitCount)
	}
	if !got.LastAccess.Equal(later.Add(time.Second)) {
		t.Error("last access should track the latest get")
	}

	// An expired entry is returned but not touched.
	m.get("a", now.Add(2*time.Hour))
	if m.peek("a").HitCount != 2 {
		t.Error("expired entry must not record an access")
	}
}

func TestMemoryTierEvictsLeastRecentlyUsed(t *testing.T) {
	m := newMemoryTier(3, evictionPolicy{hotHits: 2})

	for _, key := range []string{"a", "b", "c"} {
		m.put(mustEntry(t, key, key, time.Hour))
	}

	// Refresh "a" so "b" is the LRU tail.
	m.get("a", time.Now())

	victims := m.put(mustEntry(t, "d", "d", time.Hour))
	if len(victims) != 1 {
		t.Fatalf("expected 1 victim, got %d", len(victims))
	}
	if victims[0].ent.Key != "b" {
		t.Errorf("expected b evicted, got %s", victims[0].ent.Key)
	}
	if victims[0].demote {
		t.Error("cold victim must not be marked for demotion")
	}
}

func TestMemoryTierHotVictimMarkedForDemotion(t *testing.T) {
	m := newMemoryTier(2, evictionPolicy{hotHits: 2})

	hot := mustEntry(t, "hot", "v", time.Hour)
	hot.HitCount = 3
	m.put(hot)
	m.put(mustEntry(t, "b", "v", time.Hour))

	victims := m.put(mustEntry(t, "c", "v", time.Hour))
	if len(victims) != 1 || victims[0].ent.Key != "hot" {
		t.Fatalf("expected hot evicted, got %+v", victims)
	}
	if !victims[0].demote {
		t.Error("victim with hit count above threshold should be demotable")
	}
}

func TestMemoryTierPeekDoesNotReorder(t *testing.T) {
	m := newMemoryTier(2, evictionPolicy{hotHits: 2})

	m.put(mustEntry(t, "a", "v", time.Hour))
	m.put(mustEntry(t, "b", "v", time.Hour))

	// peek must not refresh "a": it stays the LRU tail.
	m.peek("a")

	victims := m.put(mustEntry(t, "c", "v", time.Hour))
	if len(victims) != 1 || victims[0].ent.Key != "a" {
		t.Errorf("expected a evicted after peek, got %+v", victims)
	}
}

func TestMemoryTierUpdateMovesToFront(t *testing.T) {
	m := newMemoryTier(2, evictionPolicy{hotHits: 2})

	m.put(mustEntry(t, "a", 1, time.Hour))
	m.put(mustEntry(t, "b", 1, time.Hour))
	m.put(mustEntry(t, "a", 2, time.Hour))

	victims := m.put(mustEntry(t, "c", 1, time.Hour))
	if len(victims) != 1 || victims[0].ent.Key != "b" {
		t.Errorf("update should have refreshed a, leaving b as the tail: %+v", victims)
	}
}

func TestMemoryTierBurstEviction(t *testing.T) {
	m := newMemoryTier(10, evictionPolicy{hotHits: 2})

	// Inject entries behind put's back to simulate interleaved writers
	// outrunning eviction past the 1.5x watermark.
	for i := 0; i < 20; i++ {
		ent := mustEntry(t, fmt.Sprintf("k%d", i), i, time.Hour)
		ent.HitCount = 5 // every one of them is hot
		element := m.order.PushFront(ent.Key)
		m.items[ent.Key] = &memoryItem{ent: ent, element: element}
	}

	victims := m.put(mustEntry(t, "trigger", "v", time.Hour))

	if got := m.len(); got != 10 {
		t.Errorf("burst pass should converge to capacity, got %d items", got)
	}
	if len(victims) != 11 {
		t.Errorf("expected 11 victims, got %d", len(victims))
	}

	demoted := 0
	for _, v := range victims {
		if v.demote {
			demoted++
		}
	}
	if demoted != burstHotBudget {
		t.Errorf("burst pass should cap hot checks at %d, got %d demotable victims", burstHotBudget, demoted)
	}
}

func TestMemoryTierRemove(t *testing.T) {
	m := newMemoryTier(5, evictionPolicy{hotHits: 2})

	m.put(mustEntry(t, "a", 1, time.Hour))
	if !m.remove("a") {
		t.Error("remove should report the key was held")
	}
	if m.remove("a") {
		t.Error("second remove should report nothing held")
	}
	if m.order.Len() != 0 {
		t.Error("LRU list should be empty after remove")
	}
}

func TestMemoryTierSweepExpired(t *testing.T) {
	m := newMemoryTier(10, evictionPolicy{hotHits: 2})
	now := time.Now()

	for i := 0; i < 3; i++ {
		ent, _ := newEntry(fmt.Sprintf("old%d", i), i, time.Minute, now)
		m.put(ent)
	}
	fresh, _ := newEntry("fresh", "v", time.Hour, now)
	m.put(fresh)

	removed := m.sweepExpired(now.Add(2 * time.Minute))
	if removed != 3 {
		t.Errorf("expected 3 expired removals, got %d", removed)
	}
	if m.len() != 1 {
		t.Errorf("expected 1 survivor, got %d", m.len())
	}
	if m.peek("fresh") == nil {
		t.Error("unexpired entry should survive the sweep")
	}
}

func TestMemoryTierClear(t *testing.T) {
	m := newMemoryTier(5, evictionPolicy{hotHits: 2})

	m.put(mustEntry(t, "a", 1, time.Hour))
	m.put(mustEntry(t, "b", 2, time.Hour))

	if n := m.clear(); n != 2 {
		t.Errorf("expected 2 cleared, got %d", n)
	}
	if m.len() != 0 || m.order.Len() != 0 {
		t.Error("map and list should both be empty")
	}
}

func TestMemoryTierBytes(t *testing.T) {
	m := newMemoryTier(5, evictionPolicy{hotHits: 2})

	a := mustEntry(t, "a", "hello", time.Hour)
	b := mustEntry(t, "b", "world!", time.Hour)
	m.put(a)
	m.put(b)

	if got := m.bytes(); got != a.SizeEstimate+b.SizeEstimate {
		t.Errorf("bytes = %d, want %d", got, a.SizeEstimate+b.SizeEstimate)
	}
}

// Guard against order-vs-membership skew: every list element must have a map
// entry and vice versa.
func TestMemoryTierOrderMatchesMembership(t *testing.T) {
	m := newMemoryTier(5, evictionPolicy{hotHits: 2})

	for i := 0; i < 12; i++ {
		m.put(mustEntry(t, fmt.Sprintf("k%d", i%7), i, time.Hour))
		if i%3 == 0 {
			m.remove(fmt.Sprintf("k%d", (i+1)%7))
		}
	}

	if m.order.Len() != len(m.items) {
		t.Fatalf("list length %d != map length %d", m.order.Len(), len(m.items))
	}
	for element := m.order.Front(); element != nil; element = element.Next() {
		key := element.Value.(string)
		it, ok := m.items[key]
		if !ok {
			t.Fatalf("list key %q missing from map", key)
		}
		if it.element != element {
			t.Fatalf("map entry %q points at a different list element", key)
		}
	}
}
