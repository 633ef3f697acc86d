package types

import "time"

// Cache defines the public cache interface.
//
// No method ever panics or returns an error: faults are absorbed, counted in
// the Errors statistic, and reflected as false/nil/0 return values. A cache is
// an optimization layer; a fault raised to the caller would turn it into a
// correctness hazard.
type Cache interface {
	// Set stores a value under key. Returns false on invalid input or when
	// the value cannot be serialized; persistent-tier failure alone never
	// fails a Set.
	Set(key string, value any, opts *SetOptions) bool

	// Get returns a deep copy of the cached value, or nil when the key is
	// absent, expired, or unreadable.
	Get(key string) any

	// Has reports whether an unexpired entry exists in either tier, without
	// promoting it or touching hit/miss accounting.
	Has(key string) bool

	// Delete removes the key from both tiers, reporting whether either held it.
	Delete(key string) bool

	// Clear removes all entries, or only those whose key matches the regular
	// expression pattern when one is given. Returns the number removed.
	Clear(pattern string) int

	// Cleanup synchronously sweeps expired memory entries and schedules a
	// deferred persistent-tier sweep. Returns the synchronous removal count.
	Cleanup() int

	// Preload bulk-loads entries, capped per call to bound synchronous cost.
	Preload(entries []PreloadEntry) int

	// Stats returns a read-only snapshot of the counters.
	Stats() StatsSnapshot

	// Destroy stops background work and disables the cache. Idempotent.
	Destroy() bool
}

// SetOptions carries per-entry overrides for Set
type SetOptions struct {
	// TTL overrides the default time-to-live. Clamped to at least one minute.
	TTL time.Duration
	// Persistent forces a persistent-tier write regardless of the
	// persistence heuristic.
	Persistent bool
}

// PreloadEntry is one element of a bulk Preload call
type PreloadEntry struct {
	Key     string
	Value   any
	Options *SetOptions
}
