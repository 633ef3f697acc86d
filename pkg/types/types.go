// Package types defines shared types used across tiercache components
package types

// StatsSnapshot represents a point-in-time view of cache performance counters
type StatsSnapshot struct {
	Hits             uint64  `json:"hits"`
	Misses           uint64  `json:"misses"`
	HitRate          float64 `json:"hit_rate"`
	Sets             uint64  `json:"sets"`
	Deletes          uint64  `json:"deletes"`
	Errors           uint64  `json:"errors"`
	Cleanups         uint64  `json:"cleanups"`
	MemoryItems      int     `json:"memory_items"`
	MemoryBytes      int64   `json:"memory_bytes"`
	StorageSupported bool    `json:"storage_supported"`
	Destroyed        bool    `json:"destroyed"`
}

// BackendKind identifies the persistent backend adopted at construction.
// The set is sealed: one of the three kinds is always selected.
type BackendKind string

const (
	// BackendDurable is an origin-scoped directory that survives restarts
	BackendDurable BackendKind = "durable"
	// BackendSession is a temp-dir scoped directory, best-effort per boot
	BackendSession BackendKind = "session"
	// BackendMemory is the in-process fallback with no durability
	BackendMemory BackendKind = "memory"
)
