/*
Package cache implements a two-tier key/value cache with LRU eviction,
per-entry TTL expiration, quota-aware persistence and scheduled cleanup.

# Architecture

Callers interact only with the Manager; the tiers never talk to each other
directly.

	┌─────────────────────────────────────────────┐
	│               Application                   │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│                Manager                      │  ← types.Cache impl
	│   set / get / has / delete / clear          │
	│   cleanup / preload / stats / destroy       │
	└─────────────────────────────────────────────┘
	          │                        │
	┌───────────────────┐    ┌────────────────────┐
	│    Memory Tier    │    │    Storage Tier    │
	│  map + LRU list   │    │ durable / session /│
	│  bounded entries  │    │ in-memory backend  │
	│  authoritative    │    │ best-effort, gzip  │
	└───────────────────┘    └────────────────────┘

Reads check the memory tier first and fall through to storage; an unexpired
storage hit is promoted back into memory. Writes always populate memory and
conditionally write through to storage. Eviction flows the other way: when
memory overflows, entries with proven reuse value (hit count above the hot
threshold) are demoted into storage before being dropped.

# Tier selection

The storage backend is probed at construction with a real write/read/remove
round trip, in order of durability: a user-cache-dir rooted directory, a
temp-dir rooted directory, then an in-process map. The fallback always
succeeds, so a Manager can always be built.

# Failure semantics

No public operation panics or returns an error. Faults are logged, counted
in the errors statistic and collapsed to false/nil/0. Persistent-tier
failure, including quota exhaustion after the sweep-and-retry cycle, never
fails a logical operation: the memory tier already holds the authoritative
copy.

# Expiration

An entry's expiration time is fixed at creation; reads bump the hit count
and last-access time but never extend life. Expired entries are reclaimed
lazily on read and proactively by the cleanup scheduler, which triples its
interval while the host reports itself backgrounded.
*/
package cache
