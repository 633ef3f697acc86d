package cache

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kendall-hawk/tiercache/pkg/types"
)

const (
	defaultMemorySize      = 50
	minMemorySize          = 10
	maxMemorySize          = 200
	defaultStorageSize     = 200
	minStorageSize         = 50
	maxStorageSize         = 1000
	defaultTTL             = time.Hour
	defaultCleanupInterval = 5 * time.Minute
	minCleanupInterval     = 30 * time.Second
	defaultNamespace       = "learner_cache"

	// hotEntryHits is the hit count beyond which an evicted entry earns a
	// persistent copy instead of being dropped
	hotEntryHits = 2

	// persistSizeThreshold is the serialized size beyond which an entry is
	// written through to storage even without an explicit request
	persistSizeThreshold = 1000

	// preloadLimit caps entries accepted per Preload call to bound the
	// synchronous cost of a single invocation
	preloadLimit = 100
)

// Recorder receives cache events for external observability. All methods
// must be cheap and non-blocking; a nil Recorder disables recording.
type Recorder interface {
	RecordHit(tier string)
	RecordMiss()
	RecordSet()
	RecordDelete()
	RecordError(op string)
	RecordEviction(demoted bool)
	RecordPromotion()
	RecordCleanup(removed int)
	SetMemoryUsage(items int, bytes int64)
}

// noopRecorder stands in when no Recorder is configured
type noopRecorder struct{}

func (noopRecorder) RecordHit(string)          {}
func (noopRecorder) RecordMiss()               {}
func (noopRecorder) RecordSet()                {}
func (noopRecorder) RecordDelete()             {}
func (noopRecorder) RecordError(string)        {}
func (noopRecorder) RecordEviction(bool)       {}
func (noopRecorder) RecordPromotion()          {}
func (noopRecorder) RecordCleanup(int)         {}
func (noopRecorder) SetMemoryUsage(int, int64) {}

// Options configures a Manager. The zero value (or nil) yields the
// documented defaults; out-of-range values are clamped, not rejected.
type Options struct {
	// MaxMemorySize bounds the memory tier entry count. Clamped to [10,200],
	// default 50.
	MaxMemorySize int
	// MaxStorageSize is the advisory persistent-tier entry ceiling.
	// Clamped to [50,1000], default 200.
	MaxStorageSize int
	// MaxStorageBytes is an optional persistent-tier byte budget.
	// Zero disables byte accounting.
	MaxStorageBytes int64
	// DefaultTTL applies when Set carries no TTL. Clamped to >= 1 minute,
	// default 1 hour.
	DefaultTTL time.Duration
	// CleanupInterval is the active-state sweep period. Clamped to >= 30
	// seconds, default 5 minutes.
	CleanupInterval time.Duration
	// DisableCompression turns off the persistent-tier compression pass.
	DisableCompression bool
	// Namespace isolates this cache's persisted records. Default
	// "learner_cache".
	Namespace string
	// StorageDir overrides the durable backend root directory.
	StorageDir string
	// Logger receives diagnostics. Default slog.Default().
	Logger *slog.Logger
	// Recorder receives cache events, typically a metrics collector.
	Recorder Recorder
}

// counters holds the mutable statistics behind Stats snapshots
type counters struct {
	hits     uint64
	misses   uint64
	sets     uint64
	deletes  uint64
	errors   uint64
	cleanups uint64
}

// Manager is the tiered cache orchestrator. Reads check the memory tier
// first and fall through to storage, promoting hits back into memory.
// Writes always land in memory; storage is populated conditionally and
// best-effort. Memory state is authoritative and visible the instant an
// operation returns, regardless of storage completion.
type Manager struct {
	opts      Options
	memory    *memoryTier
	storage   *storageTier
	scheduler *cleanupScheduler
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time

	// lookups collapses concurrent storage reads for the same key
	lookups singleflight.Group

	statsMu sync.Mutex
	stats   counters

	destroyed atomic.Bool
}

var _ types.Cache = (*Manager)(nil)

// NewManager creates a cache from the given options. Construction cannot
// fail: if no persistent backend survives probing, the in-process fallback
// is adopted transparently.
func NewManager(opts *Options) *Manager {
	resolved := resolveOptions(opts)

	m := &Manager{
		opts:     resolved,
		recorder: resolved.Recorder,
		logger:   resolved.Logger.With("component", "cache-manager"),
		now:      time.Now,
	}
	if m.recorder == nil {
		m.recorder = noopRecorder{}
	}

	m.memory = newMemoryTier(resolved.MaxMemorySize, evictionPolicy{hotHits: hotEntryHits})
	m.storage = newStorageTier(storageTierConfig{
		namespace:  resolved.Namespace,
		directory:  resolved.StorageDir,
		compress:   !resolved.DisableCompression,
		maxEntries: resolved.MaxStorageSize,
		maxBytes:   resolved.MaxStorageBytes,
		logger:     resolved.Logger.With("component", "storage-tier"),
		now:        func() time.Time { return m.now() },
	})
	m.scheduler = newCleanupScheduler(resolved.CleanupInterval, func() { m.Cleanup() })

	return m
}

func resolveOptions(opts *Options) Options {
	resolved := Options{}
	if opts != nil {
		resolved = *opts
	}

	resolved.MaxMemorySize = clampInt(resolved.MaxMemorySize, defaultMemorySize, minMemorySize, maxMemorySize)
	resolved.MaxStorageSize = clampInt(resolved.MaxStorageSize, defaultStorageSize, minStorageSize, maxStorageSize)
	if resolved.DefaultTTL <= 0 {
		resolved.DefaultTTL = defaultTTL
	} else if resolved.DefaultTTL < minTTL {
		resolved.DefaultTTL = minTTL
	}
	if resolved.CleanupInterval <= 0 {
		resolved.CleanupInterval = defaultCleanupInterval
	} else if resolved.CleanupInterval < minCleanupInterval {
		resolved.CleanupInterval = minCleanupInterval
	}
	if resolved.Namespace == "" {
		resolved.Namespace = defaultNamespace
	}
	resolved.Namespace = sanitizeKey(resolved.Namespace)
	if resolved.Logger == nil {
		resolved.Logger = slog.Default()
	}
	return resolved
}

func clampInt(v, def, lo, hi int) int {
	if v == 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Set stores a value under key. See types.Cache.
func (m *Manager) Set(key string, value any, opts *types.SetOptions) (ok bool) {
	defer m.recoverOp("set")

	if m.destroyed.Load() {
		m.logger.Warn("set on destroyed cache", "key", key)
		return false
	}
	if strings.TrimSpace(key) == "" {
		m.countError("set")
		return false
	}
	key = sanitizeKey(key)

	ttl := m.opts.DefaultTTL
	persistent := false
	if opts != nil {
		if opts.TTL > 0 {
			ttl = opts.TTL
		}
		persistent = opts.Persistent
	}
	if ttl < minTTL {
		ttl = minTTL
	}

	ent, err := newEntry(key, value, ttl, m.now())
	if err != nil {
		m.logger.Debug("set rejected", "key", key, "error", err)
		m.countError("set")
		return false
	}

	// Snapshot before the entry becomes shared: once it is in the memory
	// tier, concurrent reads touch its metadata under the tier lock, and the
	// storage write below runs outside that lock.
	snapshot := *ent
	victims := m.memory.put(ent)
	m.demote(victims)

	if persistent || ent.SizeEstimate > persistSizeThreshold || ttl > m.opts.DefaultTTL {
		m.writeThrough(&snapshot)
	}

	m.statsMu.Lock()
	m.stats.sets++
	m.statsMu.Unlock()
	m.recorder.RecordSet()
	m.publishUsage()
	return true
}

// Get returns a deep copy of the cached value, or nil. See types.Cache.
func (m *Manager) Get(key string) (value any) {
	defer m.recoverOp("get")

	if m.destroyed.Load() {
		return nil
	}
	if strings.TrimSpace(key) == "" {
		m.countError("get")
		m.countMiss()
		return nil
	}
	key = sanitizeKey(key)
	now := m.now()

	if ent := m.memory.get(key, now); ent != nil {
		if ent.expired(now) {
			m.memory.remove(key)
			m.storage.remove(key)
			m.countMiss()
			m.publishUsage()
			return nil
		}
		return m.copyOut(ent, "memory")
	}

	promoted, _, _ := m.lookups.Do(key, func() (any, error) {
		ent, ok := m.storage.read(key)
		if !ok {
			return (*entry)(nil), nil
		}
		if ent.expired(now) {
			m.storage.remove(key)
			return (*entry)(nil), nil
		}

		ent.touch(now)
		// Read-through promotion: the storage hit earns a memory slot.
		victims := m.memory.put(ent)
		m.demote(victims)
		m.recorder.RecordPromotion()
		return ent, nil
	})

	ent := promoted.(*entry)
	if ent == nil {
		m.countMiss()
		return nil
	}
	m.publishUsage()
	return m.copyOut(ent, "storage")
}

// Has reports whether an unexpired entry exists in either tier, without
// promotion and without hit/miss accounting. See types.Cache.
func (m *Manager) Has(key string) (ok bool) {
	defer m.recoverOp("has")

	if m.destroyed.Load() || strings.TrimSpace(key) == "" {
		return false
	}
	key = sanitizeKey(key)
	now := m.now()

	if ent := m.memory.peek(key); ent != nil {
		return !ent.expired(now)
	}
	if ent, found := m.storage.read(key); found {
		return !ent.expired(now)
	}
	return false
}

// Delete removes the key from both tiers. See types.Cache.
func (m *Manager) Delete(key string) (ok bool) {
	defer m.recoverOp("delete")

	if m.destroyed.Load() {
		m.logger.Warn("delete on destroyed cache", "key", key)
		return false
	}
	if strings.TrimSpace(key) == "" {
		return false
	}
	key = sanitizeKey(key)

	inMemory := m.memory.remove(key)
	inStorage := m.storage.remove(key)

	m.statsMu.Lock()
	m.stats.deletes++
	m.statsMu.Unlock()
	m.recorder.RecordDelete()
	m.publishUsage()
	return inMemory || inStorage
}

// Clear removes all entries, or only keys matching pattern. See types.Cache.
func (m *Manager) Clear(pattern string) (removed int) {
	defer m.recoverOp("clear")

	if m.destroyed.Load() {
		m.logger.Warn("clear on destroyed cache")
		return 0
	}

	if pattern == "" {
		// Count distinct logical keys: an entry resident in both tiers is
		// one removal, not two.
		seen := make(map[string]struct{})
		for _, key := range m.memory.keys() {
			seen[key] = struct{}{}
		}
		for _, key := range m.storage.keysHeld() {
			seen[key] = struct{}{}
		}
		m.memory.clear()
		m.storage.clear()
		m.publishUsage()
		return len(seen)
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		m.logger.Debug("clear rejected", "pattern", pattern, "error", err)
		m.countError("clear")
		return 0
	}

	for _, key := range m.memory.keys() {
		if re.MatchString(key) {
			if m.Delete(key) {
				removed++
			}
		}
	}
	return removed
}

// Cleanup synchronously sweeps expired memory entries and defers the
// storage sweep so callers are never blocked on persistent-tier latency.
// See types.Cache.
func (m *Manager) Cleanup() (removed int) {
	defer m.recoverOp("cleanup")

	if m.destroyed.Load() {
		return 0
	}

	removed = m.memory.sweepExpired(m.now())

	m.statsMu.Lock()
	m.stats.cleanups++
	m.statsMu.Unlock()
	m.recorder.RecordCleanup(removed)
	m.publishUsage()

	go func() {
		if m.destroyed.Load() {
			return
		}
		if n := m.storage.sweepExpired(); n > 0 {
			m.logger.Debug("storage sweep removed entries", "count", n)
		}
	}()

	return removed
}

// Preload bulk-loads entries, at most 100 per call. See types.Cache.
func (m *Manager) Preload(entries []types.PreloadEntry) (loaded int) {
	defer m.recoverOp("preload")

	if m.destroyed.Load() {
		m.logger.Warn("preload on destroyed cache")
		return 0
	}

	if len(entries) > preloadLimit {
		m.logger.Warn("preload truncated", "requested", len(entries), "limit", preloadLimit)
		entries = entries[:preloadLimit]
	}

	for _, pe := range entries {
		if m.Set(pe.Key, pe.Value, pe.Options) {
			loaded++
		}
	}
	return loaded
}

// Stats returns a read-only snapshot of the counters. See types.Cache.
func (m *Manager) Stats() types.StatsSnapshot {
	m.statsMu.Lock()
	stats := m.stats
	m.statsMu.Unlock()

	snapshot := types.StatsSnapshot{
		Hits:      stats.hits,
		Misses:    stats.misses,
		Sets:      stats.sets,
		Deletes:   stats.deletes,
		Errors:    stats.errors,
		Cleanups:  stats.cleanups,
		Destroyed: m.destroyed.Load(),
	}
	snapshot.HitRate = float64(stats.hits) / float64(max(uint64(1), stats.hits+stats.misses))

	if !snapshot.Destroyed {
		snapshot.MemoryItems = m.memory.len()
		snapshot.MemoryBytes = m.memory.bytes()
		snapshot.StorageSupported = m.storage.supported()
	}
	return snapshot
}

// Destroy stops the scheduler, empties the memory tier and zeroes the
// statistics. Idempotent; persisted records are left for the next instance.
// See types.Cache.
func (m *Manager) Destroy() bool {
	if !m.destroyed.CompareAndSwap(false, true) {
		return true
	}

	m.scheduler.stop()
	m.memory.clear()

	m.statsMu.Lock()
	m.stats = counters{}
	m.statsMu.Unlock()

	m.logger.Info("cache destroyed")
	return true
}

// Throttle switches the cleanup scheduler to the backgrounded rhythm.
// Embedders call this when their process reports itself hidden or idle.
func (m *Manager) Throttle() {
	if !m.destroyed.Load() {
		m.scheduler.throttle()
	}
}

// Resume restores the foreground cleanup rhythm
func (m *Manager) Resume() {
	if !m.destroyed.Load() {
		m.scheduler.resume()
	}
}

// demote writes hot eviction victims through to storage. Runs outside the
// memory-tier lock; quota exhaustion is absorbed because memory membership
// has already been decided.
func (m *Manager) demote(victims []evictedEntry) {
	for _, v := range victims {
		if v.demote {
			m.writeThrough(v.ent)
		}
		m.recorder.RecordEviction(v.demote)
	}
}

func (m *Manager) writeThrough(ent *entry) {
	err := m.storage.write(ent)
	switch {
	case err == nil:
	case isQuotaErr(err):
		m.logger.Debug("storage write dropped, quota exhausted", "key", ent.Key)
	default:
		m.logger.Debug("storage write failed", "key", ent.Key, "error", err)
		m.countError("storage_write")
	}
}

func (m *Manager) copyOut(ent *entry, tier string) any {
	value, err := ent.decodeValue()
	if err != nil {
		m.logger.Debug("cached value unreadable", "key", ent.Key, "error", err)
		m.countError("get")
		m.countMiss()
		return nil
	}

	m.statsMu.Lock()
	m.stats.hits++
	m.statsMu.Unlock()
	m.recorder.RecordHit(tier)
	return value
}

func (m *Manager) countMiss() {
	m.statsMu.Lock()
	m.stats.misses++
	m.statsMu.Unlock()
	m.recorder.RecordMiss()
}

func (m *Manager) countError(op string) {
	m.statsMu.Lock()
	m.stats.errors++
	m.statsMu.Unlock()
	m.recorder.RecordError(op)
}

func (m *Manager) publishUsage() {
	if m.destroyed.Load() {
		return
	}
	m.recorder.SetMemoryUsage(m.memory.len(), m.memory.bytes())
}

// recoverOp enforces the never-raise contract at the public boundary:
// a panic is converted into an error count and the zero return value.
func (m *Manager) recoverOp(op string) {
	if r := recover(); r != nil {
		m.logger.Error("recovered from panic", "op", op, "panic", r)
		m.countError(op)
	}
}
