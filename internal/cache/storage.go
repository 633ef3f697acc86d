package cache

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/kendall-hawk/tiercache/pkg/types"
)

var errQuotaExceeded = errors.New("storage quota exceeded")

const (
	// recordVersion tags persisted records; unknown versions read as absent
	recordVersion = "2.0"

	// sweepScanLimit bounds keys inspected per expired-entry sweep so a
	// quota-recovery sweep never turns into a large synchronous stall
	sweepScanLimit = 50

	// quotaProbeKey is the disposable key used for write/remove round trips
	quotaProbeKey = "__quota_probe__"

	// compressionGain is the maximum compressed/raw ratio at which the
	// compressed form is kept (compression must save at least 20%)
	compressionGain = 0.8
)

// storageBackend is the byte-oriented surface the storage tier drives.
// Implementations are namespace-scoped: keys passed in are already
// namespaced and sanitized.
type storageBackend interface {
	write(key string, data []byte) error
	read(key string) ([]byte, bool, error)
	remove(key string) error
	keys() ([]string, error)
	usage() (entries int, bytes int64, err error)
	clear() error
	kind() types.BackendKind
}

// storedRecord is the persisted envelope. Item holds the JSON-encoded entry,
// gzip-compressed when Compressed is set.
type storedRecord struct {
	Item       []byte `json:"item"`
	Version    string `json:"version"`
	Compressed bool   `json:"compressed,omitempty"`
}

// storageTier mediates between entries and whichever backend the capability
// probe adopted. All writes run the quota discipline: probe, sweep on
// exhaustion, retry once; persistence stays best-effort throughout.
type storageTier struct {
	mu         sync.Mutex
	backend    storageBackend
	namespace  string
	compress   bool
	maxEntries int
	maxBytes   int64
	logger     *slog.Logger
	now        func() time.Time
}

// storageTierConfig carries resolved construction parameters
type storageTierConfig struct {
	namespace  string
	directory  string
	compress   bool
	maxEntries int
	maxBytes   int64
	logger     *slog.Logger
	now        func() time.Time
}

// newStorageTier probes backends in order of durability and adopts the first
// one that completes a real write/read/remove round trip. Feature presence is
// not trusted: some environments expose a writable-looking directory that
// fails on use. The in-process fallback always round-trips, so the returned
// tier is never nil.
func newStorageTier(cfg storageTierConfig) *storageTier {
	t := &storageTier{
		namespace:  cfg.namespace,
		compress:   cfg.compress,
		maxEntries: cfg.maxEntries,
		maxBytes:   cfg.maxBytes,
		logger:     cfg.logger,
		now:        cfg.now,
	}

	for _, candidate := range backendCandidates(cfg.namespace, cfg.directory) {
		backend, err := candidate.open()
		if err != nil {
			t.logger.Debug("storage backend unavailable", "kind", candidate.kind, "error", err)
			continue
		}
		if !t.probe(backend) {
			t.logger.Debug("storage backend failed probe", "kind", candidate.kind)
			continue
		}
		t.backend = backend
		break
	}

	if t.backend == nil {
		// Unreachable in practice: the memory candidate cannot fail.
		t.backend = newMemBackend()
	}

	t.logger.Info("storage tier initialized", "backend", t.backend.kind())
	return t
}

// backendCandidate describes one probe target
type backendCandidate struct {
	kind types.BackendKind
	open func() (storageBackend, error)
}

func backendCandidates(namespace, directory string) []backendCandidate {
	durableRoot := directory
	return []backendCandidate{
		{
			kind: types.BackendDurable,
			open: func() (storageBackend, error) {
				root := durableRoot
				if root == "" {
					base, err := os.UserCacheDir()
					if err != nil {
						return nil, fmt.Errorf("no user cache directory: %w", err)
					}
					root = filepath.Join(base, "tiercache")
				}
				return newDirBackend(filepath.Join(root, namespace), types.BackendDurable)
			},
		},
		{
			kind: types.BackendSession,
			open: func() (storageBackend, error) {
				return newDirBackend(filepath.Join(os.TempDir(), "tiercache-session", namespace), types.BackendSession)
			},
		},
		{
			kind: types.BackendMemory,
			open: func() (storageBackend, error) {
				return newMemBackend(), nil
			},
		},
	}
}

// probe performs a real write/read/remove round trip against the backend
func (t *storageTier) probe(b storageBackend) bool {
	key := t.storageKey(quotaProbeKey)
	payload := []byte(`{"probe":true}`)

	if err := b.write(key, payload); err != nil {
		return false
	}
	data, ok, err := b.read(key)
	if err != nil || !ok || !bytes.Equal(data, payload) {
		_ = b.remove(key)
		return false
	}
	return b.remove(key) == nil
}

func (t *storageTier) storageKey(key string) string {
	return t.namespace + ":" + key
}

// supported reports whether a real persistent backend was adopted
func (t *storageTier) supported() bool {
	return t.backend.kind() != types.BackendMemory
}

// write persists an entry, running the quota discipline. A quota-exhausted
// outcome is reported as errQuotaExceeded; callers must treat it as
// best-effort failure, never as failure of the logical operation.
func (t *storageTier) write(ent *entry) error {
	data, err := t.encode(ent)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := t.storageKey(ent.Key)
	if !t.quotaAvailable(key, int64(len(data))) {
		t.sweepExpiredLocked()
		if !t.quotaAvailable(key, int64(len(data))) {
			return errQuotaExceeded
		}
	}

	werr := t.backend.write(key, data)
	if isQuotaErr(werr) {
		t.sweepExpiredLocked()
		werr = t.backend.write(key, data)
	}
	if isQuotaErr(werr) {
		return errQuotaExceeded
	}
	return werr
}

// read loads and decodes an entry. Missing, corrupt, mismatched-version and
// undecompressable records all read as absent: decompression failures fail
// closed rather than crash.
func (t *storageTier) read(key string) (*entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	storageKey := t.storageKey(key)
	data, ok, err := t.backend.read(storageKey)
	if err != nil || !ok {
		return nil, false
	}

	ent, err := t.decode(data)
	if err != nil {
		t.logger.Debug("dropping unreadable record", "key", key, "error", err)
		_ = t.backend.remove(storageKey)
		return nil, false
	}
	return ent, true
}

// remove deletes the key, reporting whether the backend held it
func (t *storageTier) remove(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	storageKey := t.storageKey(key)
	_, ok, _ := t.backend.read(storageKey)
	if ok {
		_ = t.backend.remove(storageKey)
	}
	return ok
}

// sweepExpired removes expired entries, scanning at most sweepScanLimit keys
func (t *storageTier) sweepExpired() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sweepExpiredLocked()
}

func (t *storageTier) sweepExpiredLocked() int {
	keys, err := t.backend.keys()
	if err != nil {
		return 0
	}

	now := t.now()
	prefix := t.namespace + ":"
	removed := 0
	scanned := 0
	for _, key := range keys {
		if scanned >= sweepScanLimit {
			break
		}
		if !strings.HasPrefix(key, prefix) || key == t.storageKey(quotaProbeKey) {
			continue
		}
		scanned++

		data, ok, rerr := t.backend.read(key)
		if rerr != nil || !ok {
			continue
		}
		ent, derr := t.decode(data)
		if derr != nil || ent.expired(now) {
			// Corrupt records are reclaimed along with expired ones.
			if t.backend.remove(key) == nil {
				removed++
			}
		}
	}
	return removed
}

// keysHeld returns the logical keys currently persisted in this namespace
func (t *storageTier) keysHeld() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys, err := t.backend.keys()
	if err != nil {
		return nil
	}
	prefix := t.namespace + ":"
	held := make([]string, 0, len(keys))
	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			held = append(held, strings.TrimPrefix(key, prefix))
		}
	}
	return held
}

// clear empties the namespace and returns the number of entries removed
func (t *storageTier) clear() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys, err := t.backend.keys()
	if err != nil {
		return 0
	}
	n := len(keys)
	if err := t.backend.clear(); err != nil {
		t.logger.Debug("storage clear failed", "error", err)
		return 0
	}
	return n
}

// quotaAvailable checks the advisory ceilings and performs the disposable
// write/remove probe from the quota discipline
func (t *storageTier) quotaAvailable(key string, incoming int64) bool {
	if entries, used, err := t.backend.usage(); err == nil {
		_, exists, _ := t.backend.read(key)
		if !exists && t.maxEntries > 0 && entries >= t.maxEntries {
			return false
		}
		if t.maxBytes > 0 && used+incoming > t.maxBytes {
			return false
		}
	}

	probeKey := t.storageKey(quotaProbeKey)
	if err := t.backend.write(probeKey, []byte(`{"probe":true}`)); err != nil {
		_ = t.backend.remove(probeKey)
		return !isQuotaErr(err)
	}
	_ = t.backend.remove(probeKey)
	return true
}

// encode serializes an entry into the versioned envelope, compressing the
// payload when that saves at least 20%
func (t *storageTier) encode(ent *entry) ([]byte, error) {
	raw, err := codec.Marshal(ent)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entry %q: %w", ent.Key, err)
	}

	record := storedRecord{Item: raw, Version: recordVersion}
	if t.compress {
		if compressed, ok := compressPayload(raw); ok {
			record.Item = compressed
			record.Compressed = true
		}
	}

	data, err := codec.Marshal(&record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record %q: %w", ent.Key, err)
	}
	return data, nil
}

// decode reverses encode, failing closed on any malformation
func (t *storageTier) decode(data []byte) (*entry, error) {
	var record storedRecord
	if err := codec.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("malformed record: %w", err)
	}
	if record.Version != recordVersion {
		return nil, fmt.Errorf("unsupported record version %q", record.Version)
	}

	raw := record.Item
	if record.Compressed {
		var err error
		raw, err = decompressPayload(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress record: %w", err)
		}
	}

	var ent entry
	if err := codec.Unmarshal(raw, &ent); err != nil {
		return nil, fmt.Errorf("malformed entry: %w", err)
	}
	return &ent, nil
}

// compressPayload gzips data, reporting false when the result is not at
// least 20% smaller than the input
func compressPayload(data []byte) ([]byte, bool) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, false
	}
	if err := w.Close(); err != nil {
		return nil, false
	}
	if float64(buf.Len()) > float64(len(data))*compressionGain {
		return nil, false
	}
	return buf.Bytes(), true
}

func decompressPayload(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

// isQuotaErr classifies quota-exhaustion conditions from the filesystem and
// from the tier's own advisory ceilings
func isQuotaErr(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, errQuotaExceeded) ||
		errors.Is(err, syscall.ENOSPC) ||
		errors.Is(err, syscall.EDQUOT)
}

// dirBackend stores one file per record under a namespace-scoped directory.
// Keys are already sanitized to filename-safe characters, so the storage key
// maps directly to a file name without hashing.
type dirBackend struct {
	root        string
	backendKind types.BackendKind
}

const recordSuffix = ".cache"

func newDirBackend(root string, kind types.BackendKind) (*dirBackend, error) {
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &dirBackend{root: root, backendKind: kind}, nil
}

func (b *dirBackend) path(key string) string {
	return filepath.Join(b.root, key+recordSuffix)
}

func (b *dirBackend) write(key string, data []byte) error {
	return os.WriteFile(b.path(key), data, 0600)
}

func (b *dirBackend) read(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (b *dirBackend) remove(key string) error {
	err := os.Remove(b.path(key))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func (b *dirBackend) keys() ([]string, error) {
	dirEntries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, recordSuffix) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, recordSuffix))
	}
	return keys, nil
}

func (b *dirBackend) usage() (int, int64, error) {
	dirEntries, err := os.ReadDir(b.root)
	if err != nil {
		return 0, 0, err
	}

	entries := 0
	var used int64
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), recordSuffix) {
			continue
		}
		entries++
		if info, ierr := de.Info(); ierr == nil {
			used += info.Size()
		}
	}
	return entries, used, nil
}

func (b *dirBackend) clear() error {
	if err := os.RemoveAll(b.root); err != nil {
		return err
	}
	return os.MkdirAll(b.root, 0750)
}

func (b *dirBackend) kind() types.BackendKind {
	return b.backendKind
}

// memBackend is the in-process fallback. It satisfies the same contract as
// the directory backends but provides no cross-restart durability.
type memBackend struct {
	mu      sync.Mutex
	records map[string][]byte
}

func newMemBackend() *memBackend {
	return &memBackend{records: make(map[string][]byte)}
}

func (b *memBackend) write(key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	b.records[key] = buf
	return nil
}

func (b *memBackend) read(key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.records[key]
	if !ok {
		return nil, false, nil
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, true, nil
}

func (b *memBackend) remove(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, key)
	return nil
}

func (b *memBackend) keys() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.records))
	for key := range b.records {
		keys = append(keys, key)
	}
	return keys, nil
}

func (b *memBackend) usage() (int, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var used int64
	for _, data := range b.records {
		used += int64(len(data))
	}
	return len(b.records), used, nil
}

func (b *memBackend) clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = make(map[string][]byte)
	return nil
}

func (b *memBackend) kind() types.BackendKind {
	return types.BackendMemory
}
