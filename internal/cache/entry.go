package cache

import (
	"encoding/json"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// minTTL bounds time-to-live from below to prevent thrashing from
// pathologically short expirations.
const minTTL = time.Minute

// entry wraps a cached value together with the metadata the tiers and the
// eviction policy need. The value is held in serialized form: decoding it
// yields a fresh copy on every read, so callers can never reach
// cache-internal state.
type entry struct {
	Key          string          `json:"key"`
	Raw          json.RawMessage `json:"value"`
	CreatedAt    time.Time       `json:"created_at"`
	LastAccess   time.Time       `json:"last_access"`
	TTL          time.Duration   `json:"ttl"`
	ExpiresAt    time.Time       `json:"expires_at"`
	HitCount     int64           `json:"hit_count"`
	SizeEstimate int64           `json:"size_estimate"`
}

// newEntry builds an entry from a caller-supplied value. The value is
// serialized once; the serialized length doubles as the size estimate used
// for persistence-worthiness and quota accounting.
func newEntry(key string, value any, ttl time.Duration, now time.Time) (*entry, error) {
	if ttl < minTTL {
		ttl = minTTL
	}

	raw, err := codec.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("value for key %q is not serializable: %w", key, err)
	}

	return &entry{
		Key:          key,
		Raw:          raw,
		CreatedAt:    now,
		LastAccess:   now,
		TTL:          ttl,
		ExpiresAt:    now.Add(ttl),
		SizeEstimate: int64(len(raw)),
	}, nil
}

// decodeValue returns a fresh copy of the cached value
func (e *entry) decodeValue() (any, error) {
	var v any
	if err := codec.Unmarshal(e.Raw, &v); err != nil {
		return nil, fmt.Errorf("cached value for key %q is unreadable: %w", e.Key, err)
	}
	return v, nil
}

// expired reports whether the entry has passed its expiration time.
// ExpiresAt is fixed at creation; access never extends life.
func (e *entry) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// touch records a successful read
func (e *entry) touch(now time.Time) {
	e.HitCount++
	e.LastAccess = now
}

// sanitizeKey maps caller-supplied keys onto a restricted character set so
// every tier (including filename-backed ones) can store them verbatim.
func sanitizeKey(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			out = append(out, c)
		case c == '_' || c == '.' || c == '-':
			out = append(out, c)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
