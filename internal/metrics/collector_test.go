package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kendall-hawk/tiercache/internal/cache"
)

var _ cache.Recorder = (*Collector)(nil)

func TestNewCollectorDefaults(t *testing.T) {
	c, err := NewCollector(nil)
	require.NoError(t, err)

	assert.True(t, c.config.Enabled)
	assert.Equal(t, 8080, c.config.Port)
	assert.Equal(t, "/metrics", c.config.Path)
	assert.Equal(t, "tiercache", c.config.Namespace)
	assert.NotNil(t, c.Registry())
}

func TestNewCollectorFillsBlankFields(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: true, Port: 9100})
	require.NoError(t, err)

	assert.Equal(t, "/metrics", c.config.Path)
	assert.Equal(t, "tiercache", c.config.Namespace)
}

func TestRecordHitAndMiss(t *testing.T) {
	c, err := NewCollector(&Config{Namespace: "test"})
	require.NoError(t, err)

	c.RecordHit("memory")
	c.RecordHit("memory")
	c.RecordHit("storage")
	c.RecordMiss()

	assert.Equal(t, float64(2), testutil.ToFloat64(c.hitCounter.WithLabelValues("memory")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.hitCounter.WithLabelValues("storage")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.missCounter))
}

func TestRecordOperations(t *testing.T) {
	c, err := NewCollector(&Config{Namespace: "test"})
	require.NoError(t, err)

	c.RecordSet()
	c.RecordSet()
	c.RecordDelete()
	c.RecordError("set")

	assert.Equal(t, float64(2), testutil.ToFloat64(c.opCounter.WithLabelValues("set")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.opCounter.WithLabelValues("delete")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.errorCounter.WithLabelValues("set")))
}

func TestRecordEvictionOutcomes(t *testing.T) {
	c, err := NewCollector(&Config{Namespace: "test"})
	require.NoError(t, err)

	c.RecordEviction(true)
	c.RecordEviction(false)
	c.RecordEviction(false)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.evictionCounter.WithLabelValues("demoted")))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.evictionCounter.WithLabelValues("dropped")))
}

func TestRecordPromotionAndCleanup(t *testing.T) {
	c, err := NewCollector(&Config{Namespace: "test"})
	require.NoError(t, err)

	c.RecordPromotion()
	c.RecordCleanup(7)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.promotionCount))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.opCounter.WithLabelValues("cleanup")))
	assert.Equal(t, float64(7), testutil.ToFloat64(c.cleanupRemovals))
}

func TestSetMemoryUsage(t *testing.T) {
	c, err := NewCollector(&Config{Namespace: "test"})
	require.NoError(t, err)

	c.SetMemoryUsage(42, 1<<20)
	assert.Equal(t, float64(42), testutil.ToFloat64(c.memoryItems))
	assert.Equal(t, float64(1<<20), testutil.ToFloat64(c.memoryBytes))

	// Gauges track the latest snapshot, not a running total.
	c.SetMemoryUsage(10, 512)
	assert.Equal(t, float64(10), testutil.ToFloat64(c.memoryItems))
	assert.Equal(t, float64(512), testutil.ToFloat64(c.memoryBytes))
}

func TestRegistryGathersAllFamilies(t *testing.T) {
	c, err := NewCollector(&Config{Namespace: "test"})
	require.NoError(t, err)

	c.RecordHit("memory")
	c.RecordMiss()
	c.RecordSet()
	c.RecordError("get")
	c.RecordEviction(true)
	c.RecordPromotion()
	c.RecordCleanup(1)
	c.SetMemoryUsage(1, 1)

	families, err := c.Registry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"test_hits_total",
		"test_misses_total",
		"test_operations_total",
		"test_errors_total",
		"test_evictions_total",
		"test_promotions_total",
		"test_cleanup_removals_total",
		"test_memory_items",
		"test_memory_bytes",
	} {
		assert.True(t, names[want], "missing metric family %s", want)
	}
}

func TestStartDisabledIsNoop(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: false, Namespace: "test"})
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	assert.Nil(t, c.server, "disabled collector must not start a server")
	assert.NoError(t, c.Stop(context.Background()))
}

func TestStartAndStop(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: true, Port: 0, Namespace: "test"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	assert.NoError(t, c.Stop(stopCtx))
}
