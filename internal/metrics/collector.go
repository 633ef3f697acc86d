package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exports cache events as Prometheus metrics. It implements the
// cache Recorder contract, so wiring it in is a single Options field.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	hitCounter      *prometheus.CounterVec
	missCounter     prometheus.Counter
	opCounter       *prometheus.CounterVec
	errorCounter    *prometheus.CounterVec
	evictionCounter *prometheus.CounterVec
	promotionCount  prometheus.Counter
	cleanupRemovals prometheus.Counter
	memoryItems     prometheus.Gauge
	memoryBytes     prometheus.Gauge

	server *http.Server
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// NewCollector creates a collector with a private registry
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:   true,
			Port:      8080,
			Path:      "/metrics",
			Namespace: "tiercache",
		}
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if config.Namespace == "" {
		config.Namespace = "tiercache"
	}

	c := &Collector{
		config:   config,
		registry: prometheus.NewRegistry(),
	}

	ns := config.Namespace
	c.hitCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "hits_total",
		Help:      "Cache hits by serving tier",
	}, []string{"tier"})
	c.missCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "misses_total",
		Help:      "Cache misses across both tiers",
	})
	c.opCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "operations_total",
		Help:      "Cache operations by type",
	}, []string{"op"})
	c.errorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "errors_total",
		Help:      "Absorbed internal faults by operation",
	}, []string{"op"})
	c.evictionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "evictions_total",
		Help:      "Memory-tier evictions by outcome",
	}, []string{"outcome"})
	c.promotionCount = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "promotions_total",
		Help:      "Entries promoted from storage into memory",
	})
	c.cleanupRemovals = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "cleanup_removals_total",
		Help:      "Expired entries removed by cleanup sweeps",
	})
	c.memoryItems = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "memory_items",
		Help:      "Entries currently held in the memory tier",
	})
	c.memoryBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "memory_bytes",
		Help:      "Estimated bytes held in the memory tier",
	})

	collectors := []prometheus.Collector{
		c.hitCounter, c.missCounter, c.opCounter, c.errorCounter,
		c.evictionCounter, c.promotionCount, c.cleanupRemovals,
		c.memoryItems, c.memoryBytes,
	}
	for _, col := range collectors {
		if err := c.registry.Register(col); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return c, nil
}

// Registry exposes the private registry for embedding in external servers
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Start serves the metrics endpoint until Stop or context cancellation
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Default().Error("metrics server stopped", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		_ = c.Stop(context.Background())
	}()

	return nil
}

// Stop shuts down the metrics server
func (c *Collector) Stop(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// Recorder implementation

// RecordHit counts a hit served by the named tier
func (c *Collector) RecordHit(tier string) {
	c.hitCounter.WithLabelValues(tier).Inc()
}

// RecordMiss counts a miss across both tiers
func (c *Collector) RecordMiss() {
	c.missCounter.Inc()
}

// RecordSet counts a successful write
func (c *Collector) RecordSet() {
	c.opCounter.WithLabelValues("set").Inc()
}

// RecordDelete counts a delete
func (c *Collector) RecordDelete() {
	c.opCounter.WithLabelValues("delete").Inc()
}

// RecordError counts an absorbed fault
func (c *Collector) RecordError(op string) {
	c.errorCounter.WithLabelValues(op).Inc()
}

// RecordEviction counts a memory-tier eviction by outcome
func (c *Collector) RecordEviction(demoted bool) {
	outcome := "dropped"
	if demoted {
		outcome = "demoted"
	}
	c.evictionCounter.WithLabelValues(outcome).Inc()
}

// RecordPromotion counts a storage-to-memory promotion
func (c *Collector) RecordPromotion() {
	c.promotionCount.Inc()
}

// RecordCleanup counts entries removed by a cleanup sweep
func (c *Collector) RecordCleanup(removed int) {
	c.opCounter.WithLabelValues("cleanup").Inc()
	c.cleanupRemovals.Add(float64(removed))
}

// SetMemoryUsage publishes the current memory-tier footprint
func (c *Collector) SetMemoryUsage(items int, bytes int64) {
	c.memoryItems.Set(float64(items))
	c.memoryBytes.Set(float64(bytes))
}
