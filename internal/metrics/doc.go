/*
Package metrics provides Prometheus-based metrics collection for tiercache.

# Overview

The Collector aggregates cache events into a private Prometheus registry and
optionally serves them over HTTP. It implements the cache package's Recorder
contract, so attaching it is one field on the cache options:

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled: true,
		Port:    8080,
		Path:    "/metrics",
	})
	if err != nil {
		return err
	}
	manager := cache.NewManager(&cache.Options{Recorder: collector})

Exported series cover hits per serving tier, misses, operations, absorbed
errors, evictions by outcome (demoted vs dropped), storage-to-memory
promotions, cleanup removals, and the current memory-tier footprint.

The registry is private to the collector; embed it in an existing HTTP
server via Registry() instead of Start() when the process already serves
metrics elsewhere.
*/
package metrics
