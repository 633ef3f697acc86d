/*
Package config provides configuration management for tiercache.

Configuration is hierarchical with precedence:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│           (TIERCACHE_*)                     │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration Files                 │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	│        (Compiled-in defaults)               │
	└─────────────────────────────────────────────┘

Validation clamps out-of-range numeric settings to their documented bounds
instead of rejecting the configuration: a cache that refuses to start over a
tuning value would be a worse failure than one running with a corrected one.

Typical usage:

	cfg, err := config.Load("tiercache.yaml")
	if err != nil {
		return err
	}
	manager := cache.NewManager(cfg.CacheOptions())
*/
package config
