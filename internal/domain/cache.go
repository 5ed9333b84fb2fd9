package domain

import "time"

// CacheConfig holds the caching policy and the in-process read tier.
type CacheConfig struct {
	// Type is the read tier in front of the store: "memory" or "none"
	Type string `yaml:"type" json:"type"`

	// Local LRU settings
	LocalMaxSize int           `yaml:"local_max_size" json:"localMaxSize"`
	LocalTTL     time.Duration `yaml:"local_ttl" json:"localTtl"`

	// TTL overrides per kind name, e.g. {"quote": "30m"}
	TTL map[string]time.Duration `yaml:"ttl" json:"ttl,omitempty"`

	// EvictionHorizon is the age after which rows are removed from the store.
	EvictionHorizon time.Duration `yaml:"eviction_horizon" json:"evictionHorizon"`
}
