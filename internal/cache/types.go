package cache

import "time"

// Entry is a single cached value with its accounted size.
type Entry[V any] struct {
	Key        string
	Value      V
	Size       int64
	InsertedAt time.Time
}

// Stats is a point-in-time view of a Memory cache.
type Stats struct {
	Hits             uint64    `json:"hits"`
	Misses           uint64    `json:"misses"`
	Evictions        uint64    `json:"evictions"`
	Rejections       uint64    `json:"rejections"`
	EntryCount       int       `json:"entry_count"`
	CurrentSize      int64     `json:"current_size_bytes"`
	MaxSize          int64     `json:"max_size_bytes"`
	LastEvictionTime time.Time `json:"last_eviction_time"`
	HitRatio         float64   `json:"hit_ratio"`
}

// Cache configuration
const (
	// DefaultMemoryDivisor is the share of the runtime memory budget handed to
	// the memory cache (1/8).
	DefaultMemoryDivisor = 8
)
