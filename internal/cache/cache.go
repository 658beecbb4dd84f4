// Package cache provides the bounded in-process memory tier.
package cache

import (
	"container/list"
	"time"
)

// Memory is a size-accounted LRU cache. Sizes are computed once per entry by
// the sizeOf function given at construction.
//
// Memory is not safe for concurrent use. Callers serialize access through a
// single owner goroutine.
type Memory[V any] struct {
	capacity int64
	size     int64
	sizeOf   func(V) int64
	order    *list.List // front is most recently used
	items    map[string]*list.Element

	hits, misses, evictions, rejections uint64
	lastEviction                        time.Time
}

// NewMemory creates a cache holding at most capacity bytes.
func NewMemory[V any](capacity int64, sizeOf func(V) int64) *Memory[V] {
	if capacity < 0 {
		capacity = 0
	}
	return &Memory[V]{
		capacity: capacity,
		sizeOf:   sizeOf,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns the value for key and marks it most recently used.
func (m *Memory[V]) Get(key string) (V, bool) {
	elem, ok := m.items[key]
	if !ok {
		m.misses++
		var zero V
		return zero, false
	}
	m.hits++
	m.order.MoveToFront(elem)
	return elem.Value.(*Entry[V]).Value, true
}

// Contains reports whether key is cached without touching recency.
func (m *Memory[V]) Contains(key string) bool {
	_, ok := m.items[key]
	return ok
}

// Put stores value under key unless the key is already present. Entries that
// do not fit even in an empty cache are rejected. Otherwise least recently
// used entries are evicted until the new one fits. Put reports whether the
// value was stored.
func (m *Memory[V]) Put(key string, value V) bool {
	if _, ok := m.items[key]; ok {
		return false
	}

	size := m.sizeOf(value)
	if size < 0 || size > m.capacity {
		m.rejections++
		return false
	}

	m.evictFor(size)

	entry := &Entry[V]{
		Key:        key,
		Value:      value,
		Size:       size,
		InsertedAt: time.Now(),
	}
	m.items[key] = m.order.PushFront(entry)
	m.size += size
	return true
}

// Remove drops key from the cache.
func (m *Memory[V]) Remove(key string) bool {
	elem, ok := m.items[key]
	if !ok {
		return false
	}
	m.removeElement(elem)
	return true
}

// Len returns the number of cached entries.
func (m *Memory[V]) Len() int {
	return len(m.items)
}

// Size returns the bytes currently accounted.
func (m *Memory[V]) Size() int64 {
	return m.size
}

// Capacity returns the configured byte capacity.
func (m *Memory[V]) Capacity() int64 {
	return m.capacity
}

// Keys returns up to limit cached keys from most to least recently used.
// A limit of zero or less returns every key.
func (m *Memory[V]) Keys(limit int) []string {
	if limit <= 0 || limit > len(m.items) {
		limit = len(m.items)
	}
	keys := make([]string, 0, limit)
	for elem := m.order.Front(); elem != nil && len(keys) < limit; elem = elem.Next() {
		keys = append(keys, elem.Value.(*Entry[V]).Key)
	}
	return keys
}

// Stats returns counters and occupancy.
func (m *Memory[V]) Stats() Stats {
	var ratio float64
	if total := m.hits + m.misses; total > 0 {
		ratio = float64(m.hits) / float64(total)
	}
	return Stats{
		Hits:             m.hits,
		Misses:           m.misses,
		Evictions:        m.evictions,
		Rejections:       m.rejections,
		EntryCount:       len(m.items),
		CurrentSize:      m.size,
		MaxSize:          m.capacity,
		LastEvictionTime: m.lastEviction,
		HitRatio:         ratio,
	}
}

func (m *Memory[V]) evictFor(size int64) {
	for m.size+size > m.capacity {
		oldest := m.order.Back()
		if oldest == nil {
			return
		}
		m.removeElement(oldest)
		m.evictions++
		m.lastEviction = time.Now()
	}
}

func (m *Memory[V]) removeElement(elem *list.Element) {
	entry := m.order.Remove(elem).(*Entry[V])
	delete(m.items, entry.Key)
	m.size -= entry.Size
}
