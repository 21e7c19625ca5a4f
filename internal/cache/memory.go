package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultCapacity is used by NewMemory for a non-positive capacity.
const DefaultCapacity = 1024

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// Memory is a thread-safe in-process LRU cache. When it reaches capacity the
// least recently used entry is evicted. Expired entries are dropped lazily on
// access.
type Memory struct {
	capacity int
	items    map[string]*list.Element
	eviction *list.List
	mu       sync.Mutex
	now      func() time.Time
}

// Compile-time interface satisfaction check.
var _ Cache = (*Memory)(nil)

// NewMemory creates an LRU cache holding at most capacity entries.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
		now:      time.Now,
	}
}

// Get retrieves a value and marks it as recently used.
func (c *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		cacheMisses.WithLabelValues(KindMemory).Inc()
		return nil, false, nil
	}
	entry := elem.Value.(*memoryEntry)
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		c.removeElement(elem)
		cacheMisses.WithLabelValues(KindMemory).Inc()
		return nil, false, nil
	}

	c.eviction.MoveToFront(elem)
	cacheHits.WithLabelValues(KindMemory).Inc()
	return entry.value, true, nil
}

// Set adds or replaces a value. The slice is stored as given; callers must
// not modify it afterwards.
func (c *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	if elem, ok := c.items[key]; ok {
		c.eviction.MoveToFront(elem)
		entry := elem.Value.(*memoryEntry)
		entry.value = val
		entry.expiresAt = expiresAt
		return nil
	}

	elem := c.eviction.PushFront(&memoryEntry{key: key, value: val, expiresAt: expiresAt})
	c.items[key] = elem

	if c.eviction.Len() > c.capacity {
		c.removeElement(c.eviction.Back())
	}
	return nil
}

// Len returns the number of stored entries, including expired ones not yet
// dropped.
func (c *Memory) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eviction.Len()
}

// Must be called with lock held.
func (c *Memory) removeElement(elem *list.Element) {
	c.eviction.Remove(elem)
	delete(c.items, elem.Value.(*memoryEntry).key)
}
