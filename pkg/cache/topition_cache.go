package cache

import (
	"container/list"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// TopitionCache is an LRU cache from (topic, partition) to the internal
// topition id. Topition rows are immutable once created, so entries never go
// stale; the only invalidation is topic deletion. Cache misses for the same
// key are collapsed into a single resolution.
type TopitionCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element

	flight singleflight.Group
}

type cacheEntry struct {
	key   string
	topic string
	id    int64
}

// NewTopitionCache creates a cache holding up to capacity entries.
func NewTopitionCache(capacity int) *TopitionCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &TopitionCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

func makeKey(topic string, partition int32) string {
	return fmt.Sprintf("%s:%d", topic, partition)
}

// Get returns the cached id if present.
func (c *TopitionCache) Get(topic string, partition int32) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[makeKey(topic, partition)]; ok {
		c.ll.MoveToFront(elem)
		return elem.Value.(*cacheEntry).id, true
	}
	return 0, false
}

// Set adds or refreshes an entry.
func (c *TopitionCache) Set(topic string, partition int32, id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := makeKey(topic, partition)
	if elem, ok := c.items[key]; ok {
		elem.Value.(*cacheEntry).id = id
		c.ll.MoveToFront(elem)
		return
	}
	elem := c.ll.PushFront(&cacheEntry{key: key, topic: topic, id: id})
	c.items[key] = elem
	c.evictIfNeeded()
}

// GetOrResolve returns the cached id or runs resolve to obtain it. Concurrent
// callers for the same key share one resolve call. Failed resolutions are not
// cached.
func (c *TopitionCache) GetOrResolve(topic string, partition int32, resolve func() (int64, error)) (int64, error) {
	if id, ok := c.Get(topic, partition); ok {
		return id, nil
	}
	key := makeKey(topic, partition)
	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		if id, ok := c.Get(topic, partition); ok {
			return id, nil
		}
		id, err := resolve()
		if err != nil {
			return int64(0), err
		}
		c.Set(topic, partition, id)
		return id, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// DeleteTopic drops every partition of the topic.
func (c *TopitionCache) DeleteTopic(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for elem := c.ll.Front(); elem != nil; {
		next := elem.Next()
		entry := elem.Value.(*cacheEntry)
		if entry.topic == topic {
			delete(c.items, entry.key)
			c.ll.Remove(elem)
		}
		elem = next
	}
}

// Len returns the number of cached entries.
func (c *TopitionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *TopitionCache) evictIfNeeded() {
	for c.ll.Len() > c.capacity {
		elem := c.ll.Back()
		entry := elem.Value.(*cacheEntry)
		delete(c.items, entry.key)
		c.ll.Remove(elem)
	}
}
