package cache

import (
	"sync"
	"time"
)

// Item represents a cached item with expiration
type Item struct {
	Value      interface{}
	Expiration int64
}

// Expired checks if the cache item has expired
func (item Item) Expired() bool {
	if item.Expiration == 0 {
		return false
	}
	return time.Now().UnixNano() > item.Expiration
}

// Options configures a Cache
type Options struct {
	// DefaultExpiration applies to Set; zero means items never expire
	DefaultExpiration time.Duration
	// CleanupInterval is how often expired items are swept; zero disables the sweeper
	CleanupInterval time.Duration
	// MaxItems bounds the cache; zero means unbounded
	MaxItems int
}

// Cache is a thread-safe in-memory cache with expiration.
// Get and Touch slide the expiration of live items, so idle entries age out.
type Cache struct {
	items             map[string]Item
	mu                sync.RWMutex
	defaultExpiration time.Duration
	cleanupInterval   time.Duration
	maxItems          int
	onEvicted         func(string, interface{})
	stop              chan struct{}
	stopOnce          sync.Once
}

// NewCache creates a new cache with the given options
func NewCache(opts Options) *Cache {
	cache := &Cache{
		items:             make(map[string]Item),
		defaultExpiration: opts.DefaultExpiration,
		cleanupInterval:   opts.CleanupInterval,
		maxItems:          opts.MaxItems,
		stop:              make(chan struct{}),
	}

	if cache.cleanupInterval > 0 {
		go cache.startCleanupTimer()
	}

	return cache
}

// Set adds an item to the cache with the default expiration
func (c *Cache) Set(key string, value interface{}) {
	c.SetWithExpiration(key, value, c.defaultExpiration)
}

// SetWithExpiration adds an item to the cache with a specific expiration time
func (c *Cache) SetWithExpiration(key string, value interface{}, d time.Duration) {
	var exp int64
	if d > 0 {
		exp = time.Now().Add(d).UnixNano()
	}

	var evictedKey string
	var evictedValue interface{}

	c.mu.Lock()
	if _, exists := c.items[key]; !exists && c.maxItems > 0 && len(c.items) >= c.maxItems {
		evictedKey, evictedValue = c.evictOldest()
	}
	c.items[key] = Item{
		Value:      value,
		Expiration: exp,
	}
	onEvicted := c.onEvicted
	c.mu.Unlock()

	if evictedKey != "" && onEvicted != nil {
		onEvicted(evictedKey, evictedValue)
	}
}

// Get retrieves an item from the cache and slides its expiration
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, found := c.items[key]
	if !found || item.Expired() {
		return nil, false
	}

	if item.Expiration > 0 && c.defaultExpiration > 0 {
		item.Expiration = time.Now().Add(c.defaultExpiration).UnixNano()
		c.items[key] = item
	}

	return item.Value, true
}

// Delete removes an item from the cache
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	item, found := c.items[key]
	delete(c.items, key)
	onEvicted := c.onEvicted
	c.mu.Unlock()

	if found && onEvicted != nil {
		onEvicted(key, item.Value)
	}
}

// Flush removes all items from the cache
func (c *Cache) Flush() {
	c.mu.Lock()
	items := c.items
	c.items = make(map[string]Item)
	onEvicted := c.onEvicted
	c.mu.Unlock()

	if onEvicted != nil {
		for k, v := range items {
			onEvicted(k, v.Value)
		}
	}
}

// Count returns the number of items in the cache (including expired items)
func (c *Cache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

// SetOnEvicted sets the callback to be called when an item is evicted.
// The callback runs outside the cache lock.
func (c *Cache) SetOnEvicted(f func(string, interface{})) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onEvicted = f
}

// Close stops the cleanup goroutine
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// startCleanupTimer starts the cleanup ticker
func (c *Cache) startCleanupTimer() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.DeleteExpired()
		case <-c.stop:
			return
		}
	}
}

// DeleteExpired deletes all expired items from the cache
func (c *Cache) DeleteExpired() {
	expired := make(map[string]interface{})

	c.mu.Lock()
	now := time.Now().UnixNano()
	for k, v := range c.items {
		if v.Expiration > 0 && now > v.Expiration {
			expired[k] = v.Value
			delete(c.items, k)
		}
	}
	onEvicted := c.onEvicted
	c.mu.Unlock()

	if onEvicted != nil {
		for k, v := range expired {
			onEvicted(k, v)
		}
	}
}

// evictOldest removes the item closest to expiry. Caller holds the lock.
func (c *Cache) evictOldest() (string, interface{}) {
	var oldestKey string
	var oldestTime int64

	firstRun := true
	for k, v := range c.items {
		if firstRun || (v.Expiration != 0 && (oldestTime == 0 || v.Expiration < oldestTime)) {
			oldestKey = k
			oldestTime = v.Expiration
			firstRun = false
		}
	}

	if oldestKey == "" {
		return "", nil
	}

	value := c.items[oldestKey].Value
	delete(c.items, oldestKey)
	return oldestKey, value
}
