package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetGetDelete(t *testing.T) {
	c := NewCache(Options{DefaultExpiration: time.Minute})
	defer c.Close()

	c.Set("a", 1)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestExpiredItemsAreEvicted(t *testing.T) {
	c := NewCache(Options{})
	defer c.Close()

	var mu sync.Mutex
	var evicted []string
	c.SetOnEvicted(func(key string, _ interface{}) {
		mu.Lock()
		evicted = append(evicted, key)
		mu.Unlock()
	})

	c.SetWithExpiration("short", "x", 10*time.Millisecond)
	c.SetWithExpiration("long", "y", time.Hour)
	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get("short")
	assert.False(t, ok)

	c.DeleteExpired()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"short"}, evicted)
	assert.Equal(t, 1, c.Count())
}

func TestMaxItemsEvictsAndNotifies(t *testing.T) {
	c := NewCache(Options{DefaultExpiration: time.Hour, MaxItems: 2})
	defer c.Close()

	var evicted []string
	c.SetOnEvicted(func(key string, _ interface{}) { evicted = append(evicted, key) })

	c.SetWithExpiration("first", 1, time.Minute)
	c.SetWithExpiration("second", 2, time.Hour)
	c.Set("third", 3)

	assert.Equal(t, 2, c.Count())
	assert.Equal(t, []string{"first"}, evicted)
}

func TestFlushNotifiesEveryItem(t *testing.T) {
	c := NewCache(Options{})
	defer c.Close()

	count := 0
	c.SetOnEvicted(func(string, interface{}) { count++ })
	c.Set("a", 1)
	c.Set("b", 2)
	c.Flush()

	assert.Equal(t, 2, count)
	assert.Equal(t, 0, c.Count())
}
