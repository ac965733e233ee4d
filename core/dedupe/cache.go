// Package dedupe remembers recently seen keys for a bounded time.
package dedupe

import (
	"container/list"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long a key is remembered.
	DefaultTTL = 10 * time.Minute
	// DefaultMaxSize bounds the number of remembered keys.
	DefaultMaxSize = 10000
)

type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Cache is a size-limited TTL set. Oldest keys are evicted first when it is full.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// Options configures New. Zero values select defaults.
type Options struct {
	TTL             time.Duration
	MaxSize         int
	CleanupInterval time.Duration
	Now             func() time.Time
}

// New starts a cache with a background cleanup loop; call Close to stop it.
func New(opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	c := &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     opts.TTL,
		maxSize: opts.MaxSize,
		now:     opts.Now,
		done:    make(chan struct{}),
	}
	go c.cleanupLoop(opts.CleanupInterval)
	return c
}

// Seen reports whether key was marked within the TTL.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.seen[key]
	return ok && c.now().Sub(e.seenAt) < c.ttl
}

// CheckAndMark returns true when key is a duplicate. Otherwise it marks key and returns false.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if e, ok := c.seen[key]; ok && now.Sub(e.seenAt) < c.ttl {
		return true
	}
	c.markLocked(key, now)
	return false
}

// Len returns the number of remembered keys, expired ones included until cleanup.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) markLocked(key string, now time.Time) {
	if e, ok := c.seen[key]; ok {
		e.seenAt = now
		c.order.MoveToBack(e.element)
		return
	}
	if len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			c.order.Remove(front)
			delete(c.seen, front.Value.(string))
		}
	}
	c.seen[key] = &entry{seenAt: now, element: c.order.PushBack(key)}
}

func (c *Cache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.purge()
		case <-c.done:
			return
		}
	}
}

// purge drops expired keys. Keys are ordered by mark time, so it stops at the first live one.
func (c *Cache) purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key := front.Value.(string)
		if now.Sub(c.seen[key].seenAt) < c.ttl {
			break
		}
		c.order.Remove(front)
		delete(c.seen, key)
		n++
	}
	return n
}

// Close stops the cleanup loop. Safe to call more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
