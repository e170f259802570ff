// Package toolcache suppresses repeated identical tool calls within a
// conversation. A Cache is owned by one session; nothing here is global.
package toolcache

import (
	"bytes"
	"container/list"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"monetrix/internal/domain"
)

const (
	// DefaultMaxSize is the entry bound used when Config.MaxSize is not positive.
	DefaultMaxSize = 1000

	// evictFraction of MaxSize is dropped, oldest first, when the cache is full.
	evictFraction = 0.2
)

// Config tunes a Cache.
type Config struct {
	MaxSize int
	// TTL expires entries after a duration. Zero keeps entries until evicted.
	TTL time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

type entry struct {
	key       string
	expiresAt time.Time
}

// Cache is an insertion-ordered set of seen (tool, params) keys.
// All methods are safe for concurrent use; check-and-insert is atomic.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	now     func() time.Time
	order   *list.List
	index   map[string]*list.Element
	logger  *slog.Logger

	hits      uint64
	misses    uint64
	evictions uint64
}

// New creates an empty cache.
func New(cfg Config, logger *slog.Logger) *Cache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		maxSize: cfg.MaxSize,
		ttl:     cfg.TTL,
		now:     cfg.Now,
		order:   list.New(),
		index:   make(map[string]*list.Element),
		logger:  logger,
	}
}

// Key returns the canonical key for a call. Params are re-encoded through a
// generic value so object keys come out sorted regardless of how the caller
// built them.
func Key(tool domain.ToolName, params any) (string, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return "", domain.WrapOp("toolcache.Key", fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", domain.WrapOp("toolcache.Key", fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", domain.WrapOp("toolcache.Key", err)
	}
	return string(tool) + "|" + string(canonical), nil
}

// ShouldExecute records the call and returns true the first time it is seen,
// false while it remains cached. Params that cannot be keyed always execute.
func (c *Cache) ShouldExecute(tool domain.ToolName, params any) bool {
	key, err := Key(tool, params)
	if err != nil {
		c.logger.Warn("tool cache key failed, executing without dedup", "tool", tool, "error", err)
		return true
	}
	return c.ShouldExecuteKey(key)
}

// ShouldExecuteKey is ShouldExecute for a precomputed Key.
func (c *Cache) ShouldExecuteKey(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.purgeExpiredLocked(now)

	if _, ok := c.index[key]; ok {
		c.hits++
		return false
	}
	c.misses++

	if c.order.Len() >= c.maxSize {
		c.evictOldestLocked()
	}

	e := &entry{key: key}
	if c.ttl > 0 {
		e.expiresAt = now.Add(c.ttl)
	}
	c.index[key] = c.order.PushBack(e)
	return true
}

// IsCached reports whether the call is currently recorded. It does not
// record anything.
func (c *Cache) IsCached(tool domain.ToolName, params any) bool {
	key, err := Key(tool, params)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		return false
	}
	return !c.expiredLocked(el.Value.(*entry), c.now())
}

// Remove forgets a call. It reports whether the call was present.
func (c *Cache) Remove(tool domain.ToolName, params any) bool {
	key, err := Key(tool, params)
	if err != nil {
		return false
	}
	return c.RemoveKey(key)
}

// RemoveKey is Remove for a precomputed Key.
func (c *Cache) RemoveKey(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		return false
	}
	c.order.Remove(el)
	delete(c.index, key)
	return true
}

// Clear drops every entry. Counters are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.index = make(map[string]*list.Element)
}

// Size returns the number of recorded calls, including any expired entries
// not yet purged.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() domain.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.CacheStats{
		Size:      c.order.Len(),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// evictOldestLocked drops floor(maxSize*evictFraction) entries, at least one.
func (c *Cache) evictOldestLocked() {
	n := int(float64(c.maxSize) * evictFraction)
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		front := c.order.Front()
		if front == nil {
			break
		}
		c.order.Remove(front)
		delete(c.index, front.Value.(*entry).key)
		c.evictions++
	}
	c.logger.Debug("tool cache evicted oldest entries", "count", n, "max_size", c.maxSize)
}

// purgeExpiredLocked removes expired entries from the front. With a single TTL
// insertion order is expiry order, so the scan stops at the first live entry.
func (c *Cache) purgeExpiredLocked(now time.Time) {
	if c.ttl <= 0 {
		return
	}
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		e := front.Value.(*entry)
		if !c.expiredLocked(e, now) {
			return
		}
		c.order.Remove(front)
		delete(c.index, e.key)
	}
}

func (c *Cache) expiredLocked(e *entry, now time.Time) bool {
	return c.ttl > 0 && !now.Before(e.expiresAt)
}
