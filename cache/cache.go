// Package cache provides the Module Host Contract's temp_storage /
// cache_get / cache_put primitive: an LRU in-memory cache with optional
// spill-to-disk for entries evicted under capacity pressure. Adapted from
// engine/resources/manager.go.
package cache

import (
	"container/list"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Config controls cache capacity and optional on-disk spillover.
type Config struct {
	Capacity       int
	SpillDirectory string
	TTL            time.Duration
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// Stats reports cache occupancy for telemetry/diagnostics.
type Stats struct {
	Entries    int
	SpillFiles int
}

// Cache is an LRU byte-value store keyed by string, used by module hosts
// for cross-call memoisation (e.g. "have I already resolved this hostname").
type Cache struct {
	cfg   Config
	mu    sync.Mutex
	lru   *list.List
	index map[string]*list.Element
	spill map[string]string
}

// New constructs a Cache, creating the spill directory if configured.
func New(cfg Config) (*Cache, error) {
	c := &Cache{
		cfg:   cfg,
		lru:   list.New(),
		index: make(map[string]*list.Element),
		spill: make(map[string]string),
	}
	if cfg.SpillDirectory != "" {
		if err := os.MkdirAll(cfg.SpillDirectory, 0o755); err != nil {
			return nil, fmt.Errorf("cache: create spill directory: %w", err)
		}
	}
	return c, nil
}

// Put stores value under key, evicting the least-recently-used entry to
// spill (if configured) once capacity is exceeded.
func (c *Cache) Put(key string, value []byte) error {
	if key == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.cfg.TTL > 0 {
		expiresAt = time.Now().Add(c.cfg.TTL)
	}
	cp := append([]byte(nil), value...)

	if el, ok := c.index[key]; ok {
		e := el.Value.(*entry)
		e.value = cp
		e.expiresAt = expiresAt
		c.lru.MoveToFront(el)
		return nil
	}

	el := c.lru.PushFront(&entry{key: key, value: cp, expiresAt: expiresAt})
	c.index[key] = el
	if c.cfg.Capacity > 0 {
		for len(c.index) > c.cfg.Capacity {
			if err := c.evictOldestLocked(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Get retrieves key's value, transparently rehydrating from disk spill if
// necessary. The second return is false on miss or expiry.
func (c *Cache) Get(key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, nil
	}
	c.mu.Lock()
	if el, ok := c.index[key]; ok {
		e := el.Value.(*entry)
		if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
			c.removeLocked(el)
			c.mu.Unlock()
			return nil, false, nil
		}
		c.lru.MoveToFront(el)
		out := append([]byte(nil), e.value...)
		c.mu.Unlock()
		return out, true, nil
	}
	path, spilled := c.spill[key]
	c.mu.Unlock()
	if !spilled {
		return nil, false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("cache: read spill file: %w", err)
	}
	var raw []byte
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false, fmt.Errorf("cache: decode spill file: %w", err)
	}
	if err := c.Put(key, raw); err != nil {
		return nil, false, err
	}
	c.mu.Lock()
	delete(c.spill, key)
	c.mu.Unlock()
	return raw, true, nil
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	delete(c.index, e.key)
	c.lru.Remove(el)
}

func (c *Cache) evictOldestLocked() error {
	back := c.lru.Back()
	if back == nil {
		return nil
	}
	e := back.Value.(*entry)
	delete(c.index, e.key)
	c.lru.Remove(back)

	if c.cfg.SpillDirectory == "" {
		return nil
	}
	data, err := json.Marshal(e.value)
	if err != nil {
		return nil
	}
	filename := fmt.Sprintf("spill-%d-%s.json", time.Now().UnixNano(), hashKey(e.key))
	path := filepath.Join(c.cfg.SpillDirectory, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("cache: write spill file: %w", err)
	}
	c.spill[e.key] = path
	return nil
}

// Delete removes key from the cache (and spill, if present).
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		c.removeLocked(el)
	}
	if path, ok := c.spill[key]; ok {
		_ = os.Remove(path)
		delete(c.spill, key)
	}
}

// Stats returns current occupancy counts.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Entries: len(c.index), SpillFiles: len(c.spill)}
}

func hashKey(key string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return fmt.Sprintf("%x", h.Sum64())
}
