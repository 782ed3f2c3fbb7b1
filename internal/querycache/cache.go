// Package querycache implements the Query Cache (C9): an LRU + TTL +
// mtime-invalidated map from normalized SQL to a prior QueryResult.
// Grounded on the teacher's cache.go (sha256 key hashing, LRU-by-access
// eviction, CacheStats with hit_rate) but rebuilt over an intrusive
// container/list so get+LRU-touch and put+eviction are each one
// critical section, per spec.md §5's atomicity requirement.
package querycache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sync"
	"time"

	"github.com/querymesh/router/internal/queryresult"
	"github.com/querymesh/router/internal/sqlfacade"
)

// Publisher receives cache lifecycle notifications for the event feed
// (C13). It is optional: a nil Publisher means events are simply not
// published. Kept as an interface so this package carries no websocket
// dependency.
type Publisher interface {
	PublishCacheHit(table string)
	PublishCacheEvicted(table string)
}

type entry struct {
	key           string
	result        *queryresult.QueryResult
	createdAt     time.Time
	expiresAt     time.Time
	lastAccessed  time.Time
	hitCount      int64
	sourceFiles   []string
	sourceMtimes  map[string]time.Time
}

// Stats mirrors the spec's cache_stats() surface.
type Stats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	Evictions    int64   `json:"evictions"`
	Expirations  int64   `json:"expirations"`
	Invalidations int64  `json:"invalidations"`
	Size         int     `json:"size"`
	MaxSize      int     `json:"max_size"`
	HitRate      float64 `json:"hit_rate"`
}

// Cache is the LRU+TTL+mtime cache. Capacity, TTL, and TrackMtimes are
// fixed at construction.
type Cache struct {
	mu          sync.Mutex
	capacity    int
	ttl         time.Duration
	trackMtimes bool
	publisher   Publisher

	ll      *list.List // front = MRU, back = LRU
	entries map[string]*list.Element

	hits, misses, evictions, expirations, invalidations int64
}

// New creates a Cache. capacity <= 0 disables storage (every put is a
// no-op, every get misses) — callers typically guard on
// config.CacheConfig.Enabled instead of relying on this.
func New(capacity int, ttl time.Duration, trackMtimes bool) *Cache {
	return &Cache{
		capacity:    capacity,
		ttl:         ttl,
		trackMtimes: trackMtimes,
		ll:          list.New(),
		entries:     make(map[string]*list.Element),
	}
}

// SetPublisher wires an event feed publisher. Not required for correct
// cache operation.
func (c *Cache) SetPublisher(p Publisher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publisher = p
}

// Key returns the 16-hex-character cache key for a raw SQL string: the
// lowercase, whitespace-collapsed text's SHA-256, truncated.
func Key(sql string) string {
	sum := sha256.Sum256([]byte(sqlfacade.Normalize(sql)))
	return hex.EncodeToString(sum[:])[:16]
}

// Get looks up sql's cache key. A present-but-expired or
// present-but-mtime-stale entry is dropped and counted as a miss (TTL
// expiry and invalidation respectively), never surfaced as an error.
func (c *Cache) Get(sql string) (*queryresult.QueryResult, bool) {
	key := Key(sql)
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	e := el.Value.(*entry)

	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.removeElement(el)
		c.expirations++
		c.misses++
		return nil, false
	}

	if c.trackMtimes && c.isStale(e) {
		c.removeElement(el)
		c.invalidations++
		c.misses++
		return nil, false
	}

	e.lastAccessed = time.Now()
	e.hitCount++
	c.ll.MoveToFront(el)
	c.hits++

	result := e.result.Clone()
	result.FromCache = true
	if c.publisher != nil {
		c.publisher.PublishCacheHit(result.Table)
	}
	return result, true
}

func (c *Cache) isStale(e *entry) bool {
	for _, path := range e.sourceFiles {
		fi, err := os.Stat(path)
		if err != nil {
			return true // file no longer exists
		}
		if fi.ModTime().After(e.sourceMtimes[path]) {
			return true
		}
	}
	return false
}

// Put inserts result under sql's key, snapshotting each source file's
// current mtime. Evicts the LRU entry if at capacity and the key is new.
func (c *Cache) Put(sql string, result *queryresult.QueryResult, sourceFiles []string) {
	if c.capacity <= 0 {
		return
	}
	key := Key(sql)
	mtimes := make(map[string]time.Time, len(sourceFiles))
	for _, p := range sourceFiles {
		if fi, err := os.Stat(p); err == nil {
			mtimes[p] = fi.ModTime()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.ll.Remove(el)
		delete(c.entries, key)
	} else if len(c.entries) >= c.capacity {
		c.evictLRULocked()
	}

	now := time.Now()
	e := &entry{
		key:          key,
		result:       result.Clone(),
		createdAt:    now,
		lastAccessed: now,
		sourceFiles:  sourceFiles,
		sourceMtimes: mtimes,
	}
	if c.ttl > 0 {
		e.expiresAt = now.Add(c.ttl)
	}
	el := c.ll.PushFront(e)
	c.entries[key] = el
}

func (c *Cache) evictLRULocked() {
	back := c.ll.Back()
	if back == nil {
		return
	}
	evicted := back.Value.(*entry)
	table := evicted.result.Table
	c.removeElement(back)
	c.evictions++
	if c.publisher != nil {
		c.publisher.PublishCacheEvicted(table)
	}
}

func (c *Cache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	c.ll.Remove(el)
	delete(c.entries, e.key)
}

// Invalidate drops sql's entry if present.
func (c *Cache) Invalidate(sql string) {
	key := Key(sql)
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.removeElement(el)
		c.invalidations++
	}
}

// Clear empties the cache and resets all counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll = list.New()
	c.entries = make(map[string]*list.Element)
	c.hits, c.misses, c.evictions, c.expirations, c.invalidations = 0, 0, 0, 0, 0
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return Stats{
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
		Expirations:   c.expirations,
		Invalidations: c.invalidations,
		Size:          len(c.entries),
		MaxSize:       c.capacity,
		HitRate:       hitRate,
	}
}
