// Package cache provides a bounded LRU cache with per-entry TTL and
// best-effort persistence. It is a reusable primitive: anything that
// memoizes repeated computation locally (prompt rendering, lookups) can
// sit behind it.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrQuotaExceeded is returned by a Persister when the backing store is out
// of space. The cache responds by evicting one entry and retrying the save
// once; it never propagates the failure to the caller.
var ErrQuotaExceeded = errors.New("persistence quota exceeded")

// Persister stores and restores a serialized cache snapshot.
// A nil snapshot from Load means nothing was persisted yet.
type Persister interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// Entry wraps a cached value with its bookkeeping metadata.
type Entry[V any] struct {
	Value          V         `json:"value"`
	InsertedAt     time.Time `json:"inserted_at"`
	AccessCount    int       `json:"access_count"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

type record[V any] struct {
	key   string
	entry Entry[V]
}

// Cache is a bounded LRU cache with lazy TTL expiration.
// Recency is tracked by an explicit list: front is most recent, back is the
// strict eviction candidate. Safe for concurrent use.
type Cache[V any] struct {
	mu        sync.Mutex
	capacity  int
	ttl       time.Duration
	entries   map[string]*list.Element
	recency   *list.List
	persister Persister
	now       func() time.Time
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithPersister enables best-effort persistence. The cache hydrates from the
// persister at construction and saves after every mutation.
func WithPersister[V any](p Persister) Option[V] {
	return func(c *Cache[V]) { c.persister = p }
}

// WithClock substitutes the time source. Used in tests.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) { c.now = now }
}

// New creates a cache holding at most capacity entries, each valid for ttl
// after insertion. Hydration from a configured persister is best-effort:
// corrupt or missing snapshots leave the cache empty.
func New[V any](capacity int, ttl time.Duration, opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*list.Element),
		recency:  list.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.persister != nil {
		if err := c.hydrate(context.Background()); err != nil {
			slog.Warn("cache hydration failed, starting empty",
				"component", "cache",
				"error", err,
			)
		}
	}
	return c
}

// Get returns the value for key. Entries past their TTL are removed and
// reported as absent. A hit refreshes recency and access accounting.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.entries[key]
	if !ok {
		return zero, false
	}

	rec := elem.Value.(*record[V])
	if c.expired(rec.entry) {
		c.removeLocked(elem)
		return zero, false
	}

	rec.entry.AccessCount++
	rec.entry.LastAccessedAt = c.now()
	c.recency.MoveToFront(elem)
	return rec.entry.Value, true
}

// Set inserts or replaces a value, refreshing recency. Inserting beyond
// capacity evicts the strict least-recently-used entry.
func (c *Cache[V]) Set(ctx context.Context, key string, value V) {
	c.mu.Lock()

	now := c.now()
	if elem, ok := c.entries[key]; ok {
		rec := elem.Value.(*record[V])
		rec.entry = Entry[V]{Value: value, InsertedAt: now, AccessCount: rec.entry.AccessCount, LastAccessedAt: now}
		c.recency.MoveToFront(elem)
	} else {
		rec := &record[V]{key: key, entry: Entry[V]{Value: value, InsertedAt: now, LastAccessedAt: now}}
		c.entries[key] = c.recency.PushFront(rec)
		for len(c.entries) > c.capacity {
			c.evictLRULocked()
		}
	}

	c.mu.Unlock()
	c.persist(ctx)
}

// Has reports whether key holds a live entry. Expired entries are removed.
// Unlike Get, Has does not refresh recency.
func (c *Cache[V]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return false
	}
	if c.expired(elem.Value.(*record[V]).entry) {
		c.removeLocked(elem)
		return false
	}
	return true
}

// Delete removes key and reports whether it was present.
func (c *Cache[V]) Delete(ctx context.Context, key string) bool {
	c.mu.Lock()
	elem, ok := c.entries[key]
	if ok {
		c.removeLocked(elem)
	}
	c.mu.Unlock()

	if ok {
		c.persist(ctx)
	}
	return ok
}

// Clear removes every entry.
func (c *Cache[V]) Clear(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]*list.Element)
	c.recency.Init()
	c.mu.Unlock()
	c.persist(ctx)
}

// Prune proactively sweeps all expired entries and returns how many were
// removed.
func (c *Cache[V]) Prune(ctx context.Context) int {
	c.mu.Lock()
	removed := 0
	for elem := c.recency.Back(); elem != nil; {
		prev := elem.Prev()
		if c.expired(elem.Value.(*record[V]).entry) {
			c.removeLocked(elem)
			removed++
		}
		elem = prev
	}
	c.mu.Unlock()

	if removed > 0 {
		c.persist(ctx)
	}
	return removed
}

// Len returns the number of entries, including any not yet lazily expired.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[V]) expired(e Entry[V]) bool {
	if c.ttl <= 0 {
		return false
	}
	return c.now().Sub(e.InsertedAt) > c.ttl
}

func (c *Cache[V]) removeLocked(elem *list.Element) {
	rec := elem.Value.(*record[V])
	delete(c.entries, rec.key)
	c.recency.Remove(elem)
}

func (c *Cache[V]) evictLRULocked() {
	if elem := c.recency.Back(); elem != nil {
		c.removeLocked(elem)
	}
}

// snapshot is the persisted cache layout.
type snapshot[V any] struct {
	Entries     map[string]Entry[V] `json:"entries"`
	AccessOrder []string            `json:"access_order"` // LRU first, MRU last
	SavedAt     time.Time           `json:"saved_at"`
}

// Export serializes the cache for explicit backup. Returns an error only for
// encoding failures; this is one of the few surfaces that reports one.
func (c *Cache[V]) Export() ([]byte, error) {
	c.mu.Lock()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("export cache: %w", err)
	}
	return data, nil
}

// Import replaces the cache contents from an exported snapshot.
// Corrupt data is the one persistence failure that propagates to the caller.
func (c *Cache[V]) Import(ctx context.Context, data []byte) error {
	var snap snapshot[V]
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("import cache: %w", err)
	}

	c.mu.Lock()
	c.restoreLocked(snap)
	c.mu.Unlock()
	c.persist(ctx)
	return nil
}

func (c *Cache[V]) snapshotLocked() snapshot[V] {
	snap := snapshot[V]{
		Entries:     make(map[string]Entry[V], len(c.entries)),
		AccessOrder: make([]string, 0, len(c.entries)),
		SavedAt:     c.now(),
	}
	for elem := c.recency.Back(); elem != nil; elem = elem.Prev() {
		rec := elem.Value.(*record[V])
		snap.Entries[rec.key] = rec.entry
		snap.AccessOrder = append(snap.AccessOrder, rec.key)
	}
	return snap
}

func (c *Cache[V]) restoreLocked(snap snapshot[V]) {
	c.entries = make(map[string]*list.Element)
	c.recency.Init()
	// AccessOrder is LRU first; walk it MRU first so a snapshot larger than
	// capacity keeps the most recently used entries and discards the tail.
	for i := len(snap.AccessOrder) - 1; i >= 0; i-- {
		key := snap.AccessOrder[i]
		entry, ok := snap.Entries[key]
		if !ok {
			continue
		}
		c.entries[key] = c.recency.PushBack(&record[V]{key: key, entry: entry})
		if len(c.entries) >= c.capacity {
			break
		}
	}
}

// hydrate restores the cache from the persister on construction.
func (c *Cache[V]) hydrate(ctx context.Context) error {
	data, err := c.persister.Load(ctx)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var snap snapshot[V]
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	c.mu.Lock()
	c.restoreLocked(snap)
	c.mu.Unlock()
	return nil
}

// persist saves the cache best-effort. A quota failure triggers one LRU
// eviction and one retry before giving up silently.
func (c *Cache[V]) persist(ctx context.Context) {
	if c.persister == nil {
		return
	}

	c.mu.Lock()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		slog.Warn("cache snapshot encode failed", "component", "cache", "error", err)
		return
	}

	err = c.persister.Save(ctx, data)
	if !errors.Is(err, ErrQuotaExceeded) {
		if err != nil {
			slog.Warn("cache save failed", "component", "cache", "error", err)
		}
		return
	}

	c.mu.Lock()
	c.evictLRULocked()
	snap = c.snapshotLocked()
	c.mu.Unlock()

	data, err = json.Marshal(snap)
	if err != nil {
		return
	}
	if err := c.persister.Save(ctx, data); err != nil {
		slog.Warn("cache save failed after eviction retry", "component", "cache", "error", err)
	}
}
