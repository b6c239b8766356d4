// Package cache implements the bounded page cache: a thread-safe store of
// completed decode results keyed by render key, with simultaneous count and
// byte budgets, least-recently-accessed eviction, and borrow-pinned entries
// that are never evicted while a reader holds a view.
package cache

import (
	"container/list"
	"log/slog"
	"sync"

	"github.com/lecternapp/render/internal/bufpool"
	"github.com/lecternapp/render/internal/render"
)

const (
	// DefaultMaxEntries bounds the cache by entry count.
	DefaultMaxEntries = 64
	// DefaultMaxBytes bounds the cache by pixel/text payload bytes.
	DefaultMaxBytes = 256 * 1024 * 1024
)

// PressureLevel is the host memory-pressure signal forwarded to Trim.
type PressureLevel int

const (
	// PressureModerate trims the cache to half its byte budget.
	PressureModerate PressureLevel = iota
	// PressureCritical drops everything not currently borrowed.
	PressureCritical
)

func (l PressureLevel) String() string {
	if l == PressureCritical {
		return "critical"
	}
	return "moderate"
}

// entry is one cached decode result. Owned exclusively by the cache;
// readers only ever hold borrowed views.
type entry struct {
	key      render.Key
	pix      []byte // pool-owned backing buffer, nil for text-only entries
	byteSize int64
	width    int
	height   int
	stride   int
	text     string

	borrows int  // live views; >0 pins the entry against eviction
	doomed  bool // invalidated while borrowed, removed on last release
	elem    *list.Element
}

// Config configures a cache. Zero values take defaults.
type Config struct {
	MaxEntries int
	MaxBytes   int64
	Pool       *bufpool.Pool
	Logger     *slog.Logger
}

// Cache is the bounded page store. All methods are safe for concurrent use.
type Cache struct {
	mu        sync.Mutex
	entries   map[render.Key]*entry
	lru       *list.List // front = least recently accessed
	usedBytes int64

	maxEntries int
	maxBytes   int64

	pool   *bufpool.Pool
	logger *slog.Logger

	evictions uint64
}

// New creates a cache. The pool receives evicted pixel buffers back.
func New(cfg Config) *Cache {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	pool := cfg.Pool
	if pool == nil {
		pool = bufpool.New(bufpool.Config{Logger: logger})
	}

	return &Cache{
		entries:    make(map[render.Key]*entry),
		lru:        list.New(),
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		pool:       pool,
		logger:     logger.With("component", "pagecache"),
	}
}

// Get returns a borrowed view of the entry for key, bumping its recency.
// The caller must Release the view when done compositing.
func (c *Cache) Get(key render.Key) (*View, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.doomed {
		return nil, false
	}
	c.lru.MoveToBack(e.elem)
	e.borrows++
	return &View{c: c, e: e}, true
}

// Put inserts a completed decode result and atomically hands out the
// requested number of borrowed views, so fan-out to waiting requesters
// cannot race with eviction of the fresh entry.
//
// If key is already cached (two decode completions racing, which the queue's
// dedup rule should prevent) the new buffer is returned to the pool and the
// views borrow the existing entry.
//
// Insertion may leave the cache transiently over budget when the fresh entry
// and every eviction candidate are borrowed; the excess is corrected as views
// are released. An unborrowed insert that still does not fit after evicting
// everything evictable is dropped, its buffer returned to the pool, and nil
// views returned.
func (c *Cache) Put(key render.Key, pix []byte, width, height int, text string, borrows int) []*View {
	c.mu.Lock()

	if existing, ok := c.entries[key]; ok && !existing.doomed {
		c.lru.MoveToBack(existing.elem)
		existing.borrows += borrows
		views := makeViews(c, existing, borrows)
		c.mu.Unlock()
		c.pool.Release(pix)
		return views
	}

	e := &entry{
		key:      key,
		pix:      pix,
		byteSize: int64(len(pix)) + int64(len(text)),
		width:    width,
		height:   height,
		stride:   width * render.BytesPerPixel,
		text:     text,
		borrows:  borrows,
	}
	e.elem = c.lru.PushBack(e)
	c.entries[key] = e
	c.usedBytes += e.byteSize

	// The fresh entry is never its own eviction victim while borrowed.
	c.evictLocked(c.maxBytes, c.maxEntries, e)

	// An unborrowed insert has no later release to correct an overshoot;
	// if evicting everything else was not enough, the fresh entry goes too.
	if e.borrows == 0 && (c.usedBytes > c.maxBytes || len(c.entries) > c.maxEntries) {
		c.removeLocked(e)
		c.mu.Unlock()
		return nil
	}

	views := makeViews(c, e, borrows)
	c.mu.Unlock()
	return views
}

// PutText stores extracted text without pixels (background index results).
func (c *Cache) PutText(key render.Key, text string) {
	c.Put(key, nil, 0, 0, text, 0)
}

// Text returns extracted text for a page without bumping recency or
// borrowing. Used by the text index scan.
func (c *Cache) Text(doc render.DocumentID, page int) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Any entry for the page may carry text; the dedicated text-only key
	// is checked first.
	if e, ok := c.entries[render.TextKey(doc, page)]; ok && !e.doomed && e.text != "" {
		return e.text, true
	}
	for _, e := range c.entries {
		if e.key.Doc == doc && e.key.Page == page && !e.doomed && e.text != "" {
			return e.text, true
		}
	}
	return "", false
}

// Invalidate removes all entries for a document. Entries with live views
// are doomed and reclaimed on their last release.
func (c *Cache) Invalidate(doc render.DocumentID) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if key.Doc != doc {
			continue
		}
		if e.borrows > 0 {
			e.doomed = true
			continue
		}
		c.removeLocked(e)
		removed++
	}
	if removed > 0 {
		c.logger.Debug("cache invalidated", "doc", doc, "removed", removed)
	}
	return removed
}

// Trim responds to a memory-pressure signal. Moderate evicts down to half
// the byte budget; Critical evicts everything not currently borrowed.
func (c *Cache) Trim(level PressureLevel) {
	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.usedBytes
	switch level {
	case PressureCritical:
		c.evictLocked(0, 0, nil)
	default:
		c.evictLocked(c.maxBytes/2, c.maxEntries, nil)
	}
	c.logger.Info("cache trimmed", "level", level, "bytes_before", before, "bytes_after", c.usedBytes)
}

// Resize applies new budgets, evicting immediately if the cache now
// exceeds them. Zero keeps the current value.
func (c *Cache) Resize(maxEntries int, maxBytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if maxEntries > 0 {
		c.maxEntries = maxEntries
	}
	if maxBytes > 0 {
		c.maxBytes = maxBytes
	}
	c.evictLocked(c.maxBytes, c.maxEntries, nil)
}

// evictLocked removes least-recently-accessed entries until both budgets
// hold, skipping borrowed entries and keep. Caller holds c.mu.
func (c *Cache) evictLocked(targetBytes int64, targetEntries int, keep *entry) {
	elem := c.lru.Front()
	for elem != nil && (c.usedBytes > targetBytes || len(c.entries) > targetEntries) {
		next := elem.Next()
		e := elem.Value.(*entry)
		if e.borrows == 0 && e != keep {
			c.removeLocked(e)
			c.evictions++
			c.logger.Debug("evicted page", "key", e.key.String(), "bytes", e.byteSize)
		}
		elem = next
	}
}

// removeLocked unlinks an entry and returns its buffer to the pool.
// Caller holds c.mu.
func (c *Cache) removeLocked(e *entry) {
	c.lru.Remove(e.elem)
	// A doomed entry may have been replaced under its key; only the entry
	// that still owns the map slot vacates it.
	if c.entries[e.key] == e {
		delete(c.entries, e.key)
	}
	c.usedBytes -= e.byteSize
	if e.pix != nil {
		c.pool.Release(e.pix)
		e.pix = nil
	}
}

// release drops one borrow. On the last release of a doomed entry the entry
// is reclaimed; otherwise, if the cache ran over budget while the entry was
// pinned, the overshoot is corrected now.
func (c *Cache) release(e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.borrows > 0 {
		e.borrows--
	}
	if e.borrows > 0 {
		return
	}
	if e.doomed {
		c.removeLocked(e)
		return
	}
	if c.usedBytes > c.maxBytes || len(c.entries) > c.maxEntries {
		c.evictLocked(c.maxBytes, c.maxEntries, nil)
	}
}

// Stats is a point-in-time cache summary.
type Stats struct {
	Entries   int    `json:"entries"`
	UsedBytes int64  `json:"used_bytes"`
	MaxBytes  int64  `json:"max_bytes"`
	Borrowed  int    `json:"borrowed"`
	Evictions uint64 `json:"evictions"`
}

// Stats returns a snapshot of cache occupancy.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	borrowed := 0
	for _, e := range c.entries {
		if e.borrows > 0 {
			borrowed++
		}
	}
	return Stats{
		Entries:   len(c.entries),
		UsedBytes: c.usedBytes,
		MaxBytes:  c.maxBytes,
		Borrowed:  borrowed,
		Evictions: c.evictions,
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// UsedBytes returns the current payload byte total.
func (c *Cache) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedBytes
}
