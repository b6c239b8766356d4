package decode

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/lecternapp/render/internal/bufpool"
	"github.com/lecternapp/render/internal/cache"
	"github.com/lecternapp/render/internal/codec"
	"github.com/lecternapp/render/internal/render"
	"github.com/lecternapp/render/internal/textindex"
)

// Config configures a coordinator. Zero values take defaults.
type Config struct {
	Workers         int
	MaxCacheEntries int
	MaxCacheBytes   int64
	DecodeTimeout   time.Duration
	Logger          *slog.Logger
}

// inflight tracks the single task per key plus every future waiting on it.
type inflight struct {
	task    *Task
	futures []*Future
}

// Coordinator is the public façade of the render core. It owns the cache,
// the buffer pool, the queue and the workers; the viewer session owns the
// coordinator and drives its lifecycle with Start and Shutdown.
type Coordinator struct {
	registry *codec.Registry
	pool     *bufpool.Pool
	cache    *cache.Cache
	queue    *Queue
	workers  *workerPool
	text     *textindex.Index
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[render.Key]*inflight
	started  bool
	stopped  bool
	cancel   context.CancelFunc
}

// New creates a coordinator bound to a codec registry.
func New(cfg Config, registry *codec.Registry) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pool := bufpool.New(bufpool.Config{Logger: logger})
	pageCache := cache.New(cache.Config{
		MaxEntries: cfg.MaxCacheEntries,
		MaxBytes:   cfg.MaxCacheBytes,
		Pool:       pool,
		Logger:     logger,
	})

	c := &Coordinator{
		registry: registry,
		pool:     pool,
		cache:    pageCache,
		queue:    NewQueue(),
		logger:   logger.With("component", "coordinator"),
		inflight: make(map[render.Key]*inflight),
	}
	c.workers = newWorkerPool(workerPoolConfig{
		Queue:    c.queue,
		Registry: registry,
		Pool:     pool,
		Timeout:  cfg.DecodeTimeout,
		Workers:  cfg.Workers,
		Logger:   logger,
		OnDone:   c.onTaskDone,
	})
	c.text = textindex.New(textindex.Config{
		Cache:  pageCache,
		Pages:  registry,
		Sched:  c,
		Logger: logger,
	})
	return c
}

// Start launches the decode workers. The context bounds the whole session;
// cancelling it is equivalent to Shutdown.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("coordinator already started")
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)
	c.workers.Start(ctx)
	return nil
}

// Shutdown stops accepting work, stops the workers and fails every pending
// future as cancelled. Idempotent.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	cancel := c.cancel
	c.mu.Unlock()

	c.queue.Close()
	if cancel != nil {
		cancel()
	}
	c.workers.Wait()

	c.mu.Lock()
	pending := c.inflight
	c.inflight = make(map[render.Key]*inflight)
	c.mu.Unlock()

	for key, inf := range pending {
		err := render.NewDecodeError(render.ErrCancelled, key, fmt.Errorf("coordinator shut down"))
		for _, f := range inf.futures {
			f.complete(nil, err)
		}
	}
	c.logger.Info("coordinator stopped", "aborted_requests", len(pending))
}

// RequestPage resolves a page render: immediately from cache on a hit, or
// through a decode task on a miss. Concurrent requests for an equal key
// share one task; every future resolves with its own borrowed view of the
// same cached result.
func (c *Coordinator) RequestPage(doc render.DocumentID, page, width, height int, crop render.CropRect, mode render.PageMode, priority render.Priority) *Future {
	key := render.Key{Doc: doc, Page: page, Width: width, Height: height, Crop: crop, Mode: mode}
	return c.request(key, priority)
}

func (c *Coordinator) request(key render.Key, priority render.Priority) *Future {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return resolved(nil, render.NewDecodeError(render.ErrCancelled, key, fmt.Errorf("coordinator shut down")))
	}

	// Completed results and inflight tasks are both checked under the
	// coordinator lock so a completing task cannot slip between them.
	if inf, ok := c.inflight[key]; ok {
		f := newFuture()
		inf.futures = append(inf.futures, f)
		c.queue.Promote(key, priority)
		return f
	}
	if view, ok := c.cache.Get(key); ok {
		return resolved(view, nil)
	}

	task := NewTask(key, priority)
	f := newFuture()
	c.inflight[key] = &inflight{task: task, futures: []*Future{f}}
	if canonical := c.queue.Enqueue(task); canonical == nil {
		delete(c.inflight, key)
		return resolved(nil, render.NewDecodeError(render.ErrCancelled, key, fmt.Errorf("queue closed")))
	}
	return f
}

// Prefetch enqueues adjacent pages at prefetch priority. Fire and forget:
// no future, failures are dropped.
func (c *Coordinator) Prefetch(doc render.DocumentID, pages []int, width, height int) {
	for _, page := range pages {
		key := render.Key{Doc: doc, Page: page, Width: width, Height: height}
		c.enqueueBackground(key, render.PriorityPrefetch)
	}
}

// PrefetchAround warms radius pages on each side of the current page.
func (c *Coordinator) PrefetchAround(doc render.DocumentID, page, radius, width, height int) {
	count, ok := c.registry.PageCount(doc)
	if !ok {
		return
	}
	var pages []int
	for d := 1; d <= radius; d++ {
		if p := page + d; p < count {
			pages = append(pages, p)
		}
		if p := page - d; p >= 0 {
			pages = append(pages, p)
		}
	}
	c.Prefetch(doc, pages, width, height)
}

// ScheduleTextExtract enqueues text-only extraction at index priority.
// Implements textindex.Scheduler.
func (c *Coordinator) ScheduleTextExtract(doc render.DocumentID, pages []int) {
	for _, page := range pages {
		c.enqueueBackground(render.TextKey(doc, page), render.PriorityIndex)
	}
}

// enqueueBackground files a task with no future attached.
func (c *Coordinator) enqueueBackground(key render.Key, priority render.Priority) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	if _, ok := c.inflight[key]; ok {
		c.queue.Promote(key, priority)
		return
	}
	if v, ok := c.cache.Get(key); ok {
		v.Release()
		return
	}
	task := NewTask(key, priority)
	c.inflight[key] = &inflight{task: task}
	if c.queue.Enqueue(task) == nil {
		delete(c.inflight, key)
	}
}

// CancelDocument cancels all tasks for a closed document, fails their
// futures, invalidates its cache entries and closes its codec handle.
func (c *Coordinator) CancelDocument(doc render.DocumentID) {
	cancelled := c.queue.CancelWhere(func(t *Task) bool {
		return t.Key.Doc == doc
	})

	// Queued tasks never reach a worker once cancelled; resolve their
	// futures here. Running tasks resolve through the normal completion
	// path when they observe the flag.
	c.mu.Lock()
	var futures []*Future
	for _, t := range cancelled {
		if inf, ok := c.inflight[t.Key]; ok {
			futures = append(futures, inf.futures...)
			delete(c.inflight, t.Key)
		}
	}
	c.mu.Unlock()

	err := render.NewDecodeError(render.ErrCancelled, render.Key{Doc: doc}, fmt.Errorf("document cancelled"))
	for _, f := range futures {
		f.complete(nil, err)
	}

	removed := c.cache.Invalidate(doc)
	c.registry.Close(doc)
	c.logger.Info("document cancelled", "doc", doc, "queued_cancelled", len(cancelled), "cache_removed", removed)
}

// Search yields in-document matches over currently extracted text; see
// textindex.Index.Search.
func (c *Coordinator) Search(doc render.DocumentID, term string) iter.Seq[textindex.Match] {
	return c.text.Search(doc, term)
}

// OnMemoryPressure forwards a host memory-pressure signal to the cache.
func (c *Coordinator) OnMemoryPressure(level cache.PressureLevel) {
	c.cache.Trim(level)
}

// onTaskDone is the workers' completion callback.
func (c *Coordinator) onTaskDone(t *Task, out outcome) {
	c.mu.Lock()

	inf := c.inflight[t.Key]
	var futures []*Future
	if inf != nil && inf.task == t {
		futures = inf.futures
		delete(c.inflight, t.Key)
	}

	if out.err != nil {
		c.mu.Unlock()
		for _, f := range futures {
			f.complete(nil, out.err)
		}
		return
	}

	// Insert and borrow for every waiter atomically so the fresh entry
	// cannot be evicted before fan-out. Text-only results carry no pixels.
	var views []*cache.View
	if t.Key.TextOnly() {
		c.cache.PutText(t.Key, out.text)
		views = make([]*cache.View, 0, len(futures))
		for range futures {
			if v, ok := c.cache.Get(t.Key); ok {
				views = append(views, v)
			}
		}
	} else {
		views = c.cache.Put(t.Key, out.pix, out.width, out.height, out.text, len(futures))
	}
	c.mu.Unlock()

	// A document cancel may have raced the insertion: the flag is set
	// before the cache is invalidated, so seeing it clear here means any
	// concurrent invalidation runs after our Put and will sweep it.
	if t.Cancelled() {
		for _, v := range views {
			v.Release()
		}
		c.cache.Invalidate(t.Key.Doc)
		err := render.NewDecodeError(render.ErrCancelled, t.Key, nil)
		for _, f := range futures {
			f.complete(nil, err)
		}
		return
	}

	for i, f := range futures {
		if i < len(views) {
			f.complete(views[i], nil)
		} else {
			f.complete(nil, render.NewDecodeError(render.ErrCancelled, t.Key, fmt.Errorf("result discarded")))
		}
	}
}

// Stats aggregates component statistics for diagnostics and the bench
// harness.
type Stats struct {
	Cache   cache.Stats   `json:"cache"`
	Pool    bufpool.Stats `json:"pool"`
	Queued  int           `json:"queued"`
	Running int           `json:"running"`
}

// Stats returns a point-in-time snapshot.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Cache:   c.cache.Stats(),
		Pool:    c.pool.Stats(),
		Queued:  c.queue.Len(),
		Running: c.queue.RunningCount(),
	}
}

// Cache exposes the page cache for host integration (memory pressure,
// budget resize on config reload).
func (c *Coordinator) Cache() *cache.Cache {
	return c.cache
}
