// Package bufpool provides a bounded pixel-buffer pool keyed by power-of-two
// size classes. Decodes and cache entries check buffers out; releasing
// returns them to their class unless the class is already full, in which
// case the buffer is dropped for the GC.
//
// sync.Pool is deliberately not used here: it cannot cap the number of
// retained buffers per class and may drop them at any GC cycle, which makes
// the pool's reuse behavior untestable.
package bufpool

import (
	"fmt"
	"log/slog"
	"math/bits"
	"sync"

	"github.com/lecternapp/render/internal/render"
)

const (
	// minClassBytes is the smallest size class. Anything below still
	// occupies a full minimum-class buffer.
	minClassBytes = 16 * 1024

	// DefaultMaxPerClass caps retained free buffers per size class.
	DefaultMaxPerClass = 8

	// DefaultMaxAllocBytes is the largest single buffer the pool will
	// allocate. Requests above it fail with OutOfMemory instead of
	// risking the process. 256MB covers a 8192x8192 RGBA page.
	DefaultMaxAllocBytes = 256 * 1024 * 1024
)

// Config configures a pool. Zero values take defaults.
type Config struct {
	MaxPerClass   int
	MaxAllocBytes int
	Logger        *slog.Logger
}

// Pool is a size-class buffer allocator. Safe for concurrent use. Acquire
// never blocks behind another acquire; allocation happens outside the lock.
type Pool struct {
	mu      sync.Mutex
	classes map[int][][]byte // class size -> free buffers

	maxPerClass   int
	maxAllocBytes int
	logger        *slog.Logger

	// Stats counters, guarded by mu.
	hits   uint64
	misses uint64
	drops  uint64
}

// New creates a pool.
func New(cfg Config) *Pool {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxPerClass := cfg.MaxPerClass
	if maxPerClass <= 0 {
		maxPerClass = DefaultMaxPerClass
	}

	maxAlloc := cfg.MaxAllocBytes
	if maxAlloc <= 0 {
		maxAlloc = DefaultMaxAllocBytes
	}

	return &Pool{
		classes:       make(map[int][][]byte),
		maxPerClass:   maxPerClass,
		maxAllocBytes: maxAlloc,
		logger:        logger.With("component", "bufpool"),
	}
}

// classFor returns the power-of-two size class that fits n bytes.
func classFor(n int) int {
	if n <= minClassBytes {
		return minClassBytes
	}
	return 1 << bits.Len(uint(n-1))
}

// Acquire returns a buffer with length n, backed by a class-sized
// allocation. The buffer is owned by the caller until Release.
func (p *Pool) Acquire(n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("bufpool: invalid size %d", n)
	}
	if n > p.maxAllocBytes {
		return nil, render.NewDecodeError(render.ErrOutOfMemory, render.Key{},
			fmt.Errorf("bufpool: %d bytes exceeds allocation ceiling %d", n, p.maxAllocBytes))
	}

	class := classFor(n)

	p.mu.Lock()
	free := p.classes[class]
	if len(free) > 0 {
		buf := free[len(free)-1]
		free[len(free)-1] = nil
		p.classes[class] = free[:len(free)-1]
		p.hits++
		p.mu.Unlock()
		return buf[:n], nil
	}
	p.misses++
	p.mu.Unlock()

	// Allocate outside the lock so a slow allocation never queues other
	// acquires behind it.
	p.logger.Debug("allocating new buffer", "class", class, "requested", n)
	return make([]byte, n, class), nil
}

// Release returns a checked-out buffer to its size class. Buffers beyond
// maxPerClass for the class are discarded. Releasing nil is a no-op.
func (p *Pool) Release(buf []byte) {
	if buf == nil {
		return
	}

	class := cap(buf)
	if class != classFor(class) {
		// Not one of ours; drop it.
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	free := p.classes[class]
	if len(free) >= p.maxPerClass {
		p.drops++
		return
	}
	p.classes[class] = append(free, buf[:class])
}

// Stats reports pool effectiveness counters.
type Stats struct {
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Drops      uint64 `json:"drops"`
	FreeBuffer int    `json:"free_buffers"`
	FreeBytes  int64  `json:"free_bytes"`
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{Hits: p.hits, Misses: p.misses, Drops: p.drops}
	for class, free := range p.classes {
		s.FreeBuffer += len(free)
		s.FreeBytes += int64(class) * int64(len(free))
	}
	return s
}
