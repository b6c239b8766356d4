package cache

import (
	"sync/atomic"

	"github.com/lecternapp/render/internal/render"
)

// View is a borrowed, non-owning read handle into a cache entry. It pins
// the entry against eviction until released. Views are meant to live for
// one composited frame, never across frames.
type View struct {
	c        *Cache
	e        *entry
	released atomic.Bool
}

func makeViews(c *Cache, e *entry, n int) []*View {
	views := make([]*View, n)
	for i := range views {
		views[i] = &View{c: c, e: e}
	}
	return views
}

// Key returns the render key of the viewed entry.
func (v *View) Key() render.Key {
	return v.e.key
}

// Pix returns the entry's pixel data. Read-only; valid until Release. Nil
// for text-only entries.
func (v *View) Pix() []byte {
	return v.e.pix
}

// Width returns the pixel width of the artifact.
func (v *View) Width() int {
	return v.e.width
}

// Height returns the pixel height of the artifact.
func (v *View) Height() int {
	return v.e.height
}

// Stride returns the byte stride of one pixel row.
func (v *View) Stride() int {
	return v.e.stride
}

// Text returns extracted page text, if any.
func (v *View) Text() string {
	return v.e.text
}

// ByteSize returns the payload size the entry charges to the byte budget.
func (v *View) ByteSize() int64 {
	return v.e.byteSize
}

// Release returns the borrow. Idempotent; the view must not be used
// afterwards.
func (v *View) Release() {
	if v.released.Swap(true) {
		return
	}
	v.c.release(v.e)
}
