package decode

import (
	"context"
	"sync"

	"github.com/lecternapp/render/internal/cache"
)

// Future resolves when a decode task for a key reaches a terminal state.
// Multiple concurrent requests for the same key share one task; each gets
// its own future and, on success, its own borrowed cache view.
type Future struct {
	done chan struct{}

	mu   sync.Mutex
	view *cache.View
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// complete resolves the future exactly once; later calls are ignored.
func (f *Future) complete(view *cache.View, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	select {
	case <-f.done:
		// Already resolved; a late duplicate view goes straight back.
		if view != nil {
			view.Release()
		}
		return
	default:
	}
	f.view = view
	f.err = err
	close(f.done)
}

// Done returns a channel closed when the future resolves. Registering on it
// never blocks, so the UI-facing path can select or poll.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Result blocks until resolution and returns the borrowed view or error.
// The caller owns the view's release.
func (f *Future) Result() (*cache.View, error) {
	<-f.done
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view, f.err
}

// Wait is Result with a context bound. On context expiry the future stays
// pending and its eventual view is released internally.
func (f *Future) Wait(ctx context.Context) (*cache.View, error) {
	select {
	case <-ctx.Done():
		// Nobody will consume the view; avoid pinning the entry forever.
		go func() {
			<-f.done
			f.mu.Lock()
			if f.view != nil {
				f.view.Release()
				f.view = nil
			}
			f.mu.Unlock()
		}()
		return nil, ctx.Err()
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.view, f.err
	}
}

// resolved returns an already-completed future (cache hits).
func resolved(view *cache.View, err error) *Future {
	f := newFuture()
	f.complete(view, err)
	return f
}
