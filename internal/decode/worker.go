package decode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	retry "github.com/avast/retry-go/v4"
	"golang.org/x/sync/errgroup"

	"github.com/lecternapp/render/internal/bufpool"
	"github.com/lecternapp/render/internal/codec"
	"github.com/lecternapp/render/internal/render"
)

// DefaultDecodeTimeout bounds a single gateway call. Generous: a slow page
// should fail loudly, not stall a worker forever.
const DefaultDecodeTimeout = 10 * time.Second

// DefaultWorkerCount reserves one core for the UI/coordination side.
func DefaultWorkerCount() int {
	n := runtime.NumCPU() - 1
	if n < 2 {
		n = 2
	}
	return n
}

// outcome is what a finished task hands back to the coordinator. On success
// the worker has transferred pixel ownership here; the coordinator moves it
// into the cache or back to the pool.
type outcome struct {
	pix    []byte
	width  int
	height int
	text   string
	err    error
}

// workerPool is a fixed set of decode goroutines draining the queue.
// Workers write completed results through the onDone callback; they never
// read the cache.
type workerPool struct {
	queue    *Queue
	registry *codec.Registry
	pool     *bufpool.Pool
	timeout  time.Duration
	workers  int
	logger   *slog.Logger

	// onDone delivers the terminal outcome for a task. The task has
	// already been transitioned and removed from the running set.
	onDone func(t *Task, out outcome)

	g *errgroup.Group
}

type workerPoolConfig struct {
	Queue    *Queue
	Registry *codec.Registry
	Pool     *bufpool.Pool
	Timeout  time.Duration
	Workers  int
	Logger   *slog.Logger
	OnDone   func(t *Task, out outcome)
}

func newWorkerPool(cfg workerPoolConfig) *workerPool {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkerCount()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultDecodeTimeout
	}
	return &workerPool{
		queue:    cfg.Queue,
		registry: cfg.Registry,
		pool:     cfg.Pool,
		timeout:  timeout,
		workers:  workers,
		logger:   logger.With("component", "decode"),
		onDone:   cfg.OnDone,
	}
}

// Start launches the workers. They run until the queue closes or ctx is
// cancelled.
func (w *workerPool) Start(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	w.g = g
	w.logger.Info("starting decode workers", "count", w.workers)

	for i := 0; i < w.workers; i++ {
		g.Go(func() error {
			w.run(ctx)
			return nil
		})
	}
}

// Wait blocks until all workers have exited.
func (w *workerPool) Wait() {
	if w.g != nil {
		_ = w.g.Wait()
	}
}

func (w *workerPool) run(ctx context.Context) {
	for {
		t := w.queue.Dequeue(ctx)
		if t == nil {
			return
		}
		w.process(ctx, t)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// process drives one task to a terminal state and reports it.
func (w *workerPool) process(ctx context.Context, t *Task) {
	if t.Cancelled() {
		t.transition(render.StateCancelled)
		w.onDone(t, outcome{err: render.NewDecodeError(render.ErrCancelled, t.Key, nil)})
		w.queue.Finish(t)
		return
	}

	doc, gw, ok := w.registry.Resolve(t.Key.Doc)
	if !ok {
		// Document closed while the task sat in the queue.
		t.transition(render.StateCancelled)
		w.onDone(t, outcome{err: render.NewDecodeError(render.ErrCancelled, t.Key, fmt.Errorf("document not open"))})
		w.queue.Finish(t)
		return
	}

	var out outcome
	// A Timeout gets one extra attempt at the same priority; every other
	// failure kind surfaces immediately.
	err := retry.Do(
		func() error {
			var attemptErr error
			out, attemptErr = w.decodeOnce(ctx, t, doc, gw)
			return attemptErr
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(0),
		retry.LastErrorOnly(true),
		retry.RetryIf(render.IsTimeout),
	)
	out.err = err

	switch {
	case err == nil && t.Cancelled():
		// Completed past its last cancellation checkpoint; discard.
		w.pool.Release(out.pix)
		out = outcome{err: render.NewDecodeError(render.ErrCancelled, t.Key, nil)}
		t.transition(render.StateCancelled)
	case err == nil:
		t.transition(render.StateCompleted)
	case render.IsCancelled(err):
		t.transition(render.StateCancelled)
	default:
		t.transition(render.StateFailed)
		w.logger.Debug("decode failed", "key", t.Key.String(), "error", err)
	}

	w.onDone(t, out)
	w.queue.Finish(t)
}

// decodeOnce performs a single gateway call under the decode timeout. On
// timeout the call is abandoned: the worker returns immediately and a
// reaper goroutine returns the buffer to the pool once the gateway gives
// up or finishes.
func (w *workerPool) decodeOnce(ctx context.Context, t *Task, doc *codec.Document, gw codec.Gateway) (outcome, error) {
	var (
		buf []byte
		err error
	)
	if !t.Key.TextOnly() {
		buf, err = w.pool.Acquire(render.PixelBytes(t.Key.Width, t.Key.Height))
		if err != nil {
			var de *render.DecodeError
			if errors.As(err, &de) {
				return outcome{}, render.NewDecodeError(de.Kind, t.Key, de.Err)
			}
			return outcome{}, render.NewDecodeError(render.ErrOutOfMemory, t.Key, err)
		}
	}

	req := codec.DecodeRequest{
		Doc:         doc,
		Page:        t.Key.Page,
		Width:       t.Key.Width,
		Height:      t.Key.Height,
		Crop:        t.Key.Crop,
		Dest:        buf,
		IsCancelled: t.Cancelled,
	}

	dctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	type reply struct {
		res codec.DecodeResult
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		res, derr := gw.Decode(dctx, req)
		ch <- reply{res: res, err: derr}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			w.pool.Release(buf)
			return outcome{}, w.classify(t.Key, r.err)
		}
		return outcome{
			pix:    buf,
			width:  t.Key.Width,
			height: t.Key.Height,
			text:   r.res.Text,
		}, nil

	case <-dctx.Done():
		// The gateway call may not be interruptible; don't wait on it,
		// but keep buffer ownership with the abandoned call until it
		// returns.
		go func() {
			<-ch
			w.pool.Release(buf)
		}()
		if ctx.Err() != nil {
			return outcome{}, render.NewDecodeError(render.ErrCancelled, t.Key, ctx.Err())
		}
		return outcome{}, render.NewDecodeError(render.ErrTimeout, t.Key, dctx.Err())
	}
}

// classify maps gateway errors onto the decode error taxonomy, passing
// typed decode errors through unchanged.
func (w *workerPool) classify(key render.Key, err error) error {
	var de *render.DecodeError
	if errors.As(err, &de) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return render.NewDecodeError(render.ErrTimeout, key, err)
	case errors.Is(err, context.Canceled):
		return render.NewDecodeError(render.ErrCancelled, key, err)
	default:
		return render.NewDecodeError(render.ErrCorrupt, key, err)
	}
}
