package decode

import (
	"container/heap"
	"context"
	"sync"

	"github.com/lecternapp/render/internal/render"
)

// Queue is a thread-safe priority queue of decode tasks. More urgent
// priorities dequeue first; equal priorities dequeue in enqueue order.
// Each render key has at most one queued or running task.
type Queue struct {
	mu      sync.Mutex
	items   taskHeap
	byKey   map[render.Key]*taskItem // queued tasks only
	running map[render.Key]*Task
	seq     uint64
	closed  bool

	notify chan struct{} // signalled on push, buffered so Enqueue never blocks
	done   chan struct{} // closed on Close, unblocks Dequeue
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	q := &Queue{
		byKey:   make(map[render.Key]*taskItem),
		running: make(map[render.Key]*Task),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	heap.Init(&q.items)
	return q
}

// Enqueue adds a task, returning the canonical task for its key. If a task
// for the key is already queued, the queued one is kept — promoted if the
// new request is strictly more urgent — and the duplicate is discarded. If
// one is already running, the running task is returned unchanged.
func (q *Queue) Enqueue(t *Task) *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	if item, ok := q.byKey[t.Key]; ok {
		if t.Priority().MoreUrgent(item.task.Priority()) {
			item.task.promote(t.Priority())
			heap.Fix(&q.items, item.index)
		}
		return item.task
	}
	if running, ok := q.running[t.Key]; ok {
		return running
	}

	q.seq++
	item := &taskItem{task: t, seq: q.seq}
	heap.Push(&q.items, item)
	q.byKey[t.Key] = item

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return t
}

// Promote raises the priority of a queued task for key, if it is queued and
// the new priority is strictly more urgent.
func (q *Queue) Promote(key render.Key, p render.Priority) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.byKey[key]
	if !ok {
		return
	}
	if p.MoreUrgent(item.task.Priority()) {
		item.task.promote(p)
		heap.Fix(&q.items, item.index)
	}
}

// Dequeue blocks until a task is available, the queue is closed or ctx is
// cancelled, returning nil in the latter two cases. The returned task has
// been transitioned to Running. Cancelled tasks are skipped and dropped.
func (q *Queue) Dequeue(ctx context.Context) *Task {
	for {
		q.mu.Lock()
		for q.items.Len() > 0 {
			item := heap.Pop(&q.items).(*taskItem)
			delete(q.byKey, item.task.Key)
			if !item.task.transition(render.StateRunning) {
				// Cancelled while queued; drop and keep looking.
				continue
			}
			q.running[item.task.Key] = item.task
			if q.items.Len() > 0 {
				// Re-arm the wakeup for other waiting workers.
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			q.mu.Unlock()
			return item.task
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-q.done:
			return nil
		case <-q.notify:
		}
	}
}

// Finish removes a task from the running set. Called by workers after the
// task reached a terminal state and its outcome was delivered, so document
// cancellation always observes tasks whose results are still in flight.
func (q *Queue) Finish(t *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running[t.Key] == t {
		delete(q.running, t.Key)
	}
}

// CancelWhere cancels matching tasks. Queued matches transition directly to
// Cancelled and are returned so the caller can resolve their futures;
// running matches only get their cooperative flag set and report through
// the normal completion path.
func (q *Queue) CancelWhere(match func(*Task) bool) []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var cancelled []*Task
	for key, item := range q.byKey {
		if match(item.task) {
			item.task.MarkCancelled()
			delete(q.byKey, key)
			cancelled = append(cancelled, item.task)
		}
	}
	for _, t := range q.running {
		if match(t) {
			t.MarkCancelled()
		}
	}
	return cancelled
}

// Close shuts the queue down. Blocked and future Dequeue calls return nil;
// Enqueue becomes a no-op.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Len returns the number of queued (not running) tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byKey)
}

// RunningCount returns the number of running tasks.
func (q *Queue) RunningCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.running)
}

// Running reports whether a task for key is currently running.
func (q *Queue) Running(key render.Key) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.running[key]
	return ok
}

// taskItem wraps a task with its heap bookkeeping.
type taskItem struct {
	task  *Task
	seq   uint64 // tie-break: earlier enqueue dequeues first
	index int
}

// taskHeap implements heap.Interface. Lower priority value is more urgent
// and comes first; equal priorities are FIFO by seq.
type taskHeap []*taskItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	pi, pj := h[i].task.Priority(), h[j].task.Priority()
	if pi != pj {
		return pi.MoreUrgent(pj)
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	item := x.(*taskItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}
