// Package decode contains the pipeline that turns render requests into
// cached pixels: the priority task queue, the worker pool draining it, and
// the coordinator façade the viewer talks to.
package decode

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/lecternapp/render/internal/render"
)

// Task is one unit of decode work. At most one non-terminal task exists per
// render key; requesters sharing a key share the task and its futures.
type Task struct {
	Key       render.Key
	CreatedAt time.Time

	mu       sync.Mutex
	priority render.Priority
	state    render.State

	// cancelled is the cooperative flag checked by workers before the
	// decode and by gateways between decode stages.
	cancelled atomic.Bool
}

// NewTask creates a queued task.
func NewTask(key render.Key, priority render.Priority) *Task {
	return &Task{
		Key:       key,
		CreatedAt: time.Now(),
		priority:  priority,
		state:     render.StateQueued,
	}
}

// State returns the task's current state.
func (t *Task) State() render.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Priority returns the task's current priority. It can only become more
// urgent, via Queue promotion.
func (t *Task) Priority() render.Priority {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.priority
}

// transition moves the task to a new state. Terminal states are final and
// Running can only follow Queued; illegal transitions return false.
func (t *Task) transition(to render.State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Terminal() {
		return false
	}
	if to == render.StateRunning && t.state != render.StateQueued {
		return false
	}
	t.state = to
	return true
}

// promote raises urgency. Called under the queue lock before heap.Fix.
func (t *Task) promote(p render.Priority) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p.MoreUrgent(t.priority) {
		t.priority = p
	}
}

// MarkCancelled sets the cooperative cancellation flag. A queued task also
// transitions to Cancelled; a running one finishes on its own and has its
// result discarded.
func (t *Task) MarkCancelled() {
	t.cancelled.Store(true)
	t.mu.Lock()
	if t.state == render.StateQueued {
		t.state = render.StateCancelled
	}
	t.mu.Unlock()
}

// Cancelled reports the cooperative cancellation flag.
func (t *Task) Cancelled() bool {
	return t.cancelled.Load()
}
