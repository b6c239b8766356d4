package decode

import (
	"context"
	"testing"
	"time"

	"github.com/lecternapp/render/internal/render"
)

func qkey(page int) render.Key {
	return render.Key{Doc: "doc-1", Page: page, Width: 100, Height: 100}
}

func TestQueue_PriorityOrdering(t *testing.T) {
	q := NewQueue()

	q.Enqueue(NewTask(qkey(1), render.PriorityIndex))
	q.Enqueue(NewTask(qkey(2), render.PriorityVisible))
	q.Enqueue(NewTask(qkey(3), render.PriorityPrefetch))

	want := []int{2, 3, 1}
	for _, page := range want {
		task := q.Dequeue(context.Background())
		if task == nil {
			t.Fatal("Dequeue() returned nil")
		}
		if task.Key.Page != page {
			t.Errorf("dequeued page %d, want %d", task.Key.Page, page)
		}
		if task.State() != render.StateRunning {
			t.Errorf("state = %s, want running", task.State())
		}
		q.Finish(task)
	}
}

func TestQueue_FIFOWithinPriority(t *testing.T) {
	q := NewQueue()

	for page := 1; page <= 3; page++ {
		q.Enqueue(NewTask(qkey(page), render.PriorityPrefetch))
	}

	for page := 1; page <= 3; page++ {
		task := q.Dequeue(context.Background())
		if task.Key.Page != page {
			t.Errorf("dequeued page %d, want %d (FIFO)", task.Key.Page, page)
		}
		q.Finish(task)
	}
}

func TestQueue_DuplicateKeyKeepsMoreUrgent(t *testing.T) {
	q := NewQueue()

	first := NewTask(qkey(1), render.PriorityIndex)
	if got := q.Enqueue(first); got != first {
		t.Fatal("first enqueue should return its own task")
	}

	// Same key at higher urgency: canonical task is the queued one,
	// promoted.
	dup := NewTask(qkey(1), render.PriorityVisible)
	if got := q.Enqueue(dup); got != first {
		t.Error("duplicate enqueue should return the queued task")
	}
	if first.Priority() != render.PriorityVisible {
		t.Errorf("priority = %v, want visible after promotion", first.Priority())
	}

	// Lower urgency duplicate must not demote.
	q.Enqueue(NewTask(qkey(1), render.PriorityIndex))
	if first.Priority() != render.PriorityVisible {
		t.Error("lower urgency duplicate demoted the task")
	}

	if q.Len() != 1 {
		t.Errorf("len = %d, want 1", q.Len())
	}
}

func TestQueue_PromotionReorders(t *testing.T) {
	q := NewQueue()

	q.Enqueue(NewTask(qkey(1), render.PriorityPrefetch))
	q.Enqueue(NewTask(qkey(2), render.PriorityPrefetch))

	q.Promote(qkey(2), render.PriorityVisible)

	if task := q.Dequeue(context.Background()); task.Key.Page != 2 {
		t.Errorf("dequeued page %d, want promoted page 2", task.Key.Page)
	}
}

func TestQueue_DequeueBlocksUntilEnqueue(t *testing.T) {
	q := NewQueue()

	got := make(chan *Task, 1)
	go func() {
		got <- q.Dequeue(context.Background())
	}()

	select {
	case <-got:
		t.Fatal("Dequeue() returned on empty queue")
	case <-time.After(50 * time.Millisecond):
	}

	q.Enqueue(NewTask(qkey(7), render.PriorityVisible))

	select {
	case task := <-got:
		if task.Key.Page != 7 {
			t.Errorf("page = %d, want 7", task.Key.Page)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue() did not wake up")
	}
}

func TestQueue_CloseUnblocksDequeue(t *testing.T) {
	q := NewQueue()

	got := make(chan *Task, 1)
	go func() {
		got <- q.Dequeue(context.Background())
	}()

	q.Close()

	select {
	case task := <-got:
		if task != nil {
			t.Errorf("expected nil after close, got %v", task.Key)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue() still blocked after close")
	}

	if q.Enqueue(NewTask(qkey(1), render.PriorityVisible)) != nil {
		t.Error("Enqueue after close should return nil")
	}
}

func TestQueue_CancelWhereQueuedAndRunning(t *testing.T) {
	q := NewQueue()

	running := NewTask(qkey(1), render.PriorityVisible)
	q.Enqueue(running)
	if q.Dequeue(context.Background()) != running {
		t.Fatal("expected to dequeue running task")
	}

	queued := NewTask(qkey(2), render.PriorityVisible)
	q.Enqueue(queued)
	other := NewTask(render.Key{Doc: "doc-2", Page: 1, Width: 10, Height: 10}, render.PriorityVisible)
	q.Enqueue(other)

	cancelled := q.CancelWhere(func(t *Task) bool { return t.Key.Doc == "doc-1" })

	if len(cancelled) != 1 || cancelled[0] != queued {
		t.Fatalf("cancelled = %v, want just the queued doc-1 task", cancelled)
	}
	if queued.State() != render.StateCancelled {
		t.Errorf("queued state = %s, want cancelled", queued.State())
	}
	if !running.Cancelled() {
		t.Error("running task should carry the cooperative flag")
	}
	if running.State() != render.StateRunning {
		t.Errorf("running state = %s, cancellation is cooperative", running.State())
	}

	// The untouched task is still dequeued normally.
	if task := q.Dequeue(context.Background()); task != other {
		t.Error("expected the doc-2 task to survive")
	}
}

func TestTask_TerminalStatesAreFinal(t *testing.T) {
	task := NewTask(qkey(1), render.PriorityVisible)

	if !task.transition(render.StateRunning) {
		t.Fatal("Queued -> Running should be legal")
	}
	if !task.transition(render.StateCompleted) {
		t.Fatal("Running -> Completed should be legal")
	}
	if task.transition(render.StateRunning) {
		t.Error("transition out of Completed must fail")
	}
	if task.transition(render.StateFailed) {
		t.Error("transition out of Completed must fail")
	}

	cancelled := NewTask(qkey(2), render.PriorityVisible)
	cancelled.MarkCancelled()
	if cancelled.State() != render.StateCancelled {
		t.Errorf("state = %s, want cancelled", cancelled.State())
	}
	if cancelled.transition(render.StateRunning) {
		t.Error("cancelled task must not start running")
	}
}
