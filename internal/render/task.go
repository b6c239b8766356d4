package render

// Priority orders decode work. Numerically lower values are more urgent.
type Priority int

const (
	// PriorityVisible is for pages currently on screen.
	PriorityVisible Priority = 0
	// PriorityPrefetch is for adjacent pages warmed ahead of a page turn.
	PriorityPrefetch Priority = 1
	// PriorityIndex is for background text extraction feeding search.
	PriorityIndex Priority = 2
)

func (p Priority) String() string {
	switch p {
	case PriorityVisible:
		return "visible"
	case PriorityPrefetch:
		return "prefetch"
	case PriorityIndex:
		return "index"
	default:
		return "unknown"
	}
}

// MoreUrgent reports whether p should be scheduled ahead of other.
func (p Priority) MoreUrgent(other Priority) bool {
	return p < other
}

// State is the lifecycle of a decode task.
// Queued -> Running -> {Completed | Cancelled | Failed}; terminal states are
// final.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateFailed:
		return true
	}
	return false
}
