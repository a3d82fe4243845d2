package session

// SubagentStatus is the lifecycle state of a delegated session.
type SubagentStatus string

const (
	StatusPending   SubagentStatus = "pending"
	StatusStarted   SubagentStatus = "started"
	StatusCompleted SubagentStatus = "completed"
	StatusFailed    SubagentStatus = "failed"
)

func (s SubagentStatus) rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusStarted:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	default:
		return 0
	}
}

// Terminal reports whether the status is completed or failed.
func (s SubagentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanAdvanceTo reports whether moving from s to next keeps the status
// machine monotonic: pending -> started -> {completed | failed}.
// Skipping started (pending -> failed) is allowed; regressing or leaving a
// terminal state is not.
func (s SubagentStatus) CanAdvanceTo(next SubagentStatus) bool {
	if next.rank() == 0 || s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}
