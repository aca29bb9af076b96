package watcher

import "github.com/Iron-Ham/tasktree/internal/task"

// Entry pairs an identifier with a node snapshot. For Adds the ID is the
// root's own ID; for Children it is the parent's ID.
type Entry struct {
	ID   string        `json:"id"`
	Node task.Snapshot `json:"node"`
}

// StatusChange records a node reaching a terminal status.
type StatusChange struct {
	ID     string      `json:"id"`
	Status task.Status `json:"status"`
}

// Batch is the set of changes accumulated during one flush window.
type Batch struct {
	Adds     []Entry                `json:"adds"`
	Children []Entry                `json:"childs"`
	Updates  map[string]task.Update `json:"updates"`
	Statuses []StatusChange         `json:"statuses"`
}

// IsEmpty returns true if no accumulator holds anything.
func (b Batch) IsEmpty() bool {
	return len(b.Adds) == 0 && len(b.Children) == 0 && len(b.Updates) == 0 && len(b.Statuses) == 0
}

// Len returns the total number of entries across accumulators.
func (b Batch) Len() int {
	return len(b.Adds) + len(b.Children) + len(b.Updates) + len(b.Statuses)
}

// coalesce merges next into an existing update for the same node. Each
// field keeps the first non-zero value seen in the window.
func coalesce(last, next task.Update) task.Update {
	if last.Progress == 0 {
		last.Progress = next.Progress
	}
	if last.Total == 0 {
		last.Total = next.Total
	}
	if last.Message == "" {
		last.Message = next.Message
	}
	return last
}
