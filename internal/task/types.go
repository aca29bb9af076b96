package task

import (
	"errors"
	"time"
)

// Status represents the lifecycle state of a task node.
type Status string

const (
	// StatusPending indicates the node was created but has not started.
	StatusPending Status = "pending"

	// StatusRunning indicates the node's work is in progress.
	StatusRunning Status = "running"

	// StatusSucceeded indicates the node finished without error.
	StatusSucceeded Status = "succeeded"

	// StatusFailed indicates the node finished with an error.
	StatusFailed Status = "failed"

	// StatusCancelled indicates the node stopped at a suspension point
	// after cancellation was requested.
	StatusCancelled Status = "cancelled"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if this status is final.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Unknown marks a progress or total value that has not been reported.
const Unknown int64 = -1

// PathSeparator joins node names into a path.
const PathSeparator = "/"

// Sentinel errors returned by node operations.
var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidProgress   = errors.New("invalid progress value")
	ErrCancelled         = errors.New("task cancelled")
)

// Update carries the progress fields reported by a running node.
// A zero field means the update does not carry that field.
type Update struct {
	Progress int64  `json:"progress,omitempty"`
	Total    int64  `json:"total,omitempty"`
	Message  string `json:"message,omitempty"`
}

// IsEmpty returns true if the update carries no fields.
func (u Update) IsEmpty() bool {
	return u.Progress == 0 && u.Total == 0 && u.Message == ""
}

// Snapshot is a detached copy of a node and its subtree.
type Snapshot struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Status   Status     `json:"status"`
	Progress int64      `json:"progress"`
	Total    int64      `json:"total"`
	Message  string     `json:"message"`
	Errors   []string   `json:"errors,omitempty"`
	Time     time.Time  `json:"time"`
	Children []Snapshot `json:"children,omitempty"`
}
