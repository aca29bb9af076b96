package event

import (
	"time"

	"github.com/Iron-Ham/tasktree/internal/task"
)

// Event is the interface that all events must implement.
// It provides a common way to identify and timestamp events.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "task.child", "tree.failed")
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// Event type identifiers.
const (
	TypeTaskAdded     = "task.added"
	TypeTaskChild     = "task.child"
	TypeTaskUpdated   = "task.updated"
	TypeTaskFinished  = "task.finished"
	TypeTaskFailed    = "task.failed"
	TypeTaskCancelled = "task.cancelled"

	TypeTreeSucceeded = "tree.succeeded"
	TypeTreeFailed    = "tree.failed"
	TypeTreeCancelled = "tree.cancelled"

	TypeConfigReloaded = "config.reloaded"
)

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Node Hooks
// -----------------------------------------------------------------------------

// TaskAddedEvent is emitted when a root task starts running.
type TaskAddedEvent struct {
	baseEvent
	TaskID string        // Root identifier
	Name   string        // Root name
	Root   task.Snapshot // Root state at start
}

// NewTaskAddedEvent creates a TaskAddedEvent.
func NewTaskAddedEvent(root *task.Node) TaskAddedEvent {
	return TaskAddedEvent{
		baseEvent: newBaseEvent(TypeTaskAdded),
		TaskID:    root.ID(),
		Name:      root.Name(),
		Root:      root.Snapshot(),
	}
}

// TaskChildEvent is emitted when a node gains a child.
type TaskChildEvent struct {
	baseEvent
	TaskID   string        // Root identifier
	ParentID string        // Parent node identifier
	Child    task.Snapshot // Child state at creation
}

// NewTaskChildEvent creates a TaskChildEvent.
func NewTaskChildEvent(parent, child *task.Node) TaskChildEvent {
	return TaskChildEvent{
		baseEvent: newBaseEvent(TypeTaskChild),
		TaskID:    parent.Root().ID(),
		ParentID:  parent.ID(),
		Child:     child.Snapshot(),
	}
}

// TaskUpdatedEvent is emitted when a node reports progress.
// Only the fields carried by the update are set.
type TaskUpdatedEvent struct {
	baseEvent
	TaskID string
	NodeID string
	Path   string
	Update task.Update
}

// NewTaskUpdatedEvent creates a TaskUpdatedEvent.
func NewTaskUpdatedEvent(node *task.Node, update task.Update) TaskUpdatedEvent {
	return TaskUpdatedEvent{
		baseEvent: newBaseEvent(TypeTaskUpdated),
		TaskID:    node.Root().ID(),
		NodeID:    node.ID(),
		Path:      node.Path(),
		Update:    update,
	}
}

// TaskFinishedEvent is emitted when a node succeeds.
type TaskFinishedEvent struct {
	baseEvent
	TaskID string
	NodeID string
	Path   string
	Result any
}

// NewTaskFinishedEvent creates a TaskFinishedEvent.
func NewTaskFinishedEvent(node *task.Node, result any) TaskFinishedEvent {
	return TaskFinishedEvent{
		baseEvent: newBaseEvent(TypeTaskFinished),
		TaskID:    node.Root().ID(),
		NodeID:    node.ID(),
		Path:      node.Path(),
		Result:    result,
	}
}

// TaskFailedEvent is emitted when a node fails.
type TaskFailedEvent struct {
	baseEvent
	TaskID string
	NodeID string
	Path   string
	Err    error
}

// NewTaskFailedEvent creates a TaskFailedEvent.
func NewTaskFailedEvent(node *task.Node, err error) TaskFailedEvent {
	return TaskFailedEvent{
		baseEvent: newBaseEvent(TypeTaskFailed),
		TaskID:    node.Root().ID(),
		NodeID:    node.ID(),
		Path:      node.Path(),
		Err:       err,
	}
}

// TaskCancelledEvent is emitted when a node stops at a suspension point
// because cancellation was requested.
type TaskCancelledEvent struct {
	baseEvent
	TaskID string
	NodeID string
	Path   string
}

// NewTaskCancelledEvent creates a TaskCancelledEvent.
func NewTaskCancelledEvent(node *task.Node) TaskCancelledEvent {
	return TaskCancelledEvent{
		baseEvent: newBaseEvent(TypeTaskCancelled),
		TaskID:    node.Root().ID(),
		NodeID:    node.ID(),
		Path:      node.Path(),
	}
}

// StatusOf returns the node identifier and terminal status carried by a
// finished, failed or cancelled event. ok is false for any other event.
func StatusOf(e Event) (nodeID string, status task.Status, ok bool) {
	switch ev := e.(type) {
	case TaskFinishedEvent:
		return ev.NodeID, task.StatusSucceeded, true
	case TaskFailedEvent:
		return ev.NodeID, task.StatusFailed, true
	case TaskCancelledEvent:
		return ev.NodeID, task.StatusCancelled, true
	default:
		return "", "", false
	}
}

// -----------------------------------------------------------------------------
// Tree Boundary Events
// -----------------------------------------------------------------------------

// TreeSettledEvent is emitted once per root when it reaches a terminal status.
// The event type is "tree." followed by the status.
type TreeSettledEvent struct {
	baseEvent
	TaskID string
	Name   string
	Status task.Status
	Result any   // root result; nil unless succeeded
	Err    error // nil on success
}

// NewTreeSettledEvent creates a TreeSettledEvent for a terminal status.
func NewTreeSettledEvent(taskID, name string, status task.Status, result any, err error) TreeSettledEvent {
	return TreeSettledEvent{
		baseEvent: newBaseEvent("tree." + status.String()),
		TaskID:    taskID,
		Name:      name,
		Status:    status,
		Result:    result,
		Err:       err,
	}
}

// -----------------------------------------------------------------------------
// Config Events
// -----------------------------------------------------------------------------

// ConfigReloadedEvent is emitted when the config file changes on disk.
type ConfigReloadedEvent struct {
	baseEvent
	File string
}

// NewConfigReloadedEvent creates a ConfigReloadedEvent.
func NewConfigReloadedEvent(file string) ConfigReloadedEvent {
	return ConfigReloadedEvent{
		baseEvent: newBaseEvent(TypeConfigReloaded),
		File:      file,
	}
}
