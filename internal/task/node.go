package task

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Node is one unit of work in a task tree.
// All methods are safe for concurrent use via an internal mutex.
type Node struct {
	mu       sync.RWMutex
	id       string
	name     string
	path     string
	parent   *Node
	root     *Node
	status   Status
	progress int64
	total    int64
	message  string
	children []*Node
	errors   []string
	created  time.Time

	cancelled atomic.Bool
	nextChild atomic.Int64 // only used on the root
}

// New creates a root node with the given tree identifier.
// The node starts pending with unknown progress and total.
func New(id, name string) *Node {
	n := &Node{
		id:       id,
		name:     name,
		path:     name,
		status:   StatusPending,
		progress: Unknown,
		total:    Unknown,
		created:  time.Now(),
	}
	n.root = n
	return n
}

// AddChild appends a new pending child and returns it.
// The child ID is derived from the root ID and a per-tree counter.
func (n *Node) AddChild(name string) *Node {
	seq := n.root.nextChild.Add(1) - 1
	child := &Node{
		id:       n.root.id + "-" + strconv.FormatInt(seq, 10),
		name:     name,
		path:     n.path + PathSeparator + name,
		parent:   n,
		root:     n.root,
		status:   StatusPending,
		progress: Unknown,
		total:    Unknown,
		created:  time.Now(),
	}
	n.mu.Lock()
	n.children = append(n.children, child)
	n.mu.Unlock()
	return child
}

// ID returns the node identifier.
func (n *Node) ID() string { return n.id }

// Name returns the node label.
func (n *Node) Name() string { return n.name }

// Path returns the node's position in the tree.
func (n *Node) Path() string { return n.path }

// Parent returns the parent node, or nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// Root returns the root of the tree containing n.
func (n *Node) Root() *Node { return n.root }

// IsRoot reports whether n is the root of its tree.
func (n *Node) IsRoot() bool { return n.root == n }

// Status returns the current status.
func (n *Node) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

// Progress returns the current progress and total.
func (n *Node) Progress() (progress, total int64) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.progress, n.total
}

// Message returns the last status message.
func (n *Node) Message() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.message
}

// Errors returns a copy of the accumulated error messages.
func (n *Node) Errors() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]string(nil), n.errors...)
}

// Children returns a copy of the child list in insertion order.
func (n *Node) Children() []*Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]*Node(nil), n.children...)
}

// Start moves the node from pending to running.
func (n *Node) Start() error {
	return n.transition(StatusRunning, StatusPending)
}

// Finish moves the node from running to succeeded.
func (n *Node) Finish() error {
	return n.transition(StatusSucceeded, StatusRunning)
}

// Fail moves the node to failed and records err in its error list.
func (n *Node) Fail(err error) error {
	if terr := n.transition(StatusFailed, StatusPending, StatusRunning); terr != nil {
		return terr
	}
	if err != nil {
		n.mu.Lock()
		n.errors = append(n.errors, err.Error())
		n.mu.Unlock()
	}
	return nil
}

// MarkCancelled moves the node to cancelled.
func (n *Node) MarkCancelled() error {
	return n.transition(StatusCancelled, StatusPending, StatusRunning)
}

// transition moves to the target status if the current status is one of from.
func (n *Node) transition(to Status, from ...Status) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, s := range from {
		if n.status == s {
			n.status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s cannot move from %s to %s", ErrInvalidTransition, n.path, n.status, to)
}

// SetProgress sets the progress value, including zero. Use Unknown to clear it.
func (n *Node) SetProgress(progress int64) error {
	_, err := n.set(&progress, nil, nil)
	return err
}

// SetTotal sets the total value, including zero. Use Unknown to clear it.
func (n *Node) SetTotal(total int64) error {
	_, err := n.set(nil, &total, nil)
	return err
}

// SetMessage replaces the status message.
func (n *Node) SetMessage(message string) {
	n.mu.Lock()
	n.message = message
	n.mu.Unlock()
}

// Apply merges a partial update into the node and returns the update as
// applied. Zero fields of u are not carried; use SetProgress or SetTotal to
// store a zero. When both progress and total are known afterwards,
// progress is clamped into [0, total].
func (n *Node) Apply(u Update) (Update, error) {
	var (
		progress, total *int64
		message         *string
	)
	if u.Progress != 0 {
		progress = &u.Progress
	}
	if u.Total != 0 {
		total = &u.Total
	}
	if u.Message != "" {
		message = &u.Message
	}
	stored, err := n.set(progress, total, message)
	if err != nil {
		return Update{}, err
	}
	if progress != nil {
		u.Progress = stored
	}
	return u, nil
}

// set writes the non-nil fields, clamps progress into [0, total] and
// returns the stored progress.
func (n *Node) set(progress, total *int64, message *string) (int64, error) {
	if (progress != nil && *progress < Unknown) || (total != nil && *total < Unknown) {
		return 0, fmt.Errorf("%w: %s progress=%s total=%s", ErrInvalidProgress, n.path, fmtField(progress), fmtField(total))
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.status.IsTerminal() {
		return 0, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, n.path, n.status)
	}
	if total != nil {
		n.total = *total
	}
	if progress != nil {
		n.progress = *progress
	}
	if message != nil {
		n.message = *message
	}
	if n.total != Unknown && n.progress > n.total {
		n.progress = n.total
	}
	return n.progress, nil
}

func fmtField(v *int64) string {
	if v == nil {
		return "unset"
	}
	return strconv.FormatInt(*v, 10)
}

// Cancel requests cooperative cancellation of n and its descendants.
func (n *Node) Cancel() {
	n.cancelled.Store(true)
}

// Token returns the cancellation token for n.
func (n *Node) Token() Token {
	return Token{node: n}
}

// Walk calls fn for n and every descendant in depth-first order.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, child := range n.Children() {
		child.Walk(fn)
	}
}

// Snapshot returns a detached copy of n and its subtree.
func (n *Node) Snapshot() Snapshot {
	n.mu.RLock()
	s := Snapshot{
		ID:       n.id,
		Name:     n.name,
		Path:     n.path,
		Status:   n.status,
		Progress: n.progress,
		Total:    n.total,
		Message:  n.message,
		Errors:   append([]string(nil), n.errors...),
		Time:     n.created,
	}
	children := append([]*Node(nil), n.children...)
	n.mu.RUnlock()

	for _, child := range children {
		s.Children = append(s.Children, child.Snapshot())
	}
	return s
}

// Token exposes the cooperative cancellation state of a node.
// The zero Token is never cancelled.
type Token struct {
	node *Node
}

// Cancelled reports whether the node or any ancestor has been cancelled.
func (t Token) Cancelled() bool {
	for n := t.node; n != nil; n = n.parent {
		if n.cancelled.Load() {
			return true
		}
	}
	return false
}

// Check returns ErrCancelled if cancellation has been requested.
func (t Token) Check() error {
	if t.Cancelled() {
		return fmt.Errorf("%w: %s", ErrCancelled, t.node.path)
	}
	return nil
}
