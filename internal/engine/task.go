package engine

// Task is the closed set of runnable task variants: [Leaf], [Sequence],
// [Parallel] and the wrapper returned by [Map].
type Task interface {
	taskName() string
}

// Leaf is a unit of work whose body may report progress and spawn children
// through the Context it receives.
type Leaf struct {
	Name string
	Run  func(c *Context) (any, error)
}

func (l Leaf) taskName() string { return l.Name }

// Sequence runs its steps one after another as children of a single node.
// The result is the result of the last step.
type Sequence struct {
	Name  string
	Steps []Task
}

func (s Sequence) taskName() string { return s.Name }

// Parallel runs its tasks concurrently as children of a single node.
// The result is a []any in input order. Like [Context.All], the first
// failure is returned immediately unless CollectAll is set.
type Parallel struct {
	Name       string
	Tasks      []Task
	CollectAll bool
}

func (p Parallel) taskName() string { return p.Name }

type mapped struct {
	inner Task
	fn    func(any) (any, error)
}

func (m mapped) taskName() string { return m.inner.taskName() }

// Map wraps t so that fn transforms its result after it succeeds. The
// wrapper runs on the same node as t.
func Map(t Task, fn func(any) (any, error)) Task {
	return mapped{inner: t, fn: fn}
}

// NameOf returns the node name a task runs under.
func NameOf(t Task) string {
	if t == nil {
		return ""
	}
	return t.taskName()
}
