package engine

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/tasktree/internal/event"
	"github.com/Iron-Ham/tasktree/internal/logging"
	"github.com/Iron-Ham/tasktree/internal/metrics"
	"github.com/Iron-Ham/tasktree/internal/task"
)

// Engine runs task trees and publishes a hook on its bus for every child
// created, progress update and terminal outcome.
type Engine struct {
	bus     *event.Bus
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics records terminal node outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an Engine publishing hooks on bus.
// A nil bus gets a private one with no subscribers.
func New(bus *event.Bus, opts ...Option) *Engine {
	if bus == nil {
		bus = event.NewBus()
	}
	e := &Engine{
		bus:    bus,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithComponent("engine")
	return e
}

// Bus returns the bus hooks are published on.
func (e *Engine) Bus() *event.Bus {
	return e.bus
}

// Run executes t on root and blocks until it settles. root must be pending.
// ctx is handed to Step callbacks; cancelling it stops scheduling new steps
// but cancellation of the tree itself goes through root.Cancel.
func (e *Engine) Run(ctx context.Context, root *task.Node, t Task) (any, error) {
	if err := e.startRoot(root); err != nil {
		return nil, err
	}
	return e.execute(ctx, root, t)
}

// Start moves root to running, publishes task.added and runs t in a new
// goroutine. The root is running by the time Start returns.
func (e *Engine) Start(ctx context.Context, root *task.Node, t Task) *Handle {
	h := &Handle{root: root, done: make(chan struct{})}
	if err := e.startRoot(root); err != nil {
		h.err = err
		close(h.done)
		return h
	}
	go func() {
		defer close(h.done)
		h.result, h.err = e.execute(ctx, root, t)
	}()
	return h
}

func (e *Engine) startRoot(root *task.Node) error {
	if err := root.Start(); err != nil {
		return fmt.Errorf("%w: %w", ErrNotPending, err)
	}
	e.bus.Publish(event.NewTaskAddedEvent(root))
	return nil
}

func (e *Engine) runNode(ctx context.Context, node *task.Node, t Task) (any, error) {
	if err := node.Start(); err != nil {
		return nil, err
	}
	return e.execute(ctx, node, t)
}

func (e *Engine) execute(ctx context.Context, node *task.Node, t Task) (result any, err error) {
	var pc panics.Catcher
	pc.Try(func() {
		result, err = e.body(ctx, node, t)
	})
	if r := pc.Recovered(); r != nil {
		e.logger.WithPath(node.Path()).Error("task body panicked",
			"panic", fmt.Sprint(r.Value),
			"stack", string(r.Stack))
		result, err = nil, fmt.Errorf("%w: %v", ErrPanic, r.Value)
	}

	e.settle(node, result, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) body(ctx context.Context, node *task.Node, t Task) (any, error) {
	c := &Context{ctx: ctx, engine: e, node: node}

	switch t := t.(type) {
	case Leaf:
		if t.Run == nil {
			return nil, nil
		}
		return t.Run(c)
	case Sequence:
		var last any
		for _, step := range t.Steps {
			r, err := c.Yield(step)
			if err != nil {
				return nil, err
			}
			last = r
		}
		return last, nil
	case Parallel:
		return c.All(t.Tasks, AllOptions{FailFast: !t.CollectAll})
	case mapped:
		r, err := e.body(ctx, node, t.inner)
		if err != nil {
			return nil, err
		}
		return t.fn(r)
	default:
		return nil, fmt.Errorf("unsupported task type %T", t)
	}
}

// settle moves node into its terminal status and publishes the matching hook.
func (e *Engine) settle(node *task.Node, result any, err error) {
	var (
		status task.Status
		terr   error
		ev     event.Event
	)
	switch {
	case err == nil:
		status, terr = task.StatusSucceeded, node.Finish()
		ev = event.NewTaskFinishedEvent(node, result)
	case IsCancelled(err):
		status, terr = task.StatusCancelled, node.MarkCancelled()
		ev = event.NewTaskCancelledEvent(node)
	default:
		status, terr = task.StatusFailed, node.Fail(err)
		ev = event.NewTaskFailedEvent(node, err)
	}
	if terr != nil {
		e.logger.WithPath(node.Path()).Error("failed to settle task", "error", terr.Error())
		return
	}

	e.logger.Debug("task settled", "path", node.Path(), "status", status.String())
	e.metrics.NodeSettled(status.String())
	e.bus.Publish(ev)
}

// Handle tracks a tree started with Engine.Start.
type Handle struct {
	root   *task.Node
	done   chan struct{}
	result any
	err    error
}

// Root returns the root node of the running tree.
func (h *Handle) Root() *task.Node { return h.root }

// Done is closed once the tree has settled.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the tree's result and error. It blocks until Done is closed.
func (h *Handle) Result() (any, error) {
	<-h.done
	return h.result, h.err
}

// Wait blocks until the tree settles or ctx is done.
func (h *Handle) Wait(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
