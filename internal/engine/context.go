package engine

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/tasktree/internal/event"
	"github.com/Iron-Ham/tasktree/internal/task"
)

// Context is handed to a running task body. It is bound to one node.
type Context struct {
	ctx    context.Context
	engine *Engine
	node   *task.Node
}

// AllOptions controls how Context.All reports child failures.
type AllOptions struct {
	// FailFast returns the first child error as soon as it occurs. The other
	// children keep running and are observable only through hooks.
	FailFast bool

	// ErrorMessage, when set, builds the AggregateError message from the
	// child errors. Ignored when FailFast is set.
	ErrorMessage func(errs []error) string
}

// FailFast returns the default All options.
func FailFast() AllOptions {
	return AllOptions{FailFast: true}
}

// Node returns the node this body runs on.
func (c *Context) Node() *task.Node { return c.node }

// Token returns the node's cancellation token.
func (c *Context) Token() task.Token { return c.node.Token() }

// Context returns the run context passed to Engine.Run.
func (c *Context) Context() context.Context { return c.ctx }

// Step is a suspension point. It runs fn unless cancellation has been
// requested, in which case it returns an error wrapping task.ErrCancelled
// without calling fn. fn is not interrupted once started.
func (c *Context) Step(fn func(ctx context.Context) error) error {
	if err := c.check(); err != nil {
		return err
	}
	return fn(c.ctx)
}

// Yield runs t to completion as a new child and returns its result.
// A child failure is returned to the caller unchanged.
func (c *Context) Yield(t Task) (any, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.engine.runNode(c.ctx, c.spawn(t), t)
}

// All starts every task as a child concurrently and returns their results in
// input order. Without options it fails fast.
func (c *Context) All(tasks []Task, opts ...AllOptions) ([]any, error) {
	o := FailFast()
	if len(opts) > 0 {
		o = opts[0]
	}
	if err := c.check(); err != nil {
		return nil, err
	}

	children := make([]*task.Node, len(tasks))
	for i, t := range tasks {
		children[i] = c.spawn(t)
	}

	results := make([]any, len(tasks))
	errs := make([]error, len(tasks))
	settled := make(chan int, len(tasks))

	var wg conc.WaitGroup
	for i := range tasks {
		wg.Go(func() {
			results[i], errs[i] = c.engine.runNode(c.ctx, children[i], tasks[i])
			settled <- i
		})
	}

	if o.FailFast {
		for range tasks {
			if i := <-settled; errs[i] != nil {
				return nil, errs[i]
			}
		}
		return results, nil
	}

	wg.Wait()
	agg := &AggregateError{Total: len(tasks)}
	var failed []error
	for i, err := range errs {
		if err == nil {
			continue
		}
		agg.Failures = append(agg.Failures, Failure{Path: children[i].Path(), Err: err})
		failed = append(failed, err)
	}
	if len(failed) == 0 {
		return results, nil
	}
	if o.ErrorMessage != nil {
		agg.Message = o.ErrorMessage(failed)
	}
	return nil, agg
}

// Update applies the non-zero fields to the node and publishes the update.
func (c *Context) Update(progress, total int64, message string) {
	c.Report(task.Update{Progress: progress, Total: total, Message: message})
}

// SetMessage reports a message-only update.
func (c *Context) SetMessage(message string) {
	c.Report(task.Update{Message: message})
}

// Report applies u to the node and publishes it if anything was carried.
func (c *Context) Report(u task.Update) {
	applied, err := c.node.Apply(u)
	if err != nil {
		c.engine.logger.Debug("dropped progress update", "path", c.node.Path(), "error", err.Error())
		return
	}
	if applied.IsEmpty() {
		return
	}
	c.engine.bus.Publish(event.NewTaskUpdatedEvent(c.node, applied))
}

// Progress returns a callback suitable for byte-counting adapters.
func (c *Context) Progress() func(done, total int64) {
	return func(done, total int64) {
		c.Update(done, total, "")
	}
}

func (c *Context) spawn(t Task) *task.Node {
	child := c.node.AddChild(NameOf(t))
	c.engine.bus.Publish(event.NewTaskChildEvent(c.node, child))
	return child
}

func (c *Context) check() error {
	if err := c.node.Token().Check(); err != nil {
		return err
	}
	if err := c.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", task.ErrCancelled, err)
	}
	return nil
}
