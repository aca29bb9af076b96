// Package engine runs task trees built from a closed set of variants.
//
// A [Leaf] body receives a [Context] bound to its node and uses it to report
// progress, chain sub-tasks with [Context.Yield], fan out with [Context.All]
// and mark suspension points with [Context.Step]. [Sequence] and [Parallel]
// are shorthands for the two composition patterns, and [Map] transforms a
// result after success.
//
// # Hooks
//
// Every state change is published on the engine's [event.Bus]: a
// "task.child" event when a child node is created, "task.updated" for each
// progress report, and exactly one of "task.finished", "task.failed" or
// "task.cancelled" when a node settles. Hooks fire for the root as well as
// every descendant.
//
// # Failure Aggregation
//
// All fails fast by default: the first child error is returned while the
// other children keep running. With AllOptions{FailFast: false} it waits for
// every child and returns an [*AggregateError] naming each failed path.
//
// # Cancellation
//
// Yield, All and Step check the node's cancellation token before doing
// anything. A body that returns an error wrapping [task.ErrCancelled] settles
// as cancelled, not failed. Work already in progress is never interrupted.
//
// # Basic Usage
//
//	eng := engine.New(bus, engine.WithLogger(logger))
//	root := task.New(uuid.NewString(), "install")
//	result, err := eng.Run(ctx, root, engine.Leaf{
//	    Name: "install",
//	    Run: func(c *engine.Context) (any, error) {
//	        return c.Yield(downloadTask)
//	    },
//	})
package engine
