package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Iron-Ham/tasktree/internal/task"
)

// Sentinel errors for engine operations.
var (
	// ErrPanic marks a failure produced by a recovered panic in a task body.
	ErrPanic = errors.New("task panicked")

	// ErrNotPending is returned by Run when the root has already been started.
	ErrNotPending = errors.New("root task is not pending")
)

// Failure names one failed child of an All call.
type Failure struct {
	Path string
	Err  error
}

// AggregateError reports every failed child of a non-fail-fast All call.
type AggregateError struct {
	Message  string
	Total    int
	Failures []Failure
}

func (e *AggregateError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d tasks failed", len(e.Failures), e.Total)
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "; %s: %v", f.Path, f.Err)
	}
	return b.String()
}

// Unwrap exposes the child errors to errors.Is and errors.As.
func (e *AggregateError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Errors returns the child errors in input order.
func (e *AggregateError) Errors() []error {
	return e.Unwrap()
}

// IsCancelled reports whether err describes a cancellation rather than a
// failure. An AggregateError counts as cancelled only when every child it
// lists was cancelled.
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	var agg *AggregateError
	if errors.As(err, &agg) && len(agg.Failures) > 0 {
		for _, f := range agg.Failures {
			if !IsCancelled(f.Err) {
				return false
			}
		}
		return true
	}
	return errors.Is(err, task.ErrCancelled)
}
