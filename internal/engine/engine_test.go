package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/tasktree/internal/event"
	"github.com/Iron-Ham/tasktree/internal/task"
	"github.com/Iron-Ham/tasktree/internal/testutil"
)

func newTestEngine(t *testing.T) (*Engine, *testutil.EventRecorder) {
	t.Helper()
	bus := event.NewBus()
	return New(bus), testutil.RecordEvents(t, bus)
}

func value(name string, v any) Leaf {
	return Leaf{Name: name, Run: func(*Context) (any, error) { return v, nil }}
}

func failing(name string, err error) Leaf {
	return Leaf{Name: name, Run: func(*Context) (any, error) { return nil, err }}
}

func TestRun_LeafSucceeds(t *testing.T) {
	eng, rec := newTestEngine(t)
	root := task.New("r", "root")

	result, err := eng.Run(context.Background(), root, value("root", 42))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != 42 {
		t.Errorf("result = %v, want 42", result)
	}
	if root.Status() != task.StatusSucceeded {
		t.Errorf("root status = %s, want succeeded", root.Status())
	}
	want := []string{event.TypeTaskAdded, event.TypeTaskFinished}
	if got := rec.Types(); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestRun_RejectsStartedRoot(t *testing.T) {
	eng, _ := newTestEngine(t)
	root := task.New("r", "root")
	_ = root.Start()

	if _, err := eng.Run(context.Background(), root, value("root", 1)); !errors.Is(err, ErrNotPending) {
		t.Errorf("Run error = %v, want ErrNotPending", err)
	}
}

func TestYield_ChainsChildren(t *testing.T) {
	eng, rec := newTestEngine(t)
	root := task.New("r", "install")

	body := Leaf{Name: "install", Run: func(c *Context) (any, error) {
		a, err := c.Yield(value("unpack", 1))
		if err != nil {
			return nil, err
		}
		b, err := c.Yield(value("download", 2))
		if err != nil {
			return nil, err
		}
		return a.(int) + b.(int), nil
	}}

	result, err := eng.Run(context.Background(), root, body)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != 3 {
		t.Errorf("result = %v, want 3", result)
	}

	want := []string{
		event.TypeTaskAdded,
		event.TypeTaskChild, event.TypeTaskFinished,
		event.TypeTaskChild, event.TypeTaskFinished,
		event.TypeTaskFinished,
	}
	if fmt.Sprint(rec.Types()) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", rec.Types(), want)
	}

	children := root.Children()
	if len(children) != 2 || children[0].Path() != "install/unpack" || children[1].ID() != "r-1" {
		t.Errorf("unexpected children: %v", children)
	}
}

func TestYield_PropagatesChildFailure(t *testing.T) {
	eng, _ := newTestEngine(t)
	root := task.New("r", "root")
	boom := errors.New("boom")

	_, err := eng.Run(context.Background(), root, Leaf{Name: "root", Run: func(c *Context) (any, error) {
		return c.Yield(failing("child", boom))
	}})

	if !errors.Is(err, boom) {
		t.Errorf("Run error = %v, want boom", err)
	}
	if root.Status() != task.StatusFailed {
		t.Errorf("root status = %s, want failed", root.Status())
	}
	if child := root.Children()[0]; child.Status() != task.StatusFailed {
		t.Errorf("child status = %s, want failed", child.Status())
	}
}

func TestSequenceAndMap(t *testing.T) {
	eng, _ := newTestEngine(t)
	root := task.New("r", "seq")

	seq := Map(Sequence{Name: "seq", Steps: []Task{value("a", 1), value("b", 2)}}, func(v any) (any, error) {
		return v.(int) * 10, nil
	})

	result, err := eng.Run(context.Background(), root, seq)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != 20 {
		t.Errorf("result = %v, want 20", result)
	}
	if root.Name() != "seq" || len(root.Children()) != 2 {
		t.Errorf("root %s has %d children, want seq with 2", root.Name(), len(root.Children()))
	}
}

func TestAll_ResultsInInputOrder(t *testing.T) {
	eng, _ := newTestEngine(t)
	root := task.New("r", "root")

	tasks := make([]Task, 5)
	for i := range tasks {
		delay := time.Duration(5-i) * time.Millisecond
		tasks[i] = Leaf{Name: fmt.Sprintf("t%d", i), Run: func(*Context) (any, error) {
			time.Sleep(delay)
			return i, nil
		}}
	}

	result, err := eng.Run(context.Background(), root, Parallel{Name: "root", Tasks: tasks})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	results := result.([]any)
	for i, r := range results {
		if r != i {
			t.Errorf("results[%d] = %v, want %d", i, r, i)
		}
	}
}

// One fails immediately, the other succeeds later: fail-fast returns right
// away while the other child still completes.
func TestAll_FailFast(t *testing.T) {
	eng, rec := newTestEngine(t)
	root := task.New("r", "root")
	release := make(chan struct{})
	boom := errors.New("boom")

	slow := Leaf{Name: "slow", Run: func(*Context) (any, error) {
		<-release
		return "done", nil
	}}

	_, err := eng.Run(context.Background(), root, Leaf{Name: "root", Run: func(c *Context) (any, error) {
		return c.All([]Task{failing("fast", boom), slow})
	}})
	if !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want boom", err)
	}
	if root.Status() != task.StatusFailed {
		t.Errorf("root status = %s, want failed", root.Status())
	}

	slowNode := root.Children()[1]
	if slowNode.Status().IsTerminal() {
		t.Errorf("slow child status = %s, want it still in flight", slowNode.Status())
	}

	close(release)
	testutil.WaitFor(t, time.Second, func() bool {
		return slowNode.Status() == task.StatusSucceeded
	})
	testutil.WaitFor(t, time.Second, func() bool {
		return rec.Count(event.TypeTaskFinished) == 1
	})
}

func TestParallel_FailureModes(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name       string
		collectAll bool
		wantAgg    bool
	}{
		{"zero value fails fast", false, false},
		{"collect all", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, _ := newTestEngine(t)
			root := task.New("r", "root")
			release := make(chan struct{})
			slow := Leaf{Name: "slow", Run: func(*Context) (any, error) {
				<-release
				return nil, errors.New("late")
			}}

			if !tt.collectAll {
				// Fail-fast must return before the slow child is released.
				defer close(release)
			} else {
				time.AfterFunc(20*time.Millisecond, func() { close(release) })
			}

			_, err := eng.Run(context.Background(), root, Parallel{
				Name:       "root",
				Tasks:      []Task{failing("fast", boom), slow},
				CollectAll: tt.collectAll,
			})
			if !errors.Is(err, boom) {
				t.Fatalf("Run error = %v, want boom", err)
			}
			var agg *AggregateError
			if got := errors.As(err, &agg); got != tt.wantAgg {
				t.Errorf("AggregateError = %v, want %v (err %v)", got, tt.wantAgg, err)
			}
			if tt.wantAgg && len(agg.Errors()) != 2 {
				t.Errorf("aggregated %d errors, want 2", len(agg.Errors()))
			}
		})
	}
}

func TestAll_AggregatesFailures(t *testing.T) {
	eng, rec := newTestEngine(t)
	root := task.New("r", "root")

	tasks := []Task{
		failing("a", errors.New("bad a")),
		value("b", "ok"),
		failing("c", errors.New("bad c")),
	}

	_, err := eng.Run(context.Background(), root, Leaf{Name: "root", Run: func(c *Context) (any, error) {
		return c.All(tasks, AllOptions{ErrorMessage: func(errs []error) string {
			parts := make([]string, len(errs))
			for i, e := range errs {
				parts[i] = e.Error()
			}
			return "Fail to install: " + strings.Join(parts, "\n")
		}})
	}})

	var agg *AggregateError
	if !errors.As(err, &agg) {
		t.Fatalf("Run error = %v, want *AggregateError", err)
	}
	if len(agg.Failures) != 2 || agg.Total != 3 {
		t.Fatalf("failures = %d of %d, want 2 of 3", len(agg.Failures), agg.Total)
	}
	if agg.Failures[0].Path != "root/a" || agg.Failures[1].Path != "root/c" {
		t.Errorf("failure paths = %s, %s", agg.Failures[0].Path, agg.Failures[1].Path)
	}
	if agg.Error() != "Fail to install: bad a\nbad c" {
		t.Errorf("Error() = %q", agg.Error())
	}

	// All three children settle before All returns.
	if got := rec.Count(event.TypeTaskFailed); got != 3 {
		t.Errorf("task.failed events = %d, want 3 (two children and root)", got)
	}
	if got := rec.Count(event.TypeTaskFinished); got != 1 {
		t.Errorf("task.finished events = %d, want 1", got)
	}
}

func TestAggregateError_DefaultMessage(t *testing.T) {
	agg := &AggregateError{Total: 2, Failures: []Failure{{Path: "root/a", Err: errors.New("x")}}}
	if got := agg.Error(); got != "1 of 2 tasks failed; root/a: x" {
		t.Errorf("Error() = %q", got)
	}
}

func TestStep_CancelledBeforeRun(t *testing.T) {
	eng, rec := newTestEngine(t)
	root := task.New("r", "root")
	ran := false

	_, err := eng.Run(context.Background(), root, Leaf{Name: "root", Run: func(c *Context) (any, error) {
		root.Cancel()
		return nil, c.Step(func(context.Context) error {
			ran = true
			return nil
		})
	}})

	if !errors.Is(err, task.ErrCancelled) {
		t.Fatalf("Run error = %v, want ErrCancelled", err)
	}
	if ran {
		t.Error("step ran after cancellation")
	}
	if root.Status() != task.StatusCancelled {
		t.Errorf("root status = %s, want cancelled", root.Status())
	}
	if rec.Count(event.TypeTaskCancelled) != 1 || rec.Count(event.TypeTaskFailed) != 0 {
		t.Errorf("events = %v, want a single task.cancelled", rec.Types())
	}
}

func TestCancel_InFlightStepCompletes(t *testing.T) {
	eng, _ := newTestEngine(t)
	root := task.New("r", "root")
	started := make(chan struct{})
	release := make(chan struct{})
	var secondRan bool

	h := eng.Start(context.Background(), root, Leaf{Name: "root", Run: func(c *Context) (any, error) {
		err := c.Step(func(context.Context) error {
			close(started)
			<-release
			return nil
		})
		if err != nil {
			return nil, err
		}
		return nil, c.Step(func(context.Context) error {
			secondRan = true
			return nil
		})
	}})

	<-started
	root.Cancel()
	close(release)

	_, err := h.Result()
	if !errors.Is(err, task.ErrCancelled) {
		t.Fatalf("Result error = %v, want ErrCancelled", err)
	}
	if secondRan {
		t.Error("second step should not run after cancellation")
	}
}

func TestCancel_DescendantsSettleCancelled(t *testing.T) {
	eng, _ := newTestEngine(t)
	root := task.New("r", "root")
	started := make(chan struct{}, 2)
	release := make(chan struct{})

	child := func(name string) Task {
		return Leaf{Name: name, Run: func(c *Context) (any, error) {
			started <- struct{}{}
			<-release
			return nil, c.Step(func(context.Context) error { return nil })
		}}
	}

	h := eng.Start(context.Background(), root, Parallel{Name: "root", Tasks: []Task{child("a"), child("b")}, CollectAll: true})
	<-started
	<-started
	root.Cancel()
	close(release)

	if _, err := h.Result(); !IsCancelled(err) {
		t.Fatalf("Result error = %v, want cancellation", err)
	}
	root.Walk(func(n *task.Node) {
		if n.Status() != task.StatusCancelled {
			t.Errorf("%s status = %s, want cancelled", n.Path(), n.Status())
		}
	})
}

func TestRun_ContextCancellationStopsSteps(t *testing.T) {
	eng, _ := newTestEngine(t)
	root := task.New("r", "root")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.Run(ctx, root, Leaf{Name: "root", Run: func(c *Context) (any, error) {
		return c.Yield(value("child", 1))
	}})
	if !errors.Is(err, task.ErrCancelled) || !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want ErrCancelled wrapping context.Canceled", err)
	}
	if len(root.Children()) != 0 {
		t.Error("no child should be created after cancellation")
	}
}

func TestRun_PanicBecomesFailure(t *testing.T) {
	eng, rec := newTestEngine(t)
	root := task.New("r", "root")

	_, err := eng.Run(context.Background(), root, Leaf{Name: "root", Run: func(*Context) (any, error) {
		panic("kaboom")
	}})

	if !errors.Is(err, ErrPanic) {
		t.Fatalf("Run error = %v, want ErrPanic", err)
	}
	if root.Status() != task.StatusFailed {
		t.Errorf("root status = %s, want failed", root.Status())
	}
	if rec.Count(event.TypeTaskFailed) != 1 {
		t.Errorf("events = %v, want one task.failed", rec.Types())
	}
}

func TestUpdate_PublishesAppliedFields(t *testing.T) {
	eng, rec := newTestEngine(t)
	root := task.New("r", "root")

	_, err := eng.Run(context.Background(), root, Leaf{Name: "root", Run: func(c *Context) (any, error) {
		c.Update(5, 10, "")
		c.SetMessage("halfway")
		c.Update(50, 0, "")
		c.Report(task.Update{})
		return nil, nil
	}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var updates []task.Update
	for _, e := range rec.Events() {
		if u, ok := e.(event.TaskUpdatedEvent); ok {
			updates = append(updates, u.Update)
		}
	}
	want := []task.Update{
		{Progress: 5, Total: 10},
		{Message: "halfway"},
		{Progress: 10},
	}
	if fmt.Sprint(updates) != fmt.Sprint(want) {
		t.Errorf("updates = %v, want %v", updates, want)
	}
}

func TestHooks_ConcurrentChildrenAllReported(t *testing.T) {
	eng, rec := newTestEngine(t)
	root := task.New("r", "root")

	var mu sync.Mutex
	seen := make(map[string]bool)
	eng.Bus().Subscribe(event.TypeTaskChild, func(e event.Event) {
		mu.Lock()
		seen[e.(event.TaskChildEvent).Child.ID] = true
		mu.Unlock()
	})

	tasks := make([]Task, 20)
	for i := range tasks {
		tasks[i] = value(fmt.Sprintf("c%d", i), i)
	}
	if _, err := eng.Run(context.Background(), root, Parallel{Name: "root", Tasks: tasks}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(seen) != 20 {
		t.Errorf("child hooks = %d, want 20", len(seen))
	}
	if got := rec.Count(event.TypeTaskFinished); got != 21 {
		t.Errorf("finished hooks = %d, want 21", got)
	}
}

func TestHandle_WaitHonoursContext(t *testing.T) {
	eng, _ := newTestEngine(t)
	root := task.New("r", "root")
	release := make(chan struct{})
	defer close(release)

	h := eng.Start(context.Background(), root, Leaf{Name: "root", Run: func(*Context) (any, error) {
		<-release
		return nil, nil
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := h.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait error = %v, want DeadlineExceeded", err)
	}
}

func TestIsCancelled(t *testing.T) {
	cancelled := fmt.Errorf("%w: root/a", task.ErrCancelled)
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("x"), false},
		{"cancelled", cancelled, true},
		{"wrapped", fmt.Errorf("install: %w", cancelled), true},
		{"all cancelled", &AggregateError{Failures: []Failure{{Err: cancelled}, {Err: cancelled}}}, true},
		{"mixed", &AggregateError{Failures: []Failure{{Err: cancelled}, {Err: errors.New("x")}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCancelled(tt.err); got != tt.want {
				t.Errorf("IsCancelled(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
