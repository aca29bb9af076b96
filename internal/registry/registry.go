package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/tasktree/internal/engine"
	"github.com/Iron-Ham/tasktree/internal/event"
	"github.com/Iron-Ham/tasktree/internal/logging"
	"github.com/Iron-Ham/tasktree/internal/metrics"
	"github.com/Iron-Ham/tasktree/internal/task"
	"github.com/Iron-Ham/tasktree/internal/watcher"
)

// ErrInvalidDescriptor is returned by Execute for a descriptor without a
// name or task.
var ErrInvalidDescriptor = errors.New("invalid task descriptor")

// BoundaryKind names the terminal outcome of a root task.
type BoundaryKind string

const (
	KindSucceeded BoundaryKind = "task-succeeded"
	KindFailed    BoundaryKind = "task-failed"
	KindCancelled BoundaryKind = "task-cancelled"
)

// BoundaryNotifier is told once when each root task settles.
type BoundaryNotifier interface {
	NotifyBoundary(kind BoundaryKind, id string)
}

// NotifierFunc adapts a function to BoundaryNotifier.
type NotifierFunc func(kind BoundaryKind, id string)

// NotifyBoundary calls f.
func (f NotifierFunc) NotifyBoundary(kind BoundaryKind, id string) { f(kind, id) }

// Descriptor names a workflow to execute.
type Descriptor struct {
	Name      string
	Arguments any
	Task      engine.Task
}

// Key returns the deduplication key of a workflow: the canonical JSON of its
// name and arguments.
func Key(name string, args any) (string, error) {
	data, err := json.Marshal(struct {
		Name      string `json:"name"`
		Arguments any    `json:"arguments"`
	}{name, args})
	if err != nil {
		return "", fmt.Errorf("failed to encode arguments of %s: %w", name, err)
	}
	return string(data), nil
}

type execution struct {
	id      string
	key     string
	name    string
	root    *task.Node
	started time.Time
	done    chan struct{}
	err     error
}

// Registry admits workflows, keeps at most one live execution per key and
// reports when each root settles.
// All methods are safe for concurrent use via an internal mutex.
type Registry struct {
	mu    sync.Mutex
	byKey map[string]*execution
	byID  map[string]*execution

	bus      *event.Bus
	engine   *engine.Engine
	watcher  *watcher.Watcher
	detach   func()
	notifier BoundaryNotifier
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithWatcher attaches w to the bus so every tree is reported through it.
func WithWatcher(w *watcher.Watcher) Option {
	return func(r *Registry) {
		r.watcher = w
	}
}

// WithNotifier sets the boundary notifier.
func WithNotifier(n BoundaryNotifier) Option {
	return func(r *Registry) {
		r.notifier = n
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records executions and dedup hits on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// New creates a Registry that runs workflows on eng and publishes tree
// boundaries on bus. A nil eng gets an engine on bus.
func New(bus *event.Bus, eng *engine.Engine, opts ...Option) *Registry {
	if bus == nil {
		bus = event.NewBus()
	}
	if eng == nil {
		eng = engine.New(bus)
	}
	r := &Registry{
		byKey:  make(map[string]*execution),
		byID:   make(map[string]*execution),
		bus:    bus,
		engine: eng,
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("registry")
	if r.watcher != nil {
		r.detach = r.watcher.Attach(bus)
	}
	return r
}

// Execute starts d unless an equivalent workflow is still running, in which
// case the running workflow's id is returned. The root is running by the
// time Execute returns. ctx values are passed to the workflow but its
// cancellation is not; use Cancel.
func (r *Registry) Execute(ctx context.Context, d Descriptor) (string, error) {
	if d.Name == "" || d.Task == nil {
		return "", ErrInvalidDescriptor
	}
	key, err := Key(d.Name, d.Arguments)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	// A settled root stays in byKey until await retires it; it no longer
	// counts as running.
	if ex, ok := r.byKey[key]; ok && !ex.root.Status().IsTerminal() {
		r.mu.Unlock()
		r.metrics.DedupHit()
		r.logger.Debug("task already running", "task_id", ex.id, "name", d.Name)
		return ex.id, nil
	}
	id := uuid.NewString()
	ex := &execution{
		id:      id,
		key:     key,
		name:    d.Name,
		root:    task.New(id, d.Name),
		started: time.Now(),
		done:    make(chan struct{}),
	}
	r.byKey[key] = ex
	r.byID[id] = ex
	r.mu.Unlock()

	r.logger.Info("Task Execute", "task_id", id, "name", d.Name)
	r.metrics.ExecutionStarted()
	if r.watcher != nil {
		r.watcher.EnsureStarted()
	}

	h := r.engine.Start(context.WithoutCancel(ctx), ex.root, d.Task)
	go r.await(ex, h)
	return id, nil
}

func (r *Registry) await(ex *execution, h *engine.Handle) {
	result, err := h.Result()
	status := ex.root.Status()

	r.mu.Lock()
	if r.byKey[ex.key] == ex {
		delete(r.byKey, ex.key)
	}
	delete(r.byID, ex.id)
	r.mu.Unlock()

	logger := r.logger.WithTask(ex.id)
	var kind BoundaryKind
	switch status {
	case task.StatusSucceeded:
		kind = KindSucceeded
		logger.Info("Task Finish", "name", ex.name, "duration", time.Since(ex.started).String())
	case task.StatusCancelled:
		kind = KindCancelled
		logger.Info("Task Cancelled", "name", ex.name)
	default:
		kind = KindFailed
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		logger.Error("Task Error", "name", ex.name, "error", msg)
	}

	r.metrics.ExecutionFinished(ex.name, status.String(), time.Since(ex.started))
	r.bus.Publish(event.NewTreeSettledEvent(ex.id, ex.name, status, result, err))
	if r.notifier != nil {
		r.notifier.NotifyBoundary(kind, ex.id)
	}

	ex.err = err
	close(ex.done)
}

func (r *Registry) lookup(id string) *execution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id]
}

// Cancel requests cooperative cancellation of the workflow with id. It
// reports whether a running workflow was found.
func (r *Registry) Cancel(id string) bool {
	ex := r.lookup(id)
	if ex == nil {
		return false
	}
	r.logger.Info("Task Cancel", "task_id", id, "name", ex.name)
	ex.root.Cancel()
	return true
}

// Wait blocks until the workflow with id settles and returns its error.
// Unknown or already settled ids return nil immediately.
func (r *Registry) Wait(ctx context.Context, id string) error {
	ex := r.lookup(id)
	if ex == nil {
		return nil
	}
	select {
	case <-ex.done:
		return ex.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Lookup returns a snapshot of a running workflow's tree.
func (r *Registry) Lookup(id string) (task.Snapshot, bool) {
	ex := r.lookup(id)
	if ex == nil {
		return task.Snapshot{}, false
	}
	return ex.root.Snapshot(), true
}

// Running returns the ids of every live workflow, sorted.
func (r *Registry) Running() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Shutdown cancels every live workflow and waits for them to settle or for
// ctx to be done. The attached watcher is stopped afterwards, flushing what
// it still holds.
func (r *Registry) Shutdown(ctx context.Context) error {
	for _, id := range r.Running() {
		r.Cancel(id)
	}
	var err error
	for _, id := range r.Running() {
		_ = r.Wait(ctx, id)
		if err = ctx.Err(); err != nil {
			break
		}
	}
	if r.watcher != nil {
		r.detach()
		r.watcher.Stop()
	}
	return err
}
