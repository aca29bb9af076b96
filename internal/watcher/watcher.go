package watcher

import (
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/Iron-Ham/tasktree/internal/event"
	"github.com/Iron-Ham/tasktree/internal/logging"
	"github.com/Iron-Ham/tasktree/internal/metrics"
	"github.com/Iron-Ham/tasktree/internal/task"
)

// DefaultInterval is the flush period used when none is configured.
const DefaultInterval = 500 * time.Millisecond

// Watcher accumulates task changes and delivers them to an Observer in
// batches, at most once per interval.
type Watcher struct {
	observer Observer
	clock    clock.WithTicker
	interval time.Duration
	logger   *logging.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	pending Batch

	startOnce sync.Once
	stopOnce  sync.Once
	running   bool
	stop      chan struct{}
	done      chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithClock sets the clock driving the flush ticker.
func WithClock(c clock.WithTicker) Option {
	return func(w *Watcher) {
		w.clock = c
	}
}

// WithInterval sets the flush period. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLogger sets the watcher logger.
func WithLogger(logger *logging.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics records delivered batches on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Watcher) {
		w.metrics = m
	}
}

// New creates a Watcher delivering batches to observer.
// The ticker is not started until EnsureStarted is called.
func New(observer Observer, opts ...Option) *Watcher {
	w := &Watcher{
		observer: observer,
		clock:    clock.RealClock{},
		interval: DefaultInterval,
		logger:   logging.NopLogger(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.WithComponent("watcher")
	return w
}

// Interval returns the flush period.
func (w *Watcher) Interval() time.Duration {
	return w.interval
}

// EnsureStarted starts the flush ticker. Only the first call has an effect.
func (w *Watcher) EnsureStarted() {
	w.startOnce.Do(func() {
		w.running = true
		ticker := w.clock.NewTicker(w.interval)
		go w.loop(ticker)
		w.logger.Debug("watcher started", "interval", w.interval.String())
	})
}

func (w *Watcher) loop(ticker clock.Ticker) {
	defer close(w.done)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			w.Flush()
		case <-w.stop:
			return
		}
	}
}

// Stop halts the ticker, waits for the loop to exit and delivers whatever
// is still pending. A stopped watcher never restarts.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		// Prevent a later EnsureStarted from launching the loop.
		w.startOnce.Do(func() {})
		close(w.stop)
		if w.running {
			<-w.done
		}
	})
	w.Flush()
}

// Add records a newly admitted root.
func (w *Watcher) Add(id string, node task.Snapshot) {
	w.mu.Lock()
	w.pending.Adds = append(w.pending.Adds, Entry{ID: id, Node: node})
	w.mu.Unlock()
}

// Child records a child created under parentID.
func (w *Watcher) Child(parentID string, node task.Snapshot) {
	w.mu.Lock()
	w.pending.Children = append(w.pending.Children, Entry{ID: parentID, Node: node})
	w.mu.Unlock()
}

// Update records a progress update, coalescing with any earlier update for
// the same node in the current window.
func (w *Watcher) Update(id string, u task.Update) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending.Updates == nil {
		w.pending.Updates = make(map[string]task.Update)
	}
	if last, ok := w.pending.Updates[id]; ok {
		u = coalesce(last, u)
	}
	w.pending.Updates[id] = u
}

// Status records a terminal status change.
func (w *Watcher) Status(id string, status task.Status) {
	w.mu.Lock()
	w.pending.Statuses = append(w.pending.Statuses, StatusChange{ID: id, Status: status})
	w.mu.Unlock()
}

// Flush delivers the pending batch if it holds anything and resets the
// accumulators. It reports whether a batch was delivered.
func (w *Watcher) Flush() bool {
	w.mu.Lock()
	batch := w.pending
	w.pending = Batch{}
	w.mu.Unlock()

	if batch.IsEmpty() {
		return false
	}
	w.metrics.BatchFlushed(batch.Len())
	if w.observer != nil {
		w.observer.Notify(batch)
	}
	return true
}

// Attach subscribes the watcher to the engine and registry hooks on bus.
// The returned function removes the subscriptions.
func (w *Watcher) Attach(bus *event.Bus) (detach func()) {
	ids := []string{
		bus.Subscribe(event.TypeTaskAdded, func(e event.Event) {
			if ev, ok := e.(event.TaskAddedEvent); ok {
				w.Add(ev.TaskID, ev.Root)
			}
		}),
		bus.Subscribe(event.TypeTaskChild, func(e event.Event) {
			if ev, ok := e.(event.TaskChildEvent); ok {
				w.Child(ev.ParentID, ev.Child)
			}
		}),
		bus.Subscribe(event.TypeTaskUpdated, func(e event.Event) {
			if ev, ok := e.(event.TaskUpdatedEvent); ok {
				w.Update(ev.NodeID, ev.Update)
			}
		}),
	}
	ids = append(ids, bus.SubscribeTypes(func(e event.Event) {
		if id, status, ok := event.StatusOf(e); ok {
			w.Status(id, status)
		}
	}, event.TypeTaskFinished, event.TypeTaskFailed, event.TypeTaskCancelled)...)

	return func() {
		for _, id := range ids {
			bus.Unsubscribe(id)
		}
	}
}
