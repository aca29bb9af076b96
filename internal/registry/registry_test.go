package registry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/tasktree/internal/engine"
	"github.com/Iron-Ham/tasktree/internal/event"
	"github.com/Iron-Ham/tasktree/internal/fetch"
	"github.com/Iron-Ham/tasktree/internal/metrics"
	"github.com/Iron-Ham/tasktree/internal/modpack"
	"github.com/Iron-Ham/tasktree/internal/task"
	"github.com/Iron-Ham/tasktree/internal/testutil"
	"github.com/Iron-Ham/tasktree/internal/watcher"
)

var errBroken = errors.New("broken")

// gated returns a task that blocks until gate is closed, then passes one
// suspension point.
func gated(name string, gate <-chan struct{}) engine.Task {
	return engine.Leaf{Name: name, Run: func(c *engine.Context) (any, error) {
		<-gate
		return nil, c.Step(func(context.Context) error { return nil })
	}}
}

type boundaries struct {
	mu    sync.Mutex
	kinds map[string]BoundaryKind
	count int
}

func (b *boundaries) NotifyBoundary(kind BoundaryKind, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.kinds == nil {
		b.kinds = make(map[string]BoundaryKind)
	}
	b.kinds[id] = kind
	b.count++
}

func (b *boundaries) kind(id string) BoundaryKind {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.kinds[id]
}

func (b *boundaries) total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *testutil.EventRecorder, *boundaries) {
	t.Helper()
	bus := event.NewBus()
	notifier := &boundaries{}
	r := New(bus, engine.New(bus), append([]Option{WithNotifier(notifier)}, opts...)...)
	return r, testutil.RecordEvents(t, bus), notifier
}

func TestExecute_StartsRunningRoot(t *testing.T) {
	r, rec, notifier := newTestRegistry(t)
	gate := make(chan struct{})

	id, err := r.Execute(context.Background(), Descriptor{Name: "pack-1", Task: gated("pack-1", gate)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	snap, ok := r.Lookup(id)
	if !ok {
		t.Fatal("Lookup should find a running task")
	}
	if snap.Status != task.StatusRunning || snap.Progress != task.Unknown || snap.Total != task.Unknown {
		t.Errorf("root = {%s %d %d}, want {running -1 -1}", snap.Status, snap.Progress, snap.Total)
	}

	events := rec.Events()
	if len(events) == 0 {
		t.Fatal("no events published")
	}
	added, ok := events[0].(event.TaskAddedEvent)
	if !ok {
		t.Fatalf("first event = %s, want task.added", events[0].EventType())
	}
	if added.TaskID != id || added.Root.Status != task.StatusRunning || added.Root.Name != "pack-1" {
		t.Errorf("added event = %+v", added)
	}

	close(gate)
	testutil.WaitFor(t, 2*time.Second, func() bool { return notifier.total() == 1 })

	if got := notifier.kind(id); got != KindSucceeded {
		t.Errorf("boundary = %q, want %q", got, KindSucceeded)
	}
	if got := rec.Count(event.TypeTreeSucceeded); got != 1 {
		t.Errorf("tree.succeeded events = %d, want 1", got)
	}
	if _, ok := r.Lookup(id); ok {
		t.Error("settled task should be removed")
	}
	if len(r.Running()) != 0 {
		t.Errorf("Running() = %v, want empty", r.Running())
	}
}

func TestExecute_DeduplicatesWhileRunning(t *testing.T) {
	r, rec, notifier := newTestRegistry(t)
	gate := make(chan struct{})
	args := map[string]any{"file": "pack.zip", "dest": "/instances/a"}

	first, err := r.Execute(context.Background(), Descriptor{Name: "install", Arguments: args, Task: gated("install", gate)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	second, err := r.Execute(context.Background(), Descriptor{Name: "install", Arguments: args, Task: gated("install", gate)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if first != second {
		t.Errorf("ids differ for identical arguments: %s vs %s", first, second)
	}

	other, _ := r.Execute(context.Background(), Descriptor{
		Name:      "install",
		Arguments: map[string]any{"file": "pack.zip", "dest": "/instances/b"},
		Task:      gated("install", gate),
	})
	if other == first {
		t.Error("different arguments must not share an execution")
	}

	close(gate)
	testutil.WaitFor(t, 2*time.Second, func() bool { return notifier.total() == 2 })
	if got := rec.Count(event.TypeTaskAdded); got != 2 {
		t.Errorf("task.added events = %d, want 2", got)
	}

	// A settled key may run again under a new id.
	again, err := r.Execute(context.Background(), Descriptor{Name: "install", Arguments: args, Task: gated("install", gate)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if again == first {
		t.Error("a settled execution must not be reused")
	}
}

func TestExecute_ConcurrentCallersShareOneExecution(t *testing.T) {
	r, rec, _ := newTestRegistry(t)
	gate := make(chan struct{})
	defer close(gate)

	ids := make([]string, 20)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids[i], _ = r.Execute(context.Background(), Descriptor{
				Name:      "install",
				Arguments: []string{"pack.zip"},
				Task:      gated("install", gate),
			})
		}()
	}
	wg.Wait()

	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("concurrent Execute returned different ids: %v", ids)
		}
	}
	if got := rec.Count(event.TypeTaskAdded); got != 1 {
		t.Errorf("task.added events = %d, want 1", got)
	}
	if got := len(r.Running()); got != 1 {
		t.Errorf("Running() = %d ids, want 1", got)
	}
}

func TestExecute_InstallDownloadsOncePerFile(t *testing.T) {
	r, _, notifier := newTestRegistry(t)

	archive := testutil.BuildZip(t, map[string]string{
		modpack.CurseforgeManifestName: `{"name":"p","files":[{"projectID":1,"fileID":10},{"projectID":2,"fileID":20}]}`,
	})
	manifest, err := modpack.ReadMetadata(archive)
	if err != nil {
		t.Fatal(err)
	}
	downloader := &testutil.RecordingDownloader{Gate: make(chan struct{})}
	dest := filepath.Join(t.TempDir(), "instance")

	descriptor := func() Descriptor {
		return Descriptor{
			Name:      "install",
			Arguments: map[string]string{"file": "p.zip", "dest": dest},
			Task: modpack.InstallTask(modpack.Params{
				Archive:    archive,
				Manifest:   manifest,
				Root:       dest,
				Resolver:   testutil.NewScriptedResolver(nil),
				Downloader: downloader,
				Extractor:  fetch.NewZipExtractor(nil),
			}),
		}
	}

	first, _ := r.Execute(context.Background(), descriptor())
	second, _ := r.Execute(context.Background(), descriptor())
	if first != second {
		t.Fatalf("ids differ: %s vs %s", first, second)
	}

	close(downloader.Gate)
	testutil.WaitFor(t, 2*time.Second, func() bool { return notifier.total() == 1 })

	if got := len(downloader.Requests()); got != 2 {
		t.Errorf("download calls = %d, want 2 (one per distinct file)", got)
	}
	if got := notifier.kind(first); got != KindSucceeded {
		t.Errorf("boundary = %q, want %q", got, KindSucceeded)
	}
}

func TestCancel_SettlesAsCancelled(t *testing.T) {
	r, rec, notifier := newTestRegistry(t)
	gate := make(chan struct{})

	id, _ := r.Execute(context.Background(), Descriptor{Name: "install", Task: gated("install", gate)})
	if !r.Cancel(id) {
		t.Fatal("Cancel should find the running task")
	}
	time.AfterFunc(20*time.Millisecond, func() { close(gate) })

	err := r.Wait(context.Background(), id)
	if !engine.IsCancelled(err) {
		t.Errorf("Wait error = %v, want cancellation", err)
	}
	if got := notifier.kind(id); got != KindCancelled {
		t.Errorf("boundary = %q, want %q", got, KindCancelled)
	}
	if got := rec.Count(event.TypeTreeCancelled); got != 1 {
		t.Errorf("tree.cancelled events = %d, want 1", got)
	}
}

func TestWait_ReturnsFailure(t *testing.T) {
	r, rec, notifier := newTestRegistry(t)
	gate := make(chan struct{})

	id, _ := r.Execute(context.Background(), Descriptor{Name: "install", Task: engine.Leaf{
		Name: "install",
		Run: func(*engine.Context) (any, error) {
			<-gate
			return nil, errBroken
		},
	}})
	time.AfterFunc(20*time.Millisecond, func() { close(gate) })

	if err := r.Wait(context.Background(), id); !errors.Is(err, errBroken) {
		t.Errorf("Wait error = %v, want errBroken", err)
	}
	if got := notifier.kind(id); got != KindFailed {
		t.Errorf("boundary = %q, want %q", got, KindFailed)
	}

	for _, e := range rec.Events() {
		if settled, ok := e.(event.TreeSettledEvent); ok {
			if settled.EventType() != event.TypeTreeFailed || !errors.Is(settled.Err, errBroken) {
				t.Errorf("settled event = %s %v, want tree.failed with errBroken", settled.EventType(), settled.Err)
			}
		}
	}
}

func TestExecute_RetryFromRootFailureHook(t *testing.T) {
	bus := event.NewBus()
	r := New(bus, engine.New(bus))

	var attempts atomic.Int32
	d := Descriptor{Name: "install", Arguments: "pack.zip", Task: engine.Leaf{
		Name: "install",
		Run: func(*engine.Context) (any, error) {
			if attempts.Add(1) == 1 {
				return nil, errBroken
			}
			return "ok", nil
		},
	}}

	retried := make(chan string, 1)
	var once sync.Once
	bus.Subscribe(event.TypeTaskFailed, func(e event.Event) {
		ev := e.(event.TaskFailedEvent)
		if ev.NodeID != ev.TaskID {
			return
		}
		once.Do(func() {
			id, err := r.Execute(context.Background(), d)
			if err != nil {
				t.Errorf("retry Execute: %v", err)
			}
			retried <- id
		})
	})

	first, err := r.Execute(context.Background(), d)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var retry string
	select {
	case retry = <-retried:
	case <-time.After(2 * time.Second):
		t.Fatal("root failure hook never fired")
	}
	if retry == first {
		t.Fatalf("retry returned settled execution %s, want a new id", first)
	}
	if err := r.Wait(context.Background(), retry); err != nil {
		t.Errorf("Wait(retry) = %v, want nil", err)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestUnknownIDsAreNoOps(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	if r.Cancel("missing") {
		t.Error("Cancel of an unknown id should report false")
	}
	if err := r.Wait(context.Background(), "missing"); err != nil {
		t.Errorf("Wait of an unknown id = %v, want nil", err)
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Error("Lookup of an unknown id should fail")
	}
}

func TestWait_HonoursContext(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	gate := make(chan struct{})
	defer close(gate)

	id, _ := r.Execute(context.Background(), Descriptor{Name: "install", Task: gated("install", gate)})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := r.Wait(ctx, id); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait error = %v, want DeadlineExceeded", err)
	}
}

func TestExecute_CallerContextDoesNotCancel(t *testing.T) {
	r, _, notifier := newTestRegistry(t)
	gate := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	id, _ := r.Execute(ctx, Descriptor{Name: "install", Task: gated("install", gate)})
	cancel()
	close(gate)

	testutil.WaitFor(t, 2*time.Second, func() bool { return notifier.total() == 1 })
	if got := notifier.kind(id); got != KindSucceeded {
		t.Errorf("boundary = %q, want %q", got, KindSucceeded)
	}
}

func TestExecute_InvalidDescriptor(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	if _, err := r.Execute(context.Background(), Descriptor{Name: "install"}); !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("Execute error = %v, want ErrInvalidDescriptor", err)
	}
	_, err := r.Execute(context.Background(), Descriptor{
		Name:      "install",
		Arguments: map[string]any{"f": func() {}},
		Task:      engine.Leaf{Name: "install"},
	})
	if err == nil {
		t.Error("unencodable arguments should be rejected")
	}
}

func TestKey_Canonical(t *testing.T) {
	a, err := Key("install", map[string]int{"b": 1, "a": 2})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"name":"install","arguments":{"a":2,"b":1}}`
	if a != want {
		t.Errorf("Key() = %s, want %s", a, want)
	}
}

func TestShutdown_FlushesWatcher(t *testing.T) {
	var mu sync.Mutex
	var batches []watcher.Batch
	w := watcher.New(watcher.ObserverFunc(func(b watcher.Batch) {
		mu.Lock()
		batches = append(batches, b)
		mu.Unlock()
	}), watcher.WithInterval(time.Hour))

	r, _, notifier := newTestRegistry(t, WithWatcher(w))
	gate := make(chan struct{})
	id, _ := r.Execute(context.Background(), Descriptor{Name: "install", Task: gated("install", gate)})
	close(gate)
	testutil.WaitFor(t, 2*time.Second, func() bool { return notifier.total() == 1 })

	if err := r.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 1 {
		t.Fatalf("batches = %d, want 1 final flush", len(batches))
	}
	b := batches[0]
	if len(b.Adds) != 1 || b.Adds[0].ID != id {
		t.Errorf("adds = %+v, want the root %s", b.Adds, id)
	}
	if len(b.Statuses) != 1 || b.Statuses[0].Status != task.StatusSucceeded {
		t.Errorf("statuses = %+v, want one succeeded", b.Statuses)
	}
}

func TestMetrics_CountsDedupHits(t *testing.T) {
	reg, m := metrics.NewRegistry("test")
	r, _, _ := newTestRegistry(t, WithMetrics(m))
	gate := make(chan struct{})
	defer close(gate)

	d := Descriptor{Name: "install", Arguments: 1, Task: gated("install", gate)}
	_, _ = r.Execute(context.Background(), d)
	_, _ = r.Execute(context.Background(), d)
	_, _ = r.Execute(context.Background(), d)

	rec := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{"test_registry_dedup_hits_total 2", "test_registry_executions_active 1"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
