// Package testutil provides fixtures shared by tasktree tests: archive
// builders, event recorders and scripted collaborators.
package testutil

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/tasktree/internal/event"
	"github.com/Iron-Ham/tasktree/internal/fetch"
)

// BuildZip returns an in-memory archive holding files. Names ending in "/"
// become directory entries.
func BuildZip(t *testing.T, files map[string]string) *zip.Reader {
	t.Helper()

	data := ZipBytes(t, files)
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("failed to open built archive: %v", err)
	}
	return r
}

// WriteZip writes an archive holding files into dir and returns its path.
func WriteZip(t *testing.T, dir, name string, files map[string]string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, ZipBytes(t, files), 0644); err != nil {
		t.Fatalf("failed to write archive %s: %v", path, err)
	}
	return path
}

// ZipBytes encodes files as a zip archive with entries in sorted order.
func ZipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("failed to create entry %s: %v", name, err)
		}
		if _, err := w.Write([]byte(files[name])); err != nil {
			t.Fatalf("failed to write entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to finish archive: %v", err)
	}
	return buf.Bytes()
}

// WriteFiles creates files under dir. The map holds relative paths to contents.
func WriteFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()

	for path, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatalf("failed to create directory for %s: %v", path, err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write file %s: %v", path, err)
		}
	}
}

// ReadFile returns the content of dir/path or fails the test.
func ReadFile(t *testing.T, dir, path string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(path)))
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

// WaitFor polls cond until it returns true or timeout elapses.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

// EventRecorder collects every event published on a bus.
type EventRecorder struct {
	mu     sync.Mutex
	events []event.Event
}

// RecordEvents subscribes a new recorder to bus for the rest of the test.
func RecordEvents(t *testing.T, bus *event.Bus) *EventRecorder {
	t.Helper()

	r := &EventRecorder{}
	id := bus.SubscribeAll(func(e event.Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	})
	t.Cleanup(func() { bus.Unsubscribe(id) })
	return r
}

// Events returns a copy of the recorded events.
func (r *EventRecorder) Events() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

// Types returns the recorded event types in publish order.
func (r *EventRecorder) Types() []string {
	events := r.Events()
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.EventType()
	}
	return types
}

// Count returns how many events of eventType were recorded.
func (r *EventRecorder) Count(eventType string) int {
	n := 0
	for _, e := range r.Events() {
		if e.EventType() == eventType {
			n++
		}
	}
	return n
}

// ErrScripted is returned by scripted collaborators when told to fail.
var ErrScripted = errors.New("scripted failure")

// ScriptedResolver answers URL lookups, failing each key a set number of
// times before succeeding.
type ScriptedResolver struct {
	mu       sync.Mutex
	failures map[string]int
	calls    map[string]int
	order    []string
}

// NewScriptedResolver creates a resolver that fails each "project/file" key
// in failures that many times.
func NewScriptedResolver(failures map[string]int) *ScriptedResolver {
	if failures == nil {
		failures = make(map[string]int)
	}
	return &ScriptedResolver{failures: failures, calls: make(map[string]int)}
}

// FileURL implements the modpack URL lookup collaborator.
func (s *ScriptedResolver) FileURL(ctx context.Context, projectID, fileID int) (string, error) {
	key := fmt.Sprintf("%d/%d", projectID, fileID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[key]++
	s.order = append(s.order, key)
	if s.failures[key] > 0 {
		s.failures[key]--
		return "", fmt.Errorf("%w: %s", ErrScripted, key)
	}
	return fmt.Sprintf("https://files.example.test/%d/%d/mod-%d.jar", projectID, fileID, fileID), nil
}

// Calls returns how many lookups were made for projectID/fileID.
func (s *ScriptedResolver) Calls(projectID, fileID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[fmt.Sprintf("%d/%d", projectID, fileID)]
}

// Order returns every looked-up key in call order.
func (s *ScriptedResolver) Order() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// RecordingDownloader writes a small body to each requested destination
// and records the requests. URLs listed in Fail return ErrScripted.
type RecordingDownloader struct {
	Fail map[string]bool

	// Gate, when set, is received from before each download completes.
	Gate chan struct{}

	mu       sync.Mutex
	requests []fetch.Request
}

// Download implements the modpack downloader collaborator.
func (d *RecordingDownloader) Download(ctx context.Context, req fetch.Request) error {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()

	if d.Gate != nil {
		select {
		case <-d.Gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if d.Fail[req.URL] {
		return fmt.Errorf("%w: %s", ErrScripted, req.URL)
	}
	if err := os.MkdirAll(filepath.Dir(req.Destination), 0755); err != nil {
		return err
	}
	body := []byte("content of " + req.URL)
	if req.Progress != nil {
		req.Progress(int64(len(body)), int64(len(body)))
	}
	return os.WriteFile(req.Destination, body, 0644)
}

// Requests returns a copy of the recorded requests.
func (d *RecordingDownloader) Requests() []fetch.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]fetch.Request(nil), d.requests...)
}
