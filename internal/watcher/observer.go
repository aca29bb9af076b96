package watcher

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/tasktree/internal/task"
	"github.com/Iron-Ham/tasktree/internal/util"
)

// Observer receives batches from a Watcher. Notify runs on the watcher's
// goroutine and must not block for long.
type Observer interface {
	Notify(Batch)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Batch)

// Notify calls f(b).
func (f ObserverFunc) Notify(b Batch) { f(b) }

// JSONObserver writes each batch as one JSON line.
type JSONObserver struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONObserver creates a JSONObserver writing to w.
func NewJSONObserver(w io.Writer) *JSONObserver {
	return &JSONObserver{enc: json.NewEncoder(w)}
}

// Notify encodes b. Encoding errors are dropped; the next batch is tried anew.
func (o *JSONObserver) Notify(b Batch) {
	o.mu.Lock()
	defer o.mu.Unlock()
	_ = o.enc.Encode(b)
}

var (
	addStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#A78BFA")).Bold(true)
	childStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	barStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#60A5FA"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F87171"))
	cancelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
)

// TextObserver renders batches as styled lines for a terminal. It remembers
// node paths from earlier batches so updates can be labelled.
type TextObserver struct {
	mu       sync.Mutex
	w        io.Writer
	paths    map[string]string
	width    int
	barWidth int
}

// NewTextObserver creates a TextObserver writing to w. Lines are truncated
// to width columns; zero disables truncation.
func NewTextObserver(w io.Writer, width int) *TextObserver {
	return &TextObserver{
		w:        w,
		paths:    make(map[string]string),
		width:    width,
		barWidth: 20,
	}
}

// Notify renders b.
func (o *TextObserver) Notify(b Batch) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var lines []string
	for _, a := range b.Adds {
		o.paths[a.Node.ID] = a.Node.Path
		lines = append(lines, addStyle.Render("+ "+a.Node.Path)+childStyle.Render(" ("+a.ID+")"))
	}
	for _, c := range b.Children {
		o.paths[c.Node.ID] = c.Node.Path
		lines = append(lines, childStyle.Render("  + "+c.Node.Path))
	}

	ids := make([]string, 0, len(b.Updates))
	for id := range b.Updates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		lines = append(lines, o.renderUpdate(id, b.Updates[id]))
	}

	for _, s := range b.Statuses {
		lines = append(lines, o.renderStatus(s))
	}

	for _, line := range lines {
		if o.width > 0 {
			line = util.TruncateANSI(line, o.width)
		}
		fmt.Fprintln(o.w, line)
	}
}

func (o *TextObserver) label(id string) string {
	if p, ok := o.paths[id]; ok {
		return p
	}
	return id
}

func (o *TextObserver) renderUpdate(id string, u task.Update) string {
	var b strings.Builder
	b.WriteString("  ~ ")
	b.WriteString(o.label(id))
	if u.Total > 0 {
		b.WriteString(" ")
		b.WriteString(barStyle.Render(util.ProgressBar(u.Progress, u.Total, o.barWidth)))
		fmt.Fprintf(&b, " %s/%s", util.HumanBytes(u.Progress), util.HumanBytes(u.Total))
	} else if u.Progress > 0 {
		fmt.Fprintf(&b, " %s", util.HumanBytes(u.Progress))
	}
	if u.Message != "" {
		b.WriteString(" ")
		b.WriteString(childStyle.Render(u.Message))
	}
	return b.String()
}

func (o *TextObserver) renderStatus(s StatusChange) string {
	label := o.label(s.ID)
	switch s.Status {
	case task.StatusSucceeded:
		return successStyle.Render("  ✓ " + label)
	case task.StatusFailed:
		return failStyle.Render("  ✗ " + label)
	case task.StatusCancelled:
		return cancelStyle.Render("  ⊘ " + label)
	default:
		return "  · " + label + " " + s.Status.String()
	}
}
