package resolver

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/tasktree/internal/logging"
	"github.com/Iron-Ham/tasktree/internal/metrics"
)

// Default batch bounds.
const (
	DefaultInitial = 8
	DefaultMin     = 2
	DefaultMax     = 16
)

// ErrInvalidBounds is returned by New when the batch bounds are inconsistent.
var ErrInvalidBounds = errors.New("invalid batch bounds")

// Func resolves one item. ok reports whether the item was resolved; a
// non-nil error counts as unresolved unless it is classified as fatal.
type Func[T, R any] func(ctx context.Context, item T) (result R, ok bool, err error)

// BatchStats describes one pass of the resolver loop.
type BatchStats struct {
	Pass      int // 1-based pass number
	Size      int // items attempted in this pass
	Resolved  int
	Requeued  int // items put back at the front of the queue
	Exhausted int // items dropped after reaching the attempt ceiling
	Next      int // batch size for the next pass
	Pending   int // items left in the queue
}

type settings struct {
	initial     int
	min         int
	max         int
	maxAttempts int
	observer    func(BatchStats)
	checkpoint  func() error
	fatal       func(error) bool
	logger      *logging.Logger
	metrics     *metrics.Metrics
}

// Option configures a Resolver.
type Option func(*settings)

// WithBounds sets the initial, minimum and maximum batch sizes.
func WithBounds(initial, min, max int) Option {
	return func(s *settings) {
		s.initial, s.min, s.max = initial, min, max
	}
}

// WithMaxAttempts bounds the attempts per item. Zero, the default, retries
// until the item resolves.
func WithMaxAttempts(n int) Option {
	return func(s *settings) {
		s.maxAttempts = n
	}
}

// WithObserver is called after every pass.
func WithObserver(fn func(BatchStats)) Option {
	return func(s *settings) {
		s.observer = fn
	}
}

// WithCheckpoint is called before every pass. A non-nil error stops the
// loop and is returned from Resolve unchanged.
func WithCheckpoint(fn func() error) Option {
	return func(s *settings) {
		s.checkpoint = fn
	}
}

// WithFatal classifies lookup errors that abort the whole run instead of
// requeueing the item. Context errors are always fatal.
func WithFatal(fn func(error) bool) Option {
	return func(s *settings) {
		s.fatal = fn
	}
}

// WithLogger sets the resolver logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records passes and the current batch size on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) {
		s.metrics = m
	}
}

// Resolver resolves a precondition for many items using a batch size that
// halves when a pass has failures and doubles when a pass fully succeeds.
type Resolver[T, R any] struct {
	fn Func[T, R]
	s  settings
}

// New creates a Resolver around fn.
func New[T, R any](fn Func[T, R], opts ...Option) (*Resolver[T, R], error) {
	s := settings{
		initial: DefaultInitial,
		min:     DefaultMin,
		max:     DefaultMax,
		logger:  logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.min < 1 || s.min > s.initial || s.initial > s.max {
		return nil, fmt.Errorf("%w: need 1 <= min(%d) <= initial(%d) <= max(%d)", ErrInvalidBounds, s.min, s.initial, s.max)
	}
	if s.maxAttempts < 0 {
		return nil, fmt.Errorf("%w: max attempts %d is negative", ErrInvalidBounds, s.maxAttempts)
	}
	s.logger = s.logger.WithComponent("resolver")
	return &Resolver[T, R]{fn: fn, s: s}, nil
}

// Resolve resolves every item and returns the results in input order.
// Unresolved items are retried before untried ones. When an attempt ceiling
// is set, items that hit it are reported through *UnresolvedError alongside
// the results that did resolve.
func (r *Resolver[T, R]) Resolve(ctx context.Context, items []T) ([]R, error) {
	results := make([]R, len(items))
	attempts := make([]int, len(items))
	lastErr := make([]error, len(items))

	queue := make([]int, len(items))
	for i := range queue {
		queue[i] = i
	}

	var exhausted []int
	size := r.s.initial
	r.s.metrics.BatchSize(size)

	for pass := 1; len(queue) > 0; pass++ {
		if r.s.checkpoint != nil {
			if err := r.s.checkpoint(); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n := min(size, len(queue))
		batch := queue[:n]
		resolved, err := r.pass(ctx, items, batch, results, lastErr)
		if err != nil {
			return nil, err
		}

		var requeue []int
		for j, idx := range batch {
			if resolved[j] {
				continue
			}
			attempts[idx]++
			if r.s.maxAttempts > 0 && attempts[idx] >= r.s.maxAttempts {
				exhausted = append(exhausted, idx)
				continue
			}
			requeue = append(requeue, idx)
		}

		failed := n - countTrue(resolved)
		if failed > 0 {
			size = max(r.s.min, size/2)
		} else {
			size = min(r.s.max, size*2)
		}

		queue = append(requeue, queue[n:]...)

		stats := BatchStats{
			Pass:      pass,
			Size:      n,
			Resolved:  n - failed,
			Requeued:  len(requeue),
			Exhausted: failed - len(requeue),
			Next:      size,
			Pending:   len(queue),
		}
		r.report(stats)
	}

	if len(exhausted) > 0 {
		errs := make([]error, len(exhausted))
		for i, idx := range exhausted {
			errs[i] = lastErr[idx]
		}
		return results, &UnresolvedError{Indices: exhausted, Errors: errs, Attempts: r.s.maxAttempts}
	}
	return results, nil
}

func (r *Resolver[T, R]) pass(ctx context.Context, items []T, batch []int, results []R, lastErr []error) ([]bool, error) {
	resolved := make([]bool, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	for j, idx := range batch {
		g.Go(func() error {
			v, ok, err := r.fn(gctx, items[idx])
			if err != nil {
				if r.isFatal(err) {
					return err
				}
				lastErr[idx] = err
				return nil
			}
			if ok {
				results[idx] = v
				resolved[j] = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return resolved, nil
}

func (r *Resolver[T, R]) isFatal(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return r.s.fatal != nil && r.s.fatal(err)
}

func (r *Resolver[T, R]) report(stats BatchStats) {
	r.s.logger.Debug("resolver pass",
		"pass", stats.Pass,
		"size", stats.Size,
		"resolved", stats.Resolved,
		"requeued", stats.Requeued,
		"next", stats.Next)
	r.s.metrics.ResolverPass(stats.Requeued)
	r.s.metrics.BatchSize(stats.Next)
	if r.s.observer != nil {
		r.s.observer(stats)
	}
}

func countTrue(bs []bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}

// UnresolvedError lists the items that reached the attempt ceiling.
type UnresolvedError struct {
	Indices  []int   // positions in the input slice
	Errors   []error // last lookup error per item, nil when the lookup reported not ok
	Attempts int
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("%d items unresolved after %d attempts", len(e.Indices), e.Attempts)
}

// Unwrap exposes the last lookup errors.
func (e *UnresolvedError) Unwrap() []error {
	var errs []error
	for _, err := range e.Errors {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
