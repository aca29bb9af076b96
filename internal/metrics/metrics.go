// Package metrics exposes Prometheus collectors for task execution,
// deduplication, progress batching, adaptive URL resolution and downloads.
//
// Every method is nil-safe so components can run without metrics.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "tasktree"

// Metrics holds the collectors shared by the engine, registry, watcher,
// resolver and downloader.
type Metrics struct {
	nodes            *prometheus.CounterVec
	treeDuration     *prometheus.HistogramVec
	executionsActive prometheus.Gauge
	dedupHits        prometheus.Counter
	batchesFlushed   prometheus.Counter
	batchItems       prometheus.Histogram
	batchSize        prometheus.Gauge
	resolverPasses   *prometheus.CounterVec
	requeued         prometheus.Counter
	downloadBytes    prometheus.Counter
}

// New registers the collectors with reg under namespace. Collectors already
// registered under the same name are reused, so New may be called more than
// once against the same registry. A nil reg uses the default registerer.
func New(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	r := registrar{reg: reg}
	m := &Metrics{
		nodes: register(&r, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "nodes_total",
			Help:      "Task nodes that reached a terminal status.",
		}, []string{"status"})),
		treeDuration: register(&r, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "tree_duration_seconds",
			Help:      "Wall time from admission to terminal status of a root task.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"name", "status"})),
		executionsActive: register(&r, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "executions_active",
			Help:      "Root tasks currently executing.",
		})),
		dedupHits: register(&r, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "dedup_hits_total",
			Help:      "Execute calls answered with an already running task.",
		})),
		batchesFlushed: register(&r, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "batches_flushed_total",
			Help:      "Non-empty update batches delivered to the observer.",
		})),
		batchItems: register(&r, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "batch_items",
			Help:      "Entries carried by each delivered batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		})),
		batchSize: register(&r, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "batch_size",
			Help:      "Current adaptive batch size.",
		})),
		resolverPasses: register(&r, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "passes_total",
			Help:      "Resolver batches by outcome.",
		}, []string{"outcome"})),
		requeued: register(&r, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "requeued_total",
			Help:      "Items returned to the front of the queue after a failed lookup.",
		})),
		downloadBytes: register(&r, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "download_bytes_total",
			Help:      "Bytes written by completed downloads.",
		})),
	}
	if r.err != nil {
		return nil, r.err
	}
	return m, nil
}

// MustNew is like New but panics on registration errors.
func MustNew(reg prometheus.Registerer, namespace string) *Metrics {
	m, err := New(reg, namespace)
	if err != nil {
		panic(err)
	}
	return m
}

// NewRegistry creates a fresh registry with metrics registered on it.
func NewRegistry(namespace string) (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	return reg, MustNew(reg, namespace)
}

// Handler returns an HTTP handler serving the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

type registrar struct {
	reg prometheus.Registerer
	err error
}

// register adds c to the registry, returning the existing collector when one
// with the same descriptor is already present.
func register[C prometheus.Collector](r *registrar, c C) C {
	if r.err != nil {
		return c
	}
	if err := r.reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		r.err = err
	}
	return c
}

// NodeSettled counts a node reaching a terminal status.
func (m *Metrics) NodeSettled(status string) {
	if m == nil {
		return
	}
	m.nodes.WithLabelValues(status).Inc()
}

// ExecutionStarted marks a root task as active.
func (m *Metrics) ExecutionStarted() {
	if m == nil {
		return
	}
	m.executionsActive.Inc()
}

// ExecutionFinished marks a root task as settled and records its duration.
func (m *Metrics) ExecutionFinished(name, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.executionsActive.Dec()
	m.treeDuration.WithLabelValues(name, status).Observe(d.Seconds())
}

// DedupHit counts an Execute call that returned an existing identifier.
func (m *Metrics) DedupHit() {
	if m == nil {
		return
	}
	m.dedupHits.Inc()
}

// BatchFlushed records a delivered batch and the number of entries it held.
func (m *Metrics) BatchFlushed(items int) {
	if m == nil {
		return
	}
	m.batchesFlushed.Inc()
	m.batchItems.Observe(float64(items))
}

// ResolverPass records one resolver batch and how many of its items were requeued.
func (m *Metrics) ResolverPass(requeued int) {
	if m == nil {
		return
	}
	outcome := "resolved"
	if requeued > 0 {
		outcome = "partial"
	}
	m.resolverPasses.WithLabelValues(outcome).Inc()
	m.requeued.Add(float64(requeued))
}

// BatchSize sets the resolver's current batch size.
func (m *Metrics) BatchSize(size int) {
	if m == nil {
		return
	}
	m.batchSize.Set(float64(size))
}

// Downloaded adds n written bytes.
func (m *Metrics) Downloaded(n int64) {
	if m == nil {
		return
	}
	m.downloadBytes.Add(float64(n))
}
