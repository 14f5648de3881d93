package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "recordbase"

// Metrics holds every Prometheus collector of a node. All methods are safe
// on a nil receiver so components can run without metrics in tests.
type Metrics struct {
	registry *prometheus.Registry

	// RPC
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	DeadlineExceeded *prometheus.CounterVec

	// Tenant store
	MergesTotal       prometheus.Counter
	RecordsCreated    prometheus.Counter
	MergedAttributes  prometheus.Histogram
	BackendOpDuration *prometheus.HistogramVec
	BackendErrors     *prometheus.CounterVec

	// Cache
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
	CacheSizeBytes   prometheus.Gauge
	CacheEntries     prometheus.Gauge

	// Auth and transport
	ActiveSessions     prometheus.Gauge
	ActiveConnections  prometheus.Gauge
	AuthFailures       *prometheus.CounterVec
	ConnectRateLimited prometheus.Counter

	// Worker pool
	WorkerTasks      *prometheus.CounterVec
	WorkerTaskTime   *prometheus.HistogramVec
	WorkerQueueDepth *prometheus.GaugeVec

	// Log engine
	CommitLogSegments prometheus.Gauge
	CompactionsTotal  *prometheus.CounterVec

	// Gossip
	GossipMembers prometheus.Gauge

	// System
	DiskUsagePercent   prometheus.Gauge
	DiskAvailableBytes prometheus.Gauge
}

// NewMetrics creates all collectors on a fresh registry labelled with nodeID
func NewMetrics(nodeID string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	f := promauto.With(reg)
	labels := prometheus.Labels{"node_id": nodeID}

	return &Metrics{
		registry: reg,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "rpc",
			Name:        "requests_total",
			Help:        "Total RPCs by method and status code",
			ConstLabels: labels,
		}, []string{"method", "code"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "rpc",
			Name:        "request_duration_seconds",
			Help:        "RPC latency by method",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method"}),
		DeadlineExceeded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "rpc",
			Name:        "deadline_exceeded_total",
			Help:        "Operations that ran out of their caller budget",
			ConstLabels: labels,
		}, []string{"operation", "stage"}),

		MergesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "store",
			Name:        "merges_total",
			Help:        "Successful merges",
			ConstLabels: labels,
		}),
		RecordsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "store",
			Name:        "records_created_total",
			Help:        "Merges that created a new record",
			ConstLabels: labels,
		}),
		MergedAttributes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "store",
			Name:        "merge_attributes",
			Help:        "Number of attributes carried by a merge",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 12),
		}),
		BackendOpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "store",
			Name:        "backend_op_duration_seconds",
			Help:        "Backend load/store latency",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.0001, 2, 16),
		}, []string{"op"}),
		BackendErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "store",
			Name:        "backend_errors_total",
			Help:        "Backend failures by operation",
			ConstLabels: labels,
		}, []string{"op"}),

		CacheHitsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "cache",
			Name:        "hits_total",
			Help:        "Record cache hits",
			ConstLabels: labels,
		}),
		CacheMissesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "cache",
			Name:        "misses_total",
			Help:        "Record cache misses",
			ConstLabels: labels,
		}),
		CacheSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "cache",
			Name:        "size_bytes",
			Help:        "Estimated bytes held by the record cache",
			ConstLabels: labels,
		}),
		CacheEntries: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "cache",
			Name:        "entries",
			Help:        "Records held by the cache",
			ConstLabels: labels,
		}),

		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "auth",
			Name:        "active_sessions",
			Help:        "Sessions currently registered",
			ConstLabels: labels,
		}),
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "transport",
			Name:        "active_connections",
			Help:        "Open client transport connections",
			ConstLabels: labels,
		}),
		AuthFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "auth",
			Name:        "failures_total",
			Help:        "Authentication failures by reason",
			ConstLabels: labels,
		}, []string{"reason"}),
		ConnectRateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "auth",
			Name:        "connect_rate_limited_total",
			Help:        "Connect attempts refused by the per-peer limiter",
			ConstLabels: labels,
		}),

		WorkerTasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "workers",
			Name:        "tasks_total",
			Help:        "Worker pool tasks by pool and result",
			ConstLabels: labels,
		}, []string{"pool", "result"}),
		WorkerTaskTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "workers",
			Name:        "task_duration_seconds",
			Help:        "Worker pool task latency",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"pool"}),
		WorkerQueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "workers",
			Name:        "queue_depth",
			Help:        "Tasks waiting for a worker",
			ConstLabels: labels,
		}, []string{"pool"}),

		CommitLogSegments: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "commitlog",
			Name:        "segments",
			Help:        "Commit log segment files on disk",
			ConstLabels: labels,
		}),
		CompactionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "commitlog",
			Name:        "compactions_total",
			Help:        "Commit log compactions by result",
			ConstLabels: labels,
		}, []string{"result"}),

		GossipMembers: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "gossip",
			Name:        "members",
			Help:        "Live gossip members",
			ConstLabels: labels,
		}),

		DiskUsagePercent: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "system",
			Name:        "disk_usage_percent",
			Help:        "Data volume usage",
			ConstLabels: labels,
		}),
		DiskAvailableBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "system",
			Name:        "disk_available_bytes",
			Help:        "Free bytes on the data volume",
			ConstLabels: labels,
		}),
	}
}

// Registry returns the registry the collectors live on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRequest records one finished RPC
func (m *Metrics) RecordRequest(method, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, code).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// RecordDeadlineExceeded counts a budget overrun. stage is "admission"
// when the budget was gone before any work started, otherwise "wait".
func (m *Metrics) RecordDeadlineExceeded(operation, stage string) {
	if m == nil {
		return
	}
	m.DeadlineExceeded.WithLabelValues(operation, stage).Inc()
}

// RecordMerge records a successful merge
func (m *Metrics) RecordMerge(created bool, attributes int) {
	if m == nil {
		return
	}
	m.MergesTotal.Inc()
	if created {
		m.RecordsCreated.Inc()
	}
	m.MergedAttributes.Observe(float64(attributes))
}

// RecordBackendOp records a backend call
func (m *Metrics) RecordBackendOp(op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.BackendOpDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	if err != nil {
		m.BackendErrors.WithLabelValues(op).Inc()
	}
}

// RecordCacheLookup records a cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
	} else {
		m.CacheMissesTotal.Inc()
	}
}

// UpdateCacheSize sets the cache gauges
func (m *Metrics) UpdateCacheSize(bytes int64, entries int) {
	if m == nil {
		return
	}
	m.CacheSizeBytes.Set(float64(bytes))
	m.CacheEntries.Set(float64(entries))
}

// SetActiveSessions sets the session gauge
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// ConnectionOpened increments the open connection gauge
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

// ConnectionClosed decrements the open connection gauge
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

// RecordAuthFailure counts an authentication failure
func (m *Metrics) RecordAuthFailure(reason string) {
	if m == nil {
		return
	}
	m.AuthFailures.WithLabelValues(reason).Inc()
}

// RecordConnectRateLimited counts a refused Connect
func (m *Metrics) RecordConnectRateLimited() {
	if m == nil {
		return
	}
	m.ConnectRateLimited.Inc()
}

// RecordWorkerTask records a finished worker pool task
func (m *Metrics) RecordWorkerTask(pool string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.WorkerTasks.WithLabelValues(pool, result).Inc()
	m.WorkerTaskTime.WithLabelValues(pool).Observe(elapsed.Seconds())
}

// UpdateWorkerQueue sets the queue depth gauge for a pool
func (m *Metrics) UpdateWorkerQueue(pool string, depth int) {
	if m == nil {
		return
	}
	m.WorkerQueueDepth.WithLabelValues(pool).Set(float64(depth))
}

// UpdateCommitLog sets the segment gauge
func (m *Metrics) UpdateCommitLog(segments int) {
	if m == nil {
		return
	}
	m.CommitLogSegments.Set(float64(segments))
}

// RecordCompaction counts a compaction run
func (m *Metrics) RecordCompaction(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CompactionsTotal.WithLabelValues(result).Inc()
}

// UpdateGossipMembers sets the gossip member gauge
func (m *Metrics) UpdateGossipMembers(n int) {
	if m == nil {
		return
	}
	m.GossipMembers.Set(float64(n))
}

// UpdateDiskStats sets the disk gauges
func (m *Metrics) UpdateDiskStats(usagePercent float64, availableBytes uint64) {
	if m == nil {
		return
	}
	m.DiskUsagePercent.Set(usagePercent)
	m.DiskAvailableBytes.Set(float64(availableBytes))
}
