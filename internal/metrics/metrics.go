// file: internal/metrics/metrics.go
// version: 2.0.0
// guid: a381b1c3-7ff9-4e21-b267-9b96b3ff7d30

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "video_autoprocessor"

var (
	registerOnce sync.Once

	eventsObserved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "watch_events_total",
		Help:      "Total number of filesystem events observed by kind",
	}, []string{"kind"})
	filesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "files_skipped_total",
		Help:      "Total number of files skipped by reason",
	}, []string{"reason"})
	pipelineStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipelines_started_total",
		Help:      "Total number of processing pipelines started",
	})
	pipelineCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipelines_completed_total",
		Help:      "Total number of processing pipelines successfully completed",
	})
	pipelineFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipelines_failed_total",
		Help:      "Total number of processing pipelines failed by stage",
	}, []string{"stage"})
	pipelineDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pipeline_duration_seconds",
		Help:      "Histogram of whole pipeline durations in seconds",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s up to ~1h
	})
	stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Histogram of pipeline stage durations in seconds by stage",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	}, []string{"stage"})
	gateSaturated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gate_saturated_total",
		Help:      "Total number of times a ready file had to wait for a permit",
	})
	watcherRestarts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "watcher_restarts_total",
		Help:      "Total number of watcher restarts performed by the health supervisor",
	})
	catalogWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "catalog_writes_total",
		Help:      "Total number of catalog upserts by outcome",
	}, []string{"outcome"})

	outstandingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "gate_outstanding_permits",
		Help:      "Number of permits currently held",
	})
	pendingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "debounce_pending_paths",
		Help:      "Number of paths waiting for their debounce window",
	})
	memoryUsedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "system_memory_used_percent",
		Help:      "Host memory usage percentage at the last health check",
	})
	diskUsedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "output_disk_used_percent",
		Help:      "Disk usage percentage of the output volume at the last health check",
	})
	memoryAllocGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "process_memory_alloc_bytes",
		Help:      "Current process memory allocation (runtime.Alloc)",
	})
	goroutinesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "process_goroutines",
		Help:      "Number of currently running goroutines",
	})
	watcherAliveGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "watcher_alive",
		Help:      "1 when the watcher loop is running, 0 otherwise",
	})
)

// Register initializes metrics with the global Prometheus registry (idempotent)
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(eventsObserved, filesSkipped, pipelineStarted, pipelineCompleted, pipelineFailed,
			pipelineDuration, stageDuration, gateSaturated, watcherRestarts, catalogWrites,
			outstandingGauge, pendingGauge, memoryUsedGauge, diskUsedGauge, memoryAllocGauge, goroutinesGauge,
			watcherAliveGauge)
	})
}

// Event and pipeline helpers
func IncEventObserved(kind string)   { eventsObserved.WithLabelValues(kind).Inc() }
func IncFileSkipped(reason string)   { filesSkipped.WithLabelValues(reason).Inc() }
func IncPipelineStarted()            { pipelineStarted.Inc() }
func IncPipelineCompleted()          { pipelineCompleted.Inc() }
func IncPipelineFailed(stage string) { pipelineFailed.WithLabelValues(stage).Inc() }
func ObservePipelineDuration(d time.Duration) {
	pipelineDuration.Observe(d.Seconds())
}
func ObserveStageDuration(stage string, d time.Duration) {
	stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}
func IncGateSaturated()              { gateSaturated.Inc() }
func IncWatcherRestart()             { watcherRestarts.Inc() }
func IncCatalogWrite(outcome string) { catalogWrites.WithLabelValues(outcome).Inc() }

// Gauges
func SetOutstanding(n int)           { outstandingGauge.Set(float64(n)) }
func SetPending(n int)               { pendingGauge.Set(float64(n)) }
func SetMemoryUsedPercent(p float64) { memoryUsedGauge.Set(p) }
func SetDiskUsedPercent(p float64)   { diskUsedGauge.Set(p) }
func SetMemoryAlloc(b uint64)        { memoryAllocGauge.Set(float64(b)) }
func SetGoroutines(n int)            { goroutinesGauge.Set(float64(n)) }
func SetWatcherAlive(alive bool) {
	if alive {
		watcherAliveGauge.Set(1)
		return
	}
	watcherAliveGauge.Set(0)
}
