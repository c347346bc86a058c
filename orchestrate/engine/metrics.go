package engine

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsSet holds the Prometheus collectors the engine updates as work
// items and tasks move through their lifecycles. It registers against its
// own registry rather than the global default one, so embedding an Engine
// in a process that already runs prometheus never collides on collector
// names; callers that want these series exported wire Registry() into
// their own promhttp handler.
type metricsSet struct {
	registry *prometheus.Registry

	workItemsTotal   *prometheus.CounterVec
	taskDuration     *prometheus.HistogramVec
	statsShardWrites *prometheus.CounterVec
}

func newMetricsSet() *metricsSet {
	reg := prometheus.NewRegistry()
	m := &metricsSet{
		registry: reg,
		workItemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "workitem",
			Name:      "transitions_total",
			Help:      "Work item action transitions, labeled by task and resulting state.",
		}, []string{"task", "state"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "engine",
			Subsystem: "task",
			Name:      "firing_duration_seconds",
			Help:      "Wall-clock time between a task becoming enabled and completing.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
		statsShardWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine",
			Subsystem: "stats",
			Name:      "shard_writes_total",
			Help:      "Writes to a task's hash-partitioned stats shard, labeled by shard id.",
		}, []string{"task", "shard"}),
	}
	reg.MustRegister(m.workItemsTotal, m.taskDuration, m.statsShardWrites)
	return m
}

// Registry exposes the engine's Prometheus registry for a host process to
// mount behind promhttp.HandlerFor.
func (e *Engine) Registry() *prometheus.Registry {
	return e.metrics.registry
}

func (m *metricsSet) recordWorkItemTransition(task string, state WorkItemState) {
	m.workItemsTotal.WithLabelValues(task, string(state)).Inc()
}

func (m *metricsSet) recordStatsShardWrite(task string, shard int) {
	m.statsShardWrites.WithLabelValues(task, strconv.Itoa(shard)).Inc()
}

func (m *metricsSet) observeTaskDuration(task string, d time.Duration) {
	m.taskDuration.WithLabelValues(task).Observe(d.Seconds())
}
