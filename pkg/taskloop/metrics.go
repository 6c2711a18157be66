package taskloop

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricIterations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chauffeur",
		Name:      "taskloop_iterations_total",
		Help:      "Task loop iterations started.",
	})
	metricActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chauffeur",
		Name:      "taskloop_actions_total",
		Help:      "Actions executed, by result status.",
	}, []string{"status"})
	metricTerminations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chauffeur",
		Name:      "taskloop_terminations_total",
		Help:      "Task runs terminated, by reason.",
	}, []string{"reason"})
	metricSnapshotWrites = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chauffeur",
		Name:      "taskloop_snapshot_writes_total",
		Help:      "State snapshots written.",
	})
)
