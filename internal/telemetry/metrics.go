package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики core. Экспортируются через /metrics каждого бинаря.
var (
	// TransitionsTotal — закоммиченные переходы по типу процесса и исходу.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kontora",
		Name:      "transitions_total",
		Help:      "Committed instance transitions by workflow type and outcome.",
	}, []string{"workflow_type", "outcome"})

	// CASConflictsTotal — проигранные compare-and-swap записи.
	CASConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kontora",
		Name:      "cas_conflicts_total",
		Help:      "Lost compare-and-swap writes (version mismatch).",
	})

	// StaleCallbacksTotal — отброшенные callbacks вытесненных попыток.
	StaleCallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kontora",
		Name:      "stale_callbacks_total",
		Help:      "Callbacks discarded because their attempt was superseded.",
	})

	// TimersFiredTotal — сработавшие durable таймеры.
	TimersFiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kontora",
		Name:      "timers_fired_total",
		Help:      "Durable timers fired by the timer service.",
	})

	// InstancesStartedTotal — созданные instances по типу процесса.
	InstancesStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kontora",
		Name:      "instances_started_total",
		Help:      "Workflow instances started by workflow type.",
	}, []string{"workflow_type"})

	// DispatchDuration — длительность обращений к коллабораторам.
	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kontora",
		Name:      "dispatch_duration_seconds",
		Help:      "Duration of collaborator dispatches by action kind.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})
)
