package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	workerStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relaycast",
		Subsystem: "worker",
		Name:      "status",
		Help:      "1 for the current worker status, 0 otherwise",
	}, []string{"status"})

	workerStarts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relaycast",
		Subsystem: "worker",
		Name:      "starts_total",
		Help:      "Worker processes started",
	})

	workerExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaycast",
		Subsystem: "worker",
		Name:      "exits_total",
		Help:      "Worker runs ended, by final status",
	}, []string{"status"})

	connectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relaycast",
		Name:      "connection_state",
		Help:      "1 for the current ingest connection state, 0 otherwise",
	}, []string{"state"})

	schedulerActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relaycast",
		Subsystem: "scheduler",
		Name:      "actions_total",
		Help:      "Start and stop actions issued by the scheduler",
	}, []string{"action"})

	orphansTerminated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relaycast",
		Name:      "orphans_terminated_total",
		Help:      "Leftover worker processes terminated at startup",
	})

	buildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "relaycast",
		Name:      "build_info",
		Help:      "Build metadata, always 1",
	}, []string{"version", "commit", "go_version"})
)

// setOneHot sets label to 1 and every other known label to 0.
func setOneHot(vec *prometheus.GaugeVec, known []string, label string) {
	for _, k := range known {
		if k == label {
			vec.WithLabelValues(k).Set(1)
		} else {
			vec.WithLabelValues(k).Set(0)
		}
	}
}

// SetWorkerStatus marks status as current among known.
func SetWorkerStatus(known []string, status string) {
	setOneHot(workerStatus, known, status)
}

// IncWorkerStarts counts a worker start.
func IncWorkerStarts() {
	workerStarts.Inc()
}

// IncWorkerExits counts a finished run by its final status.
func IncWorkerExits(status string) {
	workerExits.WithLabelValues(status).Inc()
}

// SetConnectionState marks state as current among known.
func SetConnectionState(known []string, state string) {
	setOneHot(connectionState, known, state)
}

// IncSchedulerAction counts a scheduler action.
func IncSchedulerAction(action string) {
	schedulerActions.WithLabelValues(action).Inc()
}

// IncOrphansTerminated counts a terminated orphan worker.
func IncOrphansTerminated() {
	orphansTerminated.Inc()
}

// SetBuildInfo publishes build metadata.
func SetBuildInfo(version, commit, goVersion string) {
	buildInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
