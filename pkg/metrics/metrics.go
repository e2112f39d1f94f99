package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Status pipeline metrics

	HostsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shepherd_hosts_by_state",
			Help: "Number of hosts in the last status snapshot by state",
		},
		[]string{"state"},
	)

	ServicesByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shepherd_services_by_state",
			Help: "Number of services in the last status snapshot by state",
		},
		[]string{"state"},
	)

	ArtefactsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shepherd_artefacts_total",
			Help: "Total number of artefacts in the last status snapshot",
		},
	)

	MissingComponentsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shepherd_missing_components_total",
			Help: "Total number of missing components in the last status snapshot",
		},
	)

	ProbeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shepherd_probe_duration_seconds",
			Help:    "Time taken to probe a single host's yadt-status in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host"},
	)

	ProbeFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shepherd_probe_failures_total",
			Help: "Total number of failed host status probes by reason",
		},
		[]string{"reason"},
	)

	StatusRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shepherd_status_run_duration_seconds",
			Help:    "Wall-clock time of a full status run across all hosts",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	// Planner metrics

	PlanActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shepherd_plan_actions_total",
			Help: "Total number of actions compiled into a plan by verb",
		},
		[]string{"verb"},
	)

	PlanEmptyTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shepherd_plan_empty_total",
			Help: "Total number of plan invocations that resolved to zero actions",
		},
	)

	// Executor metrics

	ActionsSucceededTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shepherd_actions_succeeded_total",
			Help: "Total number of actions that completed successfully by verb",
		},
		[]string{"verb"},
	)

	ActionsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shepherd_actions_failed_total",
			Help: "Total number of actions that failed by verb",
		},
		[]string{"verb"},
	)

	ActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shepherd_action_duration_seconds",
			Help:    "Time taken to run a single remote action in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"verb"},
	)

	RebootPollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shepherd_reboot_poll_duration_seconds",
			Help:    "Time spent polling a host via SSH after a reboot-requiring update",
			Buckets: []float64{5, 10, 30, 60, 120, 300, 600, 1200},
		},
	)

	RebootTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "shepherd_reboot_timeouts_total",
			Help: "Total number of hosts that failed to come back within their reboot poll window",
		},
	)

	PendingActions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shepherd_pending_actions",
			Help: "Number of actions still queued or in flight in the current executor run",
		},
	)

	// Broadcast metrics

	BroadcastRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shepherd_broadcast_requests_total",
			Help: "Total number of broadcast HTTP requests by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		HostsByState,
		ServicesByState,
		ArtefactsTotal,
		MissingComponentsTotal,
		ProbeDuration,
		ProbeFailuresTotal,
		StatusRunDuration,
		PlanActionsTotal,
		PlanEmptyTotal,
		ActionsSucceededTotal,
		ActionsFailedTotal,
		ActionDuration,
		RebootPollDuration,
		RebootTimeoutsTotal,
		PendingActions,
		BroadcastRequestsTotal,
	)
}

// Handler returns the Prometheus HTTP handler, served by the CLI's optional
// --metrics-addr listener.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Time starts a clock and returns the function that stops it, recording
// the elapsed seconds on obs. Made for defer:
//
//	defer metrics.Time(metrics.StatusRunDuration)()
func Time(obs prometheus.Observer) func() {
	start := time.Now()
	return func() {
		obs.Observe(time.Since(start).Seconds())
	}
}
