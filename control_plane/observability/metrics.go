package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectedAgents tracks the number of agents with a live socket.
	ConnectedAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_connected_agents",
		Help: "Current number of connected agent sockets",
	})

	// ConnectedDashboards tracks the number of open dashboard sessions.
	ConnectedDashboards = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_connected_dashboards",
		Help: "Current number of connected dashboard sessions",
	})

	// CheckinsTotal counts agent check-in requests by outcome.
	CheckinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_checkins_total",
		Help: "Total agent check-in requests",
	}, []string{"outcome"}) // ok, unauthorized, bad_request

	// HeartbeatsTotal counts heartbeat messages received over agent sockets.
	HeartbeatsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_heartbeats_total",
		Help: "Total heartbeat messages received from agents",
	})

	// TasksDispatched counts tasks pushed to agents by the dispatch loop.
	TasksDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_tasks_dispatched_total",
		Help: "Total tasks dispatched to connected agents",
	})

	// TaskResultsTotal counts task results by outcome.
	TaskResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_task_results_total",
		Help: "Total task results received from agents",
	}, []string{"status"}) // success, failed

	// DispatchLoopDuration tracks the duration of a dispatch sweep.
	DispatchLoopDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pulse_dispatch_loop_duration_seconds",
		Help:    "Duration of one dispatch loop iteration",
		Buckets: prometheus.DefBuckets,
	})

	// DevicesMarkedOffline counts online-to-offline transitions.
	DevicesMarkedOffline = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_devices_marked_offline_total",
		Help: "Total devices flipped to offline by the silence detector",
	})

	// AlertsFired counts alert rule firings by metric.
	AlertsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_alerts_fired_total",
		Help: "Total alert rule firings",
	}, []string{"metric"})

	// AgentMessages counts agent socket messages by type and direction.
	AgentMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_agent_messages_total",
		Help: "Agent socket messages by type and direction",
	}, []string{"type", "direction"}) // direction: in, out

	// PushPublishFailures counts failed push-command publish attempts.
	PushPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_push_publish_failures_total",
		Help: "Failed push-command publish attempts",
	})

	// APIRateLimited tracks API requests rejected by the rate limiter.
	APIRateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_api_rate_limited_total",
		Help: "API requests rejected by rate limiter",
	}, []string{"endpoint"})

	// NotificationsSent counts outbound notifications by kind.
	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_notifications_sent_total",
		Help: "Outbound notifications by kind",
	}, []string{"kind"}) // task_failed, device_offline, alert
)
