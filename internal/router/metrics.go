package router

import "github.com/prometheus/client_golang/prometheus"

func init() {
	prometheus.MustRegister(eventsReceivedCounter)
	prometheus.MustRegister(duplicateEventsCounter)
	prometheus.MustRegister(rateLimitedCounter)
	prometheus.MustRegister(decisionsCounter)
}

var eventsReceivedCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Total number of verified webhook payloads by kind",
	},
	[]string{"kind"},
)

var duplicateEventsCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "webhook_events_duplicate_total",
		Help: "Total number of webhook deliveries dropped as duplicates",
	},
)

var rateLimitedCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "webhook_rate_limited_total",
		Help: "Total number of requests rejected by the per-tenant rate limit",
	},
	[]string{"tenant"},
)

var decisionsCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "approval_decisions_total",
		Help: "Total number of decision attempts by action and result",
	},
	[]string{"action", "result"},
)
