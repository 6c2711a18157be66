package cdp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCommandsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chauffeur",
		Name:      "cdp_commands_sent_total",
		Help:      "Commands written to the debugging stream.",
	})
	metricCommandsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chauffeur",
		Name:      "cdp_commands_resolved_total",
		Help:      "Commands resolved, by outcome.",
	}, []string{"outcome"})
	metricPendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chauffeur",
		Name:      "cdp_pending_requests",
		Help:      "Commands awaiting a response.",
	})
	metricNotificationsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chauffeur",
		Name:      "cdp_notifications_received_total",
		Help:      "Asynchronous notifications read from the stream.",
	})
	metricNotificationsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chauffeur",
		Name:      "cdp_notifications_dispatched_total",
		Help:      "Notifications delivered to all registered handlers.",
	})
	metricLogEntriesEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chauffeur",
		Name:      "cdp_log_entries_evicted_total",
		Help:      "Rolling log entries evicted at capacity.",
	})
)

const (
	outcomeResult   = "result"
	outcomeError    = "error"
	outcomeTimeout  = "timeout"
	outcomeClosed   = "closed"
	outcomeCanceled = "canceled"
)
