package watcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "audittrail",
		Subsystem: "watcher",
		Name:      "polls_total",
		Help:      "Polls of the tracked audit records.",
	})
	pollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "audittrail",
		Subsystem: "watcher",
		Name:      "poll_duration_seconds",
		Help:      "Time taken to fetch every tracked record once.",
		Buckets:   prometheus.DefBuckets,
	})
	fetchErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "audittrail",
		Subsystem: "watcher",
		Name:      "fetch_errors_total",
		Help:      "Tracked record fetches that failed.",
	})
	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "audittrail",
		Subsystem: "watcher",
		Name:      "events_published_total",
		Help:      "Audit events published, by kind.",
	}, []string{"kind"})
	sendErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "audittrail",
		Subsystem: "watcher",
		Name:      "send_errors_total",
		Help:      "Polls whose events could not be sent.",
	})
	trackedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "audittrail",
		Subsystem: "watcher",
		Name:      "tracked_records",
		Help:      "Audit records being tracked.",
	})
)
