package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "audittrail",
		Name:      "fetches_total",
		Help:      "Audit record fetches by outcome.",
	}, []string{"outcome"})

	fetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "audittrail",
		Name:      "fetch_duration_seconds",
		Help:      "Audit record fetch round trip.",
		Buckets:   prometheus.DefBuckets,
	})

	staleTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "audittrail",
		Name:      "stale_fetches_total",
		Help:      "Fetch results discarded because a newer one was applied.",
	})

	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "audittrail",
		Name:      "submissions_total",
		Help:      "Submissions by operation and result kind.",
	}, []string{"op", "result"})

	submitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "audittrail",
		Name:      "submission_duration_seconds",
		Help:      "Time from submission to confirmation.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"op"})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "audittrail",
		Name:      "events_received_total",
		Help:      "Audit events received from the watcher by kind.",
	}, []string{"kind"})

	sessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "audittrail",
		Name:      "cached_sessions",
		Help:      "Sessions cached by the service.",
	})
)
