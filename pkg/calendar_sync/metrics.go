package calendar_sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	passesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kinsync_sync_passes_total",
		Help: "Finished external calendar sync passes by outcome",
	}, []string{"outcome"})

	passDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kinsync_sync_pass_duration_seconds",
		Help:    "Duration of external calendar sync passes",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kinsync_sync_events_total",
		Help: "Events handled by sync passes by direction",
	}, []string{"direction"})

	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kinsync_sync_rate_limited_total",
		Help: "External calendar calls answered with a rate limit",
	})
)

func recordPass(outcome string, result Result) {
	passesTotal.WithLabelValues(outcome).Inc()
	eventsTotal.WithLabelValues("pushed").Add(float64(result.Pushed))
	eventsTotal.WithLabelValues("pulled").Add(float64(result.Pulled))
	eventsTotal.WithLabelValues("deleted").Add(float64(result.Deleted))
	eventsTotal.WithLabelValues("conflict").Add(float64(result.Conflicts))
	eventsTotal.WithLabelValues("failed").Add(float64(len(result.FailedEventIds)))
}
