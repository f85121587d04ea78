// Licensed under the Apache License, Version 2.0
// Details: https://raw.githubusercontent.com/square/tokenbucket/master/LICENSE

package stats

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/square/tokenbucket/events"
)

// PrometheusListener exports bucket activity as prometheus metrics. Its
// HandleEvent satisfies events.Listener, so it can be registered directly on
// a registry. Unlike the memory listener it keeps no queryable state of its
// own; scrape the registerer instead.
type PrometheusListener struct {
	served         *prometheus.CounterVec
	timeouts       *prometheus.CounterVec
	rejected       *prometheus.CounterVec
	misses         prometheus.Counter
	waitSeconds    *prometheus.HistogramVec
	dynamicBuckets prometheus.Gauge
}

// NewPrometheusListener creates a PrometheusListener and registers its
// collectors with reg. It panics if a collector cannot be registered.
func NewPrometheusListener(reg prometheus.Registerer) *PrometheusListener {
	l := &PrometheusListener{
		served: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tokenbucket",
			Name:      "tokens_served_total",
			Help:      "Tokens served, per bucket.",
		}, []string{"bucket"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tokenbucket",
			Name:      "timeouts_total",
			Help:      "Requests that timed out waiting for tokens, per bucket.",
		}, []string{"bucket"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tokenbucket",
			Name:      "rejected_requests_total",
			Help:      "Requests rejected for asking for too many tokens, per bucket.",
		}, []string{"bucket"}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tokenbucket",
			Name:      "bucket_misses_total",
			Help:      "Requests naming a bucket that does not exist and cannot be created.",
		}),
		waitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tokenbucket",
			Name:      "wait_seconds",
			Help:      "Wait imposed on served requests, per bucket.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"bucket"}),
		dynamicBuckets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tokenbucket",
			Name:      "dynamic_buckets",
			Help:      "Dynamic buckets currently live.",
		}),
	}

	reg.MustRegister(l.served, l.timeouts, l.rejected, l.misses, l.waitSeconds, l.dynamicBuckets)

	return l
}

// HandleEvent records an event in the listener's collectors.
func (l *PrometheusListener) HandleEvent(event events.Event) {
	bucket := event.BucketName()

	switch event.EventType() {
	case events.EVENT_TOKENS_SERVED:
		l.served.WithLabelValues(bucket).Add(float64(event.NumTokens()))
		l.waitSeconds.WithLabelValues(bucket).Observe(event.WaitTime().Seconds())
	case events.EVENT_TIMEOUT_SERVING_TOKENS:
		l.timeouts.WithLabelValues(bucket).Inc()
	case events.EVENT_TOO_MANY_TOKENS_REQUESTED:
		l.rejected.WithLabelValues(bucket).Inc()
	case events.EVENT_BUCKET_MISS:
		l.misses.Inc()
	case events.EVENT_BUCKET_CREATED:
		if event.Dynamic() {
			l.dynamicBuckets.Inc()
		}
	case events.EVENT_BUCKET_REMOVED:
		if event.Dynamic() {
			l.dynamicBuckets.Dec()
		}
	}
}
